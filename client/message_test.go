package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/alimasry/go-collab-client/ot"
)

func TestWireOperationRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		op   ot.Operation
	}{
		{"insert", ot.Operation{Kind: ot.Insert, Position: 5, Text: " world", UserID: "u1", ID: "op-1", Timestamp: time.UnixMilli(1700000000000)}},
		{"delete", ot.Operation{Kind: ot.Delete, Position: 2, Length: 3, UserID: "u2", ID: "op-2", Timestamp: time.UnixMilli(1700000000001)}},
		{"retain", ot.Operation{Kind: ot.Retain, Length: 7, Timestamp: time.UnixMilli(1700000000002)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Through JSON, as it travels: data becomes string or float64.
			data, err := json.Marshal(encodeOperation(tt.op))
			if err != nil {
				t.Fatal(err)
			}
			var w wireOperation
			if err := json.Unmarshal(data, &w); err != nil {
				t.Fatal(err)
			}
			got, err := w.operation()
			if err != nil {
				t.Fatal(err)
			}
			if got.Kind != tt.op.Kind || got.Position != tt.op.Position ||
				got.Text != tt.op.Text || got.Length != tt.op.Length ||
				got.UserID != tt.op.UserID || got.ID != tt.op.ID {
				t.Errorf("round trip changed operation:\n  got  %+v\n  want %+v", got, tt.op)
			}
			if !got.Timestamp.Equal(tt.op.Timestamp) {
				t.Errorf("timestamp = %v, want %v", got.Timestamp, tt.op.Timestamp)
			}
		})
	}
}

func TestWireOperationFieldNames(t *testing.T) {
	// The wire field is "data", not "payload" or "text" — peers depend on it.
	op := ot.NewInsert(5, " world")
	data, err := json.Marshal(encodeOperation(op))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "insert" || m["data"] != " world" || m["position"] != float64(5) {
		t.Errorf("unexpected wire shape: %v", m)
	}
	for _, key := range []string{"type", "data", "position", "timestamp", "userId"} {
		if _, ok := m[key]; !ok {
			t.Errorf("wire operation missing %q: %v", key, m)
		}
	}
}

func TestWireOperationBadData(t *testing.T) {
	tests := []struct {
		name string
		w    wireOperation
	}{
		{"insert with numeric data", wireOperation{Type: "insert", Data: 5.0}},
		{"delete with string data", wireOperation{Type: "delete", Data: "five"}},
		{"unknown type", wireOperation{Type: "replace", Data: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.w.operation(); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

// Full inbound path: raw JSON frames through the dispatcher into the engine.
func TestEngine_InboundMessages(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(zerolog.Nop())
	e := NewEngine(Config{UserID: "u1", Logger: zerolog.Nop()})
	e.Attach(ch, d)

	e.OpenDocument("doc1", "")
	if err := e.Insert("doc1", "hello", 0); err != nil {
		t.Fatal(err)
	}

	// Remote operation at the same base position: it yields to the pending
	// local insert and lands after it.
	d.Dispatch([]byte(`{"type":"operation","documentId":"doc1","operation":{"type":"insert","data":"!","position":0,"timestamp":1700000000000,"userId":"u2"}}`))
	if got := e.Content("doc1"); got != "hello!" {
		t.Errorf("content = %q, want %q", got, "hello!")
	}

	// Ack for the pending local insert.
	ids := operationIDs(t, ch)
	if len(ids) != 1 {
		t.Fatalf("sent %d operations, want 1", len(ids))
	}
	ack, _ := json.Marshal(map[string]any{"type": MsgOperationAck, "documentId": "doc1", "operationId": ids[0]})
	d.Dispatch(ack)
	if got := len(e.documents["doc1"].Pending); got != 0 {
		t.Errorf("pending = %d after ack, want 0", got)
	}

	// Authoritative sync.
	d.Dispatch([]byte(`{"type":"document_sync","documentId":"doc1","content":"server wins","version":9}`))
	if got := e.Content("doc1"); got != "server wins" {
		t.Errorf("content = %q, want %q", got, "server wins")
	}
	if got := e.Version("doc1"); got != 9 {
		t.Errorf("version = %d, want 9", got)
	}

	// Malformed operation payloads are dropped without touching state.
	d.Dispatch([]byte(`{"type":"operation","documentId":"doc1","operation":{"type":"insert","data":42,"position":0}}`))
	d.Dispatch([]byte(`{"type":"operation","documentId":"doc1"}`))
	if got := e.Content("doc1"); got != "server wins" {
		t.Errorf("content = %q after malformed frames, want %q", got, "server wins")
	}
}
