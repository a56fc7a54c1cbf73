package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/alimasry/go-collab-client/client"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer upgrades one connection and hands it to fn.
func testServer(t *testing.T, fn func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		fn(conn)
	}))
}

func wsDial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWSChannel_Send(t *testing.T) {
	received := make(chan []byte, 1)
	server := testServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
	})
	defer server.Close()

	ch := NewWSChannel(wsDial(t, server), zerolog.Nop())
	defer ch.Close()

	if err := ch.Send([]byte(`{"type":"document_open","documentId":"doc1","version":0}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case data := <-received:
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg["type"] != "document_open" || msg["documentId"] != "doc1" {
			t.Errorf("unexpected frame: %v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestWSChannel_ReadLoopDispatches(t *testing.T) {
	server := testServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"document_sync","documentId":"doc1","content":"hi","version":1}`))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	defer server.Close()

	ch := NewWSChannel(wsDial(t, server), zerolog.Nop())
	defer ch.Close()

	got := make(chan map[string]any, 1)
	d := client.NewDispatcher(zerolog.Nop())
	d.Subscribe("document_sync", func(p map[string]any) { got <- p })

	done := make(chan error, 1)
	go func() { done <- ch.ReadLoop(d) }()

	select {
	case p := <-got:
		if p["documentId"] != "doc1" || p["content"] != "hi" {
			t.Errorf("unexpected payload: %v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher never saw the frame")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ReadLoop returned %v on normal close, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("ReadLoop did not return after close")
	}
}

// End to end: an engine editing over a real WebSocket against a scripted server.
func TestWSChannel_EngineRoundTrip(t *testing.T) {
	server := testServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg["type"] {
			case "document_open":
				conn.WriteJSON(map[string]any{
					"type": "document_sync", "documentId": msg["documentId"],
					"content": "seeded", "version": 3,
				})
			case "operation":
				op := msg["operation"].(map[string]any)
				conn.WriteJSON(map[string]any{
					"type": "operation_ack", "documentId": msg["documentId"],
					"operationId": op["operationId"],
				})
			}
		}
	})
	defer server.Close()

	ch := NewWSChannel(wsDial(t, server), zerolog.Nop())
	defer ch.Close()

	d := client.NewDispatcher(zerolog.Nop())
	e := client.NewEngine(client.Config{UserID: "u1", Logger: zerolog.Nop()})
	e.Attach(ch, d)

	synced := make(chan client.SyncEvent, 1)
	e.OnSync(func(ev client.SyncEvent) { synced <- ev })
	go ch.ReadLoop(d)

	e.OpenDocument("doc1", "")

	select {
	case ev := <-synced:
		if ev.Content != "seeded" || ev.Version != 3 {
			t.Fatalf("unexpected sync: %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("never synced")
	}

	if err := e.Insert("doc1", "!", 6); err != nil {
		t.Fatal(err)
	}
	if got := e.Content("doc1"); got != "seeded!" {
		t.Errorf("content = %q, want %q", got, "seeded!")
	}

	// The scripted ack should drain the pending queue.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Version("doc1") == 4 && e.PendingCount("doc1") == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pending operation never acknowledged")
}
