package client

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/alimasry/go-collab-client/ot"
)

// Message types exchanged with the collaboration server.
const (
	MsgDocumentOpen  = "document_open"
	MsgDocumentClose = "document_close"
	MsgOperation     = "operation"
	MsgOperationAck  = "operation_ack"
	MsgDocumentSync  = "document_sync"
)

// openMessage announces a newly opened document to the server.
type openMessage struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Version    int    `json:"version"`
}

// closeMessage tells the server the document is no longer open locally.
type closeMessage struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
}

// operationMessage carries one serialized operation in either direction.
type operationMessage struct {
	Type       string        `json:"type"`
	DocumentID string        `json:"documentId"`
	Operation  wireOperation `json:"operation"`
}

// ackMessage acknowledges a previously sent operation.
type ackMessage struct {
	DocumentID  string `json:"documentId"`
	OperationID string `json:"operationId"`
}

// syncMessage carries the server's authoritative document state.
type syncMessage struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Version    int    `json:"version"`
}

// wireOperation is the on-the-wire shape of an operation. Data holds the
// inserted text for inserts and the span length for deletes and retains.
type wireOperation struct {
	Type        string `json:"type"`
	Data        any    `json:"data"`
	Position    int    `json:"position"`
	Timestamp   int64  `json:"timestamp"`
	UserID      string `json:"userId"`
	OperationID string `json:"operationId,omitempty"`
}

func encodeOperation(op ot.Operation) wireOperation {
	w := wireOperation{
		Type:        op.Kind.String(),
		Position:    op.Position,
		Timestamp:   op.Timestamp.UnixMilli(),
		UserID:      op.UserID,
		OperationID: op.ID,
	}
	if op.Kind == ot.Insert {
		w.Data = op.Text
	} else {
		w.Data = op.Length
	}
	return w
}

func (w wireOperation) operation() (ot.Operation, error) {
	op := ot.Operation{
		Position:  w.Position,
		Timestamp: time.UnixMilli(w.Timestamp),
		UserID:    w.UserID,
		ID:        w.OperationID,
	}
	switch w.Type {
	case "insert":
		op.Kind = ot.Insert
		text, ok := w.Data.(string)
		if !ok {
			return ot.Operation{}, fmt.Errorf("insert data is %T, want string", w.Data)
		}
		op.Text = text
	case "delete", "retain":
		op.Kind = ot.Delete
		if w.Type == "retain" {
			op.Kind = ot.Retain
		}
		length, err := toInt(w.Data)
		if err != nil {
			return ot.Operation{}, fmt.Errorf("%s data: %w", w.Type, err)
		}
		op.Length = length
	default:
		return ot.Operation{}, fmt.Errorf("unknown operation type %q", w.Type)
	}
	return op, nil
}

// toInt converts the loosely-typed wire length. JSON numbers decode as
// float64; locally constructed messages carry an int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("length is %T, want number", v)
}

// decodePayload decodes a loosely-typed message payload (as produced by the
// dispatcher's JSON parsing) into a typed message struct.
func decodePayload(payload map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(payload)
}
