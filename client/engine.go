package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alimasry/go-collab-client/ot"
	"github.com/alimasry/go-collab-client/store"
)

// ErrDocumentNotOpen is returned by edit operations targeting a document
// that was never opened (or already closed).
var ErrDocumentNotOpen = errors.New("document not open")

// Channel is an already-connected bidirectional message transport. The
// engine only sends on it; inbound traffic reaches the engine through a
// Dispatcher. Connection setup and reconnection belong to the channel's
// owner, not the engine.
type Channel interface {
	Send(data []byte) error
}

// UpdateEvent notifies observers that a document's content changed, either
// by a local edit or by a transformed remote operation.
type UpdateEvent struct {
	DocumentID string
	Content    string
	Operation  ot.Operation
	Remote     bool
}

// SyncEvent notifies observers that a document was replaced wholesale by the
// server's authoritative state.
type SyncEvent struct {
	DocumentID string
	Content    string
	Version    int
}

// Config configures an Engine. UserID tags locally created operations;
// Snapshots, when set, receives a copy of each document on sync and close.
type Config struct {
	UserID    string
	Logger    zerolog.Logger
	Snapshots store.SnapshotStore
}

// Engine is the client side of document synchronization. It owns the set of
// open documents, applies local edits optimistically, transforms inbound
// remote operations against the locally pending ones, and drains the pending
// queue as acknowledgements arrive.
//
// All document state is guarded by a single mutex: each operation, local or
// remote, runs transform+apply+notify to completion before the next one
// touches the document.
type Engine struct {
	mu        sync.Mutex
	channel   Channel
	documents map[string]*ot.Document

	userID    string
	log       zerolog.Logger
	snapshots store.SnapshotStore

	obsMu     sync.Mutex
	updateFns []func(UpdateEvent)
	syncFns   []func(SyncEvent)
}

// NewEngine creates an engine with no channel attached. Documents opened
// before Attach are local-only until a channel is present.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		documents: make(map[string]*ot.Document),
		userID:    cfg.UserID,
		log:       cfg.Logger.With().Str("component", "engine").Logger(),
		snapshots: cfg.Snapshots,
	}
}

// Attach connects the engine to a transport: outbound messages go to ch,
// and the engine subscribes its message types on the dispatcher. Message
// types the engine does not consume stay available to other subscribers.
func (e *Engine) Attach(ch Channel, d *Dispatcher) {
	e.mu.Lock()
	e.channel = ch
	e.mu.Unlock()

	d.Subscribe(MsgOperation, e.handleOperation)
	d.Subscribe(MsgOperationAck, e.handleAck)
	d.Subscribe(MsgDocumentSync, e.handleSync)
}

// OnUpdate registers an observer for document updates. Observers run after
// the engine has released its lock, in registration order.
func (e *Engine) OnUpdate(fn func(UpdateEvent)) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.updateFns = append(e.updateFns, fn)
}

// OnSync registers an observer for authoritative resyncs.
func (e *Engine) OnSync(fn func(SyncEvent)) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.syncFns = append(e.syncFns, fn)
}

// OpenDocument opens (or returns the already-open) document. New documents
// start at version 0 with initialContent and are immediately editable; if a
// channel is attached the server is asked for an authoritative sync.
func (e *Engine) OpenDocument(documentID, initialContent string) *ot.Document {
	e.mu.Lock()
	defer e.mu.Unlock()

	if doc, ok := e.documents[documentID]; ok {
		return doc
	}
	doc := ot.NewDocument(documentID, initialContent)
	e.documents[documentID] = doc

	e.send(openMessage{Type: MsgDocumentOpen, DocumentID: documentID, Version: doc.Version})
	e.log.Debug().Str("doc", documentID).Msg("document opened")
	return doc
}

// CloseDocument closes a document and tells the server. Closing a document
// that is not open is a no-op. A configured snapshot store receives the
// final state before the document is discarded.
func (e *Engine) CloseDocument(documentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, ok := e.documents[documentID]
	if !ok {
		return
	}
	e.saveSnapshot(doc)
	delete(e.documents, documentID)
	e.send(closeMessage{Type: MsgDocumentClose, DocumentID: documentID})
	e.log.Debug().Str("doc", documentID).Msg("document closed")
}

// Insert applies a local insert optimistically and sends it to the server.
func (e *Engine) Insert(documentID, text string, position int) error {
	op := ot.NewInsert(position, text)
	return e.localEdit(documentID, op)
}

// Delete applies a local delete optimistically and sends it to the server.
func (e *Engine) Delete(documentID string, position, length int) error {
	op := ot.NewDelete(position, length)
	return e.localEdit(documentID, op)
}

func (e *Engine) localEdit(documentID string, op ot.Operation) error {
	e.mu.Lock()
	doc, ok := e.documents[documentID]
	if !ok {
		e.mu.Unlock()
		e.log.Warn().Str("doc", documentID).Msg("edit on document that is not open")
		return fmt.Errorf("%w: %q", ErrDocumentNotOpen, documentID)
	}

	op.ID = uuid.NewString()
	op.UserID = e.userID
	op.Timestamp = time.Now()

	if err := doc.Apply(op); err != nil {
		e.mu.Unlock()
		e.log.Warn().Err(err).Str("doc", documentID).Msg("rejecting local edit")
		return err
	}
	doc.PushPending(op)
	e.send(operationMessage{Type: MsgOperation, DocumentID: documentID, Operation: encodeOperation(op)})
	ev := UpdateEvent{DocumentID: documentID, Content: doc.Content, Operation: op}
	e.mu.Unlock()

	e.fireUpdate(ev)
	return nil
}

// ReceiveOperation applies a remote operation: it is transformed against
// every pending local operation in order (the remote side yields position
// ties to local unacknowledged edits) and then applied. Operations for
// unknown documents or out of range after transform are logged and dropped.
func (e *Engine) ReceiveOperation(documentID string, op ot.Operation) {
	e.mu.Lock()
	doc, ok := e.documents[documentID]
	if !ok {
		e.mu.Unlock()
		e.log.Warn().Str("doc", documentID).Msg("dropping operation for document that is not open")
		return
	}

	transformed := op.TransformAll(doc.Pending, ot.PriorityRight)
	if err := doc.Apply(transformed); err != nil {
		e.mu.Unlock()
		e.log.Error().Err(err).Str("doc", documentID).Msg("dropping remote operation")
		return
	}
	ev := UpdateEvent{DocumentID: documentID, Content: doc.Content, Operation: transformed, Remote: true}
	e.mu.Unlock()

	e.fireUpdate(ev)
}

// AcknowledgeOperation removes the acknowledged operation from the pending
// queue. Acks are expected in send order; an ack matching a later entry is
// honored but logged, and an ack matching nothing leaves the queue alone.
func (e *Engine) AcknowledgeOperation(documentID, operationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, ok := e.documents[documentID]
	if !ok {
		e.log.Warn().Str("doc", documentID).Msg("ack for document that is not open")
		return
	}
	removed, oldest := doc.AckPending(operationID)
	switch {
	case !removed:
		e.log.Warn().Str("doc", documentID).Str("op", operationID).Msg("ack matches no pending operation")
	case !oldest:
		e.log.Warn().Str("doc", documentID).Str("op", operationID).Msg("ack arrived out of send order")
	}
}

// SyncDocument replaces a document with the server's authoritative state,
// creating it if needed. Unacknowledged local edits are discarded.
func (e *Engine) SyncDocument(documentID, content string, version int) {
	e.mu.Lock()
	doc, ok := e.documents[documentID]
	if !ok {
		doc = ot.NewDocument(documentID, "")
		e.documents[documentID] = doc
	}
	if n := len(doc.Pending); n > 0 {
		e.log.Warn().Str("doc", documentID).Int("discarded", n).Msg("resync discarding unacknowledged local edits")
	}
	doc.Resync(content, version)
	e.saveSnapshot(doc)
	ev := SyncEvent{DocumentID: documentID, Content: content, Version: version}
	e.mu.Unlock()

	e.fireSync(ev)
}

// Content returns a document's current content, or "" if it is not open.
func (e *Engine) Content(documentID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc, ok := e.documents[documentID]; ok {
		return doc.Content
	}
	return ""
}

// Version returns a document's current version, or 0 if it is not open.
func (e *Engine) Version(documentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc, ok := e.documents[documentID]; ok {
		return doc.Version
	}
	return 0
}

// PendingCount returns the number of local operations awaiting
// acknowledgement, or 0 if the document is not open.
func (e *Engine) PendingCount(documentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc, ok := e.documents[documentID]; ok {
		return len(doc.Pending)
	}
	return 0
}

// Close tears the engine down: every open document is snapshotted (when a
// store is configured) and discarded. The channel itself belongs to the
// caller and is left open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, doc := range e.documents {
		e.saveSnapshot(doc)
	}
	e.documents = make(map[string]*ot.Document)
	e.channel = nil
	return nil
}

// send marshals and sends a message if a channel is attached. Send failures
// are logged, not retried; reliability is the transport's concern.
func (e *Engine) send(msg any) {
	if e.channel == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to encode message")
		return
	}
	if err := e.channel.Send(data); err != nil {
		e.log.Warn().Err(err).Msg("failed to send message")
	}
}

func (e *Engine) saveSnapshot(doc *ot.Document) {
	if e.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap := store.Snapshot{
		DocumentID: doc.ID,
		Content:    doc.Content,
		Version:    doc.Version,
		SavedAt:    time.Now(),
	}
	if err := e.snapshots.Save(ctx, snap); err != nil {
		e.log.Warn().Err(err).Str("doc", doc.ID).Msg("failed to save snapshot")
	}
}

func (e *Engine) fireUpdate(ev UpdateEvent) {
	e.obsMu.Lock()
	fns := e.updateFns
	e.obsMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (e *Engine) fireSync(ev SyncEvent) {
	e.obsMu.Lock()
	fns := e.syncFns
	e.obsMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (e *Engine) handleOperation(payload map[string]any) {
	var msg operationMessage
	if err := decodePayload(payload, &msg); err != nil {
		e.log.Warn().Err(err).Msg("dropping malformed operation message")
		return
	}
	op, err := msg.Operation.operation()
	if err != nil {
		e.log.Warn().Err(err).Str("doc", msg.DocumentID).Msg("dropping undecodable operation")
		return
	}
	e.ReceiveOperation(msg.DocumentID, op)
}

func (e *Engine) handleAck(payload map[string]any) {
	var msg ackMessage
	if err := decodePayload(payload, &msg); err != nil {
		e.log.Warn().Err(err).Msg("dropping malformed ack message")
		return
	}
	e.AcknowledgeOperation(msg.DocumentID, msg.OperationID)
}

func (e *Engine) handleSync(payload map[string]any) {
	var msg syncMessage
	if err := decodePayload(payload, &msg); err != nil {
		e.log.Warn().Err(err).Msg("dropping malformed sync message")
		return
	}
	e.SyncDocument(msg.DocumentID, msg.Content, msg.Version)
}
