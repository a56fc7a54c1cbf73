package ot

import "fmt"

// Document tracks one synchronized document: its current content, the
// operations applied since it was opened or last resynced, and the queue of
// local operations not yet acknowledged by the server.
//
// Invariants: Content equals History folded over the content at open/resync
// time, and Version equals the version at open/resync plus len(History).
type Document struct {
	ID      string
	Content string
	Version int
	History []Operation
	Pending []Operation
}

// NewDocument creates a document with the given initial content at version 0.
func NewDocument(id, content string) *Document {
	return &Document{ID: id, Content: content}
}

// Apply validates the operation against the current content and applies it,
// advancing the version and appending to history. The document is left
// unchanged when the operation is out of range.
func (d *Document) Apply(op Operation) error {
	if err := op.Validate(len(d.Content)); err != nil {
		return fmt.Errorf("apply to %q v%d: %w", d.ID, d.Version, err)
	}
	d.Content = op.Apply(d.Content)
	d.Version++
	d.History = append(d.History, op)
	return nil
}

// PushPending queues a locally-applied operation awaiting acknowledgement.
func (d *Document) PushPending(op Operation) {
	d.Pending = append(d.Pending, op)
}

// AckPending removes the pending operation with the given id. An empty id
// removes the oldest entry unconditionally. It reports whether an entry was
// removed and whether that entry was the oldest one (acks arriving out of
// send order are worth reporting to the caller).
func (d *Document) AckPending(id string) (removed, oldest bool) {
	if len(d.Pending) == 0 {
		return false, false
	}
	if id == "" || d.Pending[0].ID == id {
		d.Pending = d.Pending[1:]
		return true, true
	}
	for i, op := range d.Pending {
		if op.ID == id {
			d.Pending = append(d.Pending[:i], d.Pending[i+1:]...)
			return true, false
		}
	}
	return false, false
}

// Resync replaces content and version wholesale with the server's
// authoritative state, discarding history and any unacknowledged local
// operations.
func (d *Document) Resync(content string, version int) {
	d.Content = content
	d.Version = version
	d.History = nil
	d.Pending = nil
}
