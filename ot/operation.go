package ot

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOperation is returned when an operation cannot be applied to the
// document it targets (negative position, offset past the end, or a delete
// overrunning the content).
var ErrInvalidOperation = errors.New("invalid operation")

// Kind identifies what an operation does to a document.
type Kind int

const (
	Insert Kind = iota
	Delete
	Retain
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Retain:
		return "retain"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Operation is a single edit against a document: inserted text, a deleted
// span, or a retained span. The payload is tagged by Kind — Text is
// meaningful only for Insert, Length only for Delete and Retain. Positions
// are byte offsets into the document string.
//
// Operations are value types. Transform returns a new operation and never
// mutates its receiver, so the same received operation can safely be
// transformed against several concurrent peers.
type Operation struct {
	Kind     Kind
	Text     string // inserted text (Insert only)
	Length   int    // span length (Delete and Retain only)
	Position int

	// Bookkeeping, not used for correctness.
	ID        string    // unique id, used to match acknowledgements
	UserID    string    // originating client, empty until assigned
	Timestamp time.Time // creation time, diagnostics only
}

// NewInsert creates an operation that inserts text at position.
func NewInsert(position int, text string) Operation {
	return Operation{Kind: Insert, Position: position, Text: text, Timestamp: time.Now()}
}

// NewDelete creates an operation that deletes length bytes at position.
func NewDelete(position, length int) Operation {
	return Operation{Kind: Delete, Position: position, Length: length, Timestamp: time.Now()}
}

// NewRetain creates a no-op placeholder spanning length bytes.
func NewRetain(length int) Operation {
	return Operation{Kind: Retain, Length: length, Timestamp: time.Now()}
}

// Span returns the number of bytes the operation's payload covers: the
// inserted text length for Insert, the span length for Delete and Retain.
func (op Operation) Span() int {
	if op.Kind == Insert {
		return len(op.Text)
	}
	return op.Length
}

// IsNoop returns true if applying the operation leaves any document unchanged.
func (op Operation) IsNoop() bool {
	switch op.Kind {
	case Insert:
		return op.Text == ""
	case Delete:
		return op.Length == 0
	}
	return true
}

// Validate checks that the operation is applicable to a document of docLen
// bytes. Transform assumes well-formed operations, so callers applying
// untrusted operations must validate first.
func (op Operation) Validate(docLen int) error {
	if op.Position < 0 {
		return fmt.Errorf("%w: negative position %d", ErrInvalidOperation, op.Position)
	}
	switch op.Kind {
	case Insert:
		if op.Position > docLen {
			return fmt.Errorf("%w: insert at %d past end of document (len %d)", ErrInvalidOperation, op.Position, docLen)
		}
	case Delete:
		if op.Length < 0 {
			return fmt.Errorf("%w: negative delete length %d", ErrInvalidOperation, op.Length)
		}
		if op.Position+op.Length > docLen {
			return fmt.Errorf("%w: delete of %d at %d overruns document (len %d)", ErrInvalidOperation, op.Length, op.Position, docLen)
		}
	}
	return nil
}

// Apply applies the operation to a document string. It assumes the operation
// is in range for text; use Validate first when that is not guaranteed.
func (op Operation) Apply(text string) string {
	switch op.Kind {
	case Insert:
		return text[:op.Position] + op.Text + text[op.Position:]
	case Delete:
		return text[:op.Position] + text[op.Position+op.Length:]
	}
	return text
}

func (op Operation) String() string {
	switch op.Kind {
	case Insert:
		return fmt.Sprintf("insert(%d, %q)", op.Position, op.Text)
	case Delete:
		return fmt.Sprintf("delete(%d, %d)", op.Position, op.Length)
	}
	return fmt.Sprintf("retain(%d)", op.Length)
}
