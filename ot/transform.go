package ot

// Priority breaks the tie when two insertions target the same position.
// The side holding PriorityRight yields: its insertion is pushed right,
// past the other side's text.
type Priority int

const (
	PriorityLeft Priority = iota
	PriorityRight
)

// Transform rewrites op so that it can be applied to a document that has
// already had other applied, preserving op's original intent:
//
//	other.Apply(text) |> op.Transform(other, p).Apply
//
// produces the same logical edit as applying op to text directly. It returns
// a new operation and never mutates the receiver. Transform is total over
// well-formed operations; it performs no validation.
//
// For two operations a and b created against the same base text, the
// convergence contract is
//
//	b.Transform(a, PriorityRight).Apply(a.Apply(text)) ==
//	a.Transform(b, PriorityLeft).Apply(b.Apply(text))
//
// One known exception: an insert strictly inside a concurrent delete's span
// cannot be preserved by a single-span delete (the delete would have to
// split around it), so those pairs do not converge. The insert side keeps
// the text; the delete side removes it.
func (op Operation) Transform(other Operation, priority Priority) Operation {
	// Retain carries no positional intent and shifts nothing.
	if op.Kind == Retain || other.Kind == Retain {
		return op
	}

	t := op
	switch {
	case op.Kind == Insert && other.Kind == Insert:
		if other.Position < op.Position ||
			(other.Position == op.Position && priority == PriorityRight) {
			t.Position += len(other.Text)
		}

	case op.Kind == Insert && other.Kind == Delete:
		if other.Position < op.Position {
			t.Position -= min(other.Length, op.Position-other.Position)
		}

	case op.Kind == Delete && other.Kind == Insert:
		if other.Position <= op.Position {
			t.Position += len(other.Text)
		}

	case op.Kind == Delete && other.Kind == Delete:
		if other.Position < op.Position {
			t.Position -= min(other.Length, op.Position-other.Position)
		}
		// Reduce the span by whatever the other delete already removed.
		overlap := min(op.Position+op.Length, other.Position+other.Length) -
			max(op.Position, other.Position)
		if overlap > 0 {
			t.Length -= overlap
		}
	}
	return t
}

// TransformAll sequentially transforms op against each operation in others,
// in order, using the same priority for every step.
func (op Operation) TransformAll(others []Operation, priority Priority) Operation {
	t := op
	for _, other := range others {
		t = t.Transform(other, priority)
	}
	return t
}
