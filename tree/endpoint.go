package tree

import (
	"fmt"

	"github.com/opd-ai/oscmix/osc"
)

// Endpoint is a stateless leaf that runs an action with the arguments of
// every message addressed to it.
type Endpoint struct {
	node
	action func(args []any) error
}

// NewEndpoint creates an endpoint running action.
func NewEndpoint(action func(args []any) error) *Endpoint {
	return &Endpoint{action: action}
}

// Notify broadcasts a message from the endpoint's own address.
func (e *Endpoint) Notify(args ...any) {
	e.emit(osc.NewMessage(e.Address(), args...))
}

// Dump does nothing; endpoints hold no state.
func (e *Endpoint) Dump() {}

// Snapshot returns nil; endpoints hold no state.
func (e *Endpoint) Snapshot() any { return nil }

// Restore ignores the value.
func (e *Endpoint) Restore(any) error { return nil }

func (e *Endpoint) dispatch(rest []string, args []any) error {
	if len(rest) != 0 {
		return fmt.Errorf("%w: %s has no child %q", ErrNotFound, e.Address(), rest[0])
	}
	if e.action == nil {
		return nil
	}
	return e.action(args)
}
