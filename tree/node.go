package tree

import (
	"errors"

	"github.com/opd-ai/oscmix/osc"
)

var (
	// ErrNotFound indicates an address segment that names no child.
	ErrNotFound = errors.New("tree: address not found")

	// ErrReadOnly indicates a wire write to a read-only variable.
	ErrReadOnly = errors.New("tree: variable is read-only")

	// ErrTypeMismatch indicates an argument that cannot be coerced to the
	// variable's type.
	ErrTypeMismatch = errors.New("tree: argument type mismatch")

	// ErrRejected indicates a change vetoed by a validator. Rejections are
	// silent on the wire.
	ErrRejected = errors.New("tree: change rejected")

	// ErrDuplicate indicates a child name that is already registered.
	ErrDuplicate = errors.New("tree: duplicate child name")

	// ErrInvalidName indicates a child name containing '/' or equal to '*'.
	ErrInvalidName = errors.New("tree: invalid child name")

	// ErrArity indicates a command with the wrong number of arguments.
	ErrArity = errors.New("tree: wrong number of arguments")

	// ErrOutOfRange indicates an array index or size outside its limits.
	ErrOutOfRange = errors.New("tree: index out of range")
)

// Wildcard is the address segment that fans a command out to every child.
const Wildcard = "*"

// Node is an addressable element of the parameter tree.
//
// Nodes do not own children. A node keeps a non-owning reference to its
// parent container, used to compose its address and to bubble outgoing
// messages to the root. The reference is set by Container.Add and cleared by
// Detach; nothing else changes it.
//
// The tree is not safe for concurrent use. All dispatch, mutation and dumps
// happen on the goroutine that owns the root.
type Node interface {
	// Name returns the local name under the parent.
	Name() string
	// Address returns the slash-separated path from the root.
	Address() string
	// Parent returns the owning container, or nil for the root and detached nodes.
	Parent() *Container
	// Detach removes the node from its parent.
	Detach()
	// Dump broadcasts the current state of the node and everything below it.
	Dump()
	// Snapshot returns the persistable state of the node, or nil when the
	// node has nothing to persist.
	Snapshot() any
	// Restore applies a value previously returned by Snapshot.
	Restore(v any) error

	dispatch(rest []string, args []any) error
	attach(parent *Container, name string)
	clearParent()
	invalidate()
}

// node carries the identity shared by every tree element.
type node struct {
	name    string
	parent  *Container
	address string
	cached  bool
}

func (n *node) Name() string { return n.name }

func (n *node) Parent() *Container { return n.parent }

func (n *node) Address() string {
	if !n.cached {
		if n.parent == nil {
			n.address = ""
		} else {
			n.address = n.parent.Address() + "/" + n.name
		}
		n.cached = true
	}
	return n.address
}

func (n *node) Detach() {
	if n.parent != nil {
		n.parent.Remove(n.name)
	}
}

func (n *node) attach(parent *Container, name string) {
	n.parent = parent
	n.name = name
	n.cached = false
}

func (n *node) clearParent() {
	n.parent = nil
	n.cached = false
}

func (n *node) invalidate() {
	n.cached = false
}

// root walks up to the topmost container, or nil for detached nodes.
func (n *node) root() *Container {
	p := n.parent
	if p == nil {
		return nil
	}
	for p.parent != nil {
		p = p.parent
	}
	return p
}

// emit bubbles an outgoing message to the root sink. Messages from
// detached subtrees are dropped.
func (n *node) emit(msg *osc.Message) {
	if r := n.root(); r != nil && r.sink != nil {
		r.sink(msg)
	}
}

// changed reports a committed change to the root watcher.
func (n *node) changed(self Node) {
	if r := n.root(); r != nil && r.watch != nil {
		r.watch(self)
	}
}
