package tree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opd-ai/oscmix/limits"
	"github.com/opd-ai/oscmix/osc"
	"github.com/sirupsen/logrus"
)

// Container is a node that owns named children.
//
// Children are looked up by name; insertion order is kept for dumps and
// snapshots. While a child is registered its parent is this container.
type Container struct {
	node
	children map[string]Node
	order    []string

	// Only meaningful on the root.
	sink  func(*osc.Message)
	watch func(Node)
}

// NewContainer creates an empty container. It gets its name when added to
// a parent.
func NewContainer() *Container {
	return &Container{children: make(map[string]Node)}
}

// NewRoot creates the root of a tree. Every message broadcast by a node in
// the tree is passed to sink.
func NewRoot(sink func(*osc.Message)) *Container {
	c := NewContainer()
	c.sink = sink
	return c
}

// Watch registers fn to be called after any persistable change in the tree:
// a committed write to a writable variable or a structural array change.
// Only the root's watcher is used.
func (c *Container) Watch(fn func(Node)) {
	c.watch = fn
}

// Tree returns the container itself. Types embedding a Container expose
// their sub-tree through it.
func (c *Container) Tree() *Container {
	return c
}

// Add registers child under name.
func (c *Container) Add(name string, child Node) error {
	if name == "" || name == Wildcard || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, exists := c.children[name]; exists {
		return fmt.Errorf("%w: %q under %q", ErrDuplicate, name, c.Address())
	}
	if p := child.Parent(); p != nil {
		p.Remove(child.Name())
	}
	c.children[name] = child
	c.order = append(c.order, name)
	child.attach(c, name)
	child.invalidate()
	return nil
}

// MustAdd is Add for construction code where names are static.
func (c *Container) MustAdd(name string, child Node) {
	if err := c.Add(name, child); err != nil {
		panic(err)
	}
}

// Remove detaches and returns the child registered under name.
func (c *Container) Remove(name string) Node {
	child, ok := c.children[name]
	if !ok {
		return nil
	}
	delete(c.children, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	child.clearParent()
	child.invalidate()
	return child
}

// Replace swaps the child registered under name for child, keeping its
// position in the order. The old child is detached and returned.
func (c *Container) Replace(name string, child Node) (Node, error) {
	old, ok := c.children[name]
	if !ok {
		return nil, c.Add(name, child)
	}
	if p := child.Parent(); p != nil {
		p.Remove(child.Name())
	}
	old.clearParent()
	old.invalidate()
	c.children[name] = child
	child.attach(c, name)
	child.invalidate()
	return old, nil
}

// rename moves a child to a new name in place.
func (c *Container) rename(from, to string) {
	child, ok := c.children[from]
	if !ok || from == to {
		return
	}
	delete(c.children, from)
	c.children[to] = child
	for i, n := range c.order {
		if n == from {
			c.order[i] = to
			break
		}
	}
	child.attach(c, to)
	child.invalidate()
}

// Child returns the child registered under name, or nil.
func (c *Container) Child(name string) Node {
	return c.children[name]
}

// Children returns the children in insertion order.
func (c *Container) Children() []Node {
	out := make([]Node, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.children[name])
	}
	return out
}

// Len returns the number of children.
func (c *Container) Len() int {
	return len(c.order)
}

// Lookup resolves an address relative to the container. Wildcards are not
// expanded.
func (c *Container) Lookup(address string) Node {
	var current Node = c
	for _, seg := range splitAddress(address) {
		container, ok := current.(interface{ Tree() *Container })
		if !ok {
			return nil
		}
		next := container.Tree().children[seg]
		if next == nil {
			return nil
		}
		current = next
	}
	return current
}

// Execute resolves a decoded message against the tree. Protocol errors are
// logged and returned; the tree is left unchanged.
func (c *Container) Execute(msg *osc.Message) error {
	err := c.Dispatch(msg.Address, msg.Arguments)
	if err != nil {
		entry := logrus.WithFields(logrus.Fields{
			"function": "Container.Execute",
			"address":  msg.Address,
			"args":     len(msg.Arguments),
			"error":    err.Error(),
		})
		if errors.Is(err, ErrRejected) {
			entry.Debug("Change rejected by validator")
		} else {
			entry.Warn("Dropping control message")
		}
	}
	return err
}

// Dispatch resolves address relative to the container and applies args at
// the addressed node.
func (c *Container) Dispatch(address string, args []any) error {
	if err := limits.ValidateAddress(address); err != nil {
		return err
	}
	return c.dispatch(splitAddress(address), args)
}

func (c *Container) dispatch(rest []string, args []any) error {
	if len(rest) == 0 {
		if len(args) != 0 {
			return fmt.Errorf("%w: container %q takes no arguments", ErrArity, c.Address())
		}
		c.Dump()
		return nil
	}

	seg := rest[0]
	if seg == Wildcard {
		return fanOut(c.Children(), rest[1:], args)
	}

	child, ok := c.children[seg]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, c.Address(), seg)
	}
	return child.dispatch(rest[1:], args)
}

// fanOut dispatches to every node and keeps going past failures.
func fanOut(nodes []Node, rest []string, args []any) error {
	var errs []error
	for _, n := range nodes {
		if err := n.dispatch(rest, args); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dump broadcasts every variable below the container.
func (c *Container) Dump() {
	for _, child := range c.Children() {
		child.Dump()
	}
}

// Snapshot returns a map of child snapshots, skipping children with
// nothing to persist.
func (c *Container) Snapshot() any {
	out := make(map[string]any, len(c.order))
	for _, name := range c.order {
		if v := c.children[name].Snapshot(); v != nil {
			out[name] = v
		}
	}
	return out
}

// Restore applies a map produced by Snapshot. Children are restored in
// insertion order; unknown keys are ignored.
func (c *Container) Restore(v any) error {
	values, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: container %q expects an object, got %T", ErrTypeMismatch, c.Address(), v)
	}
	var errs []error
	for _, name := range append([]string(nil), c.order...) {
		value, present := values[name]
		if !present {
			continue
		}
		if child := c.children[name]; child != nil {
			if err := child.Restore(value); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Container) invalidate() {
	c.cached = false
	for _, child := range c.children {
		child.invalidate()
	}
}

func splitAddress(address string) []string {
	trimmed := strings.Trim(address, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
