package tree

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"
)

// MaxAddCount bounds the count of one add command on an array without a
// maximum size.
const MaxAddCount = 1024

// Array is a dynamically sized sequence of nodes registered under their
// decimal index, next to the command endpoints "add" and "remove" and the
// read-only "size" leaf.
//
// Indices are dense. Removing element k renames every later element one
// index down, so addresses are positions, not identities.
type Array[N Node] struct {
	Container
	elements []N
	factory  func(index int) N
	min, max int
	readOnly bool

	size   *Variable[int32]
	add    *Endpoint
	remove *Endpoint

	onAdd    []func(index int, element N)
	onRemove []func(index int, element N)
}

// NewArray creates an empty array whose elements are built by factory.
func NewArray[N Node](factory func(index int) N) *Array[N] {
	a := &Array[N]{
		Container: Container{children: make(map[string]Node)},
		factory:   factory,
		size:      NewVariable[int32](0).ReadOnly(),
	}
	a.add = NewEndpoint(a.handleAdd)
	a.remove = NewEndpoint(a.handleRemove)
	a.MustAdd("add", a.add)
	a.MustAdd("remove", a.remove)
	a.MustAdd("size", a.size)
	return a
}

// SetLimits bounds the element count. A max of zero means unbounded.
func (a *Array[N]) SetLimits(min, max int) *Array[N] {
	a.min, a.max = min, max
	return a
}

// ReadOnly makes the array reject wire add/remove commands and excludes
// it from snapshots. Local code can still resize it.
func (a *Array[N]) ReadOnly() *Array[N] {
	a.readOnly = true
	return a
}

// OnAdd registers a callback run after an element is attached.
func (a *Array[N]) OnAdd(fn func(index int, element N)) *Array[N] {
	a.onAdd = append(a.onAdd, fn)
	return a
}

// OnRemove registers a callback run before an element is closed and
// detached.
func (a *Array[N]) OnRemove(fn func(index int, element N)) *Array[N] {
	a.onRemove = append(a.onRemove, fn)
	return a
}

// Len returns the number of elements.
func (a *Array[N]) Len() int {
	return len(a.elements)
}

// At returns the element at index i.
func (a *Array[N]) At(i int) (N, bool) {
	var zero N
	if i < 0 || i >= len(a.elements) {
		return zero, false
	}
	return a.elements[i], true
}

// Elements returns a copy of the element slice.
func (a *Array[N]) Elements() []N {
	return append([]N(nil), a.elements...)
}

// Size returns the read-only size leaf.
func (a *Array[N]) Size() *Variable[int32] {
	return a.size
}

// Append builds, attaches and announces one new element and returns its
// index.
func (a *Array[N]) Append() (int, error) {
	if a.max > 0 && len(a.elements) >= a.max {
		return -1, fmt.Errorf("%w: %s is full at %d", ErrOutOfRange, a.Address(), a.max)
	}
	index := len(a.elements)
	element := a.factory(index)
	if err := a.Container.Add(strconv.Itoa(index), element); err != nil {
		return -1, err
	}
	a.elements = append(a.elements, element)
	for _, cb := range a.onAdd {
		cb(index, element)
	}

	a.add.Notify(int32(index))
	_ = a.size.Set(int32(len(a.elements)))
	element.Dump()
	a.changed(a)
	return index, nil
}

// RemoveAt closes and detaches the element at index i and renames every
// later element one index down.
func (a *Array[N]) RemoveAt(i int) error {
	if i < 0 || i >= len(a.elements) {
		return fmt.Errorf("%w: %s has no element %d", ErrOutOfRange, a.Address(), i)
	}
	if len(a.elements) <= a.min {
		return fmt.Errorf("%w: %s cannot shrink below %d", ErrOutOfRange, a.Address(), a.min)
	}

	element := a.elements[i]
	for _, cb := range a.onRemove {
		cb(i, element)
	}
	if closer, ok := any(element).(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Array.RemoveAt",
				"address":  element.Address(),
				"error":    err.Error(),
			}).Warn("Error closing removed element")
		}
	}
	a.Container.Remove(strconv.Itoa(i))
	for j := i + 1; j < len(a.elements); j++ {
		a.Container.rename(strconv.Itoa(j), strconv.Itoa(j-1))
	}
	a.elements = append(a.elements[:i], a.elements[i+1:]...)

	a.remove.Notify(int32(i))
	_ = a.size.Set(int32(len(a.elements)))
	a.changed(a)
	return nil
}

// Resize appends or removes trailing elements until the array holds n.
func (a *Array[N]) Resize(n int) error {
	if n < a.min || (a.max > 0 && n > a.max) {
		return fmt.Errorf("%w: %s size %d outside [%d, %d]", ErrOutOfRange, a.Address(), n, a.min, a.max)
	}
	for len(a.elements) < n {
		if _, err := a.Append(); err != nil {
			return err
		}
	}
	for len(a.elements) > n {
		if err := a.RemoveAt(len(a.elements) - 1); err != nil {
			return err
		}
	}
	return nil
}

// Close removes every element, closing those that are io.Closers.
func (a *Array[N]) Close() error {
	var errs []error
	for len(a.elements) > 0 {
		element := a.elements[len(a.elements)-1]
		if closer, ok := any(element).(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.Container.Remove(strconv.Itoa(len(a.elements) - 1))
		a.elements = a.elements[:len(a.elements)-1]
	}
	a.size.value = 0
	return errors.Join(errs...)
}

func (a *Array[N]) handleAdd(args []any) error {
	count := int32(1)
	if len(args) > 1 {
		return fmt.Errorf("%w: %s/add takes at most one argument", ErrArity, a.Address())
	}
	if len(args) == 1 {
		c, err := coerce[int32](args[0])
		if err != nil {
			return fmt.Errorf("%s/add: %w", a.Address(), err)
		}
		count = c
	}
	if a.readOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, a.Address())
	}
	room := MaxAddCount
	if a.max > 0 {
		room = a.max - len(a.elements)
	}
	if count < 0 || int(count) > room {
		return fmt.Errorf("%w: %s/add %d, room for %d", ErrOutOfRange, a.Address(), count, room)
	}
	for ; count > 0; count-- {
		if _, err := a.Append(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Array[N]) handleRemove(args []any) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: %s/remove takes at most one argument", ErrArity, a.Address())
	}
	if a.readOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, a.Address())
	}
	index := len(a.elements) - 1
	if len(args) == 1 {
		i, err := coerce[int32](args[0])
		if err != nil {
			return fmt.Errorf("%s/remove: %w", a.Address(), err)
		}
		index = int(i)
	}
	return a.RemoveAt(index)
}

// dispatch expands the wildcard to the elements only, never to the
// add/remove/size leaves.
func (a *Array[N]) dispatch(rest []string, args []any) error {
	if len(rest) > 0 && rest[0] == Wildcard {
		nodes := make([]Node, len(a.elements))
		for i, e := range a.elements {
			nodes[i] = e
		}
		return fanOut(nodes, rest[1:], args)
	}
	return a.Container.dispatch(rest, args)
}

// Snapshot returns the element snapshots in index order, or nil for
// read-only arrays.
func (a *Array[N]) Snapshot() any {
	if a.readOnly {
		return nil
	}
	out := make([]any, len(a.elements))
	for i, e := range a.elements {
		out[i] = e.Snapshot()
	}
	return out
}

// Restore resizes the array to the snapshot length and restores every
// element.
func (a *Array[N]) Restore(v any) error {
	if a.readOnly {
		return nil
	}
	values, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%w: array %q expects a list, got %T", ErrTypeMismatch, a.Address(), v)
	}
	if err := a.Resize(len(values)); err != nil {
		return err
	}
	var errs []error
	for i, value := range values {
		if value == nil {
			continue
		}
		if err := a.elements[i].Restore(value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subtree is an element type that carries its own container.
type Subtree interface {
	Node
	Tree() *Container
}

// ContainerArray is an Array whose elements are sub-trees, such as channel
// strips or EQ bands.
type ContainerArray[N Subtree] struct {
	*Array[N]
}

// NewContainerArray creates an empty array of sub-trees built by factory.
func NewContainerArray[N Subtree](factory func(index int) N) *ContainerArray[N] {
	return &ContainerArray[N]{Array: NewArray(factory)}
}

// Find resolves an address relative to element i.
func (c *ContainerArray[N]) Find(i int, address string) Node {
	element, ok := c.At(i)
	if !ok {
		return nil
	}
	return element.Tree().Lookup(address)
}
