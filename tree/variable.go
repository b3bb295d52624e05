package tree

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/opd-ai/oscmix/osc"
	"github.com/sirupsen/logrus"
)

// Scalar is the set of value types a Variable can hold.
type Scalar interface {
	bool | int32 | float32 | string
}

// Conversion maps between the stored representation of a value and the one
// spoken on the wire.
type Conversion[T Scalar] struct {
	ToWire   func(T) T
	FromWire func(T) T
}

// DecibelFloor is the wire value sent for a linear gain of zero.
const DecibelFloor float32 = -200

// Decibels stores a linear gain and speaks decibels on the wire.
func Decibels() Conversion[float32] {
	return Conversion[float32]{
		ToWire: func(linear float32) float32 {
			if linear <= 0 {
				return DecibelFloor
			}
			return math32.Max(20*math32.Log10(linear), DecibelFloor)
		},
		FromWire: func(db float32) float32 {
			if db <= DecibelFloor {
				return 0
			}
			return math32.Pow(10, db/20)
		},
	}
}

// Variable is a typed leaf holding one scalar value.
//
// A write runs the validators in registration order; the first one that
// returns false aborts the change with nothing committed and nothing
// broadcast. Otherwise the value is committed, the change callbacks run in
// registration order and the wire value is broadcast.
type Variable[T Scalar] struct {
	node
	value      T
	last       T
	broadcast  bool
	readOnly   bool
	conversion *Conversion[T]
	validators []func(old, new T) bool
	callbacks  []func(old, new T)
}

// NewVariable creates a variable holding initial.
func NewVariable[T Scalar](initial T) *Variable[T] {
	return &Variable[T]{value: initial}
}

// Get returns the stored value.
func (v *Variable[T]) Get() T {
	return v.value
}

// ReadOnly marks the variable as rejecting wire writes and returns it.
// Local code can still call Set.
func (v *Variable[T]) ReadOnly() *Variable[T] {
	v.readOnly = true
	return v
}

// IsReadOnly reports whether wire writes are rejected.
func (v *Variable[T]) IsReadOnly() bool {
	return v.readOnly
}

// SetConversion installs the wire conversion and returns the variable.
func (v *Variable[T]) SetConversion(c Conversion[T]) *Variable[T] {
	v.conversion = &c
	return v
}

// AddValidator registers a predicate that can veto pending changes.
func (v *Variable[T]) AddValidator(fn func(old, new T) bool) *Variable[T] {
	v.validators = append(v.validators, fn)
	return v
}

// OnChange registers a callback run after every committed change.
func (v *Variable[T]) OnChange(fn func(old, new T)) *Variable[T] {
	v.callbacks = append(v.callbacks, fn)
	return v
}

// LastBroadcast returns the stored value as of the most recent broadcast.
// The flag is false if the variable was never broadcast.
func (v *Variable[T]) LastBroadcast() (T, bool) {
	return v.last, v.broadcast
}

// Set validates and commits a value from local code. It returns
// ErrRejected when a validator vetoes the change.
func (v *Variable[T]) Set(value T) error {
	old := v.value
	for _, valid := range v.validators {
		if !valid(old, value) {
			return fmt.Errorf("%w: %s", ErrRejected, v.Address())
		}
	}
	v.value = value
	for _, cb := range v.callbacks {
		cb(old, value)
	}
	v.Broadcast()
	if !v.readOnly {
		v.changed(v)
	}
	return nil
}

// Wire returns the stored value as it is spoken on the wire.
func (v *Variable[T]) Wire() T {
	if v.conversion != nil && v.conversion.ToWire != nil {
		return v.conversion.ToWire(v.value)
	}
	return v.value
}

// Broadcast sends the current wire value to the root sink.
func (v *Variable[T]) Broadcast() {
	v.last = v.value
	v.broadcast = true
	v.emit(osc.NewMessage(v.Address(), v.Wire()))
}

// Dump broadcasts the current value.
func (v *Variable[T]) Dump() {
	v.Broadcast()
}

func (v *Variable[T]) dispatch(rest []string, args []any) error {
	if len(rest) != 0 {
		return fmt.Errorf("%w: %s has no child %q", ErrNotFound, v.Address(), rest[0])
	}
	switch len(args) {
	case 0:
		v.Broadcast()
		return nil
	case 1:
	default:
		return fmt.Errorf("%w: %s takes one argument, got %d", ErrArity, v.Address(), len(args))
	}
	if v.readOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, v.Address())
	}

	value, err := coerce[T](args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", v.Address(), err)
	}
	if v.conversion != nil && v.conversion.FromWire != nil {
		value = v.conversion.FromWire(value)
	}
	return v.Set(value)
}

// Snapshot returns the stored value, or nil for read-only variables.
func (v *Variable[T]) Snapshot() any {
	if v.readOnly {
		return nil
	}
	return v.value
}

// Restore sets a value decoded from a snapshot. Read-only variables ignore
// it.
func (v *Variable[T]) Restore(value any) error {
	if v.readOnly {
		return nil
	}
	coerced, err := coerce[T](value)
	if err != nil {
		return fmt.Errorf("%s: %w", v.Address(), err)
	}
	if err := v.Set(coerced); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Variable.Restore",
			"address":  v.Address(),
			"error":    err.Error(),
		}).Debug("Restored value rejected")
		return err
	}
	return nil
}

// coerce converts a decoded argument to T. Booleans and numbers convert
// between each other; strings only come from strings.
func coerce[T Scalar](arg any) (T, error) {
	var zero T
	var out any
	switch any(zero).(type) {
	case bool:
		switch a := arg.(type) {
		case bool:
			out = a
		case int32:
			out = a != 0
		case int:
			out = a != 0
		case int64:
			out = a != 0
		case float32:
			out = a != 0
		case float64:
			out = a != 0
		}
	case int32:
		switch a := arg.(type) {
		case bool:
			out = boolToInt(a)
		case int32:
			out = a
		case int:
			return toInt32[T](float64(a), arg)
		case int64:
			return toInt32[T](float64(a), arg)
		case float32:
			return toInt32[T](math.Round(float64(a)), arg)
		case float64:
			return toInt32[T](math.Round(a), arg)
		}
	case float32:
		switch a := arg.(type) {
		case bool:
			out = float32(boolToInt(a))
		case int32:
			out = float32(a)
		case int:
			out = float32(a)
		case int64:
			out = float32(a)
		case float32:
			out = a
		case float64:
			out = float32(a)
		}
	case string:
		if s, ok := arg.(string); ok {
			out = s
		}
	}
	if out == nil {
		return zero, fmt.Errorf("%w: cannot use %T as %T", ErrTypeMismatch, arg, zero)
	}
	return out.(T), nil
}

// toInt32 narrows a whole number to int32, refusing values that would wrap.
func toInt32[T Scalar](f float64, arg any) (T, error) {
	var zero T
	if math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return zero, fmt.Errorf("%w: %v does not fit in int32", ErrOutOfRange, arg)
	}
	return any(int32(f)).(T), nil
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
