// Package ownership models state that is either owned by the caller
// (controlled) or held by the component itself (uncontrolled). The choice is
// made once, at construction.
package ownership

import "sync"

// Value is a piece of state with a fixed owner
type Value[T any] struct {
	mu       sync.Mutex
	external bool
	get      func() T
	onChange func(T)
	current  T
}

// External returns a controlled value: reads go to get and writes are only
// reported through onChange. The caller decides whether to apply them.
func External[T any](get func() T, onChange func(T)) *Value[T] {
	return &Value[T]{
		external: true,
		get:      get,
		onChange: onChange,
	}
}

// Internal returns an uncontrolled value starting at initial. onChange may be
// nil; when set it is told about every write after it is stored.
func Internal[T any](initial T, onChange func(T)) *Value[T] {
	return &Value[T]{
		current:  initial,
		onChange: onChange,
	}
}

// Controlled reports whether the value is owned by the caller
func (v *Value[T]) Controlled() bool {
	return v.external
}

func (v *Value[T]) Get() T {
	if v.external {
		return v.get()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set requests a change to next
func (v *Value[T]) Set(next T) {
	if v.external {
		if v.onChange != nil {
			v.onChange(next)
		}
		return
	}

	v.mu.Lock()
	v.current = next
	onChange := v.onChange
	v.mu.Unlock()

	if onChange != nil {
		onChange(next)
	}
}
