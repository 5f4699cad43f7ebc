package transport

import "sync/atomic"

// atomicValue is a typed wrapper around atomic.Pointer for function values.
type atomicValue[T any] struct {
	p atomic.Pointer[T]
}

func (v *atomicValue[T]) Store(x T) { v.p.Store(&x) }

func (v *atomicValue[T]) Load() (x T) {
	if p := v.p.Load(); p != nil {
		x = *p
	}
	return x
}
