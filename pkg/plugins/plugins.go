// Package plugins carries optional components injected into the frontend
// and datanode at boot, keyed by type.
package plugins

import (
	"reflect"
	"sync"
)

// Plugins is a type-indexed registry shared across the boot sequence. One
// value per concrete type.
type Plugins struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

// New returns an empty registry.
func New() *Plugins {
	return &Plugins{values: make(map[reflect.Type]any)}
}

// Insert stores v, replacing any previous value of the same type.
func Insert[T any](p *Plugins, v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[reflect.TypeOf((*T)(nil)).Elem()] = v
}

// Get retrieves the value stored for type T.
func Get[T any](p *Plugins) (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[reflect.TypeOf((*T)(nil)).Elem()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
