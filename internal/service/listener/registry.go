// Package listener provides a small keyed listener registry shared by the capture
// devices and recognition sessions.
package listener

import (
	"sort"
	"sync"
)

// ID identifies one registration. Removing by ID keeps registration and removal
// symmetric even though Go funcs are not comparable.
type ID uint64

type entry[E any] struct {
	id ID
	fn func(E)
}

// Registry holds handlers per event kind.
type Registry[K comparable, E any] struct {
	mu       sync.Mutex
	nextID   ID
	handlers map[K][]entry[E]
}

// New creates an empty registry.
func New[K comparable, E any]() *Registry[K, E] {
	return &Registry[K, E]{handlers: make(map[K][]entry[E])}
}

// Add registers fn for kind and returns its registration id.
func (r *Registry[K, E]) Add(kind K, fn func(E)) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers[kind] = append(r.handlers[kind], entry[E]{id: id, fn: fn})
	return id
}

// Remove unregisters id. Reports whether it was registered.
func (r *Registry[K, E]) Remove(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, list := range r.handlers {
		for i, e := range list {
			if e.id != id {
				continue
			}
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(r.handlers, kind)
			} else {
				r.handlers[kind] = list
			}
			return true
		}
	}
	return false
}

// Emit calls every handler registered for kind, in registration order, outside the lock.
func (r *Registry[K, E]) Emit(kind K, ev E) {
	r.mu.Lock()
	list := make([]entry[E], len(r.handlers[kind]))
	copy(list, r.handlers[kind])
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	for _, e := range list {
		e.fn(ev)
	}
}

// Len returns the number of handlers registered for kind.
func (r *Registry[K, E]) Len(kind K) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[kind])
}

// Total returns the number of handlers across all kinds.
func (r *Registry[K, E]) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, list := range r.handlers {
		n += len(list)
	}
	return n
}

// Clear drops every registration.
func (r *Registry[K, E]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[K][]entry[E])
}
