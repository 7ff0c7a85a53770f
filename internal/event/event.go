// Package event provides a small typed observer used for change notifications
// between the window wrappers, the collection and the host adapter.
package event

import (
	"log/slog"
	"sync"
)

// Event is a list of listeners sharing one payload type. The zero value is ready to use.
type Event[T any] struct {
	name string

	mu        sync.Mutex
	seq       int64
	listeners []listener[T]
}

type listener[T any] struct {
	id int64
	fn func(T)
}

// SetName labels the event in panic logs.
func (e *Event[T]) SetName(name string) {
	e.mu.Lock()
	e.name = name
	e.mu.Unlock()
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (e *Event[T]) Subscribe(fn func(T)) func() {
	e.mu.Lock()
	e.seq++
	id := e.seq
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// Fire calls every listener registered at the time of the call. A panicking
// listener is logged and does not stop the others.
func (e *Event[T]) Fire(v T) {
	e.mu.Lock()
	name := e.name
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		call(name, l.fn, v)
	}
}

func call[T any](name string, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked", "event", name, "panic", r)
		}
	}()
	fn(v)
}

// Len reports the number of registered listeners.
func (e *Event[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Clear drops every listener.
func (e *Event[T]) Clear() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}
