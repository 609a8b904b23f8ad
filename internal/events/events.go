// Package events fans typed notifications out from the synchronizer to
// whatever UI layer or tooling subscribes to them.
package events

import "sync"

// Token identifies one subscription so it can be removed later.
type Token uint64

// Emitter delivers values to subscribers in subscription order. Handlers
// run on the emitting goroutine, so a slow handler delays the reconcile
// path; handlers that do real work should hand off to their own goroutine.
type Emitter[T any] struct {
	m    sync.Mutex
	next Token
	subs []subscription[T]
}

type subscription[T any] struct {
	token   Token
	handler func(T)
}

func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// Subscribe adds a handler and returns the token that removes it again.
func (e *Emitter[T]) Subscribe(fn func(T)) Token {
	e.m.Lock()
	defer e.m.Unlock()
	e.next++
	e.subs = append(e.subs, subscription[T]{token: e.next, handler: fn})
	return e.next
}

// Unsubscribe removes the subscription for the token. It reports whether
// the token was still subscribed, so double unsubscribes are harmless.
func (e *Emitter[T]) Unsubscribe(tok Token) bool {
	e.m.Lock()
	defer e.m.Unlock()
	for i, s := range e.subs {
		if s.token == tok {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every subscribed handler with v. The subscriber list is
// snapshotted before dispatch, so a handler may unsubscribe itself or
// others mid-emit without deadlocking.
func (e *Emitter[T]) Emit(v T) {
	e.m.Lock()
	handlers := make([]func(T), len(e.subs))
	for i, s := range e.subs {
		handlers[i] = s.handler
	}
	e.m.Unlock()

	for _, h := range handlers {
		h(v)
	}
}

// Len returns the number of active subscriptions.
func (e *Emitter[T]) Len() int {
	e.m.Lock()
	defer e.m.Unlock()
	return len(e.subs)
}
