// Package actor provides the generic single-threaded-worker primitive
// used by every component in elemem's pipeline: a goroutine pulls typed
// messages off its own serialized inbox, so all of a worker's mutable
// state stays private to its own task and cross-worker calls are message
// sends rather than shared-memory mutation (see the concurrency model in
// SPEC_FULL.md §5).
package actor

import (
	"context"
	"errors"
	"time"
)

// ErrMailboxFull is returned by TrySend when the inbox buffer is exhausted.
var ErrMailboxFull = errors.New("actor: mailbox full")

// ErrMailboxTimeout is returned by Reply.Wait when no reply arrives within
// the given timeout — a blocking request must never deadlock silently.
var ErrMailboxTimeout = errors.New("actor: send timed out waiting for reply")

// ErrStopped is returned by Send when the mailbox's Run loop has already
// exited.
var ErrStopped = errors.New("actor: mailbox stopped")

// Mailbox is a serialized inbox of messages of type T, drained by exactly
// one goroutine running Run. All sends are safe from any goroutine.
type Mailbox[T any] struct {
	in       chan T
	done     chan struct{}
	stopOnce chan struct{}
}

// New creates a mailbox with the given inbox capacity. A capacity of 0
// makes every Send synchronous with the drain loop.
func New[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{
		in:       make(chan T, capacity),
		done:     make(chan struct{}),
		stopOnce: make(chan struct{}, 1),
	}
}

// Send enqueues a message, blocking only if the inbox is full. Returns
// ErrStopped if the mailbox's Run loop has already exited.
func (m *Mailbox[T]) Send(ctx context.Context, msg T) error {
	select {
	case m.in <- msg:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues a message without blocking. Returns ErrMailboxFull if
// the inbox buffer is exhausted.
func (m *Mailbox[T]) TrySend(msg T) error {
	select {
	case m.in <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Run drains the mailbox on the calling goroutine, invoking handle for
// each message in arrival order, until ctx is cancelled. Exactly one
// goroutine should call Run for a given Mailbox.
func (m *Mailbox[T]) Run(ctx context.Context, handle func(T)) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.in:
			handle(msg)
		}
	}
}

// Len reports the number of messages currently queued (best-effort,
// useful only for diagnostics/tests).
func (m *Mailbox[T]) Len() int {
	return len(m.in)
}

// Reply is an await-reply envelope: the sender blocks on Wait until the
// receiver calls Fulfill (or the timeout elapses).
type Reply[R any] struct {
	ch chan R
}

// NewReply creates a single-use reply channel.
func NewReply[R any]() *Reply[R] {
	return &Reply[R]{ch: make(chan R, 1)}
}

// Fulfill delivers the reply. Must be called at most once.
func (r *Reply[R]) Fulfill(v R) {
	r.ch <- v
}

// Wait blocks until Fulfill is called or the timeout elapses, in which
// case it returns ErrMailboxTimeout.
func (r *Reply[R]) Wait(timeout time.Duration) (R, error) {
	var zero R
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case v := <-r.ch:
		return v, nil
	case <-t.C:
		return zero, ErrMailboxTimeout
	}
}
