// Package workqueue provides a FIFO critical-section executor with
// per-key request coalescing.
//
// # Overview
//
// A Queue runs one ProcessFunc invocation at a time. Callers enqueue a
// payload under a key and receive a *Pending that settles when that
// payload has been processed:
//
//	q := workqueue.New(func(ctx context.Context, user string) (string, error) {
//		return allocate(ctx, user)
//	})
//	addr, err := q.Enqueue(user, user).Wait(ctx)
//
// # Coalescing
//
// Enqueuing a key that is still waiting in the queue returns the
// *Pending of the existing entry; the payload of the second call is
// discarded and the function runs once for both callers. Once an entry
// has been dequeued, a new Enqueue for the same key creates a new entry.
//
// # Scheduling
//
// Processing is always started from a worker goroutine, never on the
// caller's stack, so Enqueue behaves the same whether the queue is idle
// or busy. A failing (or panicking) ProcessFunc settles only its own
// entry; the worker moves on to the next entry.
package workqueue
