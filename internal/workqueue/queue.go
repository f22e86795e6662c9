// ABOUTME: Serialized FIFO work queue with duplicate-key coalescing.
// ABOUTME: Guarantees at most one critical-section call in flight per queue instance.

package workqueue

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ProcessFunc is the critical section. Only one call per Queue runs at a time.
type ProcessFunc[P, R any] func(ctx context.Context, payload P) (R, error)

// Observer receives queue activity. metrics.Metrics implements it.
type Observer interface {
	QueueDepth(queue string, depth int)
	QueueProcessed(queue string, err error)
}

// Pending is the result handle shared by every caller of a coalesced key.
type Pending[R any] struct {
	done   chan struct{}
	result R
	err    error
}

func newPending[R any]() *Pending[R] {
	return &Pending[R]{done: make(chan struct{})}
}

// Done is closed once the entry has been processed.
func (p *Pending[R]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the entry settles or ctx is done. Cancelling ctx only
// stops the wait; the entry stays queued.
func (p *Pending[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (p *Pending[R]) settle(result R, err error) {
	p.result = result
	p.err = err
	close(p.done)
}

// entry is one queued request.
type entry[K comparable, P, R any] struct {
	key     K
	payload P
	pending *Pending[R]
}

// Queue processes entries one at a time in FIFO order.
type Queue[K comparable, P, R any] struct {
	mu       sync.Mutex
	order    *list.List // entries waiting, oldest at front
	byKey    map[K]*list.Element
	inFlight *entry[K, P, R]
	running  bool

	fn       ProcessFunc[P, R]
	ctx      context.Context
	name     string
	logger   *slog.Logger
	observer Observer
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	ctx      context.Context
	name     string
	logger   *slog.Logger
	observer Observer
}

// WithName labels the queue in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver reports depth and completions to o.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithContext sets the context handed to every ProcessFunc call.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// New creates a Queue that runs fn for each dequeued payload.
func New[K comparable, P, R any](fn ProcessFunc[P, R], opts ...Option) *Queue[K, P, R] {
	o := options{
		ctx:  context.Background(),
		name: "default",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Queue[K, P, R]{
		order:    list.New(),
		byKey:    make(map[K]*list.Element),
		fn:       fn,
		ctx:      o.ctx,
		name:     o.name,
		logger:   o.logger.With("component", "workqueue", "queue", o.name),
		observer: o.observer,
	}
}

// Enqueue queues payload under key and returns its result handle. If an
// entry with key is still waiting, its handle is returned and payload is
// dropped.
func (q *Queue[K, P, R]) Enqueue(key K, payload P) *Pending[R] {
	q.mu.Lock()
	defer q.mu.Unlock()

	if elem, ok := q.byKey[key]; ok {
		e, _ := elem.Value.(*entry[K, P, R])
		q.logger.Debug("coalesced duplicate request", "key", key)
		return e.pending
	}

	e := &entry[K, P, R]{
		key:     key,
		payload: payload,
		pending: newPending[R](),
	}
	q.byKey[key] = q.order.PushBack(e)
	q.reportDepthLocked()

	// Always hand off to a worker goroutine, even when idle.
	if !q.running {
		q.running = true
		go q.consume()
	}

	return e.pending
}

// Len returns the number of entries waiting, excluding the one in flight.
func (q *Queue[K, P, R]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// InFlight reports the key currently being processed, if any.
func (q *Queue[K, P, R]) InFlight() (K, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight == nil {
		var zero K
		return zero, false
	}
	return q.inFlight.key, true
}

// consume is the single worker loop. It exits when the queue drains.
func (q *Queue[K, P, R]) consume() {
	for {
		e := q.next()
		if e == nil {
			return
		}

		result, err := q.process(e.payload)
		e.pending.settle(result, err)

		if err != nil {
			q.logger.Debug("queued request failed", "key", e.key, "error", err)
		}
		if q.observer != nil {
			q.observer.QueueProcessed(q.name, err)
		}

		q.mu.Lock()
		q.inFlight = nil
		q.mu.Unlock()
	}
}

// next pops the oldest entry and marks it in flight, or stops the worker.
func (q *Queue[K, P, R]) next() *entry[K, P, R] {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.order.Front()
	if front == nil {
		q.running = false
		return nil
	}

	q.order.Remove(front)
	e, _ := front.Value.(*entry[K, P, R])
	delete(q.byKey, e.key)
	q.inFlight = e
	q.reportDepthLocked()
	return e
}

// process runs fn, converting a panic into an error for this entry only.
func (q *Queue[K, P, R]) process(payload P) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("critical section panicked", "panic", r)
			err = fmt.Errorf("workqueue %s: panic: %v", q.name, r)
		}
	}()
	return q.fn(q.ctx, payload)
}

// reportDepthLocked must be called with mu held.
func (q *Queue[K, P, R]) reportDepthLocked() {
	if q.observer != nil {
		q.observer.QueueDepth(q.name, q.order.Len())
	}
}
