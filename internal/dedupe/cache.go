// ABOUTME: TTL cache that collapses the same IRC line seen by several bridged clients.
// ABOUTME: Keys expire after a window; the oldest key is evicted when the cache is full.

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type entry struct {
	key    string
	owner  string
	seenAt time.Time
}

// Cache remembers keys for a fixed window. Entries are kept in the order
// they were last seen, so expiry and eviction both work from the front.
type Cache struct {
	mu      sync.Mutex
	byKey   map[string]*list.Element
	order   *list.List // *entry, least recently seen at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits   uint64
	misses uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache holding at most maxSize keys for ttl each. A
// background sweep drops expired keys every sweep interval; pass 0 to rely
// on lazy expiry only.
func New(ttl time.Duration, maxSize int, sweep time.Duration, opts ...Option) *Cache {
	c := &Cache{
		byKey:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if sweep > 0 {
		go c.sweepLoop(sweep)
	}
	return c
}

// FrameKey builds a cache key from a network and the identifying fields of
// a protocol frame.
func FrameKey(network string, fields ...string) string {
	return network + "\x00" + strings.Join(fields, "\x00")
}

// Seen reports whether key was seen within the window, and records it
// either way. The first caller for a key gets false.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)

	if elem, ok := c.byKey[key]; ok {
		c.hits++
		e, _ := elem.Value.(*entry)
		e.seenAt = now
		c.order.MoveToBack(elem)
		return true
	}

	c.misses++
	if c.maxSize > 0 && c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.byKey[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Claim records owner as the first observer of key within the window.
// It reports true when the caller should handle the frame: either nobody
// held key, or owner already holds it. A different owner gets false.
// Every call refreshes the window.
func (c *Cache) Claim(key, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)

	if elem, ok := c.byKey[key]; ok {
		e, _ := elem.Value.(*entry)
		e.seenAt = now
		c.order.MoveToBack(elem)
		if e.owner == owner {
			c.misses++
			return true
		}
		c.hits++
		return false
	}

	c.misses++
	if c.maxSize > 0 && c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.byKey[key] = c.order.PushBack(&entry{key: key, owner: owner, seenAt: now})
	return true
}

// Forget drops key so the next Seen for it returns false.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byKey[key]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of keys currently held, expired ones included
// until the next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns how many Seen or Claim calls found a duplicate and how many did not.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Sweep drops expired keys now.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(c.now())
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// expireLocked must be called with mu held.
func (c *Cache) expireLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e, _ := front.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

// removeLocked must be called with mu held.
func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	e, _ := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.byKey, e.key)
}
