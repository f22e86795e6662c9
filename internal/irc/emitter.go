// ABOUTME: Registry of revocable per-event-type handlers for Conn implementations.
// ABOUTME: Dispatch is synchronous, in registration order, outside the registry lock.

package irc

import (
	"sync"
)

type handlerEntry struct {
	id      uint64
	handler Handler
}

// Emitter dispatches events to subscribed handlers. The zero value is ready to use.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	nextID   uint64
}

// Subscribe registers handler for eventType.
func (e *Emitter) Subscribe(eventType EventType, handler Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers == nil {
		e.handlers = make(map[EventType][]handlerEntry)
	}
	e.nextID++
	entry := handlerEntry{id: e.nextID, handler: handler}
	e.handlers[eventType] = append(e.handlers[eventType], entry)

	return &emitterSub{emitter: e, eventType: eventType, id: entry.id}
}

// Emit delivers ev to every handler subscribed to ev.Type.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	entries := make([]handlerEntry, len(e.handlers[ev.Type]))
	copy(entries, e.handlers[ev.Type])
	e.mu.RUnlock()

	for _, entry := range entries {
		entry.handler(ev)
	}
}

// Count returns the number of handlers for eventType.
func (e *Emitter) Count(eventType EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[eventType])
}

func (e *Emitter) remove(eventType EventType, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.handlers[eventType]
	for i, entry := range entries {
		if entry.id == id {
			e.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

type emitterSub struct {
	emitter   *Emitter
	eventType EventType
	id        uint64
	once      sync.Once
}

func (s *emitterSub) Unsubscribe() {
	s.once.Do(func() {
		s.emitter.remove(s.eventType, s.id)
	})
}
