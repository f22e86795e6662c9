// ABOUTME: Lifecycle events emitted by a bridged client to the orchestrator.
// ABOUTME: Handlers are registered by ID and removed individually.

package bridged

import (
	"sync"

	"github.com/google/uuid"
)

// LifecycleType names a lifecycle event.
type LifecycleType string

const (
	EventConnected    LifecycleType = "connected"
	EventDisconnected LifecycleType = "disconnected"
	EventNickChange   LifecycleType = "nick-change"
)

// LifecycleEvent is delivered to lifecycle handlers. OldNick and NewNick
// are set for EventNickChange.
type LifecycleEvent struct {
	Type    LifecycleType
	Client  *Client
	OldNick string
	NewNick string
}

// LifecycleHandler receives lifecycle events synchronously.
type LifecycleHandler func(LifecycleEvent)

type lifecycleSub struct {
	id      string
	handler LifecycleHandler
}

type lifecycle struct {
	mu   sync.RWMutex
	subs []lifecycleSub
}

func (l *lifecycle) subscribe(handler LifecycleHandler) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.New().String()
	l.subs = append(l.subs, lifecycleSub{id: id, handler: handler})
	return id
}

func (l *lifecycle) unsubscribe(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, sub := range l.subs {
		if sub.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (l *lifecycle) emit(ev LifecycleEvent) {
	l.mu.RLock()
	subs := make([]lifecycleSub, len(l.subs))
	copy(subs, l.subs)
	l.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(ev)
	}
}
