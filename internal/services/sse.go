package services

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const sseBuffer = 100

// SSESubscription is one dashboard stream. ProjectID 0 follows every project.
type SSESubscription struct {
	ID        string
	ProjectID uint
	Events    <-chan ModerationEvent

	ch chan ModerationEvent
}

// SSEHub fans moderation events out to connected dashboard streams. A
// subscriber that falls behind loses events rather than slowing Publish.
type SSEHub struct {
	mu      sync.RWMutex
	subs    map[string]*SSESubscription
	dropped atomic.Int64
}

func NewSSEHub() *SSEHub {
	return &SSEHub{subs: make(map[string]*SSESubscription)}
}

func (h *SSEHub) Subscribe(projectID uint) *SSESubscription {
	ch := make(chan ModerationEvent, sseBuffer)
	sub := &SSESubscription{ID: uuid.NewString(), ProjectID: projectID, Events: ch, ch: ch}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe closes the subscription's channel. Repeated calls are no-ops.
func (h *SSEHub) Unsubscribe(sub *SSESubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		close(sub.ch)
	}
}

func (h *SSEHub) Publish(event ModerationEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.ProjectID != 0 && sub.ProjectID != event.ProjectID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events discarded for full subscriber buffers.
func (h *SSEHub) Dropped() int64 {
	return h.dropped.Load()
}
