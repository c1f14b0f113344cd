// Package stream fans audit entries out to live subscribers such as the
// super admin SSE feed.
package stream

import (
	"context"
	"sync"

	"sitesafe.app/internal/audit"
	"sitesafe.app/internal/obs"
)

const subscriberBuffer = 16

type subscriber struct {
	ch       chan audit.Entry
	tenantID string
}

// Hub fan-outs audit entries to all active subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which receives
// entries. An empty tenantID receives every tenant. The channel is closed
// when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, tenantID string) <-chan audit.Entry {
	ch := make(chan audit.Entry, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{ch: ch, tenantID: tenantID}
	obs.SetStreamSubscribers(len(h.subs))
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		obs.SetStreamSubscribers(len(h.subs))
		h.mu.Unlock()
	}()

	return ch
}

// Publish implements audit.Publisher. Slow subscribers miss entries rather
// than block the recorder.
func (h *Hub) Publish(e audit.Entry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.tenantID != "" && s.tenantID != e.TenantID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			obs.ObserveStreamDrop()
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
