// Package live pushes dashboard updates to connected learners over WebSocket.
package live

import (
	"log/slog"
	"sync"

	"github.com/edutara/edutara/internal/learning"
)

const subscriberBuffer = 16

// Update kinds.
const (
	KindHello = "hello"
	KindScore = "score"
)

// Update is one message on a learner's feed.
type Update struct {
	OwnerID string                   `json:"user_id"`
	Kind    string                   `json:"kind"`
	Stats   *learning.AggregateStats `json:"stats,omitempty"`
	Record  *learning.ScoreRecord    `json:"record,omitempty"`
}

type subscriber struct {
	ch chan Update
}

// Hub fans updates out to each learner's subscribers. A subscriber whose
// buffer is full misses the update rather than blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	originPatterns []string
}

// NewHub creates a hub. Origin patterns are passed to the WebSocket
// handshake; none means same-origin only.
func NewHub(originPatterns ...string) *Hub {
	return &Hub{
		subs:           make(map[string]map[*subscriber]struct{}),
		originPatterns: originPatterns,
	}
}

// Subscribe registers a feed for ownerID. The returned func unsubscribes
// and closes the channel.
func (h *Hub) Subscribe(ownerID string) (<-chan Update, func()) {
	s := &subscriber{ch: make(chan Update, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[*subscriber]struct{})
	}
	h.subs[ownerID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[ownerID], s)
			if len(h.subs[ownerID]) == 0 {
				delete(h.subs, ownerID)
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Subscribers returns how many feeds ownerID has open.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}

// Publish sends u to every subscriber of u.OwnerID.
func (h *Hub) Publish(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[u.OwnerID] {
		select {
		case s.ch <- u:
		default:
			slog.Warn("live subscriber too slow, dropping update", "owner_id", u.OwnerID, "kind", u.Kind)
		}
	}
}

// PublishScore implements scores.Publisher.
func (h *Hub) PublishScore(ownerID string, rec learning.ScoreRecord, stats learning.AggregateStats) {
	h.Publish(Update{OwnerID: ownerID, Kind: KindScore, Stats: &stats, Record: &rec})
}
