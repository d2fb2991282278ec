// Package hub fans per-job progress events out to live subscribers.
package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Subscriber is a live handle able to receive JSON payloads. A
// *websocket.Conn satisfies it directly.
type Subscriber interface {
	WriteJSON(v interface{}) error
}

// Event is the payload published for every job state transition.
type Event struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ProgressPct  int    `json:"progress_pct"`
	CurrentStage string `json:"current_stage"`
	Message      string `json:"message,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(jobID, status string, progress int, stage, message string) Event {
	return Event{
		JobID:        jobID,
		Status:       status,
		ProgressPct:  progress,
		CurrentStage: stage,
		Message:      message,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

// Hub groups subscribers by channel key (job id). One mutex guards the map;
// it is never held while sending to a subscriber.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[Subscriber]struct{}
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{channels: make(map[string]map[Subscriber]struct{})}
}

// Connect registers sub under key.
func (h *Hub) Connect(key string, sub Subscriber) {
	h.mu.Lock()
	set, ok := h.channels[key]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.channels[key] = set
	}
	set[sub] = struct{}{}
	count := len(set)
	h.mu.Unlock()
	log.Debug().Str("job", key).Int("clients", count).Msg("subscriber connected")
}

// Disconnect removes sub from key, dropping the channel entry when empty.
func (h *Hub) Disconnect(key string, sub Subscriber) {
	h.mu.Lock()
	if set, ok := h.channels[key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.channels, key)
		}
	}
	h.mu.Unlock()
}

// Count returns the number of live subscribers for key.
func (h *Hub) Count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[key])
}

// Publish sends payload to every subscriber of key. The subscriber set is
// snapshotted under the lock and sends happen outside it; any subscriber
// whose send fails is evicted, never retried.
func (h *Hub) Publish(key string, payload interface{}) {
	h.mu.Lock()
	set := h.channels[key]
	targets := make([]Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	var stale []Subscriber
	for _, sub := range targets {
		if err := sub.WriteJSON(payload); err != nil {
			stale = append(stale, sub)
		}
	}
	if len(stale) == 0 {
		return
	}
	h.mu.Lock()
	if set, ok := h.channels[key]; ok {
		for _, sub := range stale {
			delete(set, sub)
		}
		if len(set) == 0 {
			delete(h.channels, key)
		}
	}
	h.mu.Unlock()
	log.Debug().Str("job", key).Int("evicted", len(stale)).Msg("stale subscribers dropped")
}
