package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Job lifecycle event types.
const (
	JobStarted   = "job.started"
	JobSucceeded = "job.succeeded"
	JobFailed    = "job.failed"
)

const subscriberBuffer = 32

// Event is one published notification. Data holds the JSON payload.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// JobPayload is the data carried by job lifecycle events.
type JobPayload struct {
	JobID      string `json:"job_id"`
	Backend    string `json:"backend"`
	Status     string `json:"status,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	ModelURL   string `json:"model_url,omitempty"`
	Digest     string `json:"digest,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Hub fans job events out to live subscribers and remembers the most recent
// ones so a reconnecting client can catch up.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	keep    int
	history []Event
	subs    map[*subscriber]struct{}
}

// NewHub returns a hub that replays up to keep past events.
func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = 100
	}
	return &Hub{
		keep:    keep,
		history: make([]Event, 0, keep),
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish assigns the next ID to a new event and hands it to every
// subscriber. A subscriber whose buffer is full misses the event.
func (h *Hub) Publish(eventType string, data any) {
	raw := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			raw = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: raw}

	if len(h.history) == h.keep {
		copy(h.history, h.history[1:])
		h.history = h.history[:h.keep-1]
	}
	h.history = append(h.history, ev)

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
}

// Subscribe registers a listener. The returned func unregisters it and closes
// the channel; calling it more than once is harmless.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped across live subscribers.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for sub := range h.subs {
		n += sub.dropped
	}
	return n
}

// SnapshotSince returns remembered events newer than lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, ev := range h.history {
		if ev.ID > lastID {
			return append([]Event(nil), h.history[i:]...)
		}
	}
	return []Event{}
}
