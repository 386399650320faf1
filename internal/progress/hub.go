package progress

import (
	"sync"

	"go.uber.org/zap"

	"github.com/merchantpulse/sync-worker/internal/models"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// Event is one progress notification for a job. Error events carry the
// failure detail; done events carry the final results.
type Event struct {
	Type     EventType           `json:"type"`
	JobID    string              `json:"jobId"`
	Progress int                 `json:"progress"`
	Message  string              `json:"message,omitempty"`
	Platform string              `json:"platform,omitempty"`
	Error    string              `json:"error,omitempty"`
	Results  *models.SyncResults `json:"results,omitempty"`
}

const subscriberBuffer = 16

type topic struct {
	subs map[chan Event]struct{}
}

// Hub fans progress events out to per-job subscribers. Delivery is best
// effort: a subscriber that falls behind misses events rather than
// stalling the job, and subscribers joining mid-job only see events
// published after they joined.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]*topic),
		logger: logger,
	}
}

// Subscribe registers a listener for one job's events. The returned
// cancel func must be called unless the channel was closed by a terminal
// event.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	t, ok := h.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[chan Event]struct{})}
		h.topics[jobID] = t
	}
	t.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		t, ok := h.topics[jobID]
		if !ok {
			return
		}
		if _, live := t.subs[ch]; !live {
			return
		}
		delete(t.subs, ch)
		close(ch)
		if len(t.subs) == 0 {
			delete(h.topics, jobID)
		}
	}
	return ch, cancel
}

// Publish delivers the event to current subscribers of the job's topic.
// Slow subscribers with a full buffer are skipped.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliver(ev)
}

// PublishTerminal delivers the final event and closes the topic. All
// subscriber channels are closed after the event is queued.
func (h *Hub) PublishTerminal(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.deliver(ev)

	t, ok := h.topics[ev.JobID]
	if !ok {
		return
	}
	for ch := range t.subs {
		close(ch)
	}
	delete(h.topics, ev.JobID)
}

func (h *Hub) deliver(ev Event) {
	t, ok := h.topics[ev.JobID]
	if !ok {
		return
	}
	for ch := range t.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropping event for slow subscriber",
				zap.String("job_id", ev.JobID),
				zap.String("type", string(ev.Type)))
		}
	}
}
