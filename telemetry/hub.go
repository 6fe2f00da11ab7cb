package telemetry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueSize is the per-session queue length used when none is configured
const DefaultQueueSize = 16

// Session is one consumer of hub events. Its channel is closed when the
// session is unregistered, which is the only cancellation signal.
type Session struct {
	ID     string
	events chan Event
	closed bool
}

// Events returns the delivery channel of the session
func (s *Session) Events() <-chan Event {
	return s.events
}

// Hub fans events out to all registered sessions in publish order
type Hub struct {
	mu        sync.Mutex
	sessions  map[*Session]struct{}
	queueSize int
	latest    *Event
	done      bool
	logger    *zap.SugaredLogger
	metrics   *Metrics
}

// NewHub creates a Hub whose sessions buffer up to queueSize events
func NewHub(queueSize int, logger *zap.SugaredLogger, metrics *Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		sessions:  make(map[*Session]struct{}),
		queueSize: queueSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// Register creates a session. Its queue is seeded with the last published
// telemetry event so a new viewer has an initial value. Sessions created
// after Close are returned already closed.
func (h *Hub) Register() *Session {
	s := &Session{
		ID:     uuid.New().String(),
		events: make(chan Event, h.queueSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done {
		s.closed = true
		close(s.events)
		return s
	}
	if h.latest != nil {
		s.events <- *h.latest
	}
	h.sessions[s] = struct{}{}
	h.metrics.setSessions(len(h.sessions))

	h.logger.Debugw("hub: session registered", "session", s.ID, "sessions", len(h.sessions))

	return s
}

// Unregister removes s and closes its channel. It is idempotent.
func (h *Hub) Unregister(s *Session) {
	if s == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.remove(s) {
		h.logger.Debugw("hub: session unregistered", "session", s.ID, "sessions", len(h.sessions))
	}
}

// Publish delivers e to every session without blocking. A session whose
// queue is full is dropped.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Type == TelemetryEvent {
		h.latest = &e
	}
	h.metrics.eventPublished(e.Type)

	for s := range h.sessions {
		select {
		case s.events <- e:
		default:
			h.remove(s)
			h.metrics.sessionDropped()
			h.logger.Warnw("hub: dropping slow session", "session", s.ID)
		}
	}
}

// Len returns the number of registered sessions
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.sessions)
}

// Close unregisters every session and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.done = true
	for s := range h.sessions {
		h.remove(s)
	}
}

// Consume feeds every event to handle until ctx is cancelled or the hub is
// closed. A consumer dropped for being slow is registered again.
func (h *Hub) Consume(ctx context.Context, name string, handle func(Event)) error {
	for {
		s := h.Register()
		err := drain(ctx, s, handle)
		h.Unregister(s)
		if err != nil {
			return err
		}
		if h.closed() {
			return nil
		}

		h.logger.Warnw("hub: consumer dropped, registering again", "consumer", name)
	}
}

func drain(ctx context.Context, s *Session, handle func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-s.events:
			if !ok {
				return nil
			}
			handle(e)
		}
	}
}

func (h *Hub) closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.done
}

// remove must be called with h.mu held
func (h *Hub) remove(s *Session) bool {
	if s.closed {
		return false
	}
	s.closed = true
	delete(h.sessions, s)
	close(s.events)
	h.metrics.setSessions(len(h.sessions))
	return true
}
