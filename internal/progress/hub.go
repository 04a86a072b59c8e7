// Package progress implements the progress stream hub: a registry of
// per-session Server-Sent-Event sinks, one heartbeat ticker each, with
// back-pressure-safe, non-blocking delivery.
package progress

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	heartbeatInterval     = 30 * time.Second
	visibleHeartbeatEvery = 3 * time.Minute
	timeoutWarningAfter   = 55 * time.Second
	sinkQueueCapacity     = 64
)

// Event is one SSE message. Fields beyond Type/SessionID/Timestamp are
// populated per event kind.
type Event struct {
	Type            string  `json:"type"`
	SessionID       string  `json:"sessionId"`
	Timestamp       int64   `json:"timestamp"`
	Message         string  `json:"message,omitempty"`
	Progress        float64 `json:"progress,omitempty"`
	Processed       int     `json:"processed,omitempty"`
	Total           int     `json:"total,omitempty"`
	Current         string  `json:"current,omitempty"`
	Created         int     `json:"created,omitempty"`
	Updated         int     `json:"updated,omitempty"`
	Errors          int     `json:"errors,omitempty"`
	DurationMs      int64   `json:"durationMs,omitempty"`
	Warning         string  `json:"warning,omitempty"`
	DeltaMode       string  `json:"deltaMode,omitempty"`
	RecoverySeconds int     `json:"recoverySeconds,omitempty"`
}

// Frame is a single rendered SSE wire line, either a data frame or a
// keep-alive comment.
type Frame []byte

// DataFrame renders an event as `data: <json>\n\n`.
func DataFrame(e Event) (Frame, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+8)
	out = append(out, "data: "...)
	out = append(out, body...)
	out = append(out, '\n', '\n')
	return out, nil
}

// KeepAliveFrame renders the bare SSE comment keep-alive.
func KeepAliveFrame() Frame {
	return Frame(":\n\n")
}

// sink is one subscriber's outbound queue plus its heartbeat state.
type sink struct {
	sessionID   string
	queue       chan Frame
	mu          sync.Mutex
	lastWriteAt time.Time
	lastVisible time.Time
	closed      bool
	done        chan struct{}
}

func newSink(sessionID string) *sink {
	now := time.Now()
	return &sink{
		sessionID:   sessionID,
		queue:       make(chan Frame, sinkQueueCapacity),
		lastWriteAt: now,
		lastVisible: now,
		done:        make(chan struct{}),
	}
}

// enqueue is the non-blocking write side; a full queue drops the frame
// rather than blocking the orchestrator. Checking closed under s.mu is
// what makes a concurrent Publish safe against Close's close(s.queue).
func (s *sink) enqueue(f Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- f:
		s.lastWriteAt = time.Now()
		return true
	default:
		return false
	}
}

// Hub is the process-wide registry of active session sinks.
type Hub struct {
	mu      sync.RWMutex
	sinks   map[string]*sink
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds an empty Hub.
func New(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{sinks: make(map[string]*sink), metrics: m, logger: logger}
}

// Subscribe registers sessionID's sink, emits the initial "connected"
// event, and starts its heartbeat goroutine. The returned channel yields
// rendered SSE frames until the session is Closed (the channel is then
// closed after draining) or the caller stops reading; the caller is
// responsible for writing frames to the underlying transport and calling
// Unsubscribe on transport error or disconnect.
func (h *Hub) Subscribe(sessionID string) <-chan Frame {
	s := newSink(sessionID)

	h.mu.Lock()
	h.sinks[sessionID] = s
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ProgressSinksActive.Inc()
	}

	h.emit(s, Event{Type: "connected", SessionID: sessionID, Timestamp: nowMillis()})
	go h.heartbeatLoop(s)

	return s.queue
}

// Unsubscribe removes sessionID's sink and stops its heartbeat, leaving
// the frame channel open for the transport handler to abandon on its own.
// Called by the handler itself on disconnect or write failure. Safe to
// call more than once.
func (h *Hub) Unsubscribe(sessionID string) {
	h.remove(sessionID, false)
}

// Close removes sessionID's sink, stops its heartbeat, and closes the
// frame channel after any queued frames, signalling the transport handler
// that the session is over. Called by the orchestrator when a refresh
// reaches a terminal state.
func (h *Hub) Close(sessionID string) {
	h.remove(sessionID, true)
}

func (h *Hub) remove(sessionID string, closeQueue bool) {
	h.mu.Lock()
	s, ok := h.sinks[sessionID]
	if ok {
		delete(h.sinks, sessionID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
		if closeQueue {
			close(s.queue)
		}
	}
	s.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ProgressSinksActive.Dec()
	}
}

// Publish sends ev to sessionID's sink, if present. A dropped frame (full
// queue) is counted but not retried; the orchestrator never blocks on a
// slow subscriber.
func (h *Hub) Publish(sessionID string, ev Event) {
	h.mu.RLock()
	s, ok := h.sinks[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.emit(s, ev)
}

func (h *Hub) emit(s *sink, ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = nowMillis()
	}
	frame, err := DataFrame(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("sessionId", ev.SessionID).Msg("failed to encode progress event")
		return
	}
	if !s.enqueue(frame) {
		if h.metrics != nil {
			h.metrics.ProgressWritesDropped.Inc()
		}
		h.logger.Warn().Str("sessionId", ev.SessionID).Str("type", ev.Type).
			Msg("progress sink queue full, dropping event")
	}
}

// heartbeatLoop writes keep-alives every 30s, a visible heartbeat event
// every ~3m, and a timeout_warning if nothing has gone out in 55s, keeping
// intermediate proxies from closing an idle stream.
func (h *Hub) heartbeatLoop(s *sink) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			sinceWrite := now.Sub(s.lastWriteAt)
			sinceVisible := now.Sub(s.lastVisible)
			s.mu.Unlock()

			if sinceVisible >= visibleHeartbeatEvery {
				h.emit(s, Event{Type: "heartbeat", SessionID: s.sessionID})
				s.mu.Lock()
				s.lastVisible = now
				s.mu.Unlock()
				continue
			}

			if sinceWrite >= timeoutWarningAfter {
				h.emit(s, Event{Type: "timeout_warning", SessionID: s.sessionID})
				continue
			}

			if !s.enqueue(KeepAliveFrame()) {
				h.logger.Debug().Str("sessionId", s.sessionID).Msg("keep-alive dropped, queue full")
			}
		}
	}
}

// Active reports how many sessions currently hold a subscription.
func (h *Hub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
