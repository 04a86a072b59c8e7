package progress

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return New(m, zerolog.Nop())
}

func TestSubscribeEmitsConnected(t *testing.T) {
	h := testHub(t)
	frames := h.Subscribe("session-1")
	defer h.Unsubscribe("session-1")

	select {
	case f := <-frames:
		var ev Event
		body := f[len("data: ") : len(f)-2]
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != "connected" || ev.SessionID != "session-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected connected event")
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := testHub(t)
	frames := h.Subscribe("session-2")
	defer h.Unsubscribe("session-2")
	<-frames // drain "connected"

	h.Publish("session-2", Event{Type: "progress", SessionID: "session-2", Progress: 50, Processed: 5, Total: 10})

	select {
	case f := <-frames:
		var ev Event
		body := f[len("data: ") : len(f)-2]
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != "progress" || ev.Progress != 50 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected progress event")
	}
}

func TestPublishToUnknownSessionIsNoop(t *testing.T) {
	h := testHub(t)
	h.Publish("does-not-exist", Event{Type: "progress"}) // must not panic
}

func TestUnsubscribeRemovesSink(t *testing.T) {
	h := testHub(t)
	frames := h.Subscribe("session-3")
	<-frames
	if h.Active() != 1 {
		t.Fatalf("expected 1 active sink, got %d", h.Active())
	}
	h.Unsubscribe("session-3")
	if h.Active() != 0 {
		t.Fatalf("expected 0 active sinks after unsubscribe, got %d", h.Active())
	}
	h.Unsubscribe("session-3") // idempotent
}

func TestCloseDrainsThenClosesChannel(t *testing.T) {
	h := testHub(t)
	frames := h.Subscribe("session-5")
	<-frames // drain "connected"

	h.Publish("session-5", Event{Type: "completed", SessionID: "session-5"})
	h.Close("session-5")

	if _, ok := <-frames; !ok {
		t.Fatal("expected the queued completed frame before channel close")
	}
	select {
	case _, ok := <-frames:
		if ok {
			t.Fatal("expected channel to be closed after draining")
		}
	case <-time.After(time.Second):
		t.Fatal("expected closed channel, read blocked")
	}

	h.Publish("session-5", Event{Type: "progress"}) // must not panic after close
	h.Unsubscribe("session-5")                      // idempotent with Close
}

func TestFullQueueDropsRatherThanBlocks(t *testing.T) {
	h := testHub(t)
	frames := h.Subscribe("session-4")
	defer h.Unsubscribe("session-4")
	<-frames // drain "connected"

	for i := 0; i < sinkQueueCapacity+10; i++ {
		h.Publish("session-4", Event{Type: "progress", SessionID: "session-4", Processed: i})
	}
	// Publish must never block regardless of queue fullness; reaching here
	// without a test timeout is the assertion.
}
