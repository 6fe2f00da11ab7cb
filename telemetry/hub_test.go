package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestHub(queueSize int) (*Hub, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	return NewHub(queueSize, zap.NewNop().Sugar(), m), m
}

func telemetryAt(sec int) Event {
	return NewTelemetryEvent(snapshotAt(sec))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHubDeliversInPublishOrder(t *testing.T) {
	hub, _ := newTestHub(8)
	s := hub.Register()

	for i := 0; i < 3; i++ {
		hub.Publish(telemetryAt(i))
	}

	for i := 0; i < 3; i++ {
		e := <-s.Events()
		if e.Snapshot.Timestamp != snapshotAt(i).Timestamp {
			t.Fatalf("event %d out of order: %s", i, e.Snapshot.Timestamp)
		}
	}
}

func TestHubDropsSlowSessionWithoutBlockingOthers(t *testing.T) {
	hub, m := newTestHub(2)
	slow := hub.Register()
	fast := hub.Register()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Publish(telemetryAt(i))
			<-fast.Events()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow session")
	}

	// the slow session got its queue filled and was then closed
	n := 0
	for range slow.Events() {
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 queued events on slow session, got %d", n)
	}
	if hub.Len() != 1 {
		t.Fatalf("expected 1 remaining session, got %d", hub.Len())
	}
	if v := testutil.ToFloat64(m.sessionsDropped); v != 1 {
		t.Fatalf("expected 1 dropped session, got %v", v)
	}
}

func TestHubSeedsNewSessionWithLatestTelemetry(t *testing.T) {
	hub, _ := newTestHub(4)
	hub.Publish(telemetryAt(1))
	hub.Publish(NewErrorEvent(errors.New("bus gone")))

	s := hub.Register()
	select {
	case e := <-s.Events():
		if e.Type != TelemetryEvent || e.Snapshot.Timestamp != snapshotAt(1).Timestamp {
			t.Fatalf("expected latest telemetry as seed, got %+v", e)
		}
	default:
		t.Fatalf("new session was not seeded")
	}
}

func TestHubRegisterBeforeFirstPublishIsEmpty(t *testing.T) {
	hub, _ := newTestHub(4)
	s := hub.Register()

	select {
	case e := <-s.Events():
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub, m := newTestHub(4)
	s := hub.Register()

	hub.Unregister(s)
	hub.Unregister(s)
	hub.Unregister(nil)

	if _, ok := <-s.Events(); ok {
		t.Fatalf("expected closed channel")
	}
	if hub.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", hub.Len())
	}
	if v := testutil.ToFloat64(m.sessions); v != 0 {
		t.Fatalf("expected sessions gauge 0, got %v", v)
	}

	// publishing after unregister must not panic on the closed channel
	hub.Publish(telemetryAt(1))
}

func TestHubCloseRejectsNewSessions(t *testing.T) {
	hub, _ := newTestHub(4)
	s := hub.Register()
	hub.Close()

	if _, ok := <-s.Events(); ok {
		t.Fatalf("expected existing session closed")
	}

	late := hub.Register()
	if _, ok := <-late.Events(); ok {
		t.Fatalf("expected session registered after Close to be closed")
	}
	if hub.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", hub.Len())
	}
}

func TestHubConsumeUntilCancelled(t *testing.T) {
	hub, _ := newTestHub(4)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan Event, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- hub.Consume(ctx, "test", func(e Event) { got <- e })
	}()

	waitFor(t, func() bool { return hub.Len() == 1 })
	hub.Publish(telemetryAt(7))

	select {
	case e := <-got:
		if e.Snapshot.Timestamp != snapshotAt(7).Timestamp {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not receive event")
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if hub.Len() != 0 {
		t.Fatalf("consumer session not unregistered")
	}
}

func TestHubConsumeReturnsWhenClosed(t *testing.T) {
	hub, _ := newTestHub(4)

	errc := make(chan error, 1)
	go func() {
		errc <- hub.Consume(context.Background(), "test", func(Event) {})
	}()

	waitFor(t, func() bool { return hub.Len() == 1 })
	hub.Close()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Consume did not return after Close")
	}
}

func TestHubLogsDroppedSession(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	hub := NewHub(1, zap.New(core).Sugar(), nil)
	s := hub.Register()

	hub.Publish(telemetryAt(1))
	hub.Publish(telemetryAt(2))

	entries := logs.FilterMessage("hub: dropping slow session").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 drop log, got %d", len(entries))
	}
	if id := entries[0].ContextMap()["session"]; id != s.ID {
		t.Fatalf("expected session %s in log, got %v", s.ID, id)
	}
}
