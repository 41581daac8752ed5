package logging_test

import (
	"context"
	"testing"
	"time"

	"stagelink/engine/logging"
	"stagelink/engine/logging/sinks"
)

func newRouter(t *testing.T, cfg logging.Config, sink logging.Sink) *logging.Router {
	t.Helper()
	router, err := logging.NewRouter(logging.SystemClock{}, cfg, []logging.NamedSink{{Name: "memory", Sink: sink}})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}
	return router
}

func closeRouter(t *testing.T, router *logging.Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("failed to close router: %v", err)
	}
}

func TestRouterDeliversToSink(t *testing.T) {
	memory := sinks.NewMemory()
	router := newRouter(t, logging.Config{BufferSize: 16}, memory)

	router.Publish(context.Background(), logging.Event{
		Type:     "replication.entity_spawned",
		Tick:     3,
		Severity: logging.SeverityInfo,
	})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != "replication.entity_spawned" || events[0].Tick != 3 {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if events[0].Time.IsZero() {
		t.Fatalf("expected a timestamp to be stamped on dispatch")
	}
}

func TestRouterFiltersBySeverity(t *testing.T) {
	memory := sinks.NewMemory()
	router := newRouter(t, logging.Config{BufferSize: 16, MinimumSeverity: logging.SeverityWarn}, memory)

	router.Publish(context.Background(), logging.Event{Type: "a", Severity: logging.SeverityInfo})
	router.Publish(context.Background(), logging.Event{Type: "b", Severity: logging.SeverityError})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected only the error event, got %d", len(events))
	}
	if events[0].Type != "b" {
		t.Fatalf("expected event b, got %q", events[0].Type)
	}
}

func TestRouterStampsAmbientFields(t *testing.T) {
	memory := sinks.NewMemory()
	router := newRouter(t, logging.Config{
		BufferSize: 16,
		Fields:     map[string]any{"node": "host-1"},
	}, memory)

	router.Publish(context.Background(), logging.Event{Type: "a", Severity: logging.SeverityInfo})
	router.Publish(context.Background(), logging.Event{
		Type:     "b",
		Severity: logging.SeverityInfo,
		Extra:    map[string]any{"node": "override"},
	})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Extra["node"] != "host-1" {
		t.Fatalf("expected ambient field stamped, got %v", events[0].Extra)
	}
	if events[1].Extra["node"] != "override" {
		t.Fatalf("expected explicit field preserved, got %v", events[1].Extra)
	}
}

func TestRouterDiscardsEmptyType(t *testing.T) {
	memory := sinks.NewMemory()
	router := newRouter(t, logging.Config{BufferSize: 16}, memory)

	router.Publish(context.Background(), logging.Event{Severity: logging.SeverityInfo})
	closeRouter(t, router)

	if len(memory.Events()) != 0 {
		t.Fatalf("expected empty-type event discarded")
	}
}

func TestRouterStats(t *testing.T) {
	memory := sinks.NewMemory()
	router := newRouter(t, logging.Config{BufferSize: 16}, memory)

	router.Publish(context.Background(), logging.Event{Type: "a", Severity: logging.SeverityInfo})
	closeRouter(t, router)

	stats := router.Stats()
	if stats.EventsTotal != 1 {
		t.Fatalf("expected 1 routed event, got %d", stats.EventsTotal)
	}
	if stats.DroppedTotal != 0 {
		t.Fatalf("expected no drops, got %d", stats.DroppedTotal)
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	memory := sinks.NewMemory()
	router := newRouter(t, logging.Config{BufferSize: 16}, memory)
	closeRouter(t, router)

	router.Publish(context.Background(), logging.Event{Type: "late", Severity: logging.SeverityInfo})

	if len(memory.Events()) != 0 {
		t.Fatalf("expected no delivery after close")
	}
}
