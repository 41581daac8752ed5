package channel

import (
	"fmt"
	"testing"

	"stagelink/engine/internal/state"
	"stagelink/engine/internal/telemetry"
)

func TestMemoryMutateDeliversToClients(t *testing.T) {
	host := NewMemory(nil)
	client := host.NewClient()

	var delivered *state.Document
	client.Subscribe(func(doc *state.Document) {
		delivered = doc
	})

	host.Mutate(func(doc *state.Document) {
		doc.Set("players.alice.x", 7.0)
	})

	if delivered == nil {
		t.Fatalf("expected client delivery")
	}
	value, ok := delivered.Get("players.alice.x")
	if !ok || value != 7.0 {
		t.Fatalf("expected x=7 in delivered snapshot, got %v", value)
	}
}

func TestMemoryClientSnapshotIsAClone(t *testing.T) {
	host := NewMemory(nil)
	client := host.NewClient()

	host.Mutate(func(doc *state.Document) {
		doc.Set("players.alice.x", 1.0)
	})
	held := client.Snapshot()

	host.Mutate(func(doc *state.Document) {
		doc.Set("players.alice.x", 2.0)
	})

	value, ok := held.Get("players.alice.x")
	if !ok || value != 1.0 {
		t.Fatalf("expected held snapshot to stay at 1, got %v", value)
	}

	latest, ok := client.Snapshot().Get("players.alice.x")
	if !ok || latest != 2.0 {
		t.Fatalf("expected latest snapshot to read 2, got %v", latest)
	}
}

func TestMemoryClientMutateIsWarnedNoop(t *testing.T) {
	var warnings []string
	logger := telemetry.LoggerFunc(func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	})

	host := NewMemory(logger)
	client := host.NewClient()

	client.Mutate(func(doc *state.Document) {
		doc.Set("players.alice.x", 99.0)
	})

	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(warnings))
	}
	if _, ok := host.Snapshot().Get("players.alice.x"); ok {
		t.Fatalf("expected client mutate to leave authoritative state untouched")
	}
	if client.IsAuthoritative() {
		t.Fatalf("expected client to report non-authoritative")
	}
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	host := NewMemory(nil)
	client := host.NewClient()

	deliveries := 0
	unsub := client.Subscribe(func(*state.Document) { deliveries++ })

	host.Mutate(func(doc *state.Document) { doc.Set("a", 1.0) })
	unsub()
	host.Mutate(func(doc *state.Document) { doc.Set("a", 2.0) })

	if deliveries != 1 {
		t.Fatalf("expected 1 delivery, got %d", deliveries)
	}
}
