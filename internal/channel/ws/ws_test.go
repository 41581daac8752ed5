package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stagelink/engine/internal/state"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestSessionJoinAndLeave(t *testing.T) {
	var joins, leaves []string
	host := NewHost(HostConfig{
		OnJoin:  func(id string) { joins = append(joins, id) },
		OnLeave: func(id string) { leaves = append(leaves, id) },
	})
	defer host.Close()
	srv := httptest.NewServer(host.Handler())
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv), ClientConfig{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		host.Pump()
		return len(joins) == 1
	})

	client.Close()
	waitFor(t, 2*time.Second, func() bool {
		host.Pump()
		return len(leaves) == 1
	})

	if joins[0] != leaves[0] {
		t.Fatalf("expected matching session ids, got join=%q leave=%q", joins[0], leaves[0])
	}
	if host.Sessions() != 0 {
		t.Fatalf("expected no sessions left, got %d", host.Sessions())
	}
}

func TestSnapshotBroadcastReachesClient(t *testing.T) {
	host := NewHost(HostConfig{})
	defer host.Close()
	srv := httptest.NewServer(host.Handler())
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv), ClientConfig{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	waitFor(t, 2*time.Second, func() bool { return host.Sessions() == 1 })

	var delivered *state.Document
	client.Subscribe(func(doc *state.Document) { delivered = doc })

	host.Mutate(func(doc *state.Document) {
		doc.Set("players.alice.x", 5.0)
	})
	host.Broadcast()

	waitFor(t, 2*time.Second, func() bool {
		client.Pump()
		return delivered != nil
	})

	value, ok := delivered.Get("players.alice.x")
	if !ok || value != 5.0 {
		t.Fatalf("expected x=5 delivered, got %v", value)
	}
}

func TestLatestSnapshotWins(t *testing.T) {
	host := NewHost(HostConfig{})
	defer host.Close()
	srv := httptest.NewServer(host.Handler())
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv), ClientConfig{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	waitFor(t, 2*time.Second, func() bool { return host.Sessions() == 1 })

	deliveries := 0
	var lastX any
	client.Subscribe(func(doc *state.Document) {
		deliveries++
		lastX, _ = doc.Get("players.alice.x")
	})

	// Two broadcasts before the client pumps. Parking is latest-wins,
	// so the client converges on the newest snapshot and never sees a
	// stale one afterwards.
	host.Mutate(func(doc *state.Document) { doc.Set("players.alice.x", 1.0) })
	host.Broadcast()
	host.Mutate(func(doc *state.Document) { doc.Set("players.alice.x", 2.0) })
	host.Broadcast()

	waitFor(t, 2*time.Second, func() bool {
		client.Pump()
		return deliveries > 0 && lastX == 2.0
	})

	client.Pump()
	if lastX != 2.0 {
		t.Fatalf("expected the newest snapshot to stick, got %v", lastX)
	}
	if deliveries > 2 {
		t.Fatalf("expected at most one delivery per parked snapshot, got %d", deliveries)
	}
}

func TestInputReachesHost(t *testing.T) {
	var inputs []map[string]bool
	host := NewHost(HostConfig{
		OnInput: func(id string, input map[string]bool) { inputs = append(inputs, input) },
	})
	defer host.Close()
	srv := httptest.NewServer(host.Handler())
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv), ClientConfig{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	waitFor(t, 2*time.Second, func() bool { return host.Sessions() == 1 })

	if err := client.SendInput(map[string]bool{"right": true}); err != nil {
		t.Fatalf("send input failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		host.Pump()
		return len(inputs) == 1
	})

	if !inputs[0]["right"] {
		t.Fatalf("expected right flag set, got %v", inputs[0])
	}
}

func TestClientMutateIsNoop(t *testing.T) {
	host := NewHost(HostConfig{})
	defer host.Close()
	srv := httptest.NewServer(host.Handler())
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv), ClientConfig{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	client.Mutate(func(doc *state.Document) {
		doc.Set("players.alice.x", 99.0)
	})

	if _, ok := host.Snapshot().Get("players.alice.x"); ok {
		t.Fatalf("expected observer mutate to be ignored")
	}
	if client.IsAuthoritative() {
		t.Fatalf("expected observer to report non-authoritative")
	}
}
