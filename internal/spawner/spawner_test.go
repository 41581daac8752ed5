package spawner

import (
	"testing"

	"stagelink/engine/internal/channel"
	"stagelink/engine/internal/registry"
	"stagelink/engine/internal/scene"
	"stagelink/engine/internal/state"
)

type fixture struct {
	host    *channel.MemoryEndpoint
	stage   *scene.Headless
	creates int
}

func newFixture() *fixture {
	return &fixture{
		host:  channel.NewMemory(nil),
		stage: scene.NewHeadless(),
	}
}

func (f *fixture) registry(ch channel.Channel) *registry.Registry {
	return registry.New(registry.Config{
		Namespace: "arena.pickups",
		Channel:   ch,
		Stage:     f.stage,
		Create: func(key string, data state.EntityData) scene.Visual {
			f.creates++
			return f.stage.NewVisual()
		},
	})
}

func (f *fixture) seed(key string, fields state.EntityData) {
	f.host.Mutate(func(doc *state.Document) {
		for field, value := range fields {
			doc.Set("arena.pickups."+key+"."+field, value)
		}
	})
}

func TestSyncCreatesAndRemoves(t *testing.T) {
	f := newFixture()
	reg := f.registry(f.host)
	s := New(Config{Path: "arena.pickups", Registry: reg, Channel: f.host})

	f.seed("p1", state.EntityData{"x": 1.0})
	f.seed("p2", state.EntityData{"x": 2.0})

	s.Sync()
	if reg.Len() != 2 {
		t.Fatalf("expected 2 managed entities, got %d", reg.Len())
	}

	// Repeated passes over a stable collection create nothing new.
	s.Sync()
	if f.creates != 2 {
		t.Fatalf("expected 2 creations, got %d", f.creates)
	}

	f.host.Mutate(func(doc *state.Document) {
		doc.Delete("arena.pickups.p1")
	})
	s.Sync()
	if reg.Len() != 1 {
		t.Fatalf("expected 1 entity after removal, got %d", reg.Len())
	}
	if reg.Get("p2") == nil {
		t.Fatalf("expected p2 to survive")
	}
}

func TestMissingCollectionIsNoop(t *testing.T) {
	f := newFixture()
	reg := f.registry(f.host)
	s := New(Config{Path: "arena.pickups", Registry: reg, Channel: f.host})

	f.seed("p1", state.EntityData{"x": 1.0})
	s.Sync()

	// The collection disappearing entirely is a partial-state guard,
	// not a mass removal.
	f.host.Mutate(func(doc *state.Document) {
		doc.Delete("arena.pickups")
	})
	s.Sync()
	if reg.Len() != 1 {
		t.Fatalf("expected managed entities to survive a missing collection, got %d", reg.Len())
	}
}

func TestKeyPrefix(t *testing.T) {
	f := newFixture()
	reg := f.registry(f.host)
	s := New(Config{Path: "arena.pickups", Registry: reg, Channel: f.host, KeyPrefix: "npc:"})

	f.seed("p1", state.EntityData{"x": 1.0})
	s.Sync()

	if reg.Get("npc:p1") == nil {
		t.Fatalf("expected prefixed key npc:p1")
	}
}

func TestFilterTreatsExcludedAsAbsent(t *testing.T) {
	f := newFixture()
	reg := f.registry(f.host)
	admit := true
	s := New(Config{
		Path:     "arena.pickups",
		Registry: reg,
		Channel:  f.host,
		Filter:   func(key string, data state.EntityData) bool { return admit },
	})

	f.seed("p1", state.EntityData{"x": 1.0})
	s.Sync()
	if reg.Len() != 1 {
		t.Fatalf("expected admission, got %d", reg.Len())
	}

	admit = false
	s.Sync()
	if reg.Len() != 0 {
		t.Fatalf("expected rejected entity removed, got %d", reg.Len())
	}

	admit = true
	s.Sync()
	if f.creates != 2 {
		t.Fatalf("expected readmitted entity recreated, got %d creations", f.creates)
	}
}

func TestSyncFieldsWhitelist(t *testing.T) {
	f := newFixture()
	reg := f.registry(f.host)
	s := New(Config{
		Path:       "arena.pickups",
		Registry:   reg,
		Channel:    f.host,
		SyncFields: []string{"x"},
	})

	f.seed("p1", state.EntityData{"x": 1.0, "label": "first"})
	s.Sync()

	f.seed("p1", state.EntityData{"x": 9.0, "label": "second"})
	s.Sync()

	entry := reg.Get("p1")
	x, _ := entry.Visual.Position()
	if x != 9.0 {
		t.Fatalf("expected whitelisted x synced to 9, got %v", x)
	}
	if entry.LastData["label"] != "first" {
		t.Fatalf("expected non-whitelisted field untouched, got %v", entry.LastData["label"])
	}
}

func TestSyncFuncReplacesWhitelist(t *testing.T) {
	f := newFixture()
	reg := f.registry(f.host)
	var synced []string
	s := New(Config{
		Path:     "arena.pickups",
		Registry: reg,
		Channel:  f.host,
		SyncFunc: func(r *registry.Registry, key string, data state.EntityData) {
			synced = append(synced, key)
		},
		SyncFields: []string{"x"},
	})

	f.seed("p1", state.EntityData{"x": 1.0})
	s.Sync()
	s.Sync()

	if len(synced) != 1 || synced[0] != "p1" {
		t.Fatalf("expected custom sync for the still-present pass, got %v", synced)
	}
}

func TestExtrapolationAdvancesBeforeDiff(t *testing.T) {
	f := newFixture()
	reg := f.registry(f.host)
	s := New(Config{
		Path:              "arena.pickups",
		Registry:          reg,
		Channel:           f.host,
		VelocityFromState: &VelocityFields{X: "vx", Y: "vy"},
	})

	f.seed("p1", state.EntityData{"x": 10.0, "y": 0.0, "vx": 100.0, "vy": 0.0})

	s.Update(500)

	value, ok := f.host.Snapshot().Get("arena.pickups.p1.x")
	if !ok {
		t.Fatalf("expected x present")
	}
	x, _ := value.(float64)
	if x != 60.0 {
		t.Fatalf("expected x extrapolated to 60, got %v", x)
	}

	entry := reg.Get("p1")
	if entry == nil {
		t.Fatalf("expected entity created from the extrapolated state")
	}
	ex, _ := entry.Visual.Position()
	if ex != 60.0 {
		t.Fatalf("expected visual created at 60, got %v", ex)
	}
}

func TestClientSpawnerMarksSeenWithoutCreating(t *testing.T) {
	f := newFixture()
	client := f.host.NewClient()
	reg := f.registry(client)
	defer reg.Bind()()
	s := New(Config{Path: "arena.pickups", Registry: reg, Channel: client})
	defer s.Destroy()

	f.seed("p1", state.EntityData{"x": 1.0})

	// The registry's own reconciliation created the visual; the spawner
	// only tracked the key.
	if f.creates != 1 {
		t.Fatalf("expected exactly one creation via reconciliation, got %d", f.creates)
	}
	if reg.Get("p1") == nil {
		t.Fatalf("expected p1 tracked on the client")
	}

	f.host.Mutate(func(doc *state.Document) {
		doc.Delete("arena.pickups.p1")
	})
	if reg.Get("p1") != nil {
		t.Fatalf("expected p1 removed on the client")
	}
}

func TestDestroyDetachesFromChannel(t *testing.T) {
	f := newFixture()
	client := f.host.NewClient()
	reg := f.registry(client)
	s := New(Config{Path: "arena.pickups", Registry: reg, Channel: client})

	s.Destroy()
	s.Destroy()

	f.seed("p1", state.EntityData{"x": 1.0})
	s.Update(16)
	if reg.Len() != 0 {
		t.Fatalf("expected destroyed spawner to stop syncing, got %d", reg.Len())
	}
}
