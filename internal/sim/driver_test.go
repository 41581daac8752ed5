package sim

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"stagelink/engine/internal/channel"
	"stagelink/engine/internal/registry"
	"stagelink/engine/internal/scene"
	"stagelink/engine/internal/state"
	"stagelink/engine/logging"
	"stagelink/engine/logging/simulation"
)

type fixture struct {
	host  *channel.MemoryEndpoint
	stage *scene.Headless
	reg   *registry.Registry
}

func newFixture() *fixture {
	f := &fixture{
		host:  channel.NewMemory(nil),
		stage: scene.NewHeadless(),
	}
	f.reg = registry.New(registry.Config{
		Namespace: "players",
		Channel:   f.host,
		Stage:     f.stage,
		Create: func(key string, data state.EntityData) scene.Visual {
			return f.stage.NewVisual()
		},
	})
	return f
}

func (f *fixture) addPlayer(key string, input map[string]any) {
	f.host.Mutate(func(doc *state.Document) {
		doc.Set("players."+key+".id", key)
		doc.Set("players."+key+".x", 0.0)
		doc.Set("players."+key+".y", 0.0)
		doc.Set("players."+key+".input", input)
	})
	f.reg.Create(key, state.EntityData{"x": 0.0, "y": 0.0})
}

func (f *fixture) setInput(key string, input map[string]any) {
	f.host.Mutate(func(doc *state.Document) {
		doc.Set("players."+key+".input", input)
	})
}

func (f *fixture) setField(key, field string, value any) {
	f.host.Mutate(func(doc *state.Document) {
		doc.Set("players."+key+"."+field, value)
	})
}

func (f *fixture) driver() *Driver {
	return NewDriver(Config{Channel: f.host, Registry: f.reg})
}

func TestTopDownMapsInputToVelocity(t *testing.T) {
	f := newFixture()
	d := f.driver()
	f.addPlayer("p1", map[string]any{"right": true})

	d.Update(0.25)

	entry := f.reg.Get("p1")
	x, y := entry.Visual.Position()
	if x != 50.0 || y != 0.0 {
		t.Fatalf("expected (50,0) at speed 200 over 0.25s, got (%v,%v)", x, y)
	}

	velocity, ok := d.GetVelocity("p1")
	if !ok || velocity.X() != 200.0 {
		t.Fatalf("expected velocity memory (200,0), got %v ok=%v", velocity, ok)
	}
}

func TestTopDownDiagonalIsNormalized(t *testing.T) {
	f := newFixture()
	d := f.driver()
	f.addPlayer("p1", map[string]any{"right": true, "down": true})

	d.Update(0.25)

	velocity, _ := d.GetVelocity("p1")
	if math.Abs(velocity.Len()-200.0) > 1e-9 {
		t.Fatalf("expected diagonal speed capped at 200, got %v", velocity.Len())
	}
}

func TestWriteBackPublishesPositions(t *testing.T) {
	f := newFixture()
	d := f.driver()
	f.addPlayer("p1", map[string]any{"right": true})

	d.Update(0.25)

	x, ok := f.host.Snapshot().Get("players.p1.x")
	if !ok || x != 50.0 {
		t.Fatalf("expected x=50 written back, got %v", x)
	}
	// Rotation is physics-owned only under racing.
	if _, ok := f.host.Snapshot().Get("players.p1.rotation"); ok {
		t.Fatalf("expected rotation untouched outside racing")
	}
}

func TestWriteBackCanBeDisabled(t *testing.T) {
	f := newFixture()
	writeBack := false
	d := NewDriver(Config{Channel: f.host, Registry: f.reg, WriteBack: &writeBack})
	f.addPlayer("p1", map[string]any{"right": true})

	d.Update(0.25)

	x, _ := f.host.Snapshot().Get("players.p1.x")
	if x != 0.0 {
		t.Fatalf("expected stale document position with write-back off, got %v", x)
	}
	ex, _ := f.reg.Get("p1").Visual.Position()
	if ex != 50.0 {
		t.Fatalf("expected the visual to move regardless, got %v", ex)
	}
}

func TestPlatformerJumpRequiresGround(t *testing.T) {
	f := newFixture()
	d := f.driver()
	d.AddBehavior(BehaviorPlatformer, BehaviorConfig{})
	f.addPlayer("p1", map[string]any{"jump": true})

	// Airborne: the jump flag is ignored, gravity accumulates.
	d.Update(0.25)
	velocity, _ := d.GetVelocity("p1")
	if velocity.Y() != 225.0 {
		t.Fatalf("expected gravity-only vy=225, got %v", velocity.Y())
	}

	f.setField("p1", "grounded", true)
	d.Update(0.25)
	velocity, _ = d.GetVelocity("p1")
	if velocity.Y() != -420.0 {
		t.Fatalf("expected jump impulse -420, got %v", velocity.Y())
	}
}

func TestPlatformerGroundZeroesDownwardVelocity(t *testing.T) {
	f := newFixture()
	d := f.driver()
	d.AddBehavior(BehaviorPlatformer, BehaviorConfig{})
	f.addPlayer("p1", map[string]any{})

	d.Update(0.5) // falling
	f.setField("p1", "grounded", true)
	d.Update(0.25)

	velocity, _ := d.GetVelocity("p1")
	if velocity.Y() != 0.0 {
		t.Fatalf("expected grounded body to shed downward velocity, got %v", velocity.Y())
	}
}

func TestRacingAcceleratesAndClampsSpeed(t *testing.T) {
	f := newFixture()
	d := f.driver()
	d.AddBehavior(BehaviorRacing, BehaviorConfig{})
	f.addPlayer("p1", map[string]any{"up": true})

	for i := 0; i < 100; i++ {
		d.Update(0.1)
	}

	// Friction bounds the sustained speed below the raw clamp.
	speed := d.Speed("p1")
	if speed <= 0 || speed > 320.0 {
		t.Fatalf("expected bounded positive speed, got %v", speed)
	}
}

func TestRacingFrictionSnapsToZero(t *testing.T) {
	f := newFixture()
	d := f.driver()
	d.AddBehavior(BehaviorRacing, BehaviorConfig{})
	f.addPlayer("p1", map[string]any{"up": true})

	d.Update(0.1)
	if d.Speed("p1") == 0 {
		t.Fatalf("expected speed after throttle")
	}

	f.setInput("p1", map[string]any{})
	for i := 0; i < 200; i++ {
		d.Update(0.1)
	}

	if speed := d.Speed("p1"); speed != 0 {
		t.Fatalf("expected friction to snap exactly to zero, got %v", speed)
	}
	velocity, _ := d.GetVelocity("p1")
	if velocity.Len() != 0 {
		t.Fatalf("expected zero velocity at rest, got %v", velocity)
	}
}

func TestRacingWritesBackRotationAndSpeed(t *testing.T) {
	f := newFixture()
	d := f.driver()
	d.AddBehavior(BehaviorRacing, BehaviorConfig{})
	f.addPlayer("p1", map[string]any{"up": true, "right": true})

	d.Update(0.25)

	doc := f.host.Snapshot()
	rotation, ok := doc.Get("players.p1.rotation")
	if !ok {
		t.Fatalf("expected rotation written back under racing")
	}
	if math.Abs(rotation.(float64)-0.625) > 1e-9 {
		t.Fatalf("expected rotation 0.625 rad after one steering tick, got %v", rotation)
	}
	if _, ok := doc.Get("players.p1.speed"); !ok {
		t.Fatalf("expected speed written back under racing")
	}
}

func TestRacingWritesBackPositions(t *testing.T) {
	f := newFixture()
	d := f.driver()
	d.AddBehavior(BehaviorRacing, BehaviorConfig{})
	f.addPlayer("p1", map[string]any{"up": true})

	d.Update(0.25)

	speed := d.Speed("p1")
	if speed <= 0 {
		t.Fatalf("expected positive speed under throttle, got %v", speed)
	}
	x, ok := f.host.Snapshot().Get("players.p1.x")
	if !ok {
		t.Fatalf("expected position written back under racing")
	}
	// Facing starts at angle zero, so the authoritative position must
	// advance by exactly speed over the tick.
	if x != speed*0.25 {
		t.Fatalf("expected x=%v after one racing tick, got %v", speed*0.25, x)
	}
}

func TestDriverPrunesDepartedPlayers(t *testing.T) {
	f := newFixture()
	d := f.driver()
	d.AddBehavior(BehaviorRacing, BehaviorConfig{})
	f.addPlayer("p1", map[string]any{"up": true})
	f.addPlayer("p2", map[string]any{"up": true})

	d.Update(0.25)
	if _, ok := d.GetVelocity("p2"); !ok {
		t.Fatalf("expected velocity memory while present")
	}

	f.host.Mutate(func(doc *state.Document) {
		doc.Delete("players.p2")
	})
	f.reg.Remove("p2")
	d.Update(0.25)

	if _, ok := d.GetVelocity("p2"); ok {
		t.Fatalf("expected departed player's velocity memory pruned")
	}
	if d.Speed("p2") != 0 {
		t.Fatalf("expected departed player's speed cell pruned, got %v", d.Speed("p2"))
	}
	if _, ok := d.GetVelocity("p1"); !ok {
		t.Fatalf("expected remaining player's memory kept")
	}
}

func TestCustomBehaviorApply(t *testing.T) {
	f := newFixture()
	d := f.driver()
	applied := 0
	d.AddBehavior(BehaviorCustom, BehaviorConfig{
		Apply: func(entry *registry.Entry, in Input, velocity *mgl64.Vec2, dt float64) {
			applied++
			*velocity = mgl64.Vec2{7, 0}
		},
	})
	f.addPlayer("p1", map[string]any{})

	d.Update(0.1)

	if applied != 1 {
		t.Fatalf("expected custom apply to run once, got %d", applied)
	}
	velocity, _ := d.GetVelocity("p1")
	if velocity.X() != 7.0 {
		t.Fatalf("expected custom velocity stored, got %v", velocity)
	}
}

func TestBehaviorChangeEmitsEvent(t *testing.T) {
	f := newFixture()
	var events []logging.Event
	d := NewDriver(Config{
		Channel:  f.host,
		Registry: f.reg,
		Publisher: logging.PublisherFunc(func(ctx context.Context, event logging.Event) {
			events = append(events, event)
		}),
	})

	d.AddBehavior(BehaviorRacing, BehaviorConfig{})

	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	payload, ok := events[0].Payload.(simulation.BehaviorChangedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if payload.Previous != "topDown" || payload.Current != "racing" {
		t.Fatalf("expected topDown to racing transition, got %+v", payload)
	}
	if d.Behavior() != BehaviorRacing {
		t.Fatalf("expected racing active, got %v", d.Behavior())
	}
}

func TestVelocityNotifications(t *testing.T) {
	f := newFixture()
	d := f.driver()
	d.AddBehavior(BehaviorRacing, BehaviorConfig{})
	f.addPlayer("p1", map[string]any{"up": true})

	notified := 0
	unsub := d.OnVelocityChange(func(playerID string, speed float64) {
		if playerID != "p1" {
			t.Fatalf("expected p1, got %q", playerID)
		}
		notified++
	})

	d.Update(0.1)
	if notified != 1 {
		t.Fatalf("expected one notification, got %d", notified)
	}

	unsub()
	d.Update(0.1)
	if notified != 1 {
		t.Fatalf("expected no notifications after unsubscribe, got %d", notified)
	}
}

func TestClientRoleIsNoop(t *testing.T) {
	f := newFixture()
	client := f.host.NewClient()
	d := NewDriver(Config{Channel: client, Registry: f.reg})
	f.addPlayer("p1", map[string]any{"right": true})

	d.Update(0.1)

	x, _ := f.reg.Get("p1").Visual.Position()
	if x != 0.0 {
		t.Fatalf("expected no movement in client role, got %v", x)
	}
}
