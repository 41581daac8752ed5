// Package sim advances physics-bound entities from replicated player
// input and writes the results back into authoritative state. It runs
// on the host only; every other process sees the outcome through
// ordinary snapshot reconciliation.
package sim

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"

	"stagelink/engine/internal/channel"
	"stagelink/engine/internal/registry"
	"stagelink/engine/internal/state"
	"stagelink/engine/internal/telemetry"
	"stagelink/engine/logging"
	"stagelink/engine/logging/simulation"
)

// BehaviorName identifies a per-tick simulation strategy.
type BehaviorName string

const (
	BehaviorTopDown    BehaviorName = "topDown"
	BehaviorPlatformer BehaviorName = "platformer"
	BehaviorRacing     BehaviorName = "racing"
	BehaviorCustom     BehaviorName = "custom"
)

// Input is the per-player input snapshot read from authoritative state.
type Input struct {
	Left, Right, Up, Down, Jump bool
}

// InputFromData decodes the "input" record of a player entry.
func InputFromData(data state.EntityData) Input {
	raw, ok := data["input"]
	if !ok {
		return Input{}
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return Input{}
	}
	return Input{
		Left:  state.Bool(fields, "left"),
		Right: state.Bool(fields, "right"),
		Up:    state.Bool(fields, "up"),
		Down:  state.Bool(fields, "down"),
		Jump:  state.Bool(fields, "jump"),
	}
}

// ApplyFunc is a caller-supplied behavior for BehaviorCustom. It may
// mutate the entity's visual and the per-player velocity memory.
type ApplyFunc func(entry *registry.Entry, in Input, velocity *mgl64.Vec2, dt float64)

// BehaviorConfig tunes one behavior. Zero values take the documented
// defaults; Apply is only consulted for BehaviorCustom.
type BehaviorConfig struct {
	Speed         float64 // topDown/platformer velocity, default 200
	Gravity       float64 // platformer fall acceleration, default 900
	JumpForce     float64 // platformer impulse, default 420
	Acceleration  float64 // racing throttle gain, default 300
	MaxSpeed      float64 // racing speed bound, default 320
	Friction      float64 // racing per-tick decay factor, default 0.96
	TurnSpeed     float64 // racing steering rate (radians/s), default 2.5
	SnapThreshold float64 // racing zero-snap cutoff, default 0.5
	Apply         ApplyFunc
}

func (c BehaviorConfig) normalized() BehaviorConfig {
	if c.Speed <= 0 {
		c.Speed = 200
	}
	if c.Gravity <= 0 {
		c.Gravity = 900
	}
	if c.JumpForce <= 0 {
		c.JumpForce = 420
	}
	if c.Acceleration <= 0 {
		c.Acceleration = 300
	}
	if c.MaxSpeed <= 0 {
		c.MaxSpeed = 320
	}
	if c.Friction <= 0 || c.Friction >= 1 {
		c.Friction = 0.96
	}
	if c.TurnSpeed <= 0 {
		c.TurnSpeed = 2.5
	}
	if c.SnapThreshold <= 0 {
		c.SnapThreshold = 0.5
	}
	return c
}

// Config wires a driver to its registry and channel.
type Config struct {
	Channel  channel.Channel
	Registry *registry.Registry
	// PlayersPath locates the per-player collection. Default "players".
	PlayersPath string
	// WriteBack copies simulation results back into authoritative
	// state after each tick. Defaults to true; disabling it reproduces
	// the stale-position race where host-side readers spawn against
	// positions a full replication round trip old.
	WriteBack *bool

	Logger    telemetry.Logger
	Publisher logging.Publisher
}

// Driver applies exactly one active behavior to every tracked entity
// each tick.
type Driver struct {
	cfg        Config
	behavior   BehaviorName
	bcfg       BehaviorConfig
	velocities map[string]mgl64.Vec2
	speeds     map[string]float64
	subs       []*velocitySub
	tick       uint64
	writeBack  bool
	warnedRole bool
	warnedNoop bool
}

type velocitySub struct {
	fn func(playerID string, speed float64)
}

// NewDriver constructs a driver with the topDown behavior active.
func NewDriver(cfg Config) *Driver {
	if cfg.PlayersPath == "" {
		cfg.PlayersPath = "players"
	}
	writeBack := true
	if cfg.WriteBack != nil {
		writeBack = *cfg.WriteBack
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	return &Driver{
		cfg:        cfg,
		behavior:   BehaviorTopDown,
		bcfg:       BehaviorConfig{}.normalized(),
		velocities: make(map[string]mgl64.Vec2),
		speeds:     make(map[string]float64),
		writeBack:  writeBack,
	}
}

// AddBehavior atomically replaces both the active strategy and its
// configuration. There is no transition table; the new behavior
// applies to every entity from the next tick.
func (d *Driver) AddBehavior(name BehaviorName, cfg BehaviorConfig) {
	previous := d.behavior
	d.behavior = name
	d.bcfg = cfg.normalized()
	d.bcfg.Apply = cfg.Apply
	simulation.BehaviorChanged(context.Background(), d.cfg.Publisher, d.tick,
		simulation.BehaviorChangedPayload{Previous: string(previous), Current: string(name)})
}

// Behavior reports the active behavior name.
func (d *Driver) Behavior() BehaviorName { return d.behavior }

// GetVelocity returns the velocity memory for one player.
func (d *Driver) GetVelocity(playerID string) (mgl64.Vec2, bool) {
	v, ok := d.velocities[playerID]
	return v, ok
}

// GetVelocities copies the whole velocity table.
func (d *Driver) GetVelocities() map[string]mgl64.Vec2 {
	copied := make(map[string]mgl64.Vec2, len(d.velocities))
	for id, v := range d.velocities {
		copied[id] = v
	}
	return copied
}

// Speed returns the racing speed table entry for one player. The table
// is in-process only; the replicated copy lives in the player record.
func (d *Driver) Speed(playerID string) float64 {
	return d.speeds[playerID]
}

// OnVelocityChange registers a synchronous, in-process-only speed
// notification. It never crosses to other processes; replicated state
// travels through the channel write-back instead.
func (d *Driver) OnVelocityChange(fn func(playerID string, speed float64)) (unsubscribe func()) {
	sub := &velocitySub{fn: fn}
	d.subs = append(d.subs, sub)
	return func() { sub.fn = nil }
}

// Update runs one simulation tick. It is a no-op in a client role.
func (d *Driver) Update(dt float64) {
	if dt <= 0 || d.cfg.Registry == nil || d.cfg.Channel == nil {
		return
	}
	if !d.cfg.Channel.IsAuthoritative() {
		if !d.warnedRole && d.cfg.Logger != nil {
			d.cfg.Logger.Printf("[sim] update ignored: not authoritative")
			d.warnedRole = true
		}
		return
	}
	d.tick++

	collection, ok := d.cfg.Channel.Snapshot().Get(d.cfg.PlayersPath)
	if !ok {
		return
	}

	type writeback struct {
		key      string
		x, y     float64
		rotation float64
		speed    float64
		racing   bool
	}
	var writes []writeback

	players := state.Entries(collection, "")
	present := make(map[string]struct{}, len(players))
	for _, player := range players {
		present[player.Key] = struct{}{}
		entry := d.cfg.Registry.Get(player.Key)
		if entry == nil {
			continue
		}
		in := InputFromData(player.Data)
		velocity := d.velocities[player.Key]
		racing := false

		switch d.behavior {
		case BehaviorTopDown:
			velocity = d.applyTopDown(entry, in, dt)
		case BehaviorPlatformer:
			velocity = d.applyPlatformer(entry, in, velocity, player.Data, dt)
		case BehaviorRacing:
			velocity = d.applyRacing(entry, in, player.Key, dt)
			racing = true
		case BehaviorCustom:
			if d.bcfg.Apply == nil {
				if !d.warnedNoop && d.cfg.Logger != nil {
					d.cfg.Logger.Printf("[sim] custom behavior has no apply function")
					d.warnedNoop = true
				}
				continue
			}
			d.bcfg.Apply(entry, in, &velocity, dt)
		}

		d.velocities[player.Key] = velocity

		if d.writeBack {
			x, y := entry.Visual.Position()
			writes = append(writes, writeback{
				key:      player.Key,
				x:        x,
				y:        y,
				rotation: entry.Visual.Rotation(),
				speed:    d.speeds[player.Key],
				racing:   racing,
			})
		}
	}

	// Drop memory cells for players no longer in the collection.
	for key := range d.velocities {
		if _, ok := present[key]; !ok {
			delete(d.velocities, key)
		}
	}
	for key := range d.speeds {
		if _, ok := present[key]; !ok {
			delete(d.speeds, key)
		}
	}

	if len(writes) == 0 {
		return
	}
	path := d.cfg.PlayersPath
	d.cfg.Channel.Mutate(func(doc *state.Document) {
		for _, w := range writes {
			doc.Set(path+"."+w.key+".x", w.x)
			doc.Set(path+"."+w.key+".y", w.y)
			if w.racing {
				// Rotation is physics-owned only under racing; other
				// behaviors leave it to higher-level game logic.
				doc.Set(path+"."+w.key+".rotation", w.rotation)
				doc.Set(path+"."+w.key+".speed", w.speed)
			}
		}
	})
}

func (d *Driver) notifySpeed(playerID string, speed float64) {
	for _, sub := range append([]*velocitySub(nil), d.subs...) {
		if sub.fn != nil {
			sub.fn(playerID, speed)
		}
	}
}
