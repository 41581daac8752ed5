// Package spawner derives a managed set of registry entries from an
// arbitrary collection path in the replicated state document, so call
// sites never write their own diffing code.
package spawner

import (
	"github.com/go-gl/mathgl/mgl64"

	"stagelink/engine/internal/channel"
	"stagelink/engine/internal/registry"
	"stagelink/engine/internal/state"
	"stagelink/engine/internal/telemetry"
)

// VelocityFields names the per-entry velocity fields used for
// host-side extrapolation, and the position fields they advance.
type VelocityFields struct {
	X string // velocity field advancing PosX
	Y string // velocity field advancing PosY
	// PosX/PosY default to "x"/"y".
	PosX string
	PosY string
}

// SyncFunc is the custom host-side sync policy for still-present keys.
type SyncFunc func(reg *registry.Registry, key string, data state.EntityData)

// FilterFunc excludes entries from a pass; a filtered entry is treated
// as absent until the predicate admits it again.
type FilterFunc func(key string, data state.EntityData) bool

// Config declares one spawner.
type Config struct {
	// Path locates the source collection, e.g. "arena.pickups".
	Path     string
	Registry *registry.Registry
	Channel  channel.Channel

	// KeyField derives keys for array collections (default "id"); map
	// collections key by the map's own key.
	KeyField string
	// KeyPrefix is applied uniformly to every derived key.
	KeyPrefix string

	Filter FilterFunc

	// SyncFields is the host-side whitelist copied 1:1 into the
	// registry for keys still present. SyncFunc replaces it when set.
	// Client visuals are already kept current by the registry's own
	// reconciliation, so neither applies there.
	SyncFields []string
	SyncFunc   SyncFunc

	// VelocityFromState enables host-only physics extrapolation before
	// diffing: position fields advance by velocity x elapsed seconds in
	// place, so the diff and any resulting replication reflect
	// post-integration positions.
	VelocityFromState *VelocityFields

	Logger telemetry.Logger
}

// Spawner tracks which derived keys it has seen. That bookkeeping is
// local to the spawner and independent of the registry's local-origin
// set.
type Spawner struct {
	cfg       Config
	seen      map[string]struct{}
	unsub     func()
	destroyed bool
}

// New constructs a spawner. On a client it subscribes to the channel
// so every delivered snapshot triggers a sync pass; the host drives it
// explicitly through Update from its tick loop.
func New(cfg Config) *Spawner {
	s := &Spawner{
		cfg:  cfg,
		seen: make(map[string]struct{}),
	}
	if cfg.Channel != nil && !cfg.Channel.IsAuthoritative() {
		s.unsub = cfg.Channel.Subscribe(func(*state.Document) {
			s.Sync()
		})
	}
	return s
}

// Update runs one host poll: optional extrapolation, then a sync pass.
// deltaMs only matters when extrapolation is configured.
func (s *Spawner) Update(deltaMs float64) {
	if s.destroyed {
		return
	}
	if s.cfg.Channel != nil && s.cfg.Channel.IsAuthoritative() &&
		s.cfg.VelocityFromState != nil && deltaMs > 0 {
		s.extrapolate(deltaMs / 1000)
	}
	s.Sync()
}

// Sync diffs the source collection against the previously-seen key set
// and converges the registry. A missing collection is a no-op pass.
func (s *Spawner) Sync() {
	if s.destroyed || s.cfg.Channel == nil || s.cfg.Registry == nil {
		return
	}
	collection, ok := s.cfg.Channel.Snapshot().Get(s.cfg.Path)
	if !ok {
		return
	}
	host := s.cfg.Channel.IsAuthoritative()

	present := make(map[string]state.EntityData)
	for _, entry := range state.Entries(collection, s.cfg.KeyField) {
		key := s.cfg.KeyPrefix + entry.Key
		if s.cfg.Filter != nil && !s.cfg.Filter(key, entry.Data) {
			continue
		}
		// Colliding derived keys are last-write-wins in iteration order.
		present[key] = entry.Data
	}

	for key, data := range present {
		if _, ok := s.seen[key]; !ok {
			s.seen[key] = struct{}{}
			if host {
				s.cfg.Registry.Create(key, data)
			}
			// Clients only mark the key seen; the registry's own
			// reconciliation creates the visual from the snapshot.
			continue
		}
		if !host {
			continue
		}
		switch {
		case s.cfg.SyncFunc != nil:
			s.cfg.SyncFunc(s.cfg.Registry, key, data)
		case len(s.cfg.SyncFields) > 0:
			subset := make(state.EntityData, len(s.cfg.SyncFields))
			for _, field := range s.cfg.SyncFields {
				if value, ok := data[field]; ok {
					subset[field] = value
				}
			}
			s.cfg.Registry.Update(key, subset)
		}
	}

	for key := range s.seen {
		if _, ok := present[key]; !ok {
			delete(s.seen, key)
			s.cfg.Registry.Remove(key)
		}
	}
}

// Destroy detaches the spawner from the channel. Managed entities stay
// alive; ownership returns to the registry. Safe to call repeatedly.
func (s *Spawner) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

// extrapolate advances position fields by velocity x dt inside the
// authoritative document, before the diff step reads it.
func (s *Spawner) extrapolate(dt float64) {
	vf := *s.cfg.VelocityFromState
	if vf.PosX == "" {
		vf.PosX = "x"
	}
	if vf.PosY == "" {
		vf.PosY = "y"
	}
	path := s.cfg.Path
	s.cfg.Channel.Mutate(func(doc *state.Document) {
		collection, ok := doc.Get(path)
		if !ok {
			return
		}
		state.Records(collection, func(record any) {
			vx, hasVX := state.FieldNumber(record, vf.X)
			vy, hasVY := state.FieldNumber(record, vf.Y)
			if !hasVX && !hasVY {
				return
			}
			x, _ := state.FieldNumber(record, vf.PosX)
			y, _ := state.FieldNumber(record, vf.PosY)
			next := mgl64.Vec2{x, y}.Add(mgl64.Vec2{vx, vy}.Mul(dt))
			state.SetField(record, vf.PosX, next.X())
			state.SetField(record, vf.PosY, next.Y())
		})
	})
}
