// Package registry keeps one namespace of locally-rendered entities
// consistent with the replicated state document. It is the single
// reconciliation point between explicit host-side create calls and
// entities observed in snapshots, on both sides of the channel.
package registry

import (
	"context"
	"math"
	"time"

	"stagelink/engine/internal/attach"
	"stagelink/engine/internal/channel"
	"stagelink/engine/internal/scene"
	"stagelink/engine/internal/state"
	"stagelink/engine/internal/telemetry"
	"stagelink/engine/logging"
	"stagelink/engine/logging/replication"
)

const (
	defaultSyncInterval = 50 * time.Millisecond
	defaultLabelOffset  = 24.0
)

// CreateFunc builds the visual for a new entity.
type CreateFunc func(key string, data state.EntityData) scene.Visual

// UpdateFunc applies fresh snapshot data to a tracked entity.
type UpdateFunc func(entry *Entry, data state.EntityData)

// DestroyFunc runs before an entity's visual is freed.
type DestroyFunc func(entry *Entry)

// PostCreateFunc runs after instantiation with the full registry in
// scope, supporting cross-entity setup such as collision wiring.
type PostCreateFunc func(r *Registry, entry *Entry)

// Config declares one registry namespace. Create is required; every
// other field has a usable default.
type Config struct {
	// Namespace is the collection path inside the state document, e.g.
	// "players" or "arena.pickups".
	Namespace string
	Channel   channel.Channel
	Stage     scene.Stage

	Create     CreateFunc
	Update     UpdateFunc
	Destroy    DestroyFunc
	PostCreate PostCreateFunc

	// StaticFields must all be present in a remote entity's data before
	// it may be instantiated. They are also the subset published into
	// authoritative state once at creation when PublishStatic is set.
	StaticFields []string
	// DynamicFields are re-applied to the visual on every reconcile
	// pass and republished on the sync cadence for host-created
	// entities. The names x, y, rotation and alpha bind to the visual;
	// anything else passes through entity data untouched.
	DynamicFields []string
	// PublishStatic copies the static-field subset of the creation data
	// into authoritative state exactly once per host-created entity.
	PublishStatic bool
	// SyncInterval is the dynamic-field publish cadence for
	// host-created entities. Defaults to 50ms.
	SyncInterval time.Duration
	// LabelField, when set, renders the named string field as a text
	// label tracking the entity.
	LabelField string
	// LabelOffset lifts the label above the entity. Defaults to 24.
	LabelOffset float64
	// Lerp is the per-frame interpolation factor applied to remote
	// entities between snapshots. Zero applies snapshot data directly.
	Lerp float64

	GroupName string // grouping container, defaults to Namespace

	Clock     logging.Clock
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Counters  *telemetry.Counters
}

// Entry is one live entity tracked by the registry.
type Entry struct {
	Key      string
	Visual   scene.Visual
	LastData state.EntityData
	Label    scene.Text

	localOrigin    bool
	staticWritten  bool
	lastSync       time.Time
	targetX        float64
	targetY        float64
	targetRotation float64
	hasTarget      bool
	labelAttach    *attach.Attachment
}

// LocalOrigin reports whether this process created the entity directly.
func (e *Entry) LocalOrigin() bool { return e.localOrigin }

// Registry owns the live entity set for one namespace.
type Registry struct {
	cfg     Config
	entries map[string]*Entry
	// localOrigin records keys this process instantiated directly so an
	// observed snapshot can never double-spawn them. Never serialized.
	localOrigin map[string]struct{}
	scope       *attach.Scope
	manual      []*attach.Attachment
	group       scene.Group
	frames      uint64
}

// New constructs a registry for one namespace.
func New(cfg Config) *Registry {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.LabelOffset == 0 {
		cfg.LabelOffset = defaultLabelOffset
	}
	if cfg.GroupName == "" {
		cfg.GroupName = cfg.Namespace
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	r := &Registry{
		cfg:         cfg,
		entries:     make(map[string]*Entry),
		localOrigin: make(map[string]struct{}),
		scope:       attach.NewScope(cfg.Stage),
	}
	if cfg.Stage != nil {
		r.group = cfg.Stage.Group(cfg.GroupName)
	}
	return r
}

// Bind subscribes the registry to its channel so every delivered
// snapshot is reconciled against the namespace collection. The
// returned unsubscribe detaches it.
func (r *Registry) Bind() func() {
	if r.cfg.Channel == nil {
		return func() {}
	}
	return r.cfg.Channel.Subscribe(func(doc *state.Document) {
		r.ReconcileDocument(doc)
	})
}

// Create instantiates a host-owned entity. On a client it is a warned
// no-op returning nil. Calling it again with a registered key returns
// the existing entry without re-invoking the creation callback.
func (r *Registry) Create(key string, data state.EntityData) *Entry {
	if r.cfg.Channel != nil && !r.cfg.Channel.IsAuthoritative() {
		r.warnRole("create")
		return nil
	}
	if existing, ok := r.entries[key]; ok {
		return existing
	}
	entry := r.instantiate(key, data, true)
	if entry == nil {
		return nil
	}
	r.localOrigin[key] = struct{}{}
	r.publishStatic(entry)
	replication.EntitySpawned(context.Background(), r.cfg.Publisher, r.frames,
		logging.EntityRef{ID: key, Kind: logging.EntityKindEntity},
		replication.EntitySpawnedPayload{Namespace: r.cfg.Namespace, Origin: "local"})
	return entry
}

// Remove tears an entity down: destroy callback, label, visual,
// bookkeeping. Unknown keys are treated as already converged.
func (r *Registry) Remove(key string) {
	r.remove(key, "explicit")
}

// Get returns the tracked entry for a key, or nil.
func (r *Registry) Get(key string) *Entry {
	return r.entries[key]
}

// GetAll returns every tracked entry.
func (r *Registry) GetAll() []*Entry {
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	return entries
}

// Len reports the number of live entities.
func (r *Registry) Len() int { return len(r.entries) }

// Update merges data into a tracked entry and applies the dynamic
// fields to its visual. Unknown keys are a silent no-op.
func (r *Registry) Update(key string, data state.EntityData) {
	entry, ok := r.entries[key]
	if !ok {
		return
	}
	if entry.LastData == nil {
		entry.LastData = make(state.EntityData, len(data))
	}
	for field, value := range data {
		entry.LastData[field] = value
	}
	r.applyDynamic(entry, entry.LastData, false)
	if r.cfg.Update != nil {
		r.cfg.Update(entry, entry.LastData)
	}
}

// ReconcileDocument extracts the namespace collection from a snapshot
// document and reconciles against it. A missing collection reconciles
// against the empty set only if the namespace has never been seen;
// otherwise the pass is skipped as a partial delivery guard.
func (r *Registry) ReconcileDocument(doc *state.Document) {
	collection, ok := doc.Get(r.cfg.Namespace)
	if !ok {
		return
	}
	snapshot := make(map[string]state.EntityData)
	for _, entry := range state.Entries(collection, "") {
		snapshot[entry.Key] = entry.Data
	}
	r.Reconcile(snapshot)
}

// Reconcile drives the client-facing reconciliation pass: instantiate
// unseen remote entities whose static fields are complete, update
// still-present ones, and remove tracked remote entities absent from
// the snapshot. Keys in the local-origin set are never touched.
func (r *Registry) Reconcile(snapshot map[string]state.EntityData) {
	deferred := 0
	for key, data := range snapshot {
		if _, local := r.localOrigin[key]; local {
			continue
		}
		entry, tracked := r.entries[key]
		if !tracked {
			if missing := r.missingStatic(data); len(missing) > 0 {
				deferred++
				replication.EntityDeferred(context.Background(), r.cfg.Publisher, r.frames,
					logging.EntityRef{ID: key, Kind: logging.EntityKindEntity},
					replication.EntityDeferredPayload{Namespace: r.cfg.Namespace, Missing: missing})
				continue
			}
			entry = r.instantiate(key, data, false)
			if entry != nil {
				replication.EntitySpawned(context.Background(), r.cfg.Publisher, r.frames,
					logging.EntityRef{ID: key, Kind: logging.EntityKindEntity},
					replication.EntitySpawnedPayload{Namespace: r.cfg.Namespace, Origin: "remote"})
			}
			continue
		}
		entry.LastData = data
		r.applyDynamic(entry, data, r.cfg.Lerp > 0)
		if r.cfg.Update != nil {
			r.cfg.Update(entry, data)
		}
	}

	// Removals are evaluated against the same snapshot used above, so
	// nothing instantiated in this pass can be removed in this pass.
	for key, entry := range r.entries {
		if entry.localOrigin {
			continue
		}
		if _, present := snapshot[key]; !present {
			r.remove(key, "absent")
		}
	}

	r.cfg.Counters.RecordReconcile(deferred)
	r.cfg.Counters.StoreEntitiesLive(len(r.entries))
}

// PerFrameUpdate advances interpolation for remote entities, drives
// manually-updated attachments, and republishes dynamic fields for
// host-created entities on the sync cadence.
func (r *Registry) PerFrameUpdate(dt float64) {
	r.frames++

	for _, entry := range r.entries {
		if entry.localOrigin || !entry.hasTarget {
			continue
		}
		if r.cfg.Lerp <= 0 {
			continue
		}
		factor := r.cfg.Lerp
		if factor > 1 {
			factor = 1
		}
		x, y := entry.Visual.Position()
		entry.Visual.SetPosition(x+(entry.targetX-x)*factor, y+(entry.targetY-y)*factor)
		rot := entry.Visual.Rotation()
		// Take the short way around the circle: a target crossing the
		// ±π seam must not swing the visual the long way.
		delta := math.Mod(entry.targetRotation-rot, 2*math.Pi)
		if delta > math.Pi {
			delta -= 2 * math.Pi
		} else if delta < -math.Pi {
			delta += 2 * math.Pi
		}
		entry.Visual.SetRotation(rot + delta*factor)
	}

	live := r.manual[:0]
	for _, a := range r.manual {
		if a.Destroyed() {
			continue
		}
		live = append(live, a)
		a.Update()
	}
	r.manual = live

	if r.cfg.Channel != nil && r.cfg.Channel.IsAuthoritative() {
		r.syncLocal()
	}
}

// Attach decorates a tracked entity. Attachments opting out of
// automatic updates join the registry's manually-driven list.
func (r *Registry) Attach(key string, hooks attach.Hooks, opts attach.Options) *attach.Attachment {
	entry, ok := r.entries[key]
	if !ok {
		return nil
	}
	a := r.scope.Attach(entry.Visual, hooks, opts)
	if opts.ManualUpdate {
		r.manual = append(r.manual, a)
	}
	return a
}

// Scope exposes the registry's attachment scope for composites.
func (r *Registry) Scope() *attach.Scope { return r.scope }

// Close removes every entity and tears the attachment scope down.
func (r *Registry) Close() {
	for key := range r.entries {
		r.remove(key, "shutdown")
	}
	r.scope.Close()
}

func (r *Registry) instantiate(key string, data state.EntityData, local bool) *Entry {
	if r.cfg.Create == nil {
		return nil
	}
	visual := r.cfg.Create(key, data)
	if visual == nil {
		return nil
	}
	entry := &Entry{
		Key:         key,
		Visual:      visual,
		LastData:    data,
		localOrigin: local,
	}
	if r.group != nil {
		r.group.Add(visual)
	}
	r.entries[key] = entry
	r.applyDynamic(entry, data, false)
	r.attachLabel(entry, data)
	if r.cfg.PostCreate != nil {
		r.cfg.PostCreate(r, entry)
	}
	r.cfg.Counters.StoreEntitiesLive(len(r.entries))
	return entry
}

func (r *Registry) remove(key string, reason string) {
	entry, ok := r.entries[key]
	if !ok {
		return
	}
	delete(r.entries, key)
	delete(r.localOrigin, key)
	if r.cfg.Destroy != nil {
		r.cfg.Destroy(entry)
	}
	if entry.labelAttach != nil {
		entry.labelAttach.Destroy()
	}
	if r.group != nil {
		r.group.Remove(entry.Visual)
	}
	entry.Visual.Destroy()
	replication.EntityRemoved(context.Background(), r.cfg.Publisher, r.frames,
		logging.EntityRef{ID: key, Kind: logging.EntityKindEntity},
		replication.EntityRemovedPayload{Namespace: r.cfg.Namespace, Reason: reason})
	r.cfg.Counters.StoreEntitiesLive(len(r.entries))
}

func (r *Registry) missingStatic(data state.EntityData) []string {
	if len(r.cfg.StaticFields) == 0 {
		return nil
	}
	var missing []string
	for _, field := range r.cfg.StaticFields {
		if _, ok := data[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

// applyDynamic pushes recognized dynamic fields onto the visual. With
// interpolate set, position and rotation become targets advanced by
// PerFrameUpdate instead of applying immediately.
func (r *Registry) applyDynamic(entry *Entry, data state.EntityData, interpolate bool) {
	fields := r.cfg.DynamicFields
	if len(fields) == 0 {
		fields = []string{"x", "y", "rotation", "alpha"}
	}
	x, hasX := state.Number(data, "x")
	y, hasY := state.Number(data, "y")
	wantX, wantY := false, false
	for _, field := range fields {
		switch field {
		case "x":
			wantX = hasX
		case "y":
			wantY = hasY
		case "rotation":
			if rot, ok := state.Number(data, "rotation"); ok {
				if interpolate {
					entry.targetRotation = rot
				} else {
					entry.Visual.SetRotation(rot)
					entry.targetRotation = rot
				}
			}
		case "alpha":
			if alpha, ok := state.Number(data, "alpha"); ok {
				entry.Visual.SetAlpha(alpha)
			}
		}
	}
	if wantX || wantY {
		curX, curY := entry.Visual.Position()
		if !wantX {
			x = curX
		}
		if !wantY {
			y = curY
		}
		if interpolate {
			entry.targetX, entry.targetY = x, y
			entry.hasTarget = true
		} else {
			entry.Visual.SetPosition(x, y)
			entry.targetX, entry.targetY = x, y
		}
	}
	if entry.Label != nil {
		if r.cfg.LabelField != "" {
			if text, ok := state.Text(data, r.cfg.LabelField); ok {
				entry.Label.SetText(text)
			}
		}
	}
}

func (r *Registry) attachLabel(entry *Entry, data state.EntityData) {
	if r.cfg.LabelField == "" || r.cfg.Stage == nil {
		return
	}
	text, ok := state.Text(data, r.cfg.LabelField)
	if !ok {
		return
	}
	label := r.cfg.Stage.NewText(text)
	entry.Label = label
	offset := r.cfg.LabelOffset
	entry.labelAttach = r.Attach(entry.Key, attach.Hooks{
		Update: func() {
			x, y := entry.Visual.Position()
			label.SetPosition(x, y-offset)
		},
		Visual: label,
	}, attach.Options{ManualUpdate: true})
}

// publishStatic writes the whitelisted static subset of a host-created
// entity into authoritative state, exactly once.
func (r *Registry) publishStatic(entry *Entry) {
	if !r.cfg.PublishStatic || entry.staticWritten || len(r.cfg.StaticFields) == 0 {
		return
	}
	if r.cfg.Channel == nil {
		return
	}
	entry.staticWritten = true
	key := entry.Key
	fields := make(state.EntityData, len(r.cfg.StaticFields))
	for _, field := range r.cfg.StaticFields {
		if value, ok := entry.LastData[field]; ok {
			fields[field] = value
		}
	}
	namespace := r.cfg.Namespace
	r.cfg.Channel.Mutate(func(doc *state.Document) {
		doc.Set(namespace+"."+key+"."+state.DefaultKeyField, key)
		for field, value := range fields {
			doc.Set(namespace+"."+key+"."+field, value)
		}
	})
}

// syncLocal republishes dynamic fields for local-origin entities whose
// cadence has elapsed. These writes re-enter this registry only
// through the update path: reconciliation skips local-origin keys.
func (r *Registry) syncLocal() {
	now := r.cfg.Clock.Now()
	var due []*Entry
	for _, entry := range r.entries {
		if !entry.localOrigin {
			continue
		}
		if !entry.lastSync.IsZero() && now.Sub(entry.lastSync) < r.cfg.SyncInterval {
			continue
		}
		entry.lastSync = now
		due = append(due, entry)
	}
	if len(due) == 0 {
		return
	}
	namespace := r.cfg.Namespace
	fields := r.cfg.DynamicFields
	if len(fields) == 0 {
		fields = []string{"x", "y", "rotation", "alpha"}
	}
	r.cfg.Channel.Mutate(func(doc *state.Document) {
		for _, entry := range due {
			x, y := entry.Visual.Position()
			for _, field := range fields {
				var value any
				switch field {
				case "x":
					value = x
				case "y":
					value = y
				case "rotation":
					value = entry.Visual.Rotation()
				case "alpha":
					value = entry.Visual.Alpha()
				default:
					stored, ok := entry.LastData[field]
					if !ok {
						continue
					}
					value = stored
				}
				doc.Set(namespace+"."+entry.Key+"."+field, value)
			}
		}
	})
}

func (r *Registry) warnRole(operation string) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Printf("[registry:%s] %s ignored: not authoritative", r.cfg.Namespace, operation)
	}
	replication.RoleViolation(context.Background(), r.cfg.Publisher, r.frames,
		logging.EntityRef{ID: r.cfg.Namespace, Kind: logging.EntityKindRegistry},
		replication.RoleViolationPayload{Operation: operation})
}
