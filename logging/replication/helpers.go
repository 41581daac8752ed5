package replication

import (
	"context"

	"stagelink/engine/logging"
)

const (
	// EventEntitySpawned is emitted when a registry instantiates an entity.
	EventEntitySpawned logging.EventType = "replication.entity_spawned"
	// EventEntityRemoved is emitted when a registry tears an entity down.
	EventEntityRemoved logging.EventType = "replication.entity_removed"
	// EventEntityDeferred is emitted when instantiation waits on static fields.
	EventEntityDeferred logging.EventType = "replication.entity_deferred"
	// EventRoleViolation is emitted when a host-only operation runs on a client.
	EventRoleViolation logging.EventType = "replication.role_violation"
)

// EntitySpawnedPayload captures how an entity came to exist.
type EntitySpawnedPayload struct {
	Namespace string `json:"namespace"`
	Origin    string `json:"origin"`
}

// EntityRemovedPayload captures why an entity was torn down.
type EntityRemovedPayload struct {
	Namespace string `json:"namespace"`
	Reason    string `json:"reason"`
}

// EntityDeferredPayload lists the static fields still missing.
type EntityDeferredPayload struct {
	Namespace string   `json:"namespace"`
	Missing   []string `json:"missing"`
}

// RoleViolationPayload names the operation that was refused.
type RoleViolationPayload struct {
	Operation string `json:"operation"`
}

// EntitySpawned publishes an entity instantiation event.
func EntitySpawned(ctx context.Context, pub logging.Publisher, tick uint64, subject logging.EntityRef, payload EntitySpawnedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntitySpawned,
		Tick:     tick,
		Subject:  subject,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}

// EntityRemoved publishes an entity teardown event.
func EntityRemoved(ctx context.Context, pub logging.Publisher, tick uint64, subject logging.EntityRef, payload EntityRemovedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityRemoved,
		Tick:     tick,
		Subject:  subject,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}

// EntityDeferred publishes a static-field gating event.
func EntityDeferred(ctx context.Context, pub logging.Publisher, tick uint64, subject logging.EntityRef, payload EntityDeferredPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityDeferred,
		Tick:     tick,
		Subject:  subject,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}

// RoleViolation publishes a refused host-only (or client-only) call.
func RoleViolation(ctx context.Context, pub logging.Publisher, tick uint64, subject logging.EntityRef, payload RoleViolationPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRoleViolation,
		Tick:     tick,
		Subject:  subject,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}
