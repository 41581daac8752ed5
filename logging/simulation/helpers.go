package simulation

import (
	"context"

	"stagelink/engine/logging"
)

const (
	// EventBehaviorChanged is emitted when the driver swaps behaviors.
	EventBehaviorChanged logging.EventType = "simulation.behavior_changed"
	// EventTickBudgetOverrun is emitted when a tick exceeds its budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventSessionJoined is emitted when a replication session attaches.
	EventSessionJoined logging.EventType = "simulation.session_joined"
	// EventSessionLeft is emitted when a replication session detaches.
	EventSessionLeft logging.EventType = "simulation.session_left"
)

// BehaviorChangedPayload captures the old and new behavior names.
type BehaviorChangedPayload struct {
	Previous string `json:"previous,omitempty"`
	Current  string `json:"current"`
}

// TickBudgetOverrunPayload captures timing details for a budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64 `json:"durationMillis"`
	BudgetMillis   int64 `json:"budgetMillis"`
}

// SessionPayload captures connection metadata for a session event.
type SessionPayload struct {
	RemoteAddr string `json:"remoteAddr,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// BehaviorChanged publishes a behavior swap event.
func BehaviorChanged(ctx context.Context, pub logging.Publisher, tick uint64, payload BehaviorChangedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBehaviorChanged,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// TickBudgetOverrun publishes a warning when a tick ran long.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// SessionJoined publishes a session attach event.
func SessionJoined(ctx context.Context, pub logging.Publisher, tick uint64, subject logging.EntityRef, payload SessionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionJoined,
		Tick:     tick,
		Subject:  subject,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// SessionLeft publishes a session detach event.
func SessionLeft(ctx context.Context, pub logging.Publisher, tick uint64, subject logging.EntityRef, payload SessionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionLeft,
		Tick:     tick,
		Subject:  subject,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}
