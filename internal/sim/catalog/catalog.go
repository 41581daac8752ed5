// Package catalog defines the designer-facing behavior configuration
// document and its JSON schema. The demo server resolves one entry
// into a live driver behavior at startup; the schema feeds editor
// tooling.
package catalog

import (
	"fmt"
	"strings"

	"stagelink/engine/internal/sim"
)

// EntryDocument is one authored behavior configuration.
type EntryDocument struct {
	Behavior string         `json:"behavior" jsonschema:"required,enum=topDown,enum=platformer,enum=racing"`
	Config   ConfigDocument `json:"config,omitempty"`
}

// ConfigDocument mirrors sim.BehaviorConfig with optional fields so an
// authored entry only states the values it overrides.
type ConfigDocument struct {
	Speed         *float64 `json:"speed,omitempty" jsonschema:"minimum=0"`
	Gravity       *float64 `json:"gravity,omitempty" jsonschema:"minimum=0"`
	JumpForce     *float64 `json:"jumpForce,omitempty" jsonschema:"minimum=0"`
	Acceleration  *float64 `json:"acceleration,omitempty" jsonschema:"minimum=0"`
	MaxSpeed      *float64 `json:"maxSpeed,omitempty" jsonschema:"minimum=0"`
	Friction      *float64 `json:"friction,omitempty" jsonschema:"minimum=0,maximum=1"`
	TurnSpeed     *float64 `json:"turnSpeed,omitempty" jsonschema:"minimum=0"`
	SnapThreshold *float64 `json:"snapThreshold,omitempty" jsonschema:"minimum=0"`
}

// Resolve translates an authored entry into driver arguments. Custom
// behaviors carry code, not configuration, so they cannot be authored
// through the catalog.
func Resolve(entry EntryDocument) (sim.BehaviorName, sim.BehaviorConfig, error) {
	name := sim.BehaviorName(strings.TrimSpace(entry.Behavior))
	switch name {
	case sim.BehaviorTopDown, sim.BehaviorPlatformer, sim.BehaviorRacing:
	case sim.BehaviorCustom:
		return "", sim.BehaviorConfig{}, fmt.Errorf("catalog: custom behaviors require an apply function and cannot be authored")
	default:
		return "", sim.BehaviorConfig{}, fmt.Errorf("catalog: unknown behavior %q", entry.Behavior)
	}

	var cfg sim.BehaviorConfig
	apply := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&cfg.Speed, entry.Config.Speed)
	apply(&cfg.Gravity, entry.Config.Gravity)
	apply(&cfg.JumpForce, entry.Config.JumpForce)
	apply(&cfg.Acceleration, entry.Config.Acceleration)
	apply(&cfg.MaxSpeed, entry.Config.MaxSpeed)
	apply(&cfg.Friction, entry.Config.Friction)
	apply(&cfg.TurnSpeed, entry.Config.TurnSpeed)
	apply(&cfg.SnapThreshold, entry.Config.SnapThreshold)
	return name, cfg, nil
}
