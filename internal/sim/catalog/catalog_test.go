package catalog

import (
	"testing"

	"stagelink/engine/internal/sim"
)

func TestResolveDefaults(t *testing.T) {
	name, cfg, err := Resolve(EntryDocument{Behavior: "topDown"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if name != sim.BehaviorTopDown {
		t.Fatalf("expected topDown, got %v", name)
	}
	if cfg.Speed != 0 {
		t.Fatalf("expected unset fields to stay zero for driver defaults, got %v", cfg.Speed)
	}
}

func TestResolveOverrides(t *testing.T) {
	speed := 150.0
	friction := 0.9
	name, cfg, err := Resolve(EntryDocument{
		Behavior: "racing",
		Config:   ConfigDocument{Speed: &speed, Friction: &friction},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if name != sim.BehaviorRacing {
		t.Fatalf("expected racing, got %v", name)
	}
	if cfg.Speed != 150.0 || cfg.Friction != 0.9 {
		t.Fatalf("expected overrides applied, got speed=%v friction=%v", cfg.Speed, cfg.Friction)
	}
}

func TestResolveRejectsCustom(t *testing.T) {
	if _, _, err := Resolve(EntryDocument{Behavior: "custom"}); err == nil {
		t.Fatalf("expected custom behavior to be rejected")
	}
}

func TestResolveRejectsUnknown(t *testing.T) {
	if _, _, err := Resolve(EntryDocument{Behavior: "flying"}); err == nil {
		t.Fatalf("expected unknown behavior to be rejected")
	}
}

func TestSchemaShape(t *testing.T) {
	schema, err := Schema()
	if err != nil {
		t.Fatalf("schema failed: %v", err)
	}
	if schema.Title == "" {
		t.Fatalf("expected a titled root schema")
	}
	if len(schema.OneOf) != 2 {
		t.Fatalf("expected entry and list variants, got %d", len(schema.OneOf))
	}
}
