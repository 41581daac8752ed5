// Package app wires the engine together into the demo host process:
// configuration, logging, the WebSocket channel, registries, the
// simulation driver, spawners and the tick loop.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	channelws "stagelink/engine/internal/channel/ws"
	"stagelink/engine/internal/registry"
	"stagelink/engine/internal/runtime"
	"stagelink/engine/internal/scene"
	"stagelink/engine/internal/sim"
	"stagelink/engine/internal/sim/catalog"
	"stagelink/engine/internal/spawner"
	"stagelink/engine/internal/state"
	"stagelink/engine/internal/telemetry"
	"stagelink/engine/logging"
	loggingSinks "stagelink/engine/logging/sinks"
)

// Config carries the process-level dependencies main cannot default.
type Config struct {
	Logger telemetry.Logger
	// SettingsPath points at a TOML settings file. Empty falls back to
	// the STAGELINK_CONFIG variable, then to stagelink.toml when present.
	SettingsPath string
}

// Run boots the host process and blocks until the listener fails or
// the context is cancelled.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	settings, err := resolveSettings(cfg.SettingsPath, telemetryLogger)
	if err != nil {
		return err
	}

	logConfig := logging.DefaultConfig()
	logConfig.EnabledSinks = settings.LogSinks
	logConfig.BufferSize = settings.LogBufferSize

	var namedSinks []logging.NamedSink
	if logConfig.HasSink("console") {
		namedSinks = append(namedSinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout)})
	}
	if logConfig.HasSink("json") && settings.LogJSONPath != "" {
		file, err := os.OpenFile(settings.LogJSONPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open json log: %w", err)
		}
		defer file.Close()
		namedSinks = append(namedSinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(file, time.Second)})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, namedSinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	counters := telemetry.NewCounters()
	stage := scene.NewHeadless()

	var host *channelws.Host
	var playersReg *registry.Registry
	playersPath := settings.PlayersPath

	host = channelws.NewHost(channelws.HostConfig{
		HeartbeatTimeout: settings.HeartbeatTimeout,
		Logger:           telemetryLogger,
		Publisher:        router,
		Counters:         counters,
		OnJoin: func(sessionID string) {
			name := "player-" + shortID(sessionID)
			spawnX := 120 + float64(playersReg.Len())*48
			host.Mutate(func(doc *state.Document) {
				doc.Set(playersPath+"."+sessionID+".id", sessionID)
				doc.Set(playersPath+"."+sessionID+".name", name)
				doc.Set(playersPath+"."+sessionID+".x", spawnX)
				doc.Set(playersPath+"."+sessionID+".y", 120.0)
				doc.Set(playersPath+"."+sessionID+".input", map[string]any{})
			})
		},
		OnLeave: func(sessionID string) {
			host.Mutate(func(doc *state.Document) {
				doc.Delete(playersPath + "." + sessionID)
			})
		},
		OnInput: func(sessionID string, input map[string]bool) {
			host.Mutate(func(doc *state.Document) {
				if _, ok := doc.Get(playersPath + "." + sessionID); !ok {
					return
				}
				flags := make(map[string]any, len(input))
				for flag, pressed := range input {
					flags[flag] = pressed
				}
				doc.Set(playersPath+"."+sessionID+".input", flags)
			})
		},
	})

	playersReg = registry.New(registry.Config{
		Namespace: playersPath,
		Channel:   host,
		Stage:     stage,
		Create: func(key string, data state.EntityData) scene.Visual {
			return stage.NewVisual()
		},
		StaticFields:  []string{"name"},
		PublishStatic: true,
		LabelField:    "name",
		SyncInterval:  settings.SyncInterval,
		Logger:        telemetryLogger,
		Publisher:     router,
		Counters:      counters,
	})
	defer playersReg.Close()
	unbindPlayers := playersReg.Bind()
	defer unbindPlayers()

	driver := sim.NewDriver(sim.Config{
		Channel:     host,
		Registry:    playersReg,
		PlayersPath: playersPath,
		Logger:      telemetryLogger,
		Publisher:   router,
	})
	behaviorName, behaviorCfg, err := resolveBehavior(settings)
	if err != nil {
		return err
	}
	driver.AddBehavior(behaviorName, behaviorCfg)

	playerSpawner := spawner.New(spawner.Config{
		Path:     playersPath,
		Registry: playersReg,
		Channel:  host,
		Logger:   telemetryLogger,
	})
	defer playerSpawner.Destroy()

	var pickupsReg *registry.Registry
	var pickupSpawner *spawner.Spawner
	if settings.PickupsPath != "" {
		pickupsReg = registry.New(registry.Config{
			Namespace: settings.PickupsPath,
			Channel:   host,
			Stage:     stage,
			Create: func(key string, data state.EntityData) scene.Visual {
				return stage.NewVisual()
			},
			DynamicFields: []string{"x", "y"},
			SyncInterval:  settings.SyncInterval,
			Logger:        telemetryLogger,
			Publisher:     router,
			Counters:      counters,
		})
		defer pickupsReg.Close()
		pickupSpawner = spawner.New(spawner.Config{
			Path:              settings.PickupsPath,
			Registry:          pickupsReg,
			Channel:           host,
			SyncFields:        []string{"x", "y"},
			VelocityFromState: &spawner.VelocityFields{X: "vx", Y: "vy"},
			Logger:            telemetryLogger,
		})
		defer pickupSpawner.Destroy()
		seedPickups(host, settings.PickupsPath)
	}

	loop := runtime.NewLoop(runtime.LoopConfig{
		TickRate:        settings.TickRate,
		CatchupMaxTicks: settings.CatchupMaxTicks,
	}, nil, router)
	loop.AddPumper(host)
	loop.OnFrame(func(dt float64) {
		start := time.Now()
		driver.Update(dt)
		playerSpawner.Update(dt * 1000)
		if pickupSpawner != nil {
			pickupSpawner.Update(dt * 1000)
		}
		playersReg.PerFrameUpdate(dt)
		if pickupsReg != nil {
			pickupsReg.PerFrameUpdate(dt)
		}
		stage.Step(dt)
		host.Broadcast()
		counters.RecordTickDuration(time.Since(start))
	})

	stop := make(chan struct{})
	go loop.Run(stop)
	defer close(stop)

	mux := http.NewServeMux()
	mux.Handle("/ws", host.Handler())
	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		stats := router.Stats()
		snapshot := struct {
			Counters telemetry.CountersSnapshot `json:"counters"`
			Events   uint64                     `json:"eventsTotal"`
			Dropped  uint64                     `json:"eventsDropped"`
			Sessions int                        `json:"sessions"`
		}{
			Counters: counters.Snapshot(),
			Events:   stats.EventsTotal,
			Dropped:  stats.DroppedTotal,
			Sessions: host.Sessions(),
		}
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			telemetryLogger.Printf("failed to encode diagnostics: %v", err)
		}
	})

	srv := &http.Server{Addr: settings.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			telemetryLogger.Printf("server shutdown: %v", err)
		}
		host.Close()
	}()

	telemetryLogger.Printf("server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func resolveSettings(path string, logger telemetry.Logger) (Settings, error) {
	if path == "" {
		path = os.Getenv("STAGELINK_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("stagelink.toml"); err == nil {
			path = "stagelink.toml"
		}
	}
	settings := DefaultSettings()
	if path != "" {
		loaded, err := LoadSettings(path)
		if err != nil {
			return Settings{}, err
		}
		settings = loaded
	}
	return ApplyEnv(settings, logger), nil
}

func resolveBehavior(settings Settings) (sim.BehaviorName, sim.BehaviorConfig, error) {
	entry := catalog.EntryDocument{Behavior: settings.Behavior}
	if settings.CatalogPath != "" {
		data, err := os.ReadFile(settings.CatalogPath)
		if err != nil {
			return "", sim.BehaviorConfig{}, fmt.Errorf("read catalog: %w", err)
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return "", sim.BehaviorConfig{}, fmt.Errorf("parse catalog: %w", err)
		}
	}
	return catalog.Resolve(entry)
}

// seedPickups writes a few drifting entities so extrapolation and the
// pickup spawner have something to manage out of the box.
func seedPickups(host *channelws.Host, path string) {
	seeds := []struct {
		x, y, vx, vy float64
	}{
		{x: 200, y: 160, vx: 40, vy: 0},
		{x: 360, y: 240, vx: -25, vy: 15},
		{x: 520, y: 120, vx: 0, vy: 30},
	}
	host.Mutate(func(doc *state.Document) {
		for i, seed := range seeds {
			key := fmt.Sprintf("pickup-%d", i+1)
			doc.Set(path+"."+key+".id", key)
			doc.Set(path+"."+key+".x", seed.x)
			doc.Set(path+"."+key+".y", seed.y)
			doc.Set(path+"."+key+".vx", seed.vx)
			doc.Set(path+"."+key+".vy", seed.vy)
		}
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
