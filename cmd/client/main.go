// Command client is a headless observer: it connects to a host, mirrors
// the replicated entities into local visuals, and reports what it sees.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	channelws "stagelink/engine/internal/channel/ws"
	"stagelink/engine/internal/registry"
	"stagelink/engine/internal/runtime"
	"stagelink/engine/internal/scene"
	"stagelink/engine/internal/spawner"
	"stagelink/engine/internal/state"
	"stagelink/engine/internal/telemetry"
)

func main() {
	var url string
	flag.StringVar(&url, "url", "ws://localhost:8080/ws", "host websocket endpoint")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := telemetry.WrapLogger(log.Default())

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := channelws.Dial(dialCtx, url, channelws.ClientConfig{Logger: logger})
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer client.Close()

	stage := scene.NewHeadless()

	players := registry.New(registry.Config{
		Namespace: "players",
		Channel:   client,
		Stage:     stage,
		Create: func(key string, data state.EntityData) scene.Visual {
			return stage.NewVisual()
		},
		StaticFields: []string{"name"},
		LabelField:   "name",
		Lerp:         0.35,
		Logger:       logger,
	})
	defer players.Close()
	defer players.Bind()()

	pickups := registry.New(registry.Config{
		Namespace: "arena.pickups",
		Channel:   client,
		Stage:     stage,
		Create: func(key string, data state.EntityData) scene.Visual {
			return stage.NewVisual()
		},
		DynamicFields: []string{"x", "y"},
		Lerp:          0.35,
		Logger:        logger,
	})
	defer pickups.Close()
	pickupSpawner := spawner.New(spawner.Config{
		Path:     "arena.pickups",
		Registry: pickups,
		Channel:  client,
		Logger:   logger,
	})
	defer pickupSpawner.Destroy()
	defer pickups.Bind()()

	loop := runtime.NewLoop(runtime.LoopConfig{TickRate: 30}, nil, nil)
	loop.AddPumper(client)
	var sinceReport float64
	loop.OnFrame(func(dt float64) {
		players.PerFrameUpdate(dt)
		pickups.PerFrameUpdate(dt)
		stage.Step(dt)
		sinceReport += dt
		if sinceReport >= 2 {
			sinceReport = 0
			logger.Printf("observing players=%d pickups=%d rtt=%dms",
				players.Len(), pickups.Len(), client.RTT())
		}
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	loop.Run(done)
}
