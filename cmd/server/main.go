package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"stagelink/engine/internal/app"
)

func main() {
	var settingsPath string
	flag.StringVar(&settingsPath, "config", "", "path to a TOML settings file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{SettingsPath: settingsPath}); err != nil {
		log.Fatalf("%v", err)
	}
}
