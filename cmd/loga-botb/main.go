package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KarunTCD/loga-botb/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, configPath)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("loga-botb starting source=%s interval=%s", cfg.Source, cfg.TickInterval)

	if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("runtime stopped: %v", err)
	}
	log.Printf("loga-botb stopping")
}
