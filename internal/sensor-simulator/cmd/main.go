package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeonardoBeccarini/sensorlink/internal/config"
	sensorSimulator "github.com/LeonardoBeccarini/sensorlink/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/sensorlink/internal/store"
)

func main() {
	cfgFile := flag.String("config", "", "path to sensorlink.yaml")
	interval := flag.Duration("interval", 0, "publish interval (overrides simulator.interval)")
	seed := flag.Int64("seed", 0, "random seed (overrides simulator.seed)")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("simulator: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("simulator: %v", err)
	}
	if *interval > 0 {
		cfg.Simulator.Interval = *interval
	}
	if *seed != 0 {
		cfg.Simulator.Seed = *seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, _, err := store.Open(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("simulator: open store: %v", err)
	}

	sim := sensorSimulator.NewSensorSimulator(st, sensorSimulator.NewDataGenerator(cfg.Simulator.Seed))
	log.Printf("simulator: publishing every %s", cfg.Simulator.Interval)
	if err := sim.Start(ctx, cfg.Simulator.Interval); err != nil {
		log.Fatalf("simulator: %v", err)
	}
}
