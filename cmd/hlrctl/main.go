package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"hlr-control/internal/actuator"
	"hlr-control/internal/bus"
	"hlr-control/internal/config"
	"hlr-control/internal/cycle"
	"hlr-control/internal/ingest"
	"hlr-control/internal/poller"
	"hlr-control/internal/sensor"
	"hlr-control/internal/store"
	"hlr-control/internal/watchdog"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load yaml config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("received signal: %v, shutting down...", s)
		cancel()
	}()

	st, err := store.Open(cfg.System.DBPath)
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer st.Close()

	registry := bus.NewRegistry()
	readers := make([]poller.SensorReader, 0, len(cfg.Sensors))
	for _, sc := range cfg.Sensors {
		r := sensor.New(sensor.Config{
			Address:  sc.Address,
			Port:     sc.Port,
			BaudRate: sc.BaudRate,
			Timeout:  config.Millis(sc.TimeoutMs),
			VOC:      sc.VOC,
			PreDelay: config.Millis(cfg.Bus.PreDelayMs),
		}, registry)
		defer r.Close()
		readers = append(readers, r)
	}

	p := poller.New(readers, poller.Options{
		Interval:    config.Millis(cfg.Poller.IntervalMs),
		JitterMin:   config.Millis(cfg.Poller.JitterMinMs),
		JitterMax:   config.Millis(cfg.Poller.JitterMaxMs),
		QueueSize:   cfg.Poller.QueueSize,
		StopTimeout: config.Millis(cfg.Poller.StopTimeoutMs),
	})

	act := actuator.New(cfg.System.ActuatorURL, config.Millis(cfg.System.ActuatorTimeoutMs))
	sup := watchdog.New(func(runCtx context.Context, hb *cycle.Heartbeat) {
		cycle.New(st, act, hb).Run(runCtx)
	}, watchdog.Options{
		CheckEvery:  config.Millis(cfg.Watchdog.CheckEveryMs),
		StallAfter:  config.Millis(cfg.Watchdog.StallAfterMs),
		JoinTimeout: config.Millis(cfg.Watchdog.JoinTimeoutMs),
	})

	ing := ingest.New(st, cfg.SensorTypes())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ing.Run(ctx, p.Out())
	}()
	go func() {
		defer wg.Done()
		sup.Run(ctx)
	}()

	if !p.Start() {
		log.Fatalf("poller failed to start")
	}

	<-ctx.Done()
	if _, err := p.Stop(); err != nil {
		log.Printf("stop poller: %v", err)
	}
	wg.Wait()
	// The final round may still sit on the queue; flush it before exit.
	ing.Drain(context.Background(), p.Out())
}
