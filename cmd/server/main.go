package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/david/recovery-match/internal/api"
	"github.com/david/recovery-match/internal/config"
	"github.com/david/recovery-match/internal/db"
	"github.com/david/recovery-match/internal/matching"
	"github.com/david/recovery-match/internal/metrics"
	"github.com/david/recovery-match/internal/notify"
	"github.com/david/recovery-match/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.EnsureSecrets(); err != nil {
		log.Fatalf("Failed to prepare secrets: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	store := db.NewStore(pool)
	m := metrics.New(prometheus.DefaultRegisterer)

	sender := notify.NewLogSender(cfg.Notify.From, nil)
	sender.Verbose = cfg.Notify.Verbose

	scheduler := matching.NewScheduler(store, matching.SchedulerConfig{
		Interval:    cfg.Scan.Interval,
		Concurrency: cfg.Scan.Concurrency,
		RunOnStart:  cfg.Scan.RunOnStart,
	}, m, nil)
	if cfg.Scan.Enabled {
		go scheduler.Start(ctx)
	} else {
		log.Println("[matching] periodic scan disabled")
	}

	srv := api.NewServer(api.Options{
		Controller:  workflow.NewController(store, sender, m, nil),
		Scanner:     scheduler,
		Runs:        store,
		AdminSecret: cfg.AdminSecret,
		JWTSecret:   []byte(cfg.JWTSecret),
		CORSOrigins: cfg.CORSOrigins,
		Ping:        pool.Ping,
	})

	go func() {
		log.Printf("Server starting on port %s...", cfg.Port)
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
