package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/reachforge/outreach-engine/internal/api"
	"github.com/reachforge/outreach-engine/internal/config"
	"github.com/reachforge/outreach-engine/internal/engine"
	"github.com/reachforge/outreach-engine/internal/inbound"
	"github.com/reachforge/outreach-engine/internal/pkg/distlock"
	"github.com/reachforge/outreach-engine/internal/repository/postgres"
	"github.com/reachforge/outreach-engine/internal/sender"
)

func main() {
	log.Println("Starting outreach follow-up engine...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	registry, err := sender.NewRegistry(cfg.Providers)
	if err != nil {
		log.Fatalf("Failed to build sender registry: %v", err)
	}

	repo := postgres.New(db)

	opts := engine.Options{
		TickInterval: time.Duration(cfg.Engine.TickIntervalSeconds) * time.Second,
		ErrorBackoff: time.Duration(cfg.Engine.ErrorBackoffSeconds) * time.Second,
	}
	if cfg.Engine.LeaseEnabled {
		opts.Lease = distlock.New(redisClient, db, "followup-scanner", engine.DefaultLeaseTTL)
	}
	eng := engine.New(repo, registry, opts)

	if cfg.Engine.AutoStart {
		eng.Start()
	}

	var poller *inbound.Poller
	if cfg.Inbound.Enabled {
		poller = inbound.NewPoller(repo, cfg.Inbound)
		poller.Start()
	}

	handlers := api.NewHandlers(eng)
	router := api.SetupRoutes(handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("Control API listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	if poller != nil {
		poller.Stop()
	}
	eng.Stop()
	log.Println("Shutdown complete")
}
