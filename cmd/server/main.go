package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumamail/pipeline/internal/api"
	"github.com/lumamail/pipeline/internal/config"
	"github.com/lumamail/pipeline/internal/ingest"
	"github.com/lumamail/pipeline/internal/queue"
	"github.com/lumamail/pipeline/internal/repository/postgres"
	"github.com/lumamail/pipeline/internal/schedule"
	"github.com/lumamail/pipeline/internal/service/campaign"
	"github.com/lumamail/pipeline/internal/stats"
	"github.com/lumamail/pipeline/internal/tracking"

	_ "github.com/lib/pq"
)

func main() {
	log.Println("Starting LumaMail pipeline API server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services.
	campaignRepo := postgres.NewCampaignRepo(db)
	dispatchQueue := queue.New(db)
	expander := schedule.NewExpander(schedule.DefaultHorizons())
	campaignSvc := campaign.NewService(campaignRepo, dispatchQueue, expander)
	aggregator := stats.NewAggregator(db)

	// Delivery-event ingestion.
	recorder := ingest.NewRecorder(db)
	receiver := ingest.NewReceiver(recorder, cfg.Webhook.Key)

	// Tracking endpoints. With Redis configured, click/open events go
	// through the intake list and a background consumer; without it they
	// are processed synchronously on the request path.
	signer := tracking.NewSigner(cfg.Tracking.BaseURL, cfg.Tracking.Secret)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	consumer := tracking.NewConsumer(redisClient, db, recorder)
	var publisher tracking.EventPublisher
	if redisClient != nil {
		publisher = tracking.NewPublisher(redisClient)
		consumer.Start(ctx)
		defer consumer.Stop()
		log.Println("Tracking consumer started (Redis intake)")
	} else {
		publisher = tracking.DirectPublisher{Consumer: consumer}
		log.Println("Redis not configured; tracking events processed inline")
	}
	tracker := tracking.NewHandler(signer, publisher)

	handlers := api.NewHandlers(campaignSvc, aggregator)
	server := api.NewServer(handlers, receiver, tracker)

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("API server listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
