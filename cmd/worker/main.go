package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumamail/pipeline/internal/config"
	"github.com/lumamail/pipeline/internal/ingest"
	"github.com/lumamail/pipeline/internal/provider"
	"github.com/lumamail/pipeline/internal/queue"
	"github.com/lumamail/pipeline/internal/quota"
	"github.com/lumamail/pipeline/internal/repository/postgres"
	"github.com/lumamail/pipeline/internal/sender"
	"github.com/lumamail/pipeline/internal/tracking"

	_ "github.com/lib/pq"
)

func main() {
	log.Println("Starting LumaMail dispatch worker...")

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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		log.Println("Redis configured; campaign locks use Redis")
	} else {
		log.Println("Redis not configured; campaign locks use Postgres advisory locks")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatchQueue := queue.New(db)
	campaignRepo := postgres.NewCampaignRepo(db)
	audienceRepo := postgres.NewAudienceRepo(db)
	ledger := quota.NewPGLedger(db)

	recorder := ingest.NewRecorder(db)
	signer := tracking.NewSigner(cfg.Tracking.BaseURL, cfg.Tracking.Secret)
	providerClient := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.MaxRetries)

	s := sender.New(campaignRepo, audienceRepo, dispatchQueue,
		ledger, providerClient, signer, recorder)

	pool := sender.NewPool(dispatchQueue, s, sender.CampaignLocks(redisClient, db), cfg.Worker.NumWorkers)
	pool.Start()
	log.Printf("Dispatch pool started (%d workers)", cfg.Worker.NumWorkers)

	// Drain the tracking intake alongside sending so a single worker
	// deployment covers both background concerns.
	if redisClient != nil {
		consumer := tracking.NewConsumer(redisClient, db, recorder)
		consumer.Start(ctx)
		defer consumer.Stop()
		log.Println("Tracking consumer started")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	pool.Stop()

	log.Println("Worker stopped")
}
