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

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harvestmarket/audittrail/internal/audit"
	"github.com/harvestmarket/audittrail/internal/auth"
	"github.com/harvestmarket/audittrail/internal/config"
	"github.com/harvestmarket/audittrail/internal/handlers"
	"github.com/harvestmarket/audittrail/internal/metrics"
	"github.com/harvestmarket/audittrail/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.LoadFromEnv()

	// Database (optional; in-memory store is for dev only)
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		log.Println("connected to postgres")
	}

	var store audit.Store
	if db != nil {
		store = audit.NewPGStore(db)
	} else {
		store = audit.NewMemoryStore()
		log.Println("no postgres configured; using in-memory store (events are not durable)")
	}

	m := metrics.New()
	recorder := audit.NewRecorder(store, m)
	svc := service.New(store, m, cfg.ExportMaxRows, cfg.RelatedMax)

	app := &handlers.AppContext{
		DB:       db,
		Store:    store,
		Recorder: recorder,
		Service:  svc,
	}

	// --- Offload pipeline (DB-first durable streaming to Kafka + S3) ---
	var streamerCancel context.CancelFunc
	if db != nil {
		if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" && cfg.S3Bucket != "" {
			producer, err := audit.NewKafkaProducer(audit.KafkaProducerConfig{
				Brokers:     cfg.KafkaBrokers,
				Topic:       cfg.KafkaTopic,
				MaxAttempts: 3,
			})
			if err != nil {
				log.Fatalf("failed to initialize kafka producer: %v", err)
			}
			log.Printf("kafka producer initialized (brokers=%v topic=%s)", cfg.KafkaBrokers, cfg.KafkaTopic)

			archiver, err := audit.NewS3Archiver(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
			if err != nil {
				log.Fatalf("failed to initialize s3 archiver: %v", err)
			}
			log.Printf("s3 archiver initialized (bucket=%s prefix=%s)", cfg.S3Bucket, cfg.S3Prefix)

			pgStore := store.(*audit.PGStore)
			streamer := audit.NewStreamer(pgStore, producer, archiver, m, audit.StreamerConfig{
				BatchSize:      cfg.StreamBatchSize,
				PollInterval:   cfg.StreamPollInterval,
				MaxConcurrency: cfg.StreamMaxConcurrency,
			})

			ctxStr, cancel := context.WithCancel(context.Background())
			streamerCancel = cancel
			go func() {
				if err := streamer.Run(ctxStr); err != nil && err != context.Canceled {
					log.Printf("[audit.streamer] exited with error: %v", err)
				}
				log.Printf("[audit.streamer] background runner stopped")
			}()
			log.Printf("audit streamer started (batch=%d concurrency=%d poll=%s)",
				cfg.StreamBatchSize, cfg.StreamMaxConcurrency, cfg.StreamPollInterval)
		} else {
			log.Println("audit streamer not started: KAFKA_BROKERS, KAFKA_TOPIC, and S3_BUCKET must be set to enable")
		}
	} else {
		log.Println("audit streamer disabled (requires durable DB)")
	}

	// Router and middleware
	r := chi.NewRouter()

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	handlers.RegisterPublicRoutes(app, r)

	if cfg.AuthJWTSecret == "" {
		log.Fatalf("AUTH_JWT_SECRET not configured")
	}
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware([]byte(cfg.AuthJWTSecret)))
		handlers.RegisterRoutes(app, r)
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting auditd server on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}

	// Cancel streamer if started and give it a grace period to drain; it
	// closes the producer on exit.
	if streamerCancel != nil {
		streamerCancel()
		time.Sleep(10 * time.Second)
	}

	if db != nil {
		_ = db.Close()
	}
	log.Println("server stopped")
}
