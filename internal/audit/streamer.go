package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/harvestmarket/audittrail/internal/canonical"
	"github.com/harvestmarket/audittrail/internal/metrics"
)

// Producer is the subset of Kafka producer behavior the streamer needs.
type Producer interface {
	Produce(ctx context.Context, key []byte, value []byte) (producedAt time.Time, err error)
	Close() error
}

// StreamerConfig tunes the DB-first offload loop.
type StreamerConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxConcurrency int
}

// Streamer offloads committed audit events out-of-band: it claims pending
// rows (SELECT ... FOR UPDATE SKIP LOCKED), produces the canonical envelope
// to Kafka, archives it to S3, and marks the row so the database stays the
// source of truth for retries. Offload runs after commit and never touches
// the chain itself.
type Streamer struct {
	store    *PGStore
	producer Producer
	archiver Archiver
	metrics  *metrics.Metrics
	cfg      StreamerConfig
	wg       sync.WaitGroup
}

// NewStreamer constructs a streamer; zero config fields get defaults.
func NewStreamer(store *PGStore, producer Producer, archiver Archiver, m *metrics.Metrics, cfg StreamerConfig) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	return &Streamer{store: store, producer: producer, archiver: archiver, metrics: m, cfg: cfg}
}

// Run polls for pending work until ctx is cancelled. Safe to run in a
// goroutine; it drains in-flight work and closes the producer on exit.
func (s *Streamer) Run(ctx context.Context) error {
	log.Printf("[audit.streamer] starting (batch=%d, concurrency=%d)", s.cfg.BatchSize, s.cfg.MaxConcurrency)
	defer log.Printf("[audit.streamer] stopped")

	sem := make(chan struct{}, s.cfg.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if s.producer != nil {
				_ = s.producer.Close()
			}
			return ctx.Err()
		default:
		}

		events, err := s.store.FetchPendingForStream(ctx, s.cfg.BatchSize)
		if err != nil {
			log.Printf("[audit.streamer] fetch pending: %v", err)
			time.Sleep(s.cfg.PollInterval)
			continue
		}
		if len(events) == 0 {
			time.Sleep(s.cfg.PollInterval)
			continue
		}

		for _, ev := range events {
			sem <- struct{}{}
			s.wg.Add(1)
			go func(ev *AuditEvent) {
				defer func() {
					<-sem
					s.wg.Done()
				}()
				if err := s.processEvent(ctx, ev); err != nil {
					// processEvent already marked the DB result.
					log.Printf("[audit.streamer] event %s: %v", ev.ID, err)
				}
			}(ev)
		}
		s.wg.Wait()
	}
}

// processEvent performs produce -> archive -> mark for a single event.
func (s *Streamer) processEvent(parentCtx context.Context, ev *AuditEvent) error {
	ctx, cancel := context.WithTimeout(parentCtx, 30*time.Second)
	defer cancel()

	canonBytes, err := canonical.Marshal(Envelope(ev))
	if err != nil {
		return s.fail(parentCtx, ev, fmt.Errorf("canonicalize envelope: %w", err))
	}

	// Key by chain scope so each scope's events stay ordered on one partition.
	if _, err := s.producer.Produce(ctx, []byte(ev.ChainScope()), canonBytes); err != nil {
		return s.fail(parentCtx, ev, fmt.Errorf("kafka produce: %w", err))
	}

	objectKey, err := s.archiver.ArchiveEvent(ctx, ev)
	if err != nil {
		return s.fail(parentCtx, ev, fmt.Errorf("s3 archive: %w", err))
	}

	key := sql.NullString{String: objectKey, Valid: objectKey != ""}
	if err := s.store.MarkStreamResult(parentCtx, ev.ID, key, true, sql.NullString{}); err != nil {
		return fmt.Errorf("mark stream success: %w", err)
	}
	s.metrics.IncStreamed()
	return nil
}

func (s *Streamer) fail(ctx context.Context, ev *AuditEvent, cause error) error {
	s.metrics.IncStreamFailure()
	errMsg := sql.NullString{String: cause.Error(), Valid: true}
	_ = s.store.MarkStreamResult(ctx, ev.ID, sql.NullString{}, false, errMsg)
	return cause
}
