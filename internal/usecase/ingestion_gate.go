package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/iho/gosettle/internal/domain"
	"github.com/iho/gosettle/internal/infrastructure/metrics"
)

// IngestHandler processes a notification on its first delivery. The returned
// bytes are stored and replayed verbatim for every later delivery of the key.
type IngestHandler func(ctx context.Context) ([]byte, error)

// IngestResult is what the gate returns for one delivery.
type IngestResult struct {
	Key     string
	Payload []byte
	// Replayed is set when the payload comes from an earlier attempt.
	Replayed bool
	// InFlight is set when another attempt was still running after the wait
	// bound; the delivery should be acknowledged as accepted.
	InFlight bool
}

// GateConfig tunes the ingestion gate.
type GateConfig struct {
	// TTL is how long records are kept before they may be purged.
	TTL time.Duration
	// WaitTimeout bounds how long a duplicate waits for an in-flight attempt.
	WaitTimeout time.Duration
	// PollInterval is the polling period while waiting.
	PollInterval time.Duration
	// RetryAfter is the age a FAILED record must reach before one re-execution.
	RetryAfter time.Duration
	// LeaseTimeout is the age after which a PROCESSING record is presumed abandoned.
	LeaseTimeout time.Duration
}

// DefaultGateConfig returns the production defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		TTL:          24 * time.Hour,
		WaitTimeout:  3 * time.Second,
		PollInterval: 100 * time.Millisecond,
		RetryAfter:   30 * time.Second,
		LeaseTimeout: 2 * time.Minute,
	}
}

const (
	outcomeCachePrefix  = "webhook:outcome:"
	outcomeWriteTimeout = 5 * time.Second
)

// IngestionGate runs a handler at most once per idempotency key across
// processes. First arrival is decided by the unique key in the repository;
// singleflight only collapses duplicates inside this process.
type IngestionGate struct {
	repo    IdempotencyRepository
	cache   Cache
	cfg     GateConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewIngestionGate creates a new IngestionGate. cache may be nil.
func NewIngestionGate(repo IdempotencyRepository, cache Cache, cfg GateConfig, m *metrics.Metrics, logger zerolog.Logger) *IngestionGate {
	def := DefaultGateConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = def.RetryAfter
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = def.LeaseTimeout
	}

	return &IngestionGate{
		repo:    repo,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ingest deduplicates a delivery by key and runs handler only on first arrival.
func (g *IngestionGate) Ingest(ctx context.Context, key string, handler IngestHandler) (*IngestResult, error) {
	if err := domain.ValidateIdempotencyKey(key); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if g.metrics != nil {
			g.metrics.IngestDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if payload, ok := g.cachedOutcome(ctx, key); ok {
		return &IngestResult{Key: key, Payload: payload, Replayed: true}, nil
	}

	// The handler outlives the caller that happened to lead the flight; it is
	// bounded by the lease instead, after which the record may be reclaimed.
	var leader bool
	v, err, shared := g.group.Do(key, func() (any, error) {
		leader = true
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.LeaseTimeout)
		defer cancel()
		return g.ingest(runCtx, key, handler)
	})
	res, _ := v.(*IngestResult)
	if shared && !leader && res != nil {
		joined := *res
		joined.Replayed = true
		res = &joined
	}
	return res, err
}

// PurgeExpired deletes records whose expiry has passed.
func (g *IngestionGate) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := g.repo.DeleteExpired(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	if g.metrics != nil {
		g.metrics.IdempotencyPurged.Add(float64(n))
	}
	return n, nil
}

func (g *IngestionGate) ingest(ctx context.Context, key string, handler IngestHandler) (*IngestResult, error) {
	// A record purged between Create and Get is retried once as a fresh arrival.
	for range 2 {
		now := g.now()
		expires := now.Add(g.cfg.TTL)
		inserted, err := g.repo.Create(ctx, &domain.IdempotencyRecord{
			Key:       key,
			State:     domain.IdempotencyReceived,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: &expires,
		})
		if err != nil {
			return nil, fmt.Errorf("create idempotency record: %w", err)
		}

		if inserted {
			claimed, err := g.repo.Claim(ctx, key, domain.IdempotencyReceived, 0, now)
			if err != nil {
				return nil, fmt.Errorf("claim idempotency record: %w", err)
			}
			if !claimed {
				return g.await(ctx, key)
			}
			return g.execute(ctx, key, 1, handler)
		}

		rec, err := g.repo.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load idempotency record: %w", err)
		}
		if rec != nil {
			return g.resolveDuplicate(ctx, rec, handler)
		}
	}

	return nil, fmt.Errorf("idempotency record %s vanished during ingestion", key)
}

func (g *IngestionGate) resolveDuplicate(ctx context.Context, rec *domain.IdempotencyRecord, handler IngestHandler) (*IngestResult, error) {
	now := g.now()
	log := g.logger.With().Str("idempotency_key", rec.Key).Str("state", string(rec.State)).Logger()

	switch rec.State {
	case domain.IdempotencyProcessed:
		log.Info().Msg("duplicate delivery, replaying stored result")
		return replay(rec)

	case domain.IdempotencyFailed:
		if now.Sub(rec.UpdatedAt) < g.cfg.RetryAfter {
			log.Info().Msg("duplicate delivery of recent failure, replaying stored error")
			return replay(rec)
		}
		claimed, err := g.repo.Claim(ctx, rec.Key, rec.State, rec.Attempts, now)
		if err != nil {
			return nil, fmt.Errorf("claim idempotency record: %w", err)
		}
		if claimed {
			log.Info().Int("attempt", rec.Attempts+1).Msg("re-executing previously failed delivery")
			return g.execute(ctx, rec.Key, rec.Attempts+1, handler)
		}

	default:
		if now.Sub(rec.UpdatedAt) >= g.cfg.LeaseTimeout {
			claimed, err := g.repo.Claim(ctx, rec.Key, rec.State, rec.Attempts, now)
			if err != nil {
				return nil, fmt.Errorf("claim idempotency record: %w", err)
			}
			if claimed {
				log.Warn().Int("attempt", rec.Attempts+1).Msg("reclaiming abandoned in-flight delivery")
				return g.execute(ctx, rec.Key, rec.Attempts+1, handler)
			}
		}
	}

	return g.await(ctx, rec.Key)
}

// await polls until the in-flight attempt finishes or the wait bound passes.
func (g *IngestionGate) await(ctx context.Context, key string) (*IngestResult, error) {
	deadline := time.NewTimer(g.cfg.WaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			g.logger.Info().Str("idempotency_key", key).Msg("delivery still in flight elsewhere, accepting")
			return &IngestResult{Key: key, InFlight: true}, nil
		case <-ticker.C:
			rec, err := g.repo.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("poll idempotency record: %w", err)
			}
			if rec != nil && !rec.IsInFlight() {
				return replay(rec)
			}
		}
	}
}

func (g *IngestionGate) execute(ctx context.Context, key string, attempt int, handler IngestHandler) (*IngestResult, error) {
	payload, herr := runHandler(ctx, handler)

	// The outcome is recorded even when the caller has gone away.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()

	log := g.logger.With().Str("idempotency_key", key).Int("attempt", attempt).Logger()
	now := g.now()

	if herr != nil {
		ok, err := g.repo.Fail(recordCtx, key, attempt, domain.ErrorCode(herr), herr.Error(), now)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("failed to record delivery failure")
		case !ok:
			log.Warn().Msg("delivery failure not recorded, attempt superseded")
		}
		return nil, herr
	}

	ok, err := g.repo.Complete(recordCtx, key, attempt, payload, now)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("failed to record delivery result")
	case !ok:
		log.Warn().Msg("delivery result not recorded, attempt superseded")
	}

	if g.cache != nil {
		if err := g.cache.Set(recordCtx, outcomeCachePrefix+key, payload, g.cfg.TTL); err != nil {
			log.Warn().Err(err).Msg("failed to cache delivery result")
		}
	}

	return &IngestResult{Key: key, Payload: payload}, nil
}

func (g *IngestionGate) cachedOutcome(ctx context.Context, key string) ([]byte, bool) {
	if g.cache == nil {
		return nil, false
	}
	payload, err := g.cache.Get(ctx, outcomeCachePrefix+key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			g.logger.Warn().Err(err).Str("idempotency_key", key).Msg("outcome cache unavailable")
		}
		return nil, false
	}
	return payload, true
}

// runHandler converts a handler panic into an error so the record is marked FAILED.
func runHandler(ctx context.Context, handler IngestHandler) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx)
}

// replay rebuilds the result of a finished record.
func replay(rec *domain.IdempotencyRecord) (*IngestResult, error) {
	res := &IngestResult{Key: rec.Key, Payload: rec.Result, Replayed: true}
	if rec.State != domain.IdempotencyFailed {
		return res, nil
	}

	if base := domain.ErrorFromCode(rec.ErrorCode); base != nil {
		return res, fmt.Errorf("%w: %w", domain.ErrPreviousAttemptFailed, base)
	}
	return res, fmt.Errorf("%w: %s", domain.ErrPreviousAttemptFailed, rec.ErrorMessage)
}
