// Package sweep releases escrows whose buyer let the confirmation deadline
// pass. A sweep is a single pass triggered from outside with the time to
// evaluate against; it keeps no state between runs.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "escrow/internal/errors"
	"escrow/internal/repositories/cache"
	"escrow/internal/services/escrow"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSweepInProgress is returned when another process holds the sweep lock.
var ErrSweepInProgress = errors.New("sweep already in progress")

const (
	LockName           = "escrow:sweep"
	DefaultConcurrency = 4
	DefaultBatchSize   = 500
	DefaultLockTTL     = 5 * time.Minute
)

// Releaser is the part of the escrow engine the sweep drives.
type Releaser interface {
	DueForAutoRelease(ctx context.Context, now time.Time, afterID uint, limit int) ([]uint, error)
	AutoRelease(ctx context.Context, escrowID uint, now time.Time) (*escrow.Result, error)
}

// Locker hands out the cross-process sweep lease. A nil lock with a nil
// error means someone else holds it.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (*cache.Lock, error)
}

// MetricsCollector records sweep outcomes.
type MetricsCollector interface {
	RecordSweep(released, skipped, failed int, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordSweep(int, int, int, time.Duration) {}

type Config struct {
	Concurrency int
	BatchSize   int
	LockTTL     time.Duration
}

// Failure is one escrow the sweep could not process.
type Failure struct {
	EscrowID uint   `json:"escrow_id"`
	Error    string `json:"error"`
	err      error
}

// Err returns the underlying error, which is lost when a report is encoded.
func (f Failure) Err() error { return f.err }

// Report summarises one run.
type Report struct {
	RunID      string    `json:"run_id"`
	Now        time.Time `json:"now"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Scanned    int       `json:"scanned"`
	Released   int       `json:"released"`
	Skipped    int       `json:"skipped"`
	Failures   []Failure `json:"failures,omitempty"`
}

func (r Report) Failed() int { return len(r.Failures) }

type Sweeper struct {
	releaser Releaser
	locker   Locker
	config   Config
	metrics  MetricsCollector
	log      *zap.SugaredLogger
}

// NewSweeper creates a sweeper. locker, metrics and log may be nil.
func NewSweeper(releaser Releaser, config Config, locker Locker, metrics MetricsCollector, log *zap.SugaredLogger) *Sweeper {
	if releaser == nil {
		panic("releaser is required")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sweeper{
		releaser: releaser,
		locker:   locker,
		config:   config,
		metrics:  metrics,
		log:      log,
	}
}

// Run auto-releases every delivered escrow whose deadline is before now.
// Lost races are counted as skipped; other per-escrow failures are
// recorded and the run continues. The returned error covers only faults
// that stop the run as a whole.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		Now:       now,
		StartedAt: time.Now(),
	}
	log := s.log.With("run_id", report.RunID)

	if s.locker != nil {
		lock, err := s.locker.TryAcquire(ctx, LockName, s.config.LockTTL)
		if err != nil {
			return report, err
		}
		if lock == nil {
			return report, ErrSweepInProgress
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warnw("failed to release sweep lock", "error", err)
			}
		}()
	}

	var afterID uint
	for {
		if err := ctx.Err(); err != nil {
			return s.done(report, log), err
		}
		ids, err := s.releaser.DueForAutoRelease(ctx, now, afterID, s.config.BatchSize)
		if err != nil {
			return s.done(report, log), fmt.Errorf("failed to list escrows due for release: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		s.releaseBatch(ctx, now, ids, &report, log)
		afterID = ids[len(ids)-1]
		if len(ids) < s.config.BatchSize {
			break
		}
	}

	return s.done(report, log), nil
}

func (s *Sweeper) releaseBatch(ctx context.Context, now time.Time, ids []uint, report *Report, log *zap.SugaredLogger) {
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.config.Concurrency)

	for _, id := range ids {
		g.Go(func() error {
			_, err := s.releaser.AutoRelease(ctx, id, now)

			mu.Lock()
			defer mu.Unlock()
			report.Scanned++
			switch {
			case err == nil:
				report.Released++
			case errors.Is(err, apperrors.ErrInvalidTransition):
				report.Skipped++
				log.Debugw("escrow skipped", "escrow_id", id, "reason", err)
			default:
				report.Failures = append(report.Failures, Failure{EscrowID: id, Error: err.Error(), err: err})
				log.Errorw("auto release failed", "escrow_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Sweeper) done(report Report, log *zap.SugaredLogger) Report {
	report.FinishedAt = time.Now()
	duration := report.FinishedAt.Sub(report.StartedAt)
	s.metrics.RecordSweep(report.Released, report.Skipped, report.Failed(), duration)
	if report.Scanned > 0 {
		log.Infow("sweep finished",
			"scanned", report.Scanned,
			"released", report.Released,
			"skipped", report.Skipped,
			"failed", report.Failed(),
			"duration", duration,
		)
	}
	return report
}
