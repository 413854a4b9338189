package pomodoro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultSweepInterval is how often the sweeper looks for expired sessions.
const DefaultSweepInterval = 15 * time.Second

// ErrSweepInProgress is returned by Tick when a previous tick has not finished.
var ErrSweepInProgress = errors.New("sweep already in progress")

// SweepStats summarizes one sweeper tick.
type SweepStats struct {
	Expired         int           `json:"expired"`
	Completed       int           `json:"completed"`
	Advanced        int           `json:"advanced"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	BreaksCompleted int           `json:"breaks_completed"`
	Duration        time.Duration `json:"duration"`
}

// Sweeper periodically completes running sessions whose deadline has passed
// and applies the engine's auto-advance policy to each. It also closes
// running breaks that reached their end time.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
	running  atomic.Bool
}

// NewSweeper creates a sweeper that ticks every interval.
func NewSweeper(e *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		engine:   e,
		interval: interval,
		logger:   e.logger.With("component", "sweeper"),
	}
}

// Interval returns the tick interval.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Run sweeps once immediately and then on every interval until ctx is done.
// Each tick runs on its own goroutine; a tick that fires while the previous
// one is still running is skipped. Run waits for the in-flight tick to
// return before exiting.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("session sweeper started", "interval", s.interval)

	var wg sync.WaitGroup
	defer wg.Wait()

	fire := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.tick(ctx)
		}()
	}

	fire()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopping")
			return
		case <-ticker.C:
			fire()
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
		s.logger.Error("sweep failed", "error", err)
	}
}

// Tick runs one sweep. Only a failure to list expired sessions or breaks is
// returned; per-record failures are logged, counted in the stats, and do not
// stop the batch.
func (s *Sweeper) Tick(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("previous sweep still in progress, skipping")
		return stats, ErrSweepInProgress
	}
	defer s.running.Store(false)

	ctx, span := s.engine.tracer.Start(ctx, "pomodoro.Sweep")
	defer span.End()

	started := time.Now()
	expired, err := s.engine.store.ListExpiredSessions(ctx, s.engine.clock())
	if err != nil {
		return stats, recordError(span, fmt.Errorf("list expired sessions: %w", err))
	}
	stats.Expired = len(expired)

	for _, session := range expired {
		if ctx.Err() != nil {
			break
		}
		res, err := s.engine.expire(ctx, session)
		switch {
		case err != nil:
			stats.Failed++
			s.logger.Error("failed to process expired session",
				"session_id", session.ID, "task_id", session.TaskID, "error", err)
		case res == nil:
			stats.Skipped++
			s.logger.Debug("expired session changed before processing", "session_id", session.ID)
		default:
			stats.Completed++
			if res.Next != nil {
				stats.Advanced++
			}
		}
	}

	breaks, err := s.engine.store.ListExpiredBreaks(ctx, s.engine.clock())
	if err != nil {
		return stats, recordError(span, fmt.Errorf("list expired breaks: %w", err))
	}
	for _, b := range breaks {
		if ctx.Err() != nil {
			break
		}
		done, err := s.engine.expireBreak(ctx, b)
		switch {
		case err != nil:
			stats.Failed++
			s.logger.Error("failed to close expired break", "break_id", b.ID, "error", err)
		case done:
			stats.BreaksCompleted++
		default:
			stats.Skipped++
		}
	}

	stats.Duration = time.Since(started)
	if stats.Expired == 0 && len(breaks) == 0 {
		s.logger.Debug("nothing expired")
		return stats, nil
	}
	span.SetAttributes(
		attribute.Int("pomo.sweep.expired", stats.Expired),
		attribute.Int("pomo.sweep.completed", stats.Completed),
		attribute.Int("pomo.sweep.failed", stats.Failed),
	)
	s.logger.Info("sweep completed",
		"expired", stats.Expired,
		"completed", stats.Completed,
		"advanced", stats.Advanced,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"breaks_completed", stats.BreaksCompleted,
		"duration", stats.Duration,
	)
	return stats, nil
}
