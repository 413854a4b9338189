package pomodoro

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/store"
)

var t0 = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, s store.Store) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	e := NewEngine(s, WithClock(clock.Now), WithLogger(discardLogger()))
	return e, clock
}

func seedTask(t *testing.T, s store.Store, userID string, estimated, completed int) *models.Task {
	t.Helper()
	task := &models.Task{
		UserID:             userID,
		Title:              "focus block",
		EstimatedPomodoros: estimated,
		CompletedPomodoros: completed,
	}
	task.Status = task.DeriveStatus()
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func reloadTask(t *testing.T, s store.Store, task *models.Task) *models.Task {
	t.Helper()
	got, err := s.GetTask(context.Background(), task.ID, task.UserID)
	require.NoError(t, err)
	return got
}

func reloadSession(t *testing.T, s store.Store, session *models.PomodoroSession) *models.PomodoroSession {
	t.Helper()
	got, err := s.GetSession(context.Background(), session.ID, session.UserID)
	require.NoError(t, err)
	return got
}

// runningFor returns the stored running sessions for a task.
func runningFor(t *testing.T, s store.Store, task *models.Task) []*models.PomodoroSession {
	t.Helper()
	all, err := s.ListSessions(context.Background(), task.UserID, 0)
	require.NoError(t, err)
	var out []*models.PomodoroSession
	for _, sess := range all {
		if sess.TaskID == task.ID && sess.Running() {
			out = append(out, sess)
		}
	}
	return out
}

// assertInvariants checks the stored sessions of a user: at most one running
// session per task, and exactly one of deadline/frozen remaining per active
// session.
func assertInvariants(t *testing.T, s store.Store, userID string) {
	t.Helper()
	all, err := s.ListSessions(context.Background(), userID, 0)
	require.NoError(t, err)

	running := map[string]int{}
	for _, sess := range all {
		switch {
		case sess.Status != models.SessionStatusActive:
			assert.Nil(t, sess.RemainingSeconds, "terminal session %s keeps remaining", sess.ID)
			assert.Nil(t, sess.PausedAt, "terminal session %s keeps paused_at", sess.ID)
		case sess.IsPaused:
			assert.Nil(t, sess.EndTime, "paused session %s has a deadline", sess.ID)
			if assert.NotNil(t, sess.RemainingSeconds, "paused session %s has no remaining", sess.ID) {
				assert.GreaterOrEqual(t, *sess.RemainingSeconds, 0)
			}
		default:
			assert.NotNil(t, sess.EndTime, "running session %s has no deadline", sess.ID)
			assert.Nil(t, sess.RemainingSeconds, "running session %s stores remaining", sess.ID)
			running[sess.TaskID]++
		}
	}
	for taskID, n := range running {
		assert.LessOrEqual(t, n, 1, "task %s has %d running sessions", taskID, n)
	}
}

// hookStore wraps a store to inject failures, blocking and racing writers.
type hookStore struct {
	store.Store

	mu          sync.Mutex
	txCalls     int
	failTx      func(call int) error
	listExpired func(ctx context.Context, now time.Time) ([]*models.PomodoroSession, error)
	wrapQueries func(q store.Queries) store.Queries
}

func (h *hookStore) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	h.mu.Lock()
	h.txCalls++
	call := h.txCalls
	h.mu.Unlock()

	if h.failTx != nil {
		if err := h.failTx(call); err != nil {
			return err
		}
	}
	return h.Store.WithTx(ctx, func(q store.Queries) error {
		if h.wrapQueries != nil {
			q = h.wrapQueries(q)
		}
		return fn(q)
	})
}

func (h *hookStore) ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.PomodoroSession, error) {
	if h.listExpired != nil {
		return h.listExpired(ctx, now)
	}
	return h.Store.ListExpiredSessions(ctx, now)
}

func (h *hookStore) TxCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txCalls
}

// racingQueries simulates another writer claiming the running slot for a task
// between the engine's existence check and its insert.
type racingQueries struct {
	store.Queries
	raced bool
}

func (r *racingQueries) FindActiveUnpaused(ctx context.Context, taskID, userID string) (*models.PomodoroSession, error) {
	found, err := r.Queries.FindActiveUnpaused(ctx, taskID, userID)
	if err != nil || found != nil || r.raced {
		return found, err
	}
	r.raced = true

	now := time.Now().UTC()
	end := now.Add(25 * time.Minute)
	rival := &models.PomodoroSession{
		UserID:          userID,
		TaskID:          taskID,
		DurationMinutes: 25,
		StartTime:       now,
		EndTime:         &end,
		Status:          models.SessionStatusActive,
	}
	if err := r.Queries.CreateSession(ctx, rival); err != nil {
		return nil, err
	}
	return nil, nil
}
