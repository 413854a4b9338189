package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/joescharf/pomo/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Queries on top of a querier.
type queries struct {
	q querier
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	queries
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection serializes
	// request handlers and the sweeper, and makes every transaction exclusive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{queries: queries{q: db}, db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	return ulid.Make().String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// WithTx runs fn in a transaction. Only the Queries handed to fn may be used
// inside it: the store holds a single connection, so calls on the store itself
// would block until the transaction ends.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&queries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite uniqueness failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// Session timestamps are stored as Unix milliseconds so deadline range
// queries compare numbers rather than formatted strings.

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// --- Tasks ---

const taskColumns = `id, user_id, title, description, estimated_pomodoros, completed_pomodoros, status, created_at, updated_at`

func (s *queries) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = newULID()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Description, t.EstimatedPomodoros, t.CompletedPomodoros,
		string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var status string
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.EstimatedPomodoros,
		&t.CompletedPomodoros, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	return t, nil
}

func (s *queries) GetTask(ctx context.Context, id, userID string) (*models.Task, error) {
	t, err := scanTask(s.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *queries) ListTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *queries) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = time.Now().UTC()
	result, err := s.q.ExecContext(ctx,
		`UPDATE tasks SET title=?, description=?, estimated_pomodoros=?, completed_pomodoros=?, status=?, updated_at=?
		WHERE id=? AND user_id=?`,
		t.Title, t.Description, t.EstimatedPomodoros, t.CompletedPomodoros, string(t.Status), t.UpdatedAt,
		t.ID, t.UserID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

func (s *queries) DeleteTask(ctx context.Context, id, userID string) error {
	result, err := s.q.ExecContext(ctx, "DELETE FROM tasks WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Pomodoro Sessions ---

const sessionColumns = `id, user_id, task_id, duration_minutes, start_time, end_time, remaining_seconds, paused_at, status, is_paused, created_at, updated_at`

func (s *queries) CreateSession(ctx context.Context, session *models.PomodoroSession) error {
	if session.ID == "" {
		session.ID = newULID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	session.UpdatedAt = session.CreatedAt

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO pomodoro_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.TaskID, session.DurationMinutes,
		millis(session.StartTime), nullMillis(session.EndTime), nullInt(session.RemainingSeconds),
		nullMillis(session.PausedAt), string(session.Status), boolToInt(session.IsPaused),
		millis(session.CreatedAt), millis(session.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create session for task %s: %w", session.TaskID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*models.PomodoroSession, error) {
	session := &models.PomodoroSession{}
	var status string
	var startTime, createdAt, updatedAt int64
	var endTime, remaining, pausedAt sql.NullInt64

	if err := row.Scan(&session.ID, &session.UserID, &session.TaskID, &session.DurationMinutes,
		&startTime, &endTime, &remaining, &pausedAt, &status, &session.IsPaused,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	session.StartTime = fromMillis(startTime)
	session.EndTime = timeFromNull(endTime)
	session.RemainingSeconds = intFromNull(remaining)
	session.PausedAt = timeFromNull(pausedAt)
	session.Status = models.SessionStatus(status)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	return session, nil
}

func (s *queries) GetSession(ctx context.Context, id, userID string) (*models.PomodoroSession, error) {
	session, err := scanSession(s.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM pomodoro_sessions WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// FindActiveUnpaused returns the running session for the task, or nil if none.
func (s *queries) FindActiveUnpaused(ctx context.Context, taskID, userID string) (*models.PomodoroSession, error) {
	session, err := scanSession(s.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM pomodoro_sessions
		WHERE task_id = ? AND user_id = ? AND status = 'active' AND is_paused = 0
		LIMIT 1`, taskID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return session, nil
}

// CountOtherActive counts active sessions (paused or not) for the task, excluding excludeID.
func (s *queries) CountOtherActive(ctx context.Context, taskID, userID, excludeID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pomodoro_sessions
		WHERE task_id = ? AND user_id = ? AND id != ? AND status = 'active'`,
		taskID, userID, excludeID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}

func (s *queries) UpdateSession(ctx context.Context, session *models.PomodoroSession) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now().UTC()
	}
	result, err := s.q.ExecContext(ctx,
		`UPDATE pomodoro_sessions SET duration_minutes=?, start_time=?, end_time=?, remaining_seconds=?, paused_at=?, status=?, is_paused=?, updated_at=?
		WHERE id=?`,
		session.DurationMinutes, millis(session.StartTime), nullMillis(session.EndTime),
		nullInt(session.RemainingSeconds), nullMillis(session.PausedAt),
		string(session.Status), boolToInt(session.IsPaused), millis(session.UpdatedAt),
		session.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("update session %s: %w", session.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", session.ID, ErrNotFound)
	}
	return nil
}

// ListExpiredSessions returns running sessions whose deadline is at or before now.
func (s *queries) ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.PomodoroSession, error) {
	return s.scanSessions(ctx,
		`SELECT `+sessionColumns+` FROM pomodoro_sessions
		WHERE status = 'active' AND is_paused = 0 AND end_time IS NOT NULL AND end_time <= ?
		ORDER BY end_time`, millis(now))
}

// ListSessions returns the user's sessions, newest first. A limit <= 0 means no limit.
func (s *queries) ListSessions(ctx context.Context, userID string, limit int) ([]*models.PomodoroSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM pomodoro_sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.scanSessions(ctx, query, args...)
}

// ListActiveSessions returns the user's running and paused sessions, newest first.
func (s *queries) ListActiveSessions(ctx context.Context, userID string) ([]*models.PomodoroSession, error) {
	return s.scanSessions(ctx,
		`SELECT `+sessionColumns+` FROM pomodoro_sessions
		WHERE user_id = ? AND status = 'active'
		ORDER BY created_at DESC, id DESC`, userID)
}

// scanSessions is a shared helper for scanning session rows.
func (s *queries) scanSessions(ctx context.Context, query string, args ...any) ([]*models.PomodoroSession, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.PomodoroSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// --- Breaks ---

const breakColumns = `id, user_id, session_id, type, duration_minutes, start_time, end_time, status, created_at, updated_at`

func (s *queries) CreateBreak(ctx context.Context, b *models.Break) error {
	if b.ID == "" {
		b.ID = newULID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.UpdatedAt = b.CreatedAt

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO pomodoro_breaks (`+breakColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.SessionID, string(b.Type), b.DurationMinutes,
		millis(b.StartTime), millis(b.EndTime), string(b.Status),
		millis(b.CreatedAt), millis(b.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create break: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create break: %w", err)
	}
	return nil
}

func scanBreak(row interface{ Scan(...any) error }) (*models.Break, error) {
	b := &models.Break{}
	var typ, status string
	var startTime, endTime, createdAt, updatedAt int64
	if err := row.Scan(&b.ID, &b.UserID, &b.SessionID, &typ, &b.DurationMinutes,
		&startTime, &endTime, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.Type = models.BreakType(typ)
	b.Status = models.BreakStatus(status)
	b.StartTime = fromMillis(startTime)
	b.EndTime = fromMillis(endTime)
	b.CreatedAt = fromMillis(createdAt)
	b.UpdatedAt = fromMillis(updatedAt)
	return b, nil
}

func (s *queries) GetBreak(ctx context.Context, id, userID string) (*models.Break, error) {
	b, err := scanBreak(s.q.QueryRowContext(ctx,
		`SELECT `+breakColumns+` FROM pomodoro_breaks WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("break %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get break: %w", err)
	}
	return b, nil
}

func (s *queries) UpdateBreak(ctx context.Context, b *models.Break) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	result, err := s.q.ExecContext(ctx,
		`UPDATE pomodoro_breaks SET type=?, duration_minutes=?, start_time=?, end_time=?, status=?, updated_at=?
		WHERE id=? AND user_id=?`,
		string(b.Type), b.DurationMinutes, millis(b.StartTime), millis(b.EndTime),
		string(b.Status), millis(b.UpdatedAt), b.ID, b.UserID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("update break %s: %w", b.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update break: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("break %s: %w", b.ID, ErrNotFound)
	}
	return nil
}

func (s *queries) DeleteBreak(ctx context.Context, id, userID string) error {
	result, err := s.q.ExecContext(ctx, "DELETE FROM pomodoro_breaks WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete break: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("break %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListBreaks returns the user's breaks, newest first.
func (s *queries) ListBreaks(ctx context.Context, userID string) ([]*models.Break, error) {
	return s.scanBreaks(ctx,
		`SELECT `+breakColumns+` FROM pomodoro_breaks WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

// FindRunningBreak returns the user's running break, or nil if none.
func (s *queries) FindRunningBreak(ctx context.Context, userID string) (*models.Break, error) {
	b, err := scanBreak(s.q.QueryRowContext(ctx,
		`SELECT `+breakColumns+` FROM pomodoro_breaks WHERE user_id = ? AND status = 'running' LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find running break: %w", err)
	}
	return b, nil
}

// ListExpiredBreaks returns running breaks whose end time is at or before now.
func (s *queries) ListExpiredBreaks(ctx context.Context, now time.Time) ([]*models.Break, error) {
	return s.scanBreaks(ctx,
		`SELECT `+breakColumns+` FROM pomodoro_breaks
		WHERE status = 'running' AND end_time <= ?
		ORDER BY end_time`, millis(now))
}

func (s *queries) scanBreaks(ctx context.Context, query string, args ...any) ([]*models.Break, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list breaks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var breaks []*models.Break
	for rows.Next() {
		b, err := scanBreak(rows)
		if err != nil {
			return nil, fmt.Errorf("scan break: %w", err)
		}
		breaks = append(breaks, b)
	}
	return breaks, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
