package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/pomo/internal/llm"
	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/pomodoro"
	"github.com/joescharf/pomo/internal/store"
	"github.com/joescharf/pomo/internal/tasks"
)

var testNow = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

func setupTestServer(t *testing.T, opts ...Option) (http.Handler, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := pomodoro.NewEngine(s,
		pomodoro.WithClock(func() time.Time { return testNow }),
		pomodoro.WithLogger(logger),
	)
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewServer(engine, s, opts...).Router(), s
}

func do(t *testing.T, h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createTask(t *testing.T, h http.Handler, userID string, estimated int) models.Task {
	t.Helper()
	body, _ := json.Marshal(createTaskRequest{Title: "write report", EstimatedPomodoros: estimated})
	w := do(t, h, "POST", "/api/v1/tasks", userID, string(body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Task](t, w)
}

func TestHealth_NoIdentityNeeded(t *testing.T) {
	h, _ := setupTestServer(t)
	w := do(t, h, "GET", "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestMissingIdentity(t *testing.T) {
	h, _ := setupTestServer(t)
	for _, path := range []string{"/api/v1/tasks", "/api/v1/sessions", "/api/v1/sessions/active"} {
		w := do(t, h, "GET", path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := setupTestServer(t)
	w := do(t, h, "OPTIONS", "/api/v1/tasks", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestTaskCRUD_API(t *testing.T) {
	h, _ := setupTestServer(t)

	w := do(t, h, "GET", "/api/v1/tasks", "alice", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Task](t, w))

	created := createTask(t, h, "alice", 3)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.TaskStatusPending, created.Status)
	assert.Equal(t, "alice", created.UserID)

	w = do(t, h, "GET", "/api/v1/tasks/"+created.ID, "alice", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[models.Task](t, w).ID)

	w = do(t, h, "GET", "/api/v1/tasks/"+created.ID, "bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "GET", "/api/v1/tasks", "alice", "")
	assert.Len(t, decode[[]models.Task](t, w), 1)

	w = do(t, h, "DELETE", "/api/v1/tasks/"+created.ID, "alice", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "DELETE", "/api/v1/tasks/"+created.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTask_Validation(t *testing.T) {
	h, _ := setupTestServer(t)

	w := do(t, h, "POST", "/api/v1/tasks", "alice", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/api/v1/tasks", "alice", `{"title":"","estimated_pomodoros":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/api/v1/tasks", "alice", `{"title":"no estimate"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateTask_API(t *testing.T) {
	h, _ := setupTestServer(t)
	task := createTask(t, h, "alice", 3)

	w := do(t, h, "PUT", "/api/v1/tasks/"+task.ID, "alice", `{"title":"final report","completed_pomodoros":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[models.Task](t, w)
	assert.Equal(t, "final report", updated.Title)
	assert.Equal(t, 3, updated.EstimatedPomodoros)
	assert.Equal(t, models.TaskStatusInProgress, updated.Status)

	w = do(t, h, "PUT", "/api/v1/tasks/"+task.ID, "alice", `{"status":"cancelled"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.TaskStatusCancelled, decode[models.Task](t, w).Status)

	// A cancelled task takes no new sessions.
	w = do(t, h, "POST", "/api/v1/tasks/"+task.ID+"/start-session", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, "PUT", "/api/v1/tasks/"+task.ID, "alice", `{"estimated_pomodoros":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "PUT", "/api/v1/tasks/"+task.ID, "alice", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "PUT", "/api/v1/tasks/"+task.ID, "bob", `{"title":"mine"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateTask_ActiveSessionBlocksCancel(t *testing.T) {
	h, _ := setupTestServer(t)
	task := createTask(t, h, "alice", 2)

	w := do(t, h, "POST", "/api/v1/tasks/"+task.ID+"/start-session", "alice", "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "PUT", "/api/v1/tasks/"+task.ID, "alice", `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "GET", "/api/v1/tasks/"+task.ID, "alice", "")
	assert.Equal(t, models.TaskStatusInProgress, decode[models.Task](t, w).Status)
}

type fakeEstimator struct {
	pomodoros int
	err       error
	minutes   int
}

func (f *fakeEstimator) EstimatePomodoros(_ context.Context, _, _ string, durationMinutes int) (*llm.Estimate, error) {
	f.minutes = durationMinutes
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Estimate{Pomodoros: f.pomodoros}, nil
}

func TestCreateTask_Estimator(t *testing.T) {
	est := &fakeEstimator{pomodoros: 4}
	h, _ := setupTestServer(t, WithEstimator(est))

	w := do(t, h, "POST", "/api/v1/tasks", "alice", `{"title":"refactor store"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 4, decode[models.Task](t, w).EstimatedPomodoros)
	assert.Equal(t, pomodoro.DefaultDurationMinutes, est.minutes)

	// An explicit estimate wins.
	w = do(t, h, "POST", "/api/v1/tasks", "alice", `{"title":"inbox","estimated_pomodoros":1}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, decode[models.Task](t, w).EstimatedPomodoros)
}

func TestCreateTask_EstimatorFailure(t *testing.T) {
	h, _ := setupTestServer(t, WithEstimator(&fakeEstimator{err: errors.New("rate limited")}))

	w := do(t, h, "POST", "/api/v1/tasks", "alice", `{"title":"refactor store"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGroupedTasks(t *testing.T) {
	h, _ := setupTestServer(t)
	pending := createTask(t, h, "alice", 2)
	active := createTask(t, h, "alice", 2)

	w := do(t, h, "POST", "/api/v1/tasks/"+active.ID+"/start-session", "alice", "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "GET", "/api/v1/tasks/grouped", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	g := decode[struct {
		Pending    []models.Task `json:"pending"`
		InProgress []models.Task `json:"in_progress"`
		Completed  []models.Task `json:"completed"`
	}](t, w)
	require.Len(t, g.Pending, 1)
	assert.Equal(t, pending.ID, g.Pending[0].ID)
	require.Len(t, g.InProgress, 1)
	assert.Equal(t, active.ID, g.InProgress[0].ID)
	assert.Empty(t, g.Completed)
}

func TestSessionLifecycle_API(t *testing.T) {
	h, _ := setupTestServer(t)
	task := createTask(t, h, "alice", 2)

	// Start
	w := do(t, h, "POST", "/api/v1/tasks/"+task.ID+"/start-session", "alice", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	session := decode[models.PomodoroSession](t, w)
	assert.Equal(t, models.SessionStatusActive, session.Status)
	require.NotNil(t, session.RemainingSeconds)
	assert.Equal(t, 1500, *session.RemainingSeconds)

	// Second start conflicts
	w = do(t, h, "POST", "/api/v1/tasks/"+task.ID+"/start-session", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Active
	w = do(t, h, "GET", "/api/v1/sessions/active", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.ID, decode[models.PomodoroSession](t, w).ID)

	// Pause, pause again
	w = do(t, h, "POST", "/api/v1/sessions/"+session.ID+"/pause", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	paused := decode[models.PomodoroSession](t, w)
	assert.True(t, paused.IsPaused)
	assert.Nil(t, paused.EndTime)

	w = do(t, h, "POST", "/api/v1/sessions/"+session.ID+"/pause", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Resume
	w = do(t, h, "POST", "/api/v1/sessions/"+session.ID+"/resume", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	resumed := decode[models.PomodoroSession](t, w)
	assert.Equal(t, session.ID, resumed.ID)
	assert.Equal(t, models.SessionStatusActive, resumed.Status)
	assert.False(t, resumed.IsPaused)
	require.NotNil(t, resumed.EndTime)
	assert.NotContains(t, w.Body.String(), `"session"`)

	// Complete auto-advances
	w = do(t, h, "POST", "/api/v1/sessions/"+session.ID+"/complete", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	completed := decode[pomodoro.Result](t, w)
	assert.Equal(t, models.SessionStatusCompleted, completed.Session.Status)
	assert.Equal(t, 1, completed.CompletedPomodoros)
	assert.Equal(t, 2, completed.EstimatedPomodoros)
	require.NotNil(t, completed.Next)

	// Complete again is rejected
	w = do(t, h, "POST", "/api/v1/sessions/"+session.ID+"/complete", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Cancel the successor
	w = do(t, h, "POST", "/api/v1/sessions/"+completed.Next.ID+"/cancel", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionStatusCancelled, decode[models.PomodoroSession](t, w).Status)

	// History, newest first
	w = do(t, h, "GET", "/api/v1/sessions", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]models.PomodoroSession](t, w)
	require.Len(t, history, 2)

	w = do(t, h, "GET", "/api/v1/sessions/active", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResumeAtZero_ReturnsCompletion(t *testing.T) {
	h, s := setupTestServer(t)
	ctx := context.Background()
	task := createTask(t, h, "alice", 1)

	pausedAt := testNow.Add(-time.Minute)
	zero := 0
	session := &models.PomodoroSession{
		UserID:           "alice",
		TaskID:           task.ID,
		DurationMinutes:  25,
		StartTime:        testNow.Add(-26 * time.Minute),
		RemainingSeconds: &zero,
		PausedAt:         &pausedAt,
		Status:           models.SessionStatusActive,
		IsPaused:         true,
	}
	require.NoError(t, s.CreateSession(ctx, session))

	w := do(t, h, "POST", "/api/v1/sessions/"+session.ID+"/resume", "alice", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[pomodoro.Result](t, w)
	require.NotNil(t, res.Session)
	assert.Equal(t, models.SessionStatusCompleted, res.Session.Status)
	require.NotNil(t, res.Session.EndTime)
	assert.True(t, res.Session.EndTime.Equal(pausedAt))
	assert.Equal(t, 1, res.CompletedPomodoros)
	assert.Nil(t, res.Next)
}

func TestBreakLifecycle_API(t *testing.T) {
	h, _ := setupTestServer(t)
	task := createTask(t, h, "alice", 1)

	w := do(t, h, "POST", "/api/v1/tasks/"+task.ID+"/start-session", "alice", "")
	require.Equal(t, http.StatusCreated, w.Code)
	session := decode[models.PomodoroSession](t, w)
	w = do(t, h, "POST", "/api/v1/sessions/"+session.ID+"/complete", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "GET", "/api/v1/breaks", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	w = do(t, h, "POST", "/api/v1/breaks", "alice", `{"session_id":"`+session.ID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	b := decode[models.Break](t, w)
	assert.Equal(t, models.BreakStatusScheduled, b.Status)
	assert.Equal(t, pomodoro.DefaultBreakMinutes, b.DurationMinutes)

	w = do(t, h, "GET", "/api/v1/breaks/active", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "POST", "/api/v1/breaks/"+b.ID+"/start", "alice", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.BreakStatusRunning, decode[models.Break](t, w).Status)

	w = do(t, h, "POST", "/api/v1/breaks/"+b.ID+"/start", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, "GET", "/api/v1/breaks/active", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	active := decode[models.Break](t, w)
	assert.Equal(t, b.ID, active.ID)
	require.NotNil(t, active.RemainingSeconds)
	assert.Equal(t, 300, *active.RemainingSeconds)

	w = do(t, h, "POST", "/api/v1/breaks/"+b.ID+"/complete", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.BreakStatusCompleted, decode[models.Break](t, w).Status)

	w = do(t, h, "POST", "/api/v1/breaks/"+b.ID+"/cancel", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, "GET", "/api/v1/breaks/"+b.ID, "bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "DELETE", "/api/v1/breaks/"+b.ID, "alice", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, h, "GET", "/api/v1/breaks/"+b.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBreak_Validation(t *testing.T) {
	h, _ := setupTestServer(t)

	w := do(t, h, "POST", "/api/v1/breaks", "alice", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/api/v1/breaks", "alice", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/api/v1/breaks", "alice", `{"session_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionOwnership_API(t *testing.T) {
	h, _ := setupTestServer(t)
	task := createTask(t, h, "alice", 2)

	w := do(t, h, "POST", "/api/v1/tasks/"+task.ID+"/start-session", "bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "POST", "/api/v1/tasks/"+task.ID+"/start-session", "alice", "")
	require.Equal(t, http.StatusCreated, w.Code)
	session := decode[models.PomodoroSession](t, w)

	for _, action := range []string{"pause", "resume", "complete", "cancel"} {
		w = do(t, h, "POST", "/api/v1/sessions/"+session.ID+"/"+action, "bob", "")
		assert.Equal(t, http.StatusNotFound, w.Code, action)
	}

	w = do(t, h, "GET", "/api/v1/sessions", "bob", "")
	assert.Empty(t, decode[[]models.PomodoroSession](t, w))
}

func TestStartSession_ExhaustedTask(t *testing.T) {
	h, s := setupTestServer(t)
	task := &models.Task{UserID: "alice", Title: "done", EstimatedPomodoros: 1, CompletedPomodoros: 1, Status: models.TaskStatusCompleted}
	require.NoError(t, s.CreateTask(context.Background(), task))

	w := do(t, h, "POST", "/api/v1/tasks/"+task.ID+"/start-session", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "no remaining")
}

// --- JWT ---

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func doBearer(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestJWT_ValidToken(t *testing.T) {
	h, _ := setupTestServer(t, WithJWTSecret(testSecret))
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	w := doBearer(h, token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWT_Rejected(t *testing.T) {
	h, _ := setupTestServer(t, WithJWTSecret(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "alice"})},
		{"wrong method", signToken(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.RegisteredClaims{Subject: "alice"})},
		{"expired", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})},
		{"no subject", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{})},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doBearer(h, tt.token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestJWT_HeaderIdentityIgnored(t *testing.T) {
	h, _ := setupTestServer(t, WithJWTSecret(testSecret))
	w := do(t, h, "GET", "/api/v1/sessions", "alice", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(pomodoro.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(pomodoro.ErrSessionConflict))
	assert.Equal(t, http.StatusConflict, statusFor(pomodoro.ErrNotPaused))
	assert.Equal(t, http.StatusConflict, statusFor(pomodoro.ErrTaskCancelled))
	assert.Equal(t, http.StatusConflict, statusFor(pomodoro.ErrBreakConflict))
	assert.Equal(t, http.StatusBadRequest, statusFor(pomodoro.ErrInvalidBreak))
	assert.Equal(t, http.StatusBadRequest, statusFor(tasks.ErrInvalid))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
