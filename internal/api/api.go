// Package api serves the pomo REST API over the session engine and task store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/joescharf/pomo/internal/llm"
	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/pomodoro"
	"github.com/joescharf/pomo/internal/store"
	"github.com/joescharf/pomo/internal/tasks"
)

// Estimator suggests how many pomodoros a task needs. *llm.Client satisfies it.
type Estimator interface {
	EstimatePomodoros(ctx context.Context, title, description string, durationMinutes int) (*llm.Estimate, error)
}

// Server provides the REST API handlers.
type Server struct {
	engine    *pomodoro.Engine
	tasks     *tasks.Service
	auth      *authenticator
	estimator Estimator
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithJWTSecret requires callers to present an HS256 bearer token signed with secret.
func WithJWTSecret(secret string) Option {
	return func(s *Server) { s.auth = newAuthenticator(secret) }
}

// WithEstimator fills in estimated_pomodoros for new tasks that omit it.
// A nil estimator is ignored.
func WithEstimator(e Estimator) Option {
	return func(s *Server) {
		if e != nil {
			s.estimator = e
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server.
func NewServer(engine *pomodoro.Engine, st store.Store, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		tasks:  tasks.New(st),
		auth:   newAuthenticator(""),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)

	mux.HandleFunc("GET /api/v1/tasks", s.withUser(s.listTasks))
	mux.HandleFunc("POST /api/v1/tasks", s.withUser(s.createTask))
	mux.HandleFunc("GET /api/v1/tasks/grouped", s.withUser(s.groupedTasks))
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.withUser(s.getTask))
	mux.HandleFunc("PUT /api/v1/tasks/{id}", s.withUser(s.updateTask))
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.withUser(s.deleteTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/start-session", s.withUser(s.startSession))

	mux.HandleFunc("GET /api/v1/sessions", s.withUser(s.listSessions))
	mux.HandleFunc("GET /api/v1/sessions/active", s.withUser(s.activeSession))
	mux.HandleFunc("POST /api/v1/sessions/{id}/pause", s.withUser(s.pauseSession))
	mux.HandleFunc("POST /api/v1/sessions/{id}/resume", s.withUser(s.resumeSession))
	mux.HandleFunc("POST /api/v1/sessions/{id}/complete", s.withUser(s.completeSession))
	mux.HandleFunc("POST /api/v1/sessions/{id}/cancel", s.withUser(s.cancelSession))

	mux.HandleFunc("POST /api/v1/breaks", s.withUser(s.createBreak))
	mux.HandleFunc("GET /api/v1/breaks", s.withUser(s.listBreaks))
	mux.HandleFunc("GET /api/v1/breaks/active", s.withUser(s.activeBreak))
	mux.HandleFunc("GET /api/v1/breaks/{id}", s.withUser(s.getBreak))
	mux.HandleFunc("POST /api/v1/breaks/{id}/start", s.withUser(s.startBreak))
	mux.HandleFunc("POST /api/v1/breaks/{id}/complete", s.withUser(s.completeBreak))
	mux.HandleFunc("POST /api/v1/breaks/{id}/cancel", s.withUser(s.cancelBreak))
	mux.HandleFunc("DELETE /api/v1/breaks/{id}", s.withUser(s.deleteBreak))

	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+userHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps engine and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pomodoro.ErrNotFound):
		return http.StatusNotFound
	case pomodoro.IsPrecondition(err):
		return http.StatusConflict
	case errors.Is(err, tasks.ErrInvalid), errors.Is(err, pomodoro.ErrInvalidBreak):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Tasks ---

type createTaskRequest struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	EstimatedPomodoros int    `json:"estimated_pomodoros"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := s.tasks.List(r.Context(), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, userID string) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Auto-estimate if an estimator is available and no estimate was given.
	if req.EstimatedPomodoros == 0 && s.estimator != nil && req.Title != "" {
		est, err := s.estimator.EstimatePomodoros(r.Context(), req.Title, req.Description, s.engine.Duration())
		if err != nil {
			s.logger.Warn("pomodoro estimate failed", "error", err)
		} else {
			req.EstimatedPomodoros = est.Pomodoros
		}
	}

	task := &models.Task{
		UserID:             userID,
		Title:              req.Title,
		Description:        req.Description,
		EstimatedPomodoros: req.EstimatedPomodoros,
	}
	if err := s.tasks.Create(r.Context(), task); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) groupedTasks(w http.ResponseWriter, r *http.Request, userID string) {
	g, err := s.tasks.Grouped(r.Context(), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, userID string) {
	task, err := s.tasks.Get(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, userID string) {
	var req tasks.Update
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.tasks.Update(r.Context(), r.PathValue("id"), userID, req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.tasks.Delete(r.Context(), r.PathValue("id"), userID); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sessions ---

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, userID string) {
	session, err := s.engine.Start(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request, userID string) {
	sessions, err := s.engine.Sessions(r.Context(), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*models.PomodoroSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) activeSession(w http.ResponseWriter, r *http.Request, userID string) {
	session, err := s.engine.ActiveSession(r.Context(), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) pauseSession(w http.ResponseWriter, r *http.Request, userID string) {
	session, err := s.engine.Pause(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) resumeSession(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.engine.Resume(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Body())
}

func (s *Server) completeSession(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.engine.Complete(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request, userID string) {
	session, err := s.engine.Cancel(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// --- Breaks ---

func (s *Server) createBreak(w http.ResponseWriter, r *http.Request, userID string) {
	var req pomodoro.NewBreak
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	b, err := s.engine.CreateBreak(r.Context(), userID, req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) listBreaks(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := s.engine.Breaks(r.Context(), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Break{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) activeBreak(w http.ResponseWriter, r *http.Request, userID string) {
	b, err := s.engine.ActiveBreak(r.Context(), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) getBreak(w http.ResponseWriter, r *http.Request, userID string) {
	b, err := s.engine.Break(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) startBreak(w http.ResponseWriter, r *http.Request, userID string) {
	b, err := s.engine.StartBreak(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) completeBreak(w http.ResponseWriter, r *http.Request, userID string) {
	b, err := s.engine.CompleteBreak(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) cancelBreak(w http.ResponseWriter, r *http.Request, userID string) {
	b, err := s.engine.CancelBreak(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBreak(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.engine.DeleteBreak(r.Context(), r.PathValue("id"), userID); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
