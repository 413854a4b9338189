package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/pomodoro"
	"github.com/joescharf/pomo/internal/store"
	"github.com/joescharf/pomo/internal/tasks"
)

// Server exposes the session engine and task list as MCP tools.
type Server struct {
	engine      *pomodoro.Engine
	tasks       *tasks.Service
	defaultUser string
	version     string
}

// NewServer creates the MCP server wrapper. defaultUser is used by tools
// called without a user argument.
func NewServer(engine *pomodoro.Engine, st store.Store, defaultUser, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		engine:      engine,
		tasks:       tasks.New(st),
		defaultUser: defaultUser,
		version:     version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("pomo", s.version, server.WithToolCapabilities(true))
	srv.AddTools(s.tools()...)
	return srv
}

func (s *Server) tools() []server.ServerTool {
	tool := func(t mcp.Tool, h server.ToolHandlerFunc) server.ServerTool {
		return server.ServerTool{Tool: t, Handler: h}
	}
	return []server.ServerTool{
		tool(s.listTasksTool()),
		tool(s.createTaskTool()),
		tool(s.updateTaskTool()),
		tool(s.startSessionTool()),
		tool(s.sessionActionTool("pomo_pause_session", "Pause a running session, freezing its remaining time.", s.pause)),
		tool(s.sessionActionTool("pomo_resume_session", "Resume a paused session from its frozen remaining time.", s.resume)),
		tool(s.sessionActionTool("pomo_complete_session", "Complete a session now. Counts it against the task and starts the next session while quota remains.", s.complete)),
		tool(s.sessionActionTool("pomo_cancel_session", "Cancel a session without counting it.", s.cancel)),
		tool(s.listSessionsTool()),
		tool(s.activeSessionTool()),
		tool(s.startBreakTool()),
		tool(s.completeBreakTool()),
		tool(s.listBreaksTool()),
	}
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func userOption() mcp.ToolOption {
	return mcp.WithString("user", mcp.Description("User ID. Defaults to the configured user."))
}

func (s *Server) userFor(request mcp.CallToolRequest) (string, error) {
	user := request.GetString("user", s.defaultUser)
	if user == "" {
		return "", errors.New("no user given and no default user configured")
	}
	return user, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult reports engine failures to the client as tool errors.
func errorResult(action string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, pomodoro.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("%s: not found: %v", action, err))
	case pomodoro.IsPrecondition(err):
		return mcp.NewToolResultError(fmt.Sprintf("%s: rejected: %v", action, err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", action, err))
	}
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// pomo_list_tasks
func (s *Server) listTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pomo_list_tasks",
		mcp.WithDescription("List the user's tasks with estimated and completed pomodoros. Returns a JSON array."),
		userOption(),
		mcp.WithString("status", mcp.Description("Filter by status: pending, in_progress, completed, cancelled")),
	)
	return tool, s.handleListTasks
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.userFor(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	all, err := s.tasks.List(ctx, user)
	if err != nil {
		return errorResult("list tasks", err), nil
	}

	status := request.GetString("status", "")
	out := make([]*models.Task, 0, len(all))
	for _, t := range all {
		if status == "" || string(t.Status) == status {
			out = append(out, t)
		}
	}
	return jsonResult(out)
}

// pomo_create_task
func (s *Server) createTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pomo_create_task",
		mcp.WithDescription("Create a task with an estimated number of pomodoros."),
		userOption(),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithNumber("estimated_pomodoros", mcp.Required(), mcp.Description("Number of sessions the task needs (at least 1)")),
	)
	return tool, s.handleCreateTask
}

func (s *Server) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.userFor(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	task := &models.Task{
		UserID:             user,
		Title:              title,
		Description:        request.GetString("description", ""),
		EstimatedPomodoros: request.GetInt("estimated_pomodoros", 0),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return errorResult("create task", err), nil
	}
	return jsonResult(task)
}

// pomo_update_task
func (s *Server) updateTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pomo_update_task",
		mcp.WithDescription("Edit a task. Only the given fields change; status is re-derived from the pomodoro counts unless set to cancelled."),
		userOption(),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithNumber("estimated_pomodoros", mcp.Description("New estimate (at least 1)")),
		mcp.WithNumber("completed_pomodoros", mcp.Description("New completed count")),
		mcp.WithString("status", mcp.Description("cancelled to drop the task; any other status reopens it")),
	)
	return tool, s.handleUpdateTask
}

func (s *Server) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.userFor(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}

	args := request.GetArguments()
	var u tasks.Update
	if _, ok := args["title"]; ok {
		v := request.GetString("title", "")
		u.Title = &v
	}
	if _, ok := args["description"]; ok {
		v := request.GetString("description", "")
		u.Description = &v
	}
	if _, ok := args["estimated_pomodoros"]; ok {
		v := request.GetInt("estimated_pomodoros", 0)
		u.EstimatedPomodoros = &v
	}
	if _, ok := args["completed_pomodoros"]; ok {
		v := request.GetInt("completed_pomodoros", 0)
		u.CompletedPomodoros = &v
	}
	if _, ok := args["status"]; ok {
		v := models.TaskStatus(request.GetString("status", ""))
		u.Status = &v
	}

	task, err := s.tasks.Update(ctx, taskID, user, u)
	if err != nil {
		return errorResult("update task", err), nil
	}
	return jsonResult(task)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// pomo_start_session
func (s *Server) startSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pomo_start_session",
		mcp.WithDescription("Start a pomodoro session for a task. Fails if the task already has a running session or its quota is met."),
		userOption(),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	)
	return tool, s.handleStartSession
}

func (s *Server) handleStartSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.userFor(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}
	session, err := s.engine.Start(ctx, taskID, user)
	if err != nil {
		return errorResult("start session", err), nil
	}
	return jsonResult(session)
}

type sessionAction func(ctx context.Context, sessionID, userID string) (any, error)

func (s *Server) pause(ctx context.Context, id, user string) (any, error) {
	return s.engine.Pause(ctx, id, user)
}

func (s *Server) resume(ctx context.Context, id, user string) (any, error) {
	res, err := s.engine.Resume(ctx, id, user)
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

func (s *Server) complete(ctx context.Context, id, user string) (any, error) {
	return s.engine.Complete(ctx, id, user)
}

func (s *Server) cancel(ctx context.Context, id, user string) (any, error) {
	return s.engine.Cancel(ctx, id, user)
}

// sessionActionTool builds the pause/resume/complete/cancel tools, which share
// arguments and differ only in the engine call.
func (s *Server) sessionActionTool(name, description string, action sessionAction) (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(name,
		mcp.WithDescription(description),
		userOption(),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	handler := func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := s.userFor(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sessionID, err := request.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: session_id"), nil
		}
		out, err := action(ctx, sessionID, user)
		if err != nil {
			return errorResult(name, err), nil
		}
		return jsonResult(out)
	}
	return tool, handler
}

// pomo_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pomo_list_sessions",
		mcp.WithDescription("List the user's sessions, newest first, with remaining seconds recomputed for running sessions."),
		userOption(),
		mcp.WithString("task_id", mcp.Description("Only sessions for this task")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.userFor(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessions, err := s.engine.Sessions(ctx, user)
	if err != nil {
		return errorResult("list sessions", err), nil
	}

	taskID := request.GetString("task_id", "")
	out := make([]*models.PomodoroSession, 0, len(sessions))
	for _, sess := range sessions {
		if taskID == "" || sess.TaskID == taskID {
			out = append(out, sess)
		}
	}
	return jsonResult(out)
}

// pomo_active_session
func (s *Server) activeSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pomo_active_session",
		mcp.WithDescription("Get the user's current running or paused session."),
		userOption(),
	)
	return tool, s.handleActiveSession
}

func (s *Server) handleActiveSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.userFor(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	session, err := s.engine.ActiveSession(ctx, user)
	if err != nil {
		return errorResult("active session", err), nil
	}
	return jsonResult(session)
}

// ---------------------------------------------------------------------------
// Breaks
// ---------------------------------------------------------------------------

// pomo_start_break
func (s *Server) startBreakTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pomo_start_break",
		mcp.WithDescription("Take a break after a session: schedules it and starts it now."),
		userOption(),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session the break follows")),
		mcp.WithString("type", mcp.Description("short (default) or long")),
		mcp.WithNumber("duration_minutes", mcp.Description("Break length in minutes (default 5)")),
	)
	return tool, s.handleStartBreak
}

func (s *Server) handleStartBreak(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.userFor(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	b, err := s.engine.CreateBreak(ctx, user, pomodoro.NewBreak{
		SessionID:       sessionID,
		Type:            models.BreakType(request.GetString("type", "")),
		DurationMinutes: request.GetInt("duration_minutes", 0),
	})
	if err != nil {
		return errorResult("create break", err), nil
	}
	started, err := s.engine.StartBreak(ctx, b.ID, user)
	if err != nil {
		_ = s.engine.DeleteBreak(ctx, b.ID, user)
		return errorResult("start break", err), nil
	}
	b = started
	return jsonResult(b)
}

// pomo_complete_break
func (s *Server) completeBreakTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pomo_complete_break",
		mcp.WithDescription("End a break now."),
		userOption(),
		mcp.WithString("break_id", mcp.Required(), mcp.Description("Break ID")),
	)
	return tool, s.handleCompleteBreak
}

func (s *Server) handleCompleteBreak(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.userFor(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	breakID, err := request.RequireString("break_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: break_id"), nil
	}
	b, err := s.engine.CompleteBreak(ctx, breakID, user)
	if err != nil {
		return errorResult("complete break", err), nil
	}
	return jsonResult(b)
}

// pomo_list_breaks
func (s *Server) listBreaksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("pomo_list_breaks",
		mcp.WithDescription("List the user's breaks, newest first."),
		userOption(),
	)
	return tool, s.handleListBreaks
}

func (s *Server) handleListBreaks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := s.userFor(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.engine.Breaks(ctx, user)
	if err != nil {
		return errorResult("list breaks", err), nil
	}
	if list == nil {
		list = []*models.Break{}
	}
	return jsonResult(list)
}
