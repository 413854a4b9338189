package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/output"
	"github.com/joescharf/pomo/internal/pomodoro"
)

var sessionsLimit int

var startCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Start a pomodoro session for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startRun(args[0])
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <session-id>",
	Short: "Pause a running session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pauseRun(args[0])
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resumeRun(args[0])
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <session-id>",
	Short: "Complete a session now and start the next one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return completeRun(args[0])
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a session without counting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cancelRun(args[0])
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsRun(sessionsLimit)
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "l", 20, "Maximum sessions to show (0 for all)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// sessionEngine returns the engine and the calling user.
func sessionEngine() (*pomodoro.Engine, string, error) {
	engine, _, err := cliEngine()
	if err != nil {
		return nil, "", err
	}
	userID, err := currentUser()
	if err != nil {
		return nil, "", err
	}
	return engine, userID, nil
}

func startRun(taskID string) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	session, err := engine.Start(cmdContext(), taskID, userID)
	if err != nil {
		return err
	}
	ui.Success("Started session %s (%s)", output.Cyan(session.ID), output.Countdown(*session.RemainingSeconds))
	return nil
}

func pauseRun(sessionID string) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	session, err := engine.Pause(cmdContext(), sessionID, userID)
	if err != nil {
		return err
	}
	ui.Success("Paused session %s with %s left", output.Cyan(session.ID), output.Countdown(*session.RemainingSeconds))
	return nil
}

func resumeRun(sessionID string) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	res, err := engine.Resume(cmdContext(), sessionID, userID)
	if err != nil {
		return err
	}
	if res.Session.Status == models.SessionStatusCompleted {
		reportCompletion(res)
		return nil
	}
	ui.Success("Resumed session %s with %s left", output.Cyan(res.Session.ID), output.Countdown(*res.Session.RemainingSeconds))
	return nil
}

func completeRun(sessionID string) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	res, err := engine.Complete(cmdContext(), sessionID, userID)
	if err != nil {
		return err
	}
	reportCompletion(res)
	return nil
}

func reportCompletion(res *pomodoro.Result) {
	ui.Success("Completed session %s (%s)", output.Cyan(res.Session.ID),
		output.Progress(res.CompletedPomodoros, res.EstimatedPomodoros))
	if res.Next != nil {
		ui.Info("Next session %s started (%s)", output.Cyan(res.Next.ID), output.Countdown(*res.Next.RemainingSeconds))
	} else if res.EstimatedPomodoros > 0 && res.CompletedPomodoros >= res.EstimatedPomodoros {
		ui.Info("Task estimate reached")
	}
}

func cancelRun(sessionID string) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	session, err := engine.Cancel(cmdContext(), sessionID, userID)
	if err != nil {
		return err
	}
	ui.Success("Cancelled session %s", output.Cyan(session.ID))
	return nil
}

func sessionsRun(limit int) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	sessions, err := engine.Sessions(cmdContext(), userID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No sessions. Use 'pomo start <task-id>' to begin.")
		return nil
	}
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return renderSessions(sessions)
}

func sessionState(s *models.PomodoroSession) string {
	if s.Status == models.SessionStatusActive && s.IsPaused {
		return "paused"
	}
	return string(s.Status)
}

func renderSessions(sessions []*models.PomodoroSession) error {
	table := ui.Table([]string{"ID", "Task", "Status", "Remaining", "Started"})
	for _, s := range sessions {
		remaining := "-"
		if s.Status == models.SessionStatusActive && s.RemainingSeconds != nil {
			remaining = output.Countdown(*s.RemainingSeconds)
		}
		_ = table.Append([]string{
			s.ID,
			s.TaskID,
			output.StatusColor(sessionState(s)),
			remaining,
			s.StartTime.Local().Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}
