package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/pomo/internal/output"
	"github.com/joescharf/pomo/internal/pomodoro"
	"github.com/joescharf/pomo/internal/tasks"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active session, any running break and a task overview",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun() error {
	engine, s, err := cliEngine()
	if err != nil {
		return err
	}
	userID, err := currentUser()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	active, err := engine.ActiveSession(ctx, userID)
	switch {
	case errors.Is(err, pomodoro.ErrNotFound):
		ui.Info("No active session")
	case err != nil:
		return err
	default:
		task, err := tasks.New(s).Get(ctx, active.TaskID, userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(ui.Out, "%s  %s  %s left  (%s)\n",
			output.StatusColor(sessionState(active)),
			task.Title,
			output.Countdown(*active.RemainingSeconds),
			output.Progress(task.CompletedPomodoros, task.EstimatedPomodoros),
		)
		ui.VerboseLog("session %s", active.ID)
	}

	br, err := engine.ActiveBreak(ctx, userID)
	switch {
	case errors.Is(err, pomodoro.ErrNotFound):
	case err != nil:
		return err
	default:
		fmt.Fprintf(ui.Out, "%s  %s break  %s left\n",
			output.StatusColor(string(br.Status)), br.Type, output.Countdown(*br.RemainingSeconds))
	}

	g, err := tasks.New(s).Grouped(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "Tasks: %s pending, %s in progress, %s completed\n",
		output.Cyan(fmt.Sprint(len(g.Pending))),
		output.Yellow(fmt.Sprint(len(g.InProgress))),
		output.Green(fmt.Sprint(len(g.Completed))),
	)
	return nil
}
