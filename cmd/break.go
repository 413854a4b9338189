package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/pomo/internal/models"
	"github.com/joescharf/pomo/internal/output"
	"github.com/joescharf/pomo/internal/pomodoro"
)

var (
	breakLong    bool
	breakMinutes int
)

var breakCmd = &cobra.Command{
	Use:   "break",
	Short: "Take and track breaks between sessions",
}

var breakStartCmd = &cobra.Command{
	Use:   "start <session-id>",
	Short: "Start a break after a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := models.BreakTypeShort
		if breakLong {
			typ = models.BreakTypeLong
		}
		return breakStartRun(args[0], typ, breakMinutes)
	},
}

var breakCompleteCmd = &cobra.Command{
	Use:   "complete <break-id>",
	Short: "End a break now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return breakCompleteRun(args[0])
	},
}

var breakCancelCmd = &cobra.Command{
	Use:   "cancel <break-id>",
	Short: "Abandon a break",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return breakCancelRun(args[0])
	},
}

var breakListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List breaks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return breakListRun()
	},
}

var breakRmCmd = &cobra.Command{
	Use:     "rm <break-id>",
	Aliases: []string{"remove"},
	Short:   "Delete a break",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return breakRmRun(args[0])
	},
}

func init() {
	breakStartCmd.Flags().BoolVar(&breakLong, "long", false, "Take a long break")
	breakStartCmd.Flags().IntVarP(&breakMinutes, "minutes", "m", 0, "Break length in minutes (default 5)")

	breakCmd.AddCommand(breakStartCmd)
	breakCmd.AddCommand(breakCompleteCmd)
	breakCmd.AddCommand(breakCancelCmd)
	breakCmd.AddCommand(breakListCmd)
	breakCmd.AddCommand(breakRmCmd)
	rootCmd.AddCommand(breakCmd)
}

// breakStartRun schedules a break after the session and starts it at once.
func breakStartRun(sessionID string, typ models.BreakType, minutes int) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	b, err := engine.CreateBreak(ctx, userID, pomodoro.NewBreak{
		SessionID:       sessionID,
		Type:            typ,
		DurationMinutes: minutes,
	})
	if err != nil {
		return err
	}
	started, err := engine.StartBreak(ctx, b.ID, userID)
	if err != nil {
		_ = engine.DeleteBreak(ctx, b.ID, userID)
		return err
	}
	ui.Success("Started %s break %s (%s)", started.Type, output.Cyan(started.ID), output.Countdown(*started.RemainingSeconds))
	return nil
}

func breakCompleteRun(breakID string) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	b, err := engine.CompleteBreak(cmdContext(), breakID, userID)
	if err != nil {
		return err
	}
	ui.Success("Break %s over, back to work", output.Cyan(b.ID))
	return nil
}

func breakCancelRun(breakID string) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	b, err := engine.CancelBreak(cmdContext(), breakID, userID)
	if err != nil {
		return err
	}
	ui.Success("Cancelled break %s", output.Cyan(b.ID))
	return nil
}

func breakListRun() error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	list, err := engine.Breaks(cmdContext(), userID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		ui.Info("No breaks. Use 'pomo break start <session-id>' after a session.")
		return nil
	}

	table := ui.Table([]string{"ID", "Session", "Type", "Status", "Remaining", "Started"})
	for _, b := range list {
		remaining := "-"
		if b.RemainingSeconds != nil {
			remaining = output.Countdown(*b.RemainingSeconds)
		}
		_ = table.Append([]string{
			b.ID,
			b.SessionID,
			string(b.Type),
			output.StatusColor(string(b.Status)),
			remaining,
			b.StartTime.Local().Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

func breakRmRun(breakID string) error {
	engine, userID, err := sessionEngine()
	if err != nil {
		return err
	}
	if err := engine.DeleteBreak(cmdContext(), breakID, userID); err != nil {
		return err
	}
	ui.Success("Deleted break %s", breakID)
	return nil
}
