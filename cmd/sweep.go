package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/pomo/internal/pomodoro"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Complete expired sessions and breaks once and exit",
	Long: `Run a single sweeper pass: every running session whose time ran out is
completed at its deadline, and the next session is started where the task
estimate allows. Running breaks past their end time are closed. 'pomo serve'
and 'pomo mcp' run this on an interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sweepRun()
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func sweepRun() error {
	engine, _, err := cliEngine()
	if err != nil {
		return err
	}
	stats, err := pomodoro.NewSweeper(engine, viper.GetDuration("sweeper.interval")).Tick(cmdContext())
	if err != nil {
		return err
	}

	if stats.Expired == 0 {
		ui.Info("No expired sessions")
	} else {
		ui.Success("Completed %d of %d expired sessions (%d next sessions started)", stats.Completed, stats.Expired, stats.Advanced)
	}
	if stats.BreaksCompleted > 0 {
		ui.Success("Closed %d finished breaks", stats.BreaksCompleted)
	}
	if stats.Skipped > 0 {
		ui.Info("%d records changed before they could be processed", stats.Skipped)
	}
	if stats.Failed > 0 {
		ui.Warning("%d records failed; they will be retried on the next sweep", stats.Failed)
	}
	return nil
}
