package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/pomo/internal/mcp"
	"github.com/joescharf/pomo/internal/pomodoro"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client drive pomo tasks and sessions. The expiry sweeper
runs alongside so sessions still complete on time. Configure with:

  {
    "mcpServers": {
      "pomo": { "command": "pomo", "args": ["mcp"] }
    }
  }

Available tools: pomo_list_tasks, pomo_create_task, pomo_start_session,
pomo_pause_session, pomo_resume_session, pomo_complete_session,
pomo_cancel_session, pomo_list_sessions, pomo_active_session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	// stdout carries the protocol; logs go to stderr.
	logger := newLogger(os.Stderr)
	engine := newEngine(s, logger)

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	sweeper := pomodoro.NewSweeper(engine, viper.GetDuration("sweeper.interval"))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	srv := mcp.NewServer(engine, s, viper.GetString("user"), buildVersion)
	err = srv.ServeStdio(ctx)
	stop()
	wg.Wait()
	return err
}
