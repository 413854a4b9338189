package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/pomo/internal/api"
	"github.com/joescharf/pomo/internal/daemon"
	"github.com/joescharf/pomo/internal/pomodoro"
	"github.com/joescharf/pomo/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API server and expiry sweeper",
	Long: `Run the REST API and the expiry sweeper in the foreground.
By default it listens on port 8080. Use --port to change it.

Use 'pomo serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "pomo-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "pomo-serve.log")
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	logger := newLogger(os.Stderr)

	shutdownTracing, err := telemetry.Setup(ctx, "pomo", buildVersion, viper.GetString("otel.endpoint"))
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	s, err := getStore()
	if err != nil {
		return err
	}
	engine := newEngine(s, logger)

	opts := []api.Option{api.WithLogger(logger)}
	if secret := viper.GetString("auth.jwt_secret"); secret != "" {
		opts = append(opts, api.WithJWTSecret(secret))
	}
	if client := newLLMClient(); client != nil {
		opts = append(opts, api.WithEstimator(client))
	}

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(engine, s, opts...).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := pomodoro.NewSweeper(engine, viper.GetDuration("sweeper.interval"))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving API", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("server shutdown failed", "error", shutdownErr)
	}
	wg.Wait()
	logger.Info("server stopped")
	return err
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server %w (PID %d)", daemon.ErrAlreadyRunning, pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	logPath := serveLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("port"))}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}
	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.Acquire(child.Process.Pid); err != nil {
		_ = child.Process.Kill()
		return err
	}
	_ = child.Process.Release()

	ui.Success("Server started (PID %d) on port %d", child.Process.Pid, viper.GetInt("port"))
	ui.Info("Logs: %s", logPath)
	return nil
}

func serveStopRun() error {
	pid, err := pidFile().Stop(cmdContext(), shutdownTimeout)
	if err != nil {
		return err
	}
	ui.Success("Server stopped (PID %d)", pid)
	return nil
}

func serveStatusRun() error {
	pid, running := pidFile().IsRunning()
	if !running {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server is running (PID %d)", pid)
	ui.Info("Logs: %s", serveLogPath())
	return nil
}
