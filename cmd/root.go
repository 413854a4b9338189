package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/pomo/internal/output"
	"github.com/joescharf/pomo/internal/pomodoro"
	"github.com/joescharf/pomo/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pomo",
	Short: "Pomodoro timer - tasks, focus sessions, and an expiry sweeper",
	Long: `pomo tracks tasks and the pomodoro sessions spent on them.
Sessions can be paused and resumed; completing one counts it against the
task and starts the next session until the estimate is met. A background
sweeper completes sessions whose time ran out with no client around.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/pomo/config.yaml)")
	rootCmd.PersistentFlags().StringP("user", "u", "", "User ID for task and session commands (default $USER)")
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "pomo")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("POMO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "pomo"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default, rooted at stateDir.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "pomo.db"))
	viper.SetDefault("user", defaultUser())
	viper.SetDefault("session.duration_minutes", pomodoro.DefaultDurationMinutes)
	viper.SetDefault("sweeper.interval", pomodoro.DefaultSweepInterval)
	viper.SetDefault("port", 8080)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func defaultUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

func cmdContext() context.Context {
	if ctx := rootCmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(cmdContext()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// currentUser returns the configured user identity.
func currentUser() (string, error) {
	u := strings.TrimSpace(viper.GetString("user"))
	if u == "" {
		return "", fmt.Errorf("no user configured: pass --user or set POMO_USER")
	}
	return u, nil
}

// newLogger builds the process logger from log.level and log.format.
// --verbose forces debug level.
func newLogger(w io.Writer) *slog.Logger {
	level := parseLevel(viper.GetString("log.level"))
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(viper.GetString("log.format"), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newEngine builds the session engine over s with the configured duration.
func newEngine(s store.Store, logger *slog.Logger) *pomodoro.Engine {
	return pomodoro.NewEngine(s,
		pomodoro.WithDuration(viper.GetInt("session.duration_minutes")),
		pomodoro.WithLogger(logger),
	)
}

// cliEngine opens the store and builds an engine for one-shot commands,
// logging to stderr.
func cliEngine() (*pomodoro.Engine, store.Store, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	return newEngine(s, newLogger(os.Stderr)), s, nil
}
