package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pomo"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage pomo configuration.

Running bare 'pomo config' is the same as 'pomo config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# pomo configuration
# See: pomo config show (for effective values and sources)

# State/data directory (default: ~/.config/pomo)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/pomo/pomo.db)
# db_path: {{ .DBPath }}

# User ID for CLI commands (default: $USER)
user: "{{ .User }}"

# Sessions
session:
  # Length of a new session in minutes (default: 25)
  duration_minutes: {{ .DurationMinutes }}

# Expiry sweeper
sweeper:
  # How often to complete sessions whose time ran out (default: 15s)
  interval: {{ .SweepInterval }}

# API server port for 'pomo serve' (default: 8080)
port: {{ .Port }}

# API authentication. With a secret, callers must send an HS256 bearer token
# whose sub claim is the user ID; without one the X-User-ID header is trusted.
auth:
  jwt_secret: ""

# Logging
log:
  # debug, info, warn, error (default: info)
  level: "{{ .LogLevel }}"
  # text or json (default: text)
  format: "{{ .LogFormat }}"

# OpenTelemetry OTLP/HTTP endpoint, e.g. http://localhost:4318 (empty disables tracing)
otel:
  endpoint: "{{ .OtelEndpoint }}"

# Anthropic model used by 'pomo task add --estimate-ai'
anthropic:
  # api_key: set here or via ANTHROPIC_API_KEY
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir        string
	DBPath          string
	User            string
	DurationMinutes int
	SweepInterval   string
	Port            int
	LogLevel        string
	LogFormat       string
	OtelEndpoint    string
	AnthropicModel  string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:        viper.GetString("state_dir"),
		DBPath:          viper.GetString("db_path"),
		User:            viper.GetString("user"),
		DurationMinutes: viper.GetInt("session.duration_minutes"),
		SweepInterval:   viper.GetDuration("sweeper.interval").String(),
		Port:            viper.GetInt("port"),
		LogLevel:        viper.GetString("log.level"),
		LogFormat:       viper.GetString("log.format"),
		OtelEndpoint:    viper.GetString("otel.endpoint"),
		AnthropicModel:  viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "POMO_STATE_DIR"},
	{Key: "db_path", EnvVar: "POMO_DB_PATH"},
	{Key: "user", EnvVar: "POMO_USER"},
	{Key: "session.duration_minutes", EnvVar: "POMO_SESSION_DURATION_MINUTES"},
	{Key: "sweeper.interval", EnvVar: "POMO_SWEEPER_INTERVAL"},
	{Key: "port", EnvVar: "POMO_PORT"},
	{Key: "auth.jwt_secret", EnvVar: "POMO_AUTH_JWT_SECRET"},
	{Key: "log.level", EnvVar: "POMO_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "POMO_LOG_FORMAT"},
	{Key: "otel.endpoint", EnvVar: "POMO_OTEL_ENDPOINT"},
	{Key: "anthropic.model", EnvVar: "POMO_ANTHROPIC_MODEL"},
}

// secretKeys are masked in 'config show'.
var secretKeys = map[string]bool{"auth.jwt_secret": true}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if secretKeys[k.Key] && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'pomo config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
