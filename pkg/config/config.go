package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds every setting spec.md §6 names as the minimum CLI/environment
// surface, plus the data directory the checkpoint store and envsecrets
// cipher need.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	LogDir   string `yaml:"logDir"`
	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJSON"`

	DataDir   string `yaml:"dataDir"`
	MaxAgents int    `yaml:"maxAgents"`

	HealthcheckIntervalMs int `yaml:"healthcheckIntervalMs"`
	ShutdownGraceMs       int `yaml:"shutdownGraceMs"`
	MCPHeartbeatMs        int `yaml:"mcpHeartbeatMs"`
}

// Default returns the built-in defaults, the lowest-priority layer.
func Default() Config {
	return Config{
		Host:                  "127.0.0.1",
		Port:                  9090,
		LogDir:                "./data/logs",
		LogLevel:              "info",
		LogJSON:               false,
		DataDir:               "./data",
		MaxAgents:             64,
		HealthcheckIntervalMs: 5000,
		ShutdownGraceMs:       5000,
		MCPHeartbeatMs:        30000,
	}
}

// LoadFile reads an optional YAML defaults file and merges it over
// Default(). A missing path is not an error; the caller asks for it
// explicitly via --config, so an empty path here just means "none given".
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays the environment variables spec.md §6 names onto cfg.
// Unset or unparsable variables leave the existing value untouched.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("HOST"); ok {
		c.Host = v
	}
	if v, ok := lookupEnvInt("PORT"); ok {
		c.Port = v
	}
	if v, ok := os.LookupEnv("LOG_DIR"); ok {
		c.LogDir = v
	}
	if v, ok := lookupEnvInt("MAX_AGENTS"); ok {
		c.MaxAgents = v
	}
	if v, ok := lookupEnvInt("HEALTHCHECK_INTERVAL_MS"); ok {
		c.HealthcheckIntervalMs = v
	}
	if v, ok := lookupEnvInt("SHUTDOWN_GRACE_MS"); ok {
		c.ShutdownGraceMs = v
	}
	if v, ok := lookupEnvInt("MCP_HEARTBEAT_MS"); ok {
		c.MCPHeartbeatMs = v
	}
}

func lookupEnvInt(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// BindFlags registers the highest-priority layer: cobra flags seeded with
// cfg's current values (defaults-then-file-then-env), so an unset flag
// falls through to whatever ApplyEnv/LoadFile already resolved.
func BindFlags(cmd *cobra.Command, cfg *Config) {
	cmd.Flags().StringVar(&cfg.Host, "host", cfg.Host, "bind host for the metrics/health HTTP server")
	cmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "bind port for the metrics/health HTTP server")
	cmd.Flags().StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for the rotating event log")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit structured JSON logs instead of console format")
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the checkpoint store")
	cmd.Flags().IntVar(&cfg.MaxAgents, "max-agents", cfg.MaxAgents, "maximum number of concurrently live agents")
	cmd.Flags().IntVar(&cfg.HealthcheckIntervalMs, "healthcheck-interval-ms", cfg.HealthcheckIntervalMs, "health prober tick interval in milliseconds")
	cmd.Flags().IntVar(&cfg.ShutdownGraceMs, "shutdown-grace-ms", cfg.ShutdownGraceMs, "graceful shutdown deadline in milliseconds before escalating to SIGKILL")
	cmd.Flags().IntVar(&cfg.MCPHeartbeatMs, "mcp-heartbeat-ms", cfg.MCPHeartbeatMs, "tool-server HTTP+SSE heartbeat interval in milliseconds")
}

// Validate rejects settings outside their valid range (spec.md §6 exit code
// 2 "bad config").
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.MaxAgents <= 0 {
		return fmt.Errorf("config: max-agents must be positive")
	}
	if c.HealthcheckIntervalMs <= 0 {
		return fmt.Errorf("config: healthcheck-interval-ms must be positive")
	}
	if c.ShutdownGraceMs <= 0 {
		return fmt.Errorf("config: shutdown-grace-ms must be positive")
	}
	if c.MCPHeartbeatMs <= 0 {
		return fmt.Errorf("config: mcp-heartbeat-ms must be positive")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data-dir is required")
	}
	return nil
}

// Addr returns the host:port pair the metrics/health HTTP server binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
