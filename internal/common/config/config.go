// Package config provides configuration management for the swarm
// coordination core, loaded from environment variables, an optional config
// file, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration sections for swarmcore.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Session     SessionConfig     `mapstructure:"session"`
	AutoSave    AutoSaveConfig    `mapstructure:"autosave"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	MCP         MCPConfig         `mapstructure:"mcp"`
	TestMode    bool              `mapstructure:"testMode"`
}

// ServerConfig holds the programmatic HTTP API's listener configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the SQLite store's connection configuration.
type DatabaseConfig struct {
	Path         string `mapstructure:"path"`
	BusyTimeout  int    `mapstructure:"busyTimeout"`  // in milliseconds
	ReaderConns  int    `mapstructure:"readerConns"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// SessionConfig holds session-manager behavior: storage roots and orphan
// cleanup timing.
type SessionConfig struct {
	StorageDir          string `mapstructure:"storageDir"`
	ArchiveAfterHours   int    `mapstructure:"archiveAfterHours"`
	StopGracePeriodSecs int    `mapstructure:"stopGracePeriodSeconds"`
}

// AutoSaveConfig holds auto-save middleware scheduling.
type AutoSaveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	IntervalSeconds int    `mapstructure:"intervalSeconds"`
	CronSchedule    string `mapstructure:"cronSchedule"`
}

// MemoryConfig holds the memory store's backend and TTL behavior.
type MemoryConfig struct {
	Backend       string `mapstructure:"backend"` // "sqlite", "memory", or "auto" (fallback)
	DefaultTTLSec int    `mapstructure:"defaultTtlSeconds"`
}

// CoordinatorConfig holds coordinator/scheduler tuning.
type CoordinatorConfig struct {
	MaxAgents            int    `mapstructure:"maxAgents"`
	MaxTasks             int    `mapstructure:"maxTasks"`
	MaxConcurrentAgents  int    `mapstructure:"maxConcurrentAgents"`
	TerminalType         string `mapstructure:"terminalType"`
	HeartbeatIntervalSec int    `mapstructure:"heartbeatIntervalSeconds"`
	HeartbeatTimeoutSec  int    `mapstructure:"heartbeatTimeoutSeconds"`
}

// ExecutorConfig holds agent-driver execution tuning.
type ExecutorConfig struct {
	DefaultTimeoutSeconds int `mapstructure:"defaultTimeoutSeconds"`
	DefaultMaxRetries     int `mapstructure:"defaultMaxRetries"`
	OutputBufferBytes     int `mapstructure:"outputBufferBytes"`

	// AgentCommand, when set, selects the SubprocessDriver: every dispatched
	// task runs this command with its instructions on stdin. Left empty,
	// the coordinator falls back to an in-process no-op driver, suitable
	// for exercising the scheduling/decomposition path without a real
	// agent binary installed.
	AgentCommand string   `mapstructure:"agentCommand"`
	AgentArgs    []string `mapstructure:"agentArgs"`
	AgentBaseDir string   `mapstructure:"agentBaseDir"`
}

// MCPConfig holds the MCP transport surface configuration.
type MCPConfig struct {
	Transport string `mapstructure:"transport"` // "stdio" or "http"
	Port      int    `mapstructure:"port"`
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (c *CoordinatorConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

func (c *CoordinatorConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSec) * time.Second
}

func (s *SessionConfig) StopGracePeriod() time.Duration {
	return time.Duration(s.StopGracePeriodSecs) * time.Second
}

// detectDefaultLogFormat picks an environment-aware default: JSON under
// Kubernetes or an explicit production env, text otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("SWARMCORE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.path", "./swarmcore.db")
	v.SetDefault("database.busyTimeout", 5000)
	v.SetDefault("database.readerConns", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("session.storageDir", "./.hive-mind/sessions")
	v.SetDefault("session.archiveAfterHours", 24)
	v.SetDefault("session.stopGracePeriodSeconds", 5)

	v.SetDefault("autosave.enabled", true)
	v.SetDefault("autosave.intervalSeconds", 30)
	v.SetDefault("autosave.cronSchedule", "*/30 * * * * *")

	v.SetDefault("memory.backend", "auto")
	v.SetDefault("memory.defaultTtlSeconds", 0) // 0 == no expiry

	v.SetDefault("coordinator.maxAgents", 8)
	v.SetDefault("coordinator.maxTasks", 1000)
	v.SetDefault("coordinator.maxConcurrentAgents", 8)
	v.SetDefault("coordinator.terminalType", "auto")
	v.SetDefault("coordinator.heartbeatIntervalSeconds", 10)
	v.SetDefault("coordinator.heartbeatTimeoutSeconds", 30)

	v.SetDefault("executor.defaultTimeoutSeconds", 600)
	v.SetDefault("executor.defaultMaxRetries", 3)
	v.SetDefault("executor.outputBufferBytes", 1<<20)
	v.SetDefault("executor.agentCommand", "")
	v.SetDefault("executor.agentBaseDir", "./.hive-mind/agent-cache")

	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.port", 3000)

	v.SetDefault("testMode", false)
}

// Load reads configuration from a .env file (if present), environment
// variables, an optional config.yaml, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified config file directory,
// or default locations if empty.
func LoadWithPath(configPath string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SWARMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the CLAUDE_FLOW_* legacy env var names this
	// system's CLI surface is expected to honor alongside SWARMCORE_*.
	_ = v.BindEnv("coordinator.maxAgents", "CLAUDE_FLOW_MAX_AGENTS")
	_ = v.BindEnv("coordinator.terminalType", "CLAUDE_FLOW_TERMINAL_TYPE")
	_ = v.BindEnv("memory.backend", "CLAUDE_FLOW_MEMORY_BACKEND")
	_ = v.BindEnv("mcp.transport", "CLAUDE_FLOW_MCP_TRANSPORT")
	_ = v.BindEnv("mcp.port", "CLAUDE_FLOW_MCP_PORT")
	_ = v.BindEnv("logging.level", "CLAUDE_FLOW_LOG_LEVEL")
	_ = v.BindEnv("testMode", "HIVE_TEST_MODE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/swarmcore/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Coordinator.MaxAgents <= 0 {
		errs = append(errs, "coordinator.maxAgents must be positive")
	}
	validBackends := map[string]bool{"sqlite": true, "memory": true, "auto": true}
	if !validBackends[strings.ToLower(cfg.Memory.Backend)] {
		errs = append(errs, "memory.backend must be one of: sqlite, memory, auto")
	}
	validTransports := map[string]bool{"stdio": true, "http": true}
	if !validTransports[strings.ToLower(cfg.MCP.Transport)] {
		errs = append(errs, "mcp.transport must be one of: stdio, http")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
