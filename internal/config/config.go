// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Driver       DriverConfig       `mapstructure:"driver" yaml:"driver"`
	Triage       TriageConfig       `mapstructure:"triage" yaml:"triage"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Safety       SafetyConfig       `mapstructure:"safety" yaml:"safety"`
	LLM          LLMRouterConfig    `mapstructure:"llm" yaml:"llm"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Profile      ProfileConfig      `mapstructure:"profile" yaml:"profile"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DriverConfig configures the external browser-driver subprocess and the
// JSON-RPC client that owns it.
type DriverConfig struct {
	// Command and Args launch the driver (e.g. "npx", ["@playwright/mcp@latest"]).
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
	// CallTimeout bounds every individual RPC round trip.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	// ShutdownGrace is how long Close waits after SIGTERM before force-killing.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
	// MaxLineBytes caps a single inbound protocol line (snapshots are large).
	MaxLineBytes int `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
}

// TriageConfig tunes snapshot reduction.
type TriageConfig struct {
	// TokenBudget is the hard size budget for a triaged snapshot, in
	// estimated tokens (len/4).
	TokenBudget int `mapstructure:"token_budget" yaml:"token_budget"`
	// ProseCollapseLen collapses any non-actionable text run longer than this
	// many characters to a placeholder.
	ProseCollapseLen int `mapstructure:"prose_collapse_len" yaml:"prose_collapse_len"`
	// SimilarRunLen collapses runs of this many or more similar lines to a
	// count marker.
	SimilarRunLen int `mapstructure:"similar_run_len" yaml:"similar_run_len"`
}

// OrchestratorConfig bounds the stepwise application loop.
type OrchestratorConfig struct {
	// MaxIterations is the safety valve on the main loop.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// HistoryWindow is how many recent exchanges are kept for the policy.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
	// DecideTimeout is the outer ceiling on a single policy decision, applied
	// regardless of the policy's own timeout behavior.
	DecideTimeout time.Duration `mapstructure:"decide_timeout" yaml:"decide_timeout"`
}

/// SafetyConfig mirrors the application-automation safety framework: hard
// caps, pacing and the emergency stop.
type SafetyConfig struct {
	ApplicationsPerHour    int           `mapstructure:"applications_per_hour" yaml:"applications_per_hour"`
	ApplicationsPerDay     int           `mapstructure:"applications_per_day" yaml:"applications_per_day"`
	MinActionDelay         time.Duration `mapstructure:"min_action_delay" yaml:"min_action_delay"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	FailureCooldown        time.Duration `mapstructure:"failure_cooldown" yaml:"failure_cooldown"`
	EmergencyStopFile      string        `mapstructure:"emergency_stop_file" yaml:"emergency_stop_file"`
}

// DatabaseConfig holds the application-log database connection details.
// Empty URL means run without persistence (logging sink only).
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ProfileConfig points at the applicant profile file.
type ProfileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// ModelFor resolves the model config for a tier name ("fast"/"powerful"),
// falling back to the default model names.
func (c LLMRouterConfig) ModelFor(tier string) (LLMModelConfig, bool) {
	name := c.DefaultPowerfulModel
	if tier == "fast" {
		name = c.DefaultFastModel
	}
	mc, ok := c.Models[name]
	return mc, ok
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "linkedin-job-agent")
	v.SetDefault("logger.log_file", "agent.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Driver --
	v.SetDefault("driver.command", "npx")
	v.SetDefault("driver.args", []string{"@playwright/mcp@latest"})
	v.SetDefault("driver.call_timeout", "30s")
	v.SetDefault("driver.shutdown_grace", "5s")
	v.SetDefault("driver.max_line_bytes", 16*1024*1024)

	// -- Triage --
	v.SetDefault("triage.token_budget", 4000)
	v.SetDefault("triage.prose_collapse_len", 240)
	v.SetDefault("triage.similar_run_len", 5)

	// -- Orchestrator --
	v.SetDefault("orchestrator.max_iterations", 50)
	v.SetDefault("orchestrator.history_window", 10)
	v.SetDefault("orchestrator.decide_timeout", "2m")

	// -- Safety --
	v.SetDefault("safety.applications_per_hour", 10)
	v.SetDefault("safety.applications_per_day", 50)
	v.SetDefault("safety.min_action_delay", "2s")
	v.SetDefault("safety.max_consecutive_failures", 3)
	v.SetDefault("safety.failure_cooldown", "30m")
	v.SetDefault("safety.emergency_stop_file", "/tmp/linkedin_agent_emergency_stop")

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")

	// -- Profile --
	v.SetDefault("profile.path", "profile.yaml")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "LINKEDIN_AGENT_DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Driver.Command == "" {
		return fmt.Errorf("driver.command is required")
	}
	if c.Driver.CallTimeout <= 0 {
		return fmt.Errorf("driver.call_timeout must be a positive duration")
	}
	if c.Driver.ShutdownGrace <= 0 {
		return fmt.Errorf("driver.shutdown_grace must be a positive duration")
	}
	if c.Triage.TokenBudget <= 0 {
		return fmt.Errorf("triage.token_budget must be a positive integer")
	}
	if c.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("orchestrator.max_iterations must be a positive integer")
	}
	if c.Orchestrator.HistoryWindow < 0 {
		return fmt.Errorf("orchestrator.history_window cannot be negative")
	}
	if err := c.Safety.Validate(); err != nil {
		return fmt.Errorf("safety configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the safety caps.
func (s *SafetyConfig) Validate() error {
	if s.ApplicationsPerHour <= 0 {
		return fmt.Errorf("applications_per_hour must be positive")
	}
	if s.ApplicationsPerDay <= 0 {
		return fmt.Errorf("applications_per_day must be positive")
	}
	if s.ApplicationsPerHour > s.ApplicationsPerDay {
		return fmt.Errorf("applications_per_hour cannot exceed applications_per_day")
	}
	if s.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max_consecutive_failures must be positive")
	}
	return nil
}
