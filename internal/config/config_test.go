// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "npx", cfg.Driver.Command)
	assert.Equal(t, 30*time.Second, cfg.Driver.CallTimeout)
	assert.Equal(t, 5*time.Second, cfg.Driver.ShutdownGrace)
	assert.Equal(t, 4000, cfg.Triage.TokenBudget)
	assert.Equal(t, 50, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, 10, cfg.Orchestrator.HistoryWindow)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.DecideTimeout)
	assert.Equal(t, 10, cfg.Safety.ApplicationsPerHour)
	assert.Equal(t, 50, cfg.Safety.ApplicationsPerDay)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.DefaultPowerfulModel)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		err := cfg.Validate()
		assert.NoError(t, err, "A valid config should not produce a validation error")

		cfgNoCommand := *cfg
		cfgNoCommand.Driver.Command = ""
		err = cfgNoCommand.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "driver.command is required")

		cfgBadTimeout := *cfg
		cfgBadTimeout.Driver.CallTimeout = 0
		err = cfgBadTimeout.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "driver.call_timeout must be a positive duration")

		cfgBadBudget := *cfg
		cfgBadBudget.Triage.TokenBudget = -1
		err = cfgBadBudget.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "triage.token_budget must be a positive integer")

		cfgBadIterations := *cfg
		cfgBadIterations.Orchestrator.MaxIterations = 0
		err = cfgBadIterations.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "orchestrator.max_iterations must be a positive integer")
	})

	t.Run("Safety Validation", func(t *testing.T) {
		valid := SafetyConfig{
			ApplicationsPerHour:    5,
			ApplicationsPerDay:     20,
			MaxConsecutiveFailures: 3,
			FailureCooldown:        30 * time.Minute,
		}
		assert.NoError(t, valid.Validate())

		hourlyOverDaily := valid
		hourlyOverDaily.ApplicationsPerHour = 25
		err := hourlyOverDaily.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "applications_per_hour cannot exceed applications_per_day")

		zeroDaily := valid
		zeroDaily.ApplicationsPerDay = 0
		err = zeroDaily.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "applications_per_day must be positive")

		zeroFailures := valid
		zeroFailures.MaxConsecutiveFailures = 0
		err = zeroFailures.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_consecutive_failures must be positive")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
driver:
  command: "node"
  args: ["driver.js"]
  call_timeout: 45s
triage:
  token_budget: 2500
safety:
  applications_per_hour: 3
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		err := v.ReadConfig(bytes.NewBuffer(yamlBytes))
		require.NoError(t, err)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "node", cfg.Driver.Command)
		assert.Equal(t, []string{"driver.js"}, cfg.Driver.Args)
		assert.Equal(t, 45*time.Second, cfg.Driver.CallTimeout)
		assert.Equal(t, 2500, cfg.Triage.TokenBudget)
		assert.Equal(t, 3, cfg.Safety.ApplicationsPerHour)
		// Check a default value was also loaded.
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("orchestrator.max_iterations", 0) // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "orchestrator.max_iterations must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		yamlConfig := []byte(`
database:
  url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		err := v.ReadConfig(bytes.NewBuffer(yamlConfig))
		require.NoError(t, err, "Failed to read mock config buffer")

		testDBURL := "postgres://envvar/db"
		t.Setenv("LINKEDIN_AGENT_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// The env var must override the value from the config buffer.
		assert.Equal(t, testDBURL, cfg.Database.URL)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/agent.log
orchestrator:
  decide_timeout: 90s
llm:
  models:
    gemini-2.5-pro:
      provider: gemini
      model: gemini-2.5-pro
      api_timeout: 60s
      temperature: 0.2
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	err := v.ReadConfig(bytes.NewBufferString(yamlInput))
	require.NoError(t, err)

	var cfg Config
	err = v.Unmarshal(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/log/agent.log", cfg.Logger.LogFile)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.DecideTimeout)

	mc, ok := cfg.LLM.ModelFor("powerful")
	require.True(t, ok)
	assert.Equal(t, ProviderGemini, mc.Provider)
	assert.Equal(t, 60*time.Second, mc.APITimeout)
	assert.InDelta(t, 0.2, float64(mc.Temperature), 0.001)
}

func TestModelForTierFallback(t *testing.T) {
	cfg := LLMRouterConfig{
		DefaultFastModel:     "fast-model",
		DefaultPowerfulModel: "big-model",
		Models: map[string]LLMModelConfig{
			"fast-model": {Provider: ProviderGemini, Model: "fast-model"},
			"big-model":  {Provider: ProviderGemini, Model: "big-model"},
		},
	}

	fast, ok := cfg.ModelFor("fast")
	require.True(t, ok)
	assert.Equal(t, "fast-model", fast.Model)

	powerful, ok := cfg.ModelFor("powerful")
	require.True(t, ok)
	assert.Equal(t, "big-model", powerful.Model)

	_, ok = LLMRouterConfig{}.ModelFor("fast")
	assert.False(t, ok)
}
