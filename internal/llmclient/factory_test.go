package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Import schemas to access ModelTier constants for whitebox testing
	"github.com/dmage20/linkedin-job-agent/api/schemas"
	"github.com/dmage20/linkedin-job-agent/internal/config"
)

// -- Test Cases: Factory Initialization --

// Verifies that the factory correctly initializes the LLMRouter by looking up
// configurations from the models map.
func TestNewRouterFromConfig_Success(t *testing.T) {
	logger := setupTestLogger(t)

	// Define configurations for models in the map
	fastConfig := getValidLLMConfig()
	fastConfig.Model = "gemini-flash" // Differentiate models
	fastConfig.APIKey = "key-fast"

	powerfulConfig := getValidLLMConfig()
	powerfulConfig.Model = "gemini-pro"
	powerfulConfig.APIKey = "key-powerful"

	const fastName = "FastAlias"
	const powerfulName = "PowerfulAlias"

	cfg := config.LLMRouterConfig{
		DefaultFastModel:     fastName,
		DefaultPowerfulModel: powerfulName,
		Models: map[string]config.LLMModelConfig{
			fastName:     fastConfig,
			powerfulName: powerfulConfig,
		},
	}

	// Execute
	router, err := NewRouterFromConfig(cfg, logger)

	// Verification
	require.NoError(t, err, "NewRouterFromConfig should succeed for a valid configuration")
	require.NotNil(t, router)

	// White box testing: Verify the underlying clients were created and configured correctly.
	fastClient, okFast := router.clients[schemas.TierFast].(*GeminiClient)
	require.True(t, okFast, "Fast client should be an instance of *GeminiClient")
	assert.Equal(t, "gemini-flash", fastClient.config.Model)
	assert.Equal(t, "key-fast", fastClient.apiKey)

	powerfulClient, okPowerful := router.clients[schemas.TierPowerful].(*GeminiClient)
	require.True(t, okPowerful, "Powerful client should be an instance of *GeminiClient")
	assert.Equal(t, "gemini-pro", powerfulClient.config.Model)
	assert.Equal(t, "key-powerful", powerfulClient.apiKey)
}

// Verifies the robustness check against missing entries in the models map.
func TestNewRouterFromConfig_Failure_MissingConfiguration(t *testing.T) {
	logger := setupTestLogger(t)
	validConfig := getValidLLMConfig()
	const validName = "ValidModel"

	tests := []struct {
		name          string
		routerConfig  config.LLMRouterConfig
		expectedError string
	}{
		{
			name: "Fast model not found in map",
			routerConfig: config.LLMRouterConfig{
				DefaultFastModel:     "MissingModel",
				DefaultPowerfulModel: validName,
				Models:               map[string]config.LLMModelConfig{validName: validConfig},
			},
			expectedError: `no model configuration for fast tier model "MissingModel"`,
		},
		{
			name: "Powerful model not found in map",
			routerConfig: config.LLMRouterConfig{
				DefaultFastModel:     validName,
				DefaultPowerfulModel: "MissingModel",
				Models:               map[string]config.LLMModelConfig{validName: validConfig},
			},
			expectedError: `no model configuration for powerful tier model "MissingModel"`,
		},
		{
			name:          "Empty router config",
			routerConfig:  config.LLMRouterConfig{},
			expectedError: "no model configuration for fast tier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewRouterFromConfig(tt.routerConfig, logger)
			assert.Error(t, err)
			assert.Nil(t, router)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

// Verifies that the factory propagates errors from the specific client's constructor.
func TestNewRouterFromConfig_Failure_ProviderInitializationError(t *testing.T) {
	logger := setupTestLogger(t)
	validConfig := getValidLLMConfig()

	// Configuration is present but the required API key is missing.
	invalidConfig := getValidLLMConfig()
	invalidConfig.APIKey = ""

	const invalidName = "InvalidConfig"
	const validName = "ValidConfig"

	cfg := config.LLMRouterConfig{
		DefaultFastModel:     invalidName,
		DefaultPowerfulModel: validName,
		Models: map[string]config.LLMModelConfig{
			invalidName: invalidConfig,
			validName:   validConfig,
		},
	}

	router, err := NewRouterFromConfig(cfg, logger)
	assert.Error(t, err)
	assert.Nil(t, router)
	assert.Contains(t, err.Error(), "build fast tier client")
	assert.Contains(t, err.Error(), "Gemini API Key is required")
}

// Verifies the factory returns an error for unknown providers in any tier.
func TestNewClient_Failure_UnsupportedProvider(t *testing.T) {
	logger := setupTestLogger(t)

	unsupportedConfig := getValidLLMConfig()
	unsupportedConfig.Provider = "unsupported-provider-xyz"

	client, err := NewClient(unsupportedConfig, logger)

	assert.Error(t, err, "NewClient should fail for an unsupported provider")
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "unknown or unsupported LLM provider configured: 'unsupported-provider-xyz'")
	// Ensure the error message guides the user by listing supported options
	assert.Contains(t, err.Error(), string(config.ProviderGemini), "Error message should list supported providers")
}
