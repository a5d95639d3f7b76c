package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearLMSEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "LMS_BASE_URL", "LMS_USERNAME", "LMS_PASSWORD", "LMS_API_ACCESS_KEY",
		"LMS_MAX_RETRIES", "LMS_TOKEN_CACHE", "REDIS_URL", "DATABASE_URL", "DB_HOST",
		"LOG_LEVEL", "LOG_FORMAT", "ROUTER_MAX_PARALLEL", "FEATURE_AGENT_ACTIONS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearLMSEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "https://api.mahanls.com", cfg.LMS.BaseURL)
	assert.Equal(t, 3, cfg.LMS.MaxRetries)
	assert.Equal(t, time.Second, cfg.LMS.RetryBaseDelay)
	assert.Equal(t, TokenCacheNone, cfg.LMS.TokenCache)
	assert.Equal(t, 4, cfg.Router.MaxParallel)
	assert.Empty(t, cfg.Database.URL)
	assert.True(t, cfg.Features.AgentEnabled("actions", nil))
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearLMSEnv(t)
	t.Setenv("LMS_BASE_URL", "https://lms.example.org/")
	t.Setenv("LMS_USERNAME", " 0012345678 ")
	t.Setenv("LMS_PASSWORD", "secret")
	t.Setenv("LMS_MAX_RETRIES", "5")
	t.Setenv("LMS_RETRY_BASE_DELAY", "250ms")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("FEATURE_AGENT_ACTIONS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://lms.example.org", cfg.LMS.BaseURL)
	assert.Equal(t, "0012345678", cfg.LMS.Username)
	assert.True(t, cfg.LMS.HasCredentials())
	assert.Equal(t, 5, cfg.LMS.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.LMS.RetryBaseDelay)
	assert.Equal(t, "text", cfg.Observability.LogFormat)
	assert.False(t, cfg.Features.AgentEnabled("actions", nil))
}

func TestLoad_RejectsNonPositiveRetries(t *testing.T) {
	for _, v := range []string{"0", "-2"} {
		t.Run(v, func(t *testing.T) {
			clearLMSEnv(t)
			t.Setenv("LMS_MAX_RETRIES", v)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "LMS_MAX_RETRIES must be greater than 0")
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	clearLMSEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("LMS_TOKEN_CACHE", "redis")
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "REDIS_URL is required when LMS_TOKEN_CACHE=redis")
	assert.Contains(t, msg, "LMS_USERNAME and LMS_PASSWORD are required in production")
	assert.Contains(t, msg, `LOG_LEVEL must be one of [debug info warn error], got "verbose"`)
}

func TestValidate_DeprecatedKeySatisfiesProduction(t *testing.T) {
	clearLMSEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("LMS_API_ACCESS_KEY", "legacy")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestDatabaseURLFromComponents(t *testing.T) {
	clearLMSEnv(t)
	t.Setenv("DB_HOST", "db.local")
	t.Setenv("DB_USER", "lms")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_SSLMODE", "disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://lms:pw@db.local:5432/postgres?sslmode=disable", cfg.Database.URL)
}
