package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestServerConfig_Timeouts_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}
}

func TestServerConfig_Timeouts_InvalidDurationFallsBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestRegistrationConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	reg := cfg.Registration
	assert.Equal(t, 10*time.Minute, reg.CodeTTL)
	assert.Equal(t, 24*time.Hour, reg.CompletionTokenTTL)
	assert.Equal(t, 5, reg.MaxVerificationAttempts)
	assert.Equal(t, 7*24*time.Hour, reg.DecisionWindow)
	assert.Equal(t, time.Minute, reg.ResendCooldown)
	assert.Equal(t, "@every 15m", reg.SweepSchedule)
	assert.Equal(t, EmailProviderLog, cfg.Email.Provider)
}

func TestRegistrationConfig_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REGISTRATION_CODE_TTL", "5m")
	t.Setenv("REGISTRATION_MAX_ATTEMPTS", "3")
	t.Setenv("PUBLIC_BASE_URL", "https://app.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Registration.CodeTTL)
	assert.Equal(t, 3, cfg.Registration.MaxVerificationAttempts)
	assert.Equal(t, "https://app.example.com", cfg.Registration.PublicBaseURL)
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing jwt secret", map[string]string{"JWT_SECRET": ""}},
		{"short jwt secret", map[string]string{"JWT_SECRET": "short"}},
		{"missing db password", map[string]string{"DB_PASSWORD": ""}},
		{"zero attempts", map[string]string{"REGISTRATION_MAX_ATTEMPTS": "0"}},
		{"negative code ttl", map[string]string{"REGISTRATION_CODE_TTL": "-1m"}},
		{"hash cost too low", map[string]string{"REGISTRATION_SECRET_HASH_COST": "2"}},
		{"unknown email provider", map[string]string{"EMAIL_PROVIDER": "carrier-pigeon"}},
		{"sendgrid without key", map[string]string{"EMAIL_PROVIDER": "sendgrid"}},
		{"log provider in production", map[string]string{"ENV": "production", "JWT_SECRET": "a-very-long-production-secret-value-123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestParseAllowedOrigins_Production(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	origins := parseAllowedOrigins("production")
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, origins)
}

func TestDatabaseConfig_AutoMigrate(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Database.AutoMigrate, "development migrates on start")

	t.Setenv("DB_AUTO_MIGRATE", "false")
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.Database.AutoMigrate)
}
