package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Auth         AuthConfig
	Registration RegistrationConfig
	Email        EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// RegistrationConfig bounds the onboarding secrets and deadlines.
type RegistrationConfig struct {
	CodeTTL                 time.Duration
	CompletionTokenTTL      time.Duration
	MaxVerificationAttempts int
	DecisionWindow          time.Duration
	ResendCooldown          time.Duration
	SecretHashCost          int
	StoreTimeout            time.Duration
	SweepSchedule           string
	PublicBaseURL           string
}

// Email providers
const (
	EmailProviderSES      = "ses"
	EmailProviderSendGrid = "sendgrid"
	EmailProviderLog      = "log"
)

type EmailConfig struct {
	Provider       string
	FromAddress    string
	FromName       string
	AWSRegion      string
	SendGridAPIKey string
	SendTimeout    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: loadDatabaseConfig(env),
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
		},
		Registration: RegistrationConfig{
			CodeTTL:                 getEnvAsDuration("REGISTRATION_CODE_TTL", 10*time.Minute),
			CompletionTokenTTL:      getEnvAsDuration("REGISTRATION_COMPLETION_TOKEN_TTL", 24*time.Hour),
			MaxVerificationAttempts: getEnvAsInt("REGISTRATION_MAX_ATTEMPTS", 5),
			DecisionWindow:          getEnvAsDuration("REGISTRATION_DECISION_WINDOW", 7*24*time.Hour),
			ResendCooldown:          getEnvAsDuration("REGISTRATION_RESEND_COOLDOWN", 1*time.Minute),
			SecretHashCost:          getEnvAsInt("REGISTRATION_SECRET_HASH_COST", 10),
			StoreTimeout:            getEnvAsDuration("REGISTRATION_STORE_TIMEOUT", 5*time.Second),
			SweepSchedule:           getEnv("REGISTRATION_SWEEP_SCHEDULE", "@every 15m"),
			PublicBaseURL:           strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:5173"), "/"),
		},
		Email: EmailConfig{
			Provider:       strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderLog)),
			FromAddress:    getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
			FromName:       getEnv("EMAIL_FROM_NAME", "CarePath"),
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			SendTimeout:    getEnvAsDuration("EMAIL_SEND_TIMEOUT", 10*time.Second),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Registration.validate(); err != nil {
		return nil, err
	}

	if err := cfg.Email.validate(env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings. The operator CLI uses it so
// migrations do not require the API's secrets.
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg := loadDatabaseConfig(getEnv("ENV", "development"))
	if cfg.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	return &cfg, nil
}

func loadDatabaseConfig(env string) DatabaseConfig {
	return DatabaseConfig{
		Host:              getEnv("DB_HOST", "localhost"),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "carepath"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", env != "production"),
	}
}

func (c *RegistrationConfig) validate() error {
	durations := map[string]time.Duration{
		"REGISTRATION_CODE_TTL":             c.CodeTTL,
		"REGISTRATION_COMPLETION_TOKEN_TTL": c.CompletionTokenTTL,
		"REGISTRATION_DECISION_WINDOW":      c.DecisionWindow,
		"REGISTRATION_STORE_TIMEOUT":        c.StoreTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.ResendCooldown < 0 {
		return fmt.Errorf("REGISTRATION_RESEND_COOLDOWN cannot be negative")
	}
	if c.MaxVerificationAttempts < 1 {
		return fmt.Errorf("REGISTRATION_MAX_ATTEMPTS must be at least 1")
	}
	if c.SecretHashCost < 4 || c.SecretHashCost > 31 {
		return fmt.Errorf("REGISTRATION_SECRET_HASH_COST must be between 4 and 31")
	}
	return nil
}

func (c *EmailConfig) validate(env string) error {
	switch c.Provider {
	case EmailProviderSES:
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required for the ses email provider")
		}
	case EmailProviderSendGrid:
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required for the sendgrid email provider")
		}
	case EmailProviderLog:
		if env == "production" {
			return fmt.Errorf("EMAIL_PROVIDER=log is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown EMAIL_PROVIDER %q", c.Provider)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS")
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
