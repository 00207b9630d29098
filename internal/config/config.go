// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Checkpoint backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendNATS     = "nats"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSOrigins        []string

	// NATS settings
	NATSURL           string
	NATSCAFile        string
	NATSCertFile      string
	NATSKeyFile       string
	NATSToken         string
	NATSEventsEnabled bool

	// JWT settings
	JWTSecret string

	// Checkpoint storage
	CheckpointBackend     string
	CheckpointCodec       string
	CheckpointCompression string
	SQLitePath            string
	PostgresDSN           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string

	// Workflow
	ConfidenceThreshold float64
	MaxSlotFillingTurns int
	MaxStepsPerTurn     int
	CollaboratorRetries int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables, after loading a .env
// file from the working directory when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		CORSOrigins:        getListEnv("CORS_ORIGINS"),

		// NATS
		NATSURL:           getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:        getEnv("NATS_CA_FILE", ""),
		NATSCertFile:      getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:       getEnv("NATS_KEY_FILE", ""),
		NATSToken:         getEnv("NATS_TOKEN", ""),
		NATSEventsEnabled: getBoolEnv("NATS_EVENTS_ENABLED", false),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Checkpoints
		CheckpointBackend:     strings.ToLower(getEnv("CHECKPOINT_BACKEND", BackendMemory)),
		CheckpointCodec:       strings.ToLower(getEnv("CHECKPOINT_CODEC", "msgpack")),
		CheckpointCompression: strings.ToLower(getEnv("CHECKPOINT_COMPRESSION", "none")),
		SQLitePath:            getEnv("SQLITE_PATH", "checkpoints.db"),
		PostgresDSN:           getEnv("POSTGRES_DSN", ""),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getIntEnv("REDIS_DB", 0),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      strings.ToLower(getEnv("DEFAULT_LLM", "anthropic")),
		LLMModel:        getEnv("LLM_MODEL", ""),

		// Workflow
		ConfidenceThreshold: getFloatEnv("CONFIDENCE_THRESHOLD", 0.6),
		MaxSlotFillingTurns: getIntEnv("MAX_SLOT_FILLING_TURNS", 20),
		MaxStepsPerTurn:     getIntEnv("MAX_STEPS_PER_TURN", 50),
		CollaboratorRetries: getIntEnv("COLLABORATOR_RETRIES", 2),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.CheckpointBackend {
	case BackendMemory, BackendSQLite, BackendRedis, BackendNATS:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CHECKPOINT_BACKEND %q", c.CheckpointBackend))
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0, 1], got %v", c.ConfidenceThreshold))
	}
	if c.MaxSlotFillingTurns <= 0 {
		errs = append(errs, errors.New("MAX_SLOT_FILLING_TURNS must be positive"))
	}
	if c.MaxStepsPerTurn <= 0 {
		errs = append(errs, errors.New("MAX_STEPS_PER_TURN must be positive"))
	}
	if c.CollaboratorRetries < 0 {
		errs = append(errs, errors.New("COLLABORATOR_RETRIES cannot be negative"))
	}

	return errors.Join(errs...)
}

// NeedsNATS reports whether any configured component connects to NATS.
func (c *Config) NeedsNATS() bool {
	return c.NATSEventsEnabled || c.CheckpointBackend == BackendNATS
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
