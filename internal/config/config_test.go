package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, BackendMemory, cfg.CheckpointBackend)
	assert.Equal(t, 0.6, cfg.ConfidenceThreshold)
	assert.Equal(t, 20, cfg.MaxSlotFillingTurns)
	assert.Equal(t, 50, cfg.MaxStepsPerTurn)
	assert.Equal(t, 2, cfg.CollaboratorRetries)
	assert.False(t, cfg.NeedsNATS())
	require.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CHECKPOINT_BACKEND", "NATS")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.Equal(t, BackendNATS, cfg.CheckpointBackend)
	assert.Equal(t, 0.75, cfg.ConfidenceThreshold)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.True(t, cfg.NeedsNATS())
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.CheckpointBackend = BackendPostgres
	cfg.ConfidenceThreshold = 1.5
	cfg.MaxStepsPerTurn = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
	assert.Contains(t, err.Error(), "CONFIDENCE_THRESHOLD")
	assert.Contains(t, err.Error(), "MAX_STEPS_PER_TURN")

	cfg = Load()
	cfg.CheckpointBackend = "etcd"
	assert.ErrorContains(t, cfg.Validate(), "etcd")
}
