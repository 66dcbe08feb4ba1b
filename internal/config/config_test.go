package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "memory", cfg.StreamBackend)
	assert.True(t, cfg.UseMockLLM)
	assert.Equal(t, "drain", cfg.DrainPolicy)
}

func TestLoadGCPRequiresProject(t *testing.T) {
	t.Setenv("DECKFLOW_MODE", "gcp")
	t.Setenv("DECKFLOW_GCP_PROJECT", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("DECKFLOW_STREAM_BACKEND", "redis")

	_, err := Load()
	require.ErrorContains(t, err, "unknown stream backend")
}

func TestLoadFirestoreNeedsProject(t *testing.T) {
	t.Setenv("DECKFLOW_JOB_BACKEND", "firestore")

	_, err := Load()
	require.ErrorContains(t, err, "firestore")
}

func TestGetBoolEnv(t *testing.T) {
	t.Setenv("X_FLAG", "TRUE")
	assert.True(t, getBoolEnv("X_FLAG", false))

	t.Setenv("X_FLAG", "no")
	assert.False(t, getBoolEnv("X_FLAG", true))

	assert.True(t, getBoolEnv("X_FLAG_UNSET", true))
}
