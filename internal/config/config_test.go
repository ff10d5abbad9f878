package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 8, cfg.Presence.Capacity)
	assert.Equal(t, 90*time.Second, cfg.Presence.HeartbeatTTL)
	assert.Equal(t, 6*time.Hour, cfg.Token.TTL)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VOICEROOM_PRESENCE_CAPACITY", "2")
	t.Setenv("VOICEROOM_TOKEN_API_KEY", "env-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Presence.Capacity)
	assert.Equal(t, "env-key", cfg.Token.APIKey)
}
