package neo4j

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("NEO4J_URI", "")
	_, ok := ConfigFromEnv()
	assert.False(t, ok)

	t.Setenv("NEO4J_URI", "bolt://db:7687")
	t.Setenv("NEO4J_USER", "reader")
	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("NEO4J_DATABASE", "graph")
	t.Setenv("NEO4J_TIMEOUT_SECONDS", "3")
	t.Setenv("NEO4J_MAX_POOL_SIZE", "nope")

	cfg, ok := ConfigFromEnv()
	require.True(t, ok)
	assert.Equal(t, "bolt://db:7687", cfg.URI)
	assert.Equal(t, "reader", cfg.User)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "graph", cfg.Database)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 50, cfg.MaxPoolSize)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.URI = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxPoolSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Timeout = 0
	assert.Error(t, cfg.Validate())
}
