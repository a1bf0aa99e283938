package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(
		WithHost("http://custom:8080/v1"),
		WithEmbeddingModel("text-embedding-3-small"),
		WithToken("secret"),
		WithTimeout(time.Second),
	)

	assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, time.Second, cfg.Timeout)
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected string
	}{
		{"already has /v1", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"missing /v1", "http://localhost:11434", "http://localhost:11434/v1"},
		{"has trailing slash", "http://localhost:11434/", "http://localhost:11434/v1"},
		{"empty host", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{EmbeddingHost: tt.host}
			cfg.Normalize()
			assert.Equal(t, tt.expected, cfg.EmbeddingHost)
			assert.Equal(t, "none", cfg.Token)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{EmbeddingHost: "http://localhost:11434", EmbeddingModel: "m", Timeout: time.Second}, ""},
		{"missing host", Config{EmbeddingModel: "m", Timeout: time.Second}, "EmbeddingHost"},
		{"missing model", Config{EmbeddingHost: "http://h", Timeout: time.Second}, "EmbeddingModel"},
		{"zero timeout", Config{EmbeddingHost: "http://h", EmbeddingModel: "m"}, "Timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidate_Integration(t *testing.T) {
	require.NoError(t, NewConfig().Validate())
	require.NoError(t, DefaultConfig().Validate())
}
