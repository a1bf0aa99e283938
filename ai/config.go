// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"errors"
	"strings"
	"time"
)

// DefaultHost is the address of a local Ollama server's OpenAI-compatible API.
const DefaultHost = "http://localhost:11434/v1"

// Config holds configuration for embedding providers.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for a local OpenAI-compatible server
	EmbeddingHost string

	// EmbeddingModel is the default model used when a schema names none.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string

	// Token is the API token. Local servers usually accept any value.
	Token string

	// Timeout bounds a single embedding request.
	// Default: 30s
	Timeout time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithHost sets the embedding service host URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the default embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithToken sets the API token.
func WithToken(token string) ConfigOption {
	return func(c *Config) {
		c.Token = token
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = d
	}
}

// DefaultConfig returns a Config for a local OpenAI-compatible service.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:  DefaultHost,
		EmbeddingModel: "nomic-embed-text",
		Token:          "none",
		Timeout:        30 * time.Second,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix to the host if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	if c.EmbeddingHost != "" && !strings.HasSuffix(c.EmbeddingHost, "/v1") {
		c.EmbeddingHost = strings.TrimSuffix(c.EmbeddingHost, "/") + "/v1"
	}
	if c.Token == "" {
		c.Token = "none"
	}
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.Timeout <= 0 {
		return errors.New("ai config: Timeout must be positive")
	}
	return nil
}
