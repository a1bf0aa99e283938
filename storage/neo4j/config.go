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

package neo4j

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds connection settings for a Neo4j server.
type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
	Timeout     time.Duration
}

// DefaultConfig returns settings for a local server.
func DefaultConfig() *Config {
	return &Config{
		URI:         "neo4j://localhost:7687",
		User:        "neo4j",
		MaxPoolSize: 50,
		Timeout:     10 * time.Second,
	}
}

// ConfigFromEnv reads NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD, NEO4J_DATABASE,
// NEO4J_TIMEOUT_SECONDS and NEO4J_MAX_POOL_SIZE on top of DefaultConfig.
// The boolean is false when NEO4J_URI is unset.
func ConfigFromEnv() (*Config, bool) {
	cfg := DefaultConfig()
	uri := strings.TrimSpace(os.Getenv("NEO4J_URI"))
	if uri == "" {
		return cfg, false
	}
	cfg.URI = uri
	if v := strings.TrimSpace(os.Getenv("NEO4J_USER")); v != "" {
		cfg.User = v
	}
	cfg.Password = strings.TrimSpace(os.Getenv("NEO4J_PASSWORD"))
	cfg.Database = strings.TrimSpace(os.Getenv("NEO4J_DATABASE"))
	if v := strings.TrimSpace(os.Getenv("NEO4J_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Timeout = time.Duration(parsed) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("NEO4J_MAX_POOL_SIZE")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.MaxPoolSize = parsed
		}
	}
	return cfg, true
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.URI == "" {
		return errors.New("neo4j config: URI is required")
	}
	if c.User == "" {
		return errors.New("neo4j config: User is required")
	}
	if c.MaxPoolSize < 1 {
		return errors.New("neo4j config: MaxPoolSize must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("neo4j config: Timeout must be positive")
	}
	return nil
}
