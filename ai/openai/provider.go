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

package openai

import (
	"log/slog"
	"sync"

	"github.com/poiesic/schemagraph/ai"
)

// Provider implements ai.Provider using OpenAI-compatible services.
// Embedders are created once per model and shared.
type Provider struct {
	config    *ai.Config
	mu        sync.Mutex
	embedders map[string]*Embedder
	logger    *slog.Logger
}

var _ ai.Provider = (*Provider)(nil)

// NewProvider creates a new provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.Provider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Provider{
		config:    config,
		embedders: make(map[string]*Embedder),
		logger:    slog.Default().With("component", "openai-provider"),
	}, nil
}

// Embedder returns the embedder for model, creating it on first use.
func (p *Provider) Embedder(model string) (ai.Embedder, error) {
	if model == "" {
		model = p.config.EmbeddingModel
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.embedders[model]; ok {
		return e, nil
	}
	e, err := newEmbedder(p.config, model)
	if err != nil {
		return nil, err
	}
	p.embedders[model] = e
	p.logger.Debug("created embedder", "model", model)
	return e, nil
}

// Close releases resources held by the provider.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	return nil
}
