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

package mock

import (
	"sync"

	"github.com/poiesic/schemagraph/ai"
)

// MockProvider is a test double for ai.Provider.
// Every model shares one MockEmbedder; requested models are recorded.
type MockProvider struct {
	embedder *MockEmbedder
	mu       sync.Mutex
	models   []string
	err      error
}

var _ ai.Provider = (*MockProvider)(nil)

// NewMockProvider creates a provider handing out embedder for every model.
// A nil embedder gets a default MockEmbedder.
func NewMockProvider(embedder *MockEmbedder) *MockProvider {
	if embedder == nil {
		embedder = NewMockEmbedder()
	}
	return &MockProvider{embedder: embedder}
}

// WithError makes Embedder fail with err.
func (p *MockProvider) WithError(err error) *MockProvider {
	p.err = err
	return p
}

// Embedder returns the shared mock embedder.
func (p *MockProvider) Embedder(model string) (ai.Embedder, error) {
	p.mu.Lock()
	p.models = append(p.models, model)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.embedder, nil
}

// Models returns the models requested so far.
func (p *MockProvider) Models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.models...)
}

// MockEmbedder returns the underlying embedder for test assertions.
func (p *MockProvider) MockEmbedder() *MockEmbedder {
	return p.embedder
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}
