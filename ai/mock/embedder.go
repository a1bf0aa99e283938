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
	"context"
	"hash/fnv"
	"sync/atomic"

	"github.com/poiesic/schemagraph/ai"
)

// DefaultDimension is the length of vectors produced by MockEmbedder.
const DefaultDimension = 8

// MockEmbedder is a test double for ai.Embedder.
// Set the Func fields before use; they are not guarded against concurrent writes.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	callCount atomic.Int64
}

var _ ai.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with default deterministic behavior.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

// EmbedText generates a deterministic embedding based on text hash.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.callCount.Add(1)

	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	return Vector(text), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.callCount.Add(1)

	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = Vector(text)
	}
	return out, nil
}

// CallCount returns the number of times any method was called.
func (m *MockEmbedder) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and injected behavior.
func (m *MockEmbedder) Reset() {
	m.callCount.Store(0)
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
}

// Vector returns the deterministic embedding MockEmbedder produces for text.
// The same text always yields the same vector.
func Vector(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, DefaultDimension)
	for i := range vector {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000) / 1000.0
	}
	return vector
}
