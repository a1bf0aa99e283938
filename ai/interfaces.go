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

import "context"

// Embedder generates vector embeddings from text.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider hands out Embedders for named models.
type Provider interface {
	// Embedder returns an embedder for model. An empty model selects the
	// provider's configured default. The returned Embedder is safe for
	// concurrent use.
	Embedder(model string) (Embedder, error)

	// Close releases resources held by the provider and its embedders.
	Close() error
}
