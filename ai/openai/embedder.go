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
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/schemagraph/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using an OpenAI-compatible embeddings endpoint.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	timeout  time.Duration
	logger   *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config, model string) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if model == "" {
		model = config.EmbeddingModel
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.Token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder: embedder,
		model:    model,
		timeout:  config.Timeout,
		logger:   slog.Default().With("component", "openai-embedder", "model", model),
	}, nil
}

// NewEmbedder creates an embedder for model, or the configured default model
// when model is empty.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config, model string) (ai.Embedder, error) {
	return newEmbedder(config, model)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "length", len(text))

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Error("failed to generate embedding", "err", err)
		return nil, err
	}
	return vector, nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}
	return vectors, nil
}
