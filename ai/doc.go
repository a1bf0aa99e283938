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

// Package ai defines the embedding collaborator used when a knowledge base
// enables embedding_config.
//
// The package is built around two interfaces:
//
//   - Embedder: generates vector embeddings from text
//   - Provider: hands out Embedders by model name and owns their lifecycle
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible endpoints (OpenAI, Ollama, LocalAI, vLLM) via langchaingo
//   - ai/mock: deterministic test doubles
//
// Public constructors in ai/openai return interface types. Mock constructors
// return concrete types so tests can inspect call counts and inject behavior.
//
// # Usage Example
//
//	provider, err := openai.NewProvider(ai.NewConfig(ai.WithHost("http://localhost:11434")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	embedder, err := provider.Embedder("nomic-embed-text")
//	vector, err := embedder.EmbedText(ctx, "Hello world")
package ai
