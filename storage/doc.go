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

// Package storage provides the storage abstraction layer for schemagraph.
//
// This package defines the graph store and repository interfaces that decouple
// persistence from ingestion logic. Two graph backends are provided:
//
//   - storage/badger: embedded BadgerDB store, also home of the run, cursor
//     and schema repositories
//   - storage/neo4j: Neo4j property-graph store
//
// # Identity
//
// Nodes are identified by (kb_id, label, key) and relationships by
// (kb_id, type, from, to). Merging the same identity twice never creates a
// second entity, which is what makes re-ingestion a safe retry.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	graph := badger.NewGraphStore(backend)
//	runs := badger.NewRunRepository(backend)
//
// Use in tests with in-memory storage:
//
//	stores, err := badger.NewMemoryStores()
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access
// from multiple goroutines.
package storage
