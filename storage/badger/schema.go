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

package badger

import (
	"context"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/schemagraph/storage"
)

// SchemaRepository implements storage.SchemaRepository for BadgerDB.
type SchemaRepository struct {
	backend *Backend
}

var _ storage.SchemaRepository = (*SchemaRepository)(nil)

// NewSchemaRepository creates a new SchemaRepository.
func NewSchemaRepository(backend *Backend) *SchemaRepository {
	return &SchemaRepository{
		backend: backend,
	}
}

// SaveSchema stores the raw definition of a knowledge base schema.
func (r *SchemaRepository) SaveSchema(ctx context.Context, kbID string, raw []byte) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeSchemaKey(kbID), slices.Clone(raw))
	})
}

// LoadSchemas returns every stored raw definition keyed by kb id.
func (r *SchemaRepository) LoadSchemas(ctx context.Context) (map[string][]byte, error) {
	schemas := make(map[string][]byte)
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(schemaPrefix), true, func(item *badger.Item) (bool, error) {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return false, err
			}
			schemas[string(item.Key()[len(schemaPrefix):])] = raw
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return schemas, nil
}

// DeleteSchema removes a stored definition. Deleting a missing schema is not an error.
func (r *SchemaRepository) DeleteSchema(ctx context.Context, kbID string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Delete(makeSchemaKey(kbID))
	})
}
