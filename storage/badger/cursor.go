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

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/schemagraph/storage"
)

// CursorRepository implements storage.CursorRepository for BadgerDB.
type CursorRepository struct {
	backend *Backend
}

var _ storage.CursorRepository = (*CursorRepository)(nil)

// NewCursorRepository creates a new CursorRepository.
func NewCursorRepository(backend *Backend) *CursorRepository {
	return &CursorRepository{
		backend: backend,
	}
}

// SaveCursor persists the cursor for a (kb, source) pair.
func (r *CursorRepository) SaveCursor(ctx context.Context, kbID, sourceID, cursor string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeCursorKey(kbID, sourceID), []byte(cursor))
	})
}

// LoadCursor retrieves the cursor for a (kb, source) pair.
// Returns "" if no cursor exists.
func (r *CursorRepository) LoadCursor(ctx context.Context, kbID, sourceID string) (string, error) {
	var cursor string
	err := r.backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCursorKey(kbID, sourceID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			cursor = string(val)
			return nil
		})
	})
	return cursor, err
}
