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
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) *RunRepository {
	return &RunRepository{
		backend: backend,
	}
}

// SaveRun persists a run and indexes it under its knowledge base.
func (r *RunRepository) SaveRun(ctx context.Context, run *core.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id required", storage.ErrInvalidQuery)
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		if err := tx.Set(makeRunKey(run.ID), storage.MarshalRun(run)); err != nil {
			return err
		}
		return tx.Set(makeRunKBKey(run.KBID, run.StartedAt, run.ID), nil)
	})
}

// GetRun retrieves a run by id.
func (r *RunRepository) GetRun(ctx context.Context, runID string) (*core.Run, error) {
	var run *core.Run
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		run, err = readItem(tx, makeRunKey(runID), storage.UnmarshalRun)
		return err
	})
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, storage.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs ordered by start time.
func (r *RunRepository) ListRuns(ctx context.Context, kbID string) ([]*core.Run, error) {
	if kbID == "" {
		return r.listAll()
	}

	var runs []*core.Run
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeRunKBPrefix(kbID), false, func(item *badger.Item) (bool, error) {
			runID := runIDFromKBKey(kbID, item.Key())
			run, err := readItem(tx, makeRunKey(runID), storage.UnmarshalRun)
			if err != nil {
				return false, err
			}
			if run != nil {
				runs = append(runs, run)
			}
			return true, nil
		})
	})
	return runs, err
}

func (r *RunRepository) listAll() ([]*core.Run, error) {
	var runs []*core.Run
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(runPrefix), true, func(item *badger.Item) (bool, error) {
			return true, item.Value(func(val []byte) error {
				run, err := storage.UnmarshalRun(val)
				if err != nil {
					return err
				}
				runs = append(runs, run)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(runs, func(a, b *core.Run) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return runs, nil
}
