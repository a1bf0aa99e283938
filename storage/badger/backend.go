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
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/schemagraph/storage"
)

const (
	// maxConflictRetries bounds how often a write transaction is retried
	// after badger reports a serialization conflict.
	maxConflictRetries = 5
)

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool) (*Backend, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(filePath, 0755); err != nil {
				return nil, err
			}
			if info, err = os.Stat(filePath); err != nil {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		opts = badger.DefaultOptions(filePath)
	}

	logger := slog.Default().With("component", "badger")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Backend{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction which fn must commit.
// The transaction is automatically discarded when fn returns.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// Update runs fn in a read-write transaction and commits it, retrying when
// a concurrent transaction touched the same keys.
func (b *Backend) Update(fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = b.WithTx(func(tx *badger.Txn) error {
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit()
		}, true)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		b.logger.Debug("transaction conflict, retrying", "attempt", attempt)
	}
	return err
}

// View runs fn in a read-only transaction.
func (b *Backend) View(fn func(tx *badger.Txn) error) error {
	return b.WithTx(fn, false)
}

// readItem loads the value stored under key and decodes it with unmarshal.
// Returns nil, nil if the key doesn't exist.
func readItem[T any](tx *badger.Txn, key []byte, unmarshal func([]byte) (*T, error)) (*T, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var out *T
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		out, unmarshalErr = unmarshal(val)
		return unmarshalErr
	})
	return out, err
}

// scanPrefix calls fn for every item whose key starts with prefix, in key
// order. Iteration stops early when fn returns false or an error.
func scanPrefix(tx *badger.Txn, prefix []byte, prefetch bool, fn func(item *badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = prefetch
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		more, err := fn(iter.Item())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
