// Package store caches verification reports in badger, keyed by what the
// report depends on: the model's fingerprint, the exploration bounds and the
// selected queries.
package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

type Key struct {
	Fingerprint  uint64
	MaxDepth     int
	MaxBranches  int
	MaxKnowledge int
	// Queries are the indices of the selected queries; nil selects all.
	Queries []int
}

func (k Key) String() string {
	return fmt.Sprintf("report-%016x-%d-%d-%d-%v", k.Fingerprint, k.MaxDepth, k.MaxBranches, k.MaxKnowledge, k.Queries)
}

type Cache struct {
	db *badger.DB
}

// Open opens the cache stored in dir, creating it if needed. An empty dir
// gives a cache that lives in memory only.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening report cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get decodes the value stored under key into out, reporting false if there
// is none.
func (c *Cache) Get(key Key, out interface{}) (bool, error) {
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewBuffer(val)).Decode(out)
		})
	})
	if err != nil {
		return false, fmt.Errorf("reading %v: %w", key, err)
	}
	return found, nil
}

func (c *Cache) Put(key Key, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encoding %v: %w", key, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), buf.Bytes())
	})
}

func (c *Cache) Close() error {
	return c.db.Close()
}
