// Package badger is a Storage backed by an embedded Badger database.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/zeusync/crdtsync/internal/core/storage"
)

const defaultValueLogFileSize = 64 << 20

type config struct {
	valueLogFileSize int64
	inMemory         bool
}

type Option func(*config) error

func WithValueLogFileSize(size int64) Option {
	return func(cfg *config) error {
		if size <= 0 {
			return fmt.Errorf("badger value log file size must be > 0, got %d", size)
		}
		cfg.valueLogFileSize = size
		return nil
	}
}

// InMemory keeps everything in RAM; path is ignored.
func InMemory() Option {
	return func(cfg *config) error {
		cfg.inMemory = true
		return nil
	}
}

type Store struct {
	db *badger.DB
}

var _ storage.Storage = (*Store)(nil)

func Open(path string, options ...Option) (*Store, error) {
	cfg := config{valueLogFileSize: defaultValueLogFileSize}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(path).WithValueLogFileSize(cfg.valueLogFileSize)
	if cfg.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.Unavailable("open badger", err)
	}
	return &Store{db: db}, nil
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return storage.ErrNotFound
	case errors.Is(err, badger.ErrTxnTooBig):
		return storage.QuotaExceeded(op, err)
	default:
		return storage.Unavailable(op, err)
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, classify("get "+key, err)
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	return classify("set "+key, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	}))
}

func (s *Store) Delete(_ context.Context, key string) error {
	return classify("delete "+key, s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}))
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, classify("keys "+prefix, err)
}

func (s *Store) Clear(_ context.Context) error {
	return classify("clear", s.db.DropAll())
}

func (s *Store) GetBatch(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			item, err := txn.Get([]byte(k))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if out[k], err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("get batch", err)
	}
	return out, nil
}

func (s *Store) SetBatch(_ context.Context, entries map[string][]byte) error {
	return classify("set batch", s.db.Update(func(txn *badger.Txn) error {
		for k, v := range entries {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *Store) Close() error {
	return s.db.Close()
}
