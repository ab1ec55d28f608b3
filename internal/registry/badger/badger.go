// Package badger keeps bot definitions in an embedded Badger key-value
// store, one JSON value per key "bot/<name>".
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/loykin/botvisor/internal/bot"
)

var keyPrefix = []byte("bot/")

type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path     string
	InMemory bool
}

func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("badger registry: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) LoadAll(ctx context.Context) (map[string]bot.Definition, error) {
	out := make(map[string]bot.Definition)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), string(keyPrefix))
			err := item.Value(func(val []byte) error {
				var d bot.Definition
				if err := json.Unmarshal(val, &d); err != nil {
					return err
				}
				d.Name = name
				out[name] = d
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveAll writes defs and deletes keys of bots no longer present, in one
// transaction.
func (s *Store) SaveAll(ctx context.Context, defs map[string]bot.Definition) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix})
		for it.Rewind(); it.Valid(); it.Next() {
			name := strings.TrimPrefix(string(it.Item().Key()), string(keyPrefix))
			if _, ok := defs[name]; !ok {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for name, d := range defs {
			d.Name = name
			v, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if err := txn.Set(append(append([]byte{}, keyPrefix...), name...), v); err != nil {
				return err
			}
		}
		return nil
	})
}
