// SPDX-License-Identifier: MIT

package credstore

import (
	"context"
	"errors"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend is the local fallback backing at SESSION_DIR. Keys follow
// "cred:<sessionID>:<fileName>".
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the fallback store at path.
func OpenBadger(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{db: db}, nil
}

func credKey(sessionID, fileName string) []byte {
	return []byte("cred:" + sessionID + ":" + fileName)
}

func credPrefix(sessionID string) []byte {
	return []byte("cred:" + sessionID + ":")
}

func (b *BadgerBackend) Get(ctx context.Context, sessionID, fileName string) (string, error) {
	var sealed string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(credKey(sessionID, fileName))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			sealed = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	return sealed, err
}

func (b *BadgerBackend) Set(ctx context.Context, sessionID, fileName, sealed string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(credKey(sessionID, fileName), []byte(sealed))
	})
}

func (b *BadgerBackend) Delete(ctx context.Context, sessionID, fileName string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(credKey(sessionID, fileName))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *BadgerBackend) List(ctx context.Context, sessionID string) (map[string]string, error) {
	prefix := credPrefix(sessionID)
	out := make(map[string]string)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			fileName := strings.TrimPrefix(string(item.Key()), string(prefix))
			if err := item.Value(func(val []byte) error {
				out[fileName] = string(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (b *BadgerBackend) DeleteSession(ctx context.Context, sessionID string) error {
	records, err := b.List(ctx, sessionID)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for fileName := range records {
			if err := txn.Delete(credKey(sessionID, fileName)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerBackend) Connected() bool { return !b.db.IsClosed() }

func (b *BadgerBackend) Close() error { return b.db.Close() }
