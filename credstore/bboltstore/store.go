// Package bboltstore provides a BoltDB-backed credential store. A single
// bucket holds the client's persisted keys; multi-key operations run inside
// one write transaction, which is what gives the session layer its multi-key
// atomicity guarantee.
package bboltstore

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/lessonhub/go-authclient/credstore"
)

const credentialsBucket = "credentials"

// Store is a bbolt-backed credstore.Store.
type Store struct {
	db *bbolt.DB
}

var _ credstore.Store = (*Store)(nil)

// Open opens (creating if needed) the credentials database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[bboltstore.Open] path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "[bboltstore.Open] open db")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(credentialsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[bboltstore.Open] create bucket")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(credentialsBucket)).Get([]byte(key))
		if raw == nil {
			return credstore.ErrNotFound
		}
		value = string(raw)
		return nil
	})
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return "", err
		}
		return "", errors.Wrap(err, "[bboltstore.Get] view")
	}
	return value, nil
}

func (s *Store) MultiGet(ctx context.Context, keys ...string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(credentialsBucket))
		for _, key := range keys {
			if raw := bucket.Get([]byte(key)); raw != nil {
				values[key] = string(raw)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "[bboltstore.MultiGet] view")
	}
	return values, nil
}

func (s *Store) MultiSet(ctx context.Context, pairs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(credentialsBucket))
		for key, value := range pairs {
			if err := bucket.Put([]byte(key), []byte(value)); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "[bboltstore.MultiSet] update")
}

func (s *Store) MultiRemove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(credentialsBucket))
		for _, key := range keys {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "[bboltstore.MultiRemove] update")
}
