package bolt

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/gotd/td/session"
)

var (
	bucket = []byte("session")
	key    = []byte("mtproto")
)

// New opens the database at path. It will be created if it doesn't exist.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: couldn't open bolt db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: couldn't create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Store keeps the mtproto session so the login survives restarts.
type Store struct {
	db *bolt.DB
}

var _ session.Storage = (*Store)(nil)

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadSession(_ context.Context) ([]byte, error) {
	var data []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return nil
		}
		// Bolt values are only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("bolt: couldn't get session: %w", err)
	}
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}
	return data, nil
}

func (s *Store) StoreSession(_ context.Context, data []byte) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	}); err != nil {
		return fmt.Errorf("bolt: couldn't put session: %w", err)
	}
	return nil
}

// Reset removes the stored session, forcing a new login.
func (s *Store) Reset() error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	}); err != nil {
		return fmt.Errorf("bolt: couldn't delete session: %w", err)
	}
	return nil
}
