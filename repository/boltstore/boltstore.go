// Package boltstore persists the instance registry in a single bbolt file.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/yamori310/craftdock/domain"
)

var bucketInstances = []byte("instances")

type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the registry database at path. A corrupt database
// is moved aside and replaced with a fresh one: the registry must load as an
// empty collection rather than fail startup.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		aside := path + ".corrupt"
		slog.Warn("registry database unreadable, starting empty",
			slog.String("path", path), slog.String("moved_to", aside),
			slog.Any("error", err))
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return nil, fmt.Errorf("failed to move corrupt registry aside: %w", renameErr)
		}
		db, err = openDB(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open registry: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func openDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketInstances)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, cfg *domain.InstanceConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		if b.Get([]byte(cfg.Name)) != nil {
			return domain.ErrInstanceAlreadyExists
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode instance: %w", err)
		}
		return b.Put([]byte(cfg.Name), data)
	})
}

func (s *Store) FindByName(ctx context.Context, name string) (*domain.InstanceConfig, error) {
	var cfg domain.InstanceConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketInstances).Get([]byte(name))
		if v == nil {
			return domain.ErrInstanceNotFound
		}
		return json.Unmarshal(v, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) Update(ctx context.Context, cfg *domain.InstanceConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		if b.Get([]byte(cfg.Name)) == nil {
			return domain.ErrInstanceNotFound
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode instance: %w", err)
		}
		return b.Put([]byte(cfg.Name), data)
	})
}

func (s *Store) Delete(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		if b.Get([]byte(name)) == nil {
			return domain.ErrInstanceNotFound
		}
		return b.Delete([]byte(name))
	})
}

func (s *Store) FindAll(ctx context.Context) ([]*domain.InstanceConfig, error) {
	instances := make([]*domain.InstanceConfig, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var cfg domain.InstanceConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				// One broken record must not hide the rest.
				slog.Warn("skipping unreadable registry record",
					slog.String("name", string(k)), slog.Any("error", err))
				return nil
			}
			instances = append(instances, &cfg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}
