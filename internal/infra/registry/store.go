package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"mdgw/internal/domain"
)

const (
	rootBucketName         = "mdgw"
	capabilitiesBucketName = "capabilities"
	metaBucketName         = "meta"
	schemaVersionKey       = "schema_version"
	schemaVersion          = 1
)

// Store persists the last known capability set per provider. The gateway
// can then advertise tools for a provider that is down at startup and
// reconcile once discovery succeeds.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

func OpenStore(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure registry dir: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: trimmed}, nil
}

func ensureSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rootBucketName))
		if err != nil {
			return fmt.Errorf("create root bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(capabilitiesBucketName)); err != nil {
			return fmt.Errorf("create capabilities bucket: %w", err)
		}
		meta, err := root.CreateBucketIfNotExists([]byte(metaBucketName))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return meta.Put([]byte(schemaVersionKey), []byte{schemaVersion})
	})
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) SaveCapabilities(provider string, tools []domain.ToolDescriptor) error {
	encoded, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("encode capabilities for %s: %w", provider, err)
	}
	return s.update(func(tx *bolt.Tx) error {
		bucket, err := capabilitiesBucket(tx)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(provider), encoded)
	})
}

// LoadCapabilities returns nil with no error when the provider has no
// persisted snapshot.
func (s *Store) LoadCapabilities(provider string) ([]domain.ToolDescriptor, error) {
	var tools []domain.ToolDescriptor
	err := s.view(func(tx *bolt.Tx) error {
		bucket, err := capabilitiesBucket(tx)
		if err != nil {
			return err
		}
		value := bucket.Get([]byte(provider))
		if value == nil {
			return nil
		}
		return json.Unmarshal(value, &tools)
	})
	if err != nil {
		return nil, fmt.Errorf("load capabilities for %s: %w", provider, err)
	}
	return tools, nil
}

// Providers lists every provider with a persisted snapshot.
func (s *Store) Providers() ([]string, error) {
	var providers []string
	err := s.view(func(tx *bolt.Tx) error {
		bucket, err := capabilitiesBucket(tx)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(key, _ []byte) error {
			providers = append(providers, string(key))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return providers, nil
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("registry store is closed")
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("registry store is closed")
	}
	return s.db.Update(fn)
}

func capabilitiesBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(rootBucketName))
	if root == nil {
		return nil, fmt.Errorf("missing root bucket")
	}
	bucket := root.Bucket([]byte(capabilitiesBucketName))
	if bucket == nil {
		return nil, fmt.Errorf("missing capabilities bucket")
	}
	return bucket, nil
}
