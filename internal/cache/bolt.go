package cache

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"zwave-controller-core/internal/node"
)

var (
	bucketCache = []byte("cache")
	keyDocument = []byte("document")
)

// BoltStore implements Store using a single BoltDB database, mirroring
// the teacher's BoltStore (internal/store/bolt.go) sizing and open-options
// choices.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the backing BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCache)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load reads and validates the persisted cache document. Returns an empty
// document (not an error) if nothing has been saved yet.
func (s *BoltStore) Load() (*Document, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		if b == nil {
			return nil
		}
		if v := b.Get(keyDocument); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return &Document{Nodes: make(map[string]*node.Serialized)}, nil
	}
	return Unmarshal(data)
}

// Save writes the cache document.
func (s *BoltStore) Save(doc *Document) error {
	data, err := Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal cache document: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		if b == nil {
			return fmt.Errorf("cache bucket missing")
		}
		return b.Put(keyDocument, data)
	})
}

// Close closes the backing database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
