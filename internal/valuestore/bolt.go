package valuestore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketValues   = []byte("values")
	bucketMetadata = []byte("metadata")
)

// BoltFactory implements Factory using a single BoltDB database shared by
// all nodes, partitioned by a per-node key prefix. Mirrors the teacher's
// BoltStore (internal/store/bolt.go) but scoped to value/metadata records
// instead of device records.
type BoltFactory struct {
	db *bolt.DB
}

// NewBoltFactory opens or creates the backing BoltDB database.
func NewBoltFactory(path string) (*BoltFactory, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open value store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketValues, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create value store buckets: %w", err)
	}
	return &BoltFactory{db: db}, nil
}

// Close closes the backing database.
func (f *BoltFactory) Close() error {
	return f.db.Close()
}

// ForNode opens a node-scoped Store and batch-indexes its existing
// entries from both buckets, matching spec §4.1's "per-node value-store
// index computed by batch-indexing the two value databases".
func (f *BoltFactory) ForNode(nodeID uint8) (Store, error) {
	s := &boltStore{db: f.db, nodeID: nodeID}
	ids, err := s.scanIDs(bucketValues)
	if err != nil {
		return nil, fmt.Errorf("index node %d values: %w", nodeID, err)
	}
	metaIDs, err := s.scanIDs(bucketMetadata)
	if err != nil {
		return nil, fmt.Errorf("index node %d metadata: %w", nodeID, err)
	}
	merged := make(map[ValueID]struct{}, len(ids)+len(metaIDs))
	for _, id := range ids {
		merged[id] = struct{}{}
	}
	for _, id := range metaIDs {
		merged[id] = struct{}{}
	}
	all := make([]ValueID, 0, len(merged))
	for id := range merged {
		all = append(all, id)
	}
	s.index = NewIndex(nodeID, all)
	return s, nil
}

type boltStore struct {
	db     *bolt.DB
	nodeID uint8
	index  *Index
}

func (s *boltStore) Index() *Index {
	return s.index
}

// key encodes "<nodeID>/<cc>/<endpoint>/<property>" so a single bucket can
// hold every node's entries while still being scannable per node via
// prefix match.
func (s *boltStore) key(id ValueID) []byte {
	return []byte(fmt.Sprintf("%d/%d/%d/%s", s.nodeID, id.CommandClass, id.Endpoint, id.Property))
}

func (s *boltStore) prefix() []byte {
	return []byte(fmt.Sprintf("%d/", s.nodeID))
}

func (s *boltStore) scanIDs(bucket []byte) ([]ValueID, error) {
	var ids []ValueID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		prefix := s.prefix()
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			id, ok := parseKey(k)
			if ok {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

func parseKey(k []byte) (ValueID, bool) {
	parts := splitN(string(k), '/', 4)
	if len(parts) != 4 {
		return ValueID{}, false
	}
	cc, err1 := strconv.Atoi(parts[1])
	ep, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		return ValueID{}, false
	}
	return ValueID{CommandClass: uint8(cc), Endpoint: uint8(ep), Property: parts[3]}, true
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func (s *boltStore) GetValue(id ValueID) (any, error) {
	var v any
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketValues)
		if b == nil {
			return ErrNotFound
		}
		data := b.Get(s.key(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *boltStore) SetValue(id ValueID, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketValues)
		if b == nil {
			return fmt.Errorf("values bucket missing")
		}
		return b.Put(s.key(id), data)
	})
	if err == nil {
		s.index.ids[id] = struct{}{}
	}
	return err
}

func (s *boltStore) GetMetadata(id ValueID) (Metadata, error) {
	var m Metadata
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return ErrNotFound
		}
		data := b.Get(s.key(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return Metadata{}, err
	}
	return m, nil
}

func (s *boltStore) SetMetadata(id ValueID, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return fmt.Errorf("metadata bucket missing")
		}
		return b.Put(s.key(id), data)
	})
	if err == nil {
		s.index.ids[id] = struct{}{}
	}
	return err
}
