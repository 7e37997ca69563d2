// Package cache persists and restores the controller's node registry in
// the format spec.md §6 defines: { "nodes": { "<id>": <node-serialization>,
// ... } }. Mirrors the teacher's internal/store (BoltDB-backed) but stores
// a single document rather than per-device rows, since the
// cache's unit of consistency is the whole registry snapshot.
package cache

import (
	"encoding/json"
	"fmt"

	"zwave-controller-core/internal/node"
)

// Document is the cache format from spec §6.
type Document struct {
	Nodes map[string]*node.Serialized `json:"nodes"`
}

// ErrInvalidCache is raised when a cached entry's id key disagrees with
// its serialized id (spec §6, §7 "Driver_InvalidCache").
type ErrInvalidCache struct {
	Key        string
	Serialized uint8
}

func (e *ErrInvalidCache) Error() string {
	return fmt.Sprintf("cache entry key %q disagrees with serialized id %d", e.Key, e.Serialized)
}

// Validate checks the id-key-vs-serialized.id invariant for every entry,
// matching the cache's "deserialize" contract (spec §6).
func (d *Document) Validate() error {
	for key, ser := range d.Nodes {
		want := fmt.Sprintf("%d", ser.ID)
		if key != want {
			return &ErrInvalidCache{Key: key, Serialized: ser.ID}
		}
	}
	return nil
}

// Store persists and restores a single Document. Kept separate from the
// node registry itself so the registry (internal/controller) has no
// direct dependency on the storage engine.
type Store interface {
	Load() (*Document, error)
	Save(doc *Document) error
	Close() error
}

// Marshal serializes doc to the canonical JSON cache format.
func Marshal(doc *Document) ([]byte, error) {
	return json.Marshal(doc)
}

// Unmarshal parses the canonical JSON cache format and validates it.
func Unmarshal(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse cache document: %w", err)
	}
	if doc.Nodes == nil {
		doc.Nodes = make(map[string]*node.Serialized)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
