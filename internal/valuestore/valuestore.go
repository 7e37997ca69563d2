// Package valuestore models the external "Value store" collaborator from
// spec.md §1: a per-node key/value + metadata database, with an index
// pre-computed per node (spec §4.1, "passing a per-node value-store index
// computed by batch-indexing the two value databases"). Persistence format
// is explicitly out of scope (spec §1 non-goals); this package only needs
// to satisfy the contract the controller core calls through.
package valuestore

import "errors"

// ErrNotFound is returned when a requested value or metadata entry does
// not exist, mirroring the teacher's store.ErrNotFound sentinel.
var ErrNotFound = errors.New("value not found")

// ValueID identifies a single value within a node's store: a command
// class, an optional endpoint, and a property key. CC-specific payload
// shape is out of scope (spec §1); values are opaque to the controller
// core beyond this identity.
type ValueID struct {
	CommandClass uint8
	Endpoint     uint8
	Property     string
}

// Metadata describes a value's read-only/write-only nature and label. The
// controller core does not read it; actuator decisions use
// zwave.IsActuatorCC instead.
type Metadata struct {
	Label    string
	Writable bool
}

// Index is the per-node precomputed index the interview orchestrator
// passes to each Node at construction time (spec §4.1). It is built once
// by batch-indexing the value DB and the metadata DB for a single node id.
type Index struct {
	NodeID uint8
	ids    map[ValueID]struct{}
}

// NewIndex builds an Index over the given ValueIDs.
func NewIndex(nodeID uint8, ids []ValueID) *Index {
	idx := &Index{NodeID: nodeID, ids: make(map[ValueID]struct{}, len(ids))}
	for _, id := range ids {
		idx.ids[id] = struct{}{}
	}
	return idx
}

// Has reports whether the index contains id.
func (idx *Index) Has(id ValueID) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.ids[id]
	return ok
}

// Store is the per-node value/metadata database the controller core reads
// and writes through. A single Store instance is scoped to one node; the
// interview orchestrator obtains one per node id from a Factory.
type Store interface {
	GetValue(id ValueID) (any, error)
	SetValue(id ValueID, value any) error
	GetMetadata(id ValueID) (Metadata, error)
	SetMetadata(id ValueID, meta Metadata) error
	Index() *Index
}

// Factory creates or opens the per-node Store used during the interview
// orchestrator's node-creation step (spec §4.1) and precomputes that
// node's Index by batch-indexing the backing databases.
type Factory interface {
	ForNode(nodeID uint8) (Store, error)
}
