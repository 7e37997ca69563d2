package controller

import (
	"sync"

	"zwave-controller-core/internal/node"
)

// Registry is the Node Registry component (C1): mapping nodeId -> Node,
// with a throwing lookup distinct from a checked one (spec §9 "Throwing
// lookup"). Mutated only by the interview orchestrator, inclusion/replace
// commits, removal, and hard reset (spec §5 "Shared resources").
type Registry struct {
	mu    sync.RWMutex
	nodes map[uint8]*node.Node
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[uint8]*node.Node)}
}

// Get is the checked lookup: present/absent without an error value.
func (r *Registry) Get(id uint8) (*node.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// GetOrThrow is the unchecked lookup: fails with Controller_NodeNotFound
// when id is absent (spec §9 "the getOrThrow pattern").
func (r *Registry) GetOrThrow(id uint8) (*node.Node, error) {
	n, ok := r.Get(id)
	if !ok {
		return nil, newError(ErrNodeNotFound, "node %d not found", id)
	}
	return n, nil
}

// Set inserts or replaces the node at id.
func (r *Registry) Set(n *node.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.ID()] = n
}

// Delete removes id from the registry. No-op if absent.
func (r *Registry) Delete(id uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// All returns every node currently registered. Order is unspecified
// (spec §3 "Insertion-order is irrelevant").
func (r *Registry) All() []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*node.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// Len reports the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Clear empties the registry, used by hard reset (spec §4.8).
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = make(map[uint8]*node.Node)
}
