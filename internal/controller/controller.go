// Package controller implements the Z-Wave Controller Core: the protocol
// state machines, concurrency discipline, and association/routing data
// model a controller drives on top of a message-oriented serial transport
// (spec.md §1). Framing, checksumming, and command-class wire encoding are
// the Transport/Node collaborators' concern, not this package's — it only
// orchestrates them.
package controller

import (
	"context"
	"log/slog"
	"sync"

	"zwave-controller-core/internal/cache"
	"zwave-controller-core/internal/deviceconfig"
	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/transport"
)

// Controller is the single process-wide driver instance (spec §3,
// "Controller state (singleton, process-wide...)"). Mirrors the teacher's
// Coordinator (internal/coordinator/coordinator.go) in shape: one struct
// wiring a transport-like collaborator, a registry, an event bus, and a
// handful of sub-managers. There is no Start method; every operation runs
// when its caller invokes it.
type Controller struct {
	transport transport.Transport
	registry  *Registry
	identity  *Identity
	events    *EventBus
	cacheStore cache.Store
	deviceCfg *deviceconfig.Table
	logger    *slog.Logger

	associations *AssociationManager

	ping node.PingFunc

	// §5 cooperative mutual-exclusion lock: inclusionActive and
	// exclusionActive never hold together. healActive only guards against a
	// second concurrent heal; it is not checked against the other two.
	// Guarded by stateMu rather than individual atomics so checks-and-sets
	// are race free.
	stateMu          sync.Mutex
	inclusionActive  bool
	exclusionActive  bool
	healActive       bool
	includeNonSecure bool
	includeController bool

	pending pendingSlots

	beginInclusionSignal *signal[bool]
	stopInclusionSignal  *signal[bool]
	replaceFailedSignal  *signal[bool]

	healProgress   map[uint8]HealNodeState
	healProgressMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// pendingNodeKind distinguishes which slot is occupied, making invariant
// 2 (spec §3: "A pending-node slot is non-nil only while the
// corresponding flag is true") explicit as a sum type per spec §9
// "Pending-node slots".
type pendingNodeKind int

const (
	pendingNone pendingNodeKind = iota
	pendingInclusion
	pendingExclusion
	pendingReplace
)

type pendingSlots struct {
	mu   sync.Mutex
	kind pendingNodeKind
	node *node.Node
}

func (p *pendingSlots) set(kind pendingNodeKind, n *node.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kind = kind
	p.node = n
}

func (p *pendingSlots) get(kind pendingNodeKind) *node.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kind != kind {
		return nil
	}
	return p.node
}

func (p *pendingSlots) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kind = pendingNone
	p.node = nil
}

// New creates a Controller around its collaborators. Transport, cache
// store, and device-config table are all external (spec §1); ping is
// injected separately since Node deliberately has no Transport dependency
// (internal/node/node.go's PingFunc doc comment).
func New(t transport.Transport, cacheStore cache.Store, deviceCfg *deviceconfig.Table, ping node.PingFunc, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		transport:  t,
		registry:   NewRegistry(),
		identity:   NewIdentity(),
		events:     NewEventBus(logger),
		cacheStore: cacheStore,
		deviceCfg:  deviceCfg,
		logger:     logger,
		ping:       ping,
		healProgress: make(map[uint8]HealNodeState),
		ctx:        ctx,
		cancel:     cancel,
	}
	c.associations = newAssociationManager(c)
	c.registerStatusHandlers()
	return c
}

// Associations exposes the Association Manager (C8).
func (c *Controller) Associations() *AssociationManager { return c.associations }

// Registry exposes the Node Registry to callers that need to enumerate or
// look up nodes directly (e.g. the association manager's own callers).
func (c *Controller) Registry() *Registry { return c.registry }

// Identity exposes the Identity & Capability Cache.
func (c *Controller) Identity() *Identity { return c.identity }

// Events exposes the Event Bus for subscription.
func (c *Controller) Events() *EventBus { return c.events }

// Close cancels the controller's own internal context. No operation runs
// under that context: network heal and the other operations use the
// context their caller passes, so Close does not stop them. Does not close
// the Transport or cache store, which the caller owns.
func (c *Controller) Close() {
	c.cancel()
}

// signal is a resolve-once/reject-once single-shot promise (spec §9
// "Single-shot signals"), backed by a size-1 channel as the spec
// suggests. Reads after settlement are safe; a second settle attempt is a
// no-op, matching "reads from a cleared slot must be guarded".
type signal[T any] struct {
	once   sync.Once
	ch     chan T
	err    error
	errSet chan struct{}
	done   chan struct{}
}

func newSignal[T any]() *signal[T] {
	return &signal[T]{ch: make(chan T, 1), errSet: make(chan struct{}), done: make(chan struct{})}
}

func (s *signal[T]) resolve(v T) {
	s.once.Do(func() {
		s.ch <- v
		close(s.done)
	})
}

func (s *signal[T]) reject(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.errSet)
		close(s.done)
	})
}

// pending reports whether neither resolve nor reject has settled this
// signal yet. A Failed status arriving after Ready has already resolved
// the signal must be treated as "failed while listening," not "failed
// before Ready" — callers branch on pending(), not on a nil check, since
// the slot itself is never cleared back to nil.
func (s *signal[T]) pending() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// wait blocks until resolve or reject settles the signal, or ctx is done.
func (s *signal[T]) wait(ctx context.Context) (T, error) {
	select {
	case v := <-s.ch:
		return v, nil
	case <-s.errSet:
		var zero T
		return zero, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Controller) emit(ev Event) {
	c.events.Emit(ev)
}
