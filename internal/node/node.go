// Package node models a single Z-Wave node as tracked by the controller
// core: its capability set, device-class triple, security/route flags, and
// the minimal lifecycle hooks the controller drives during inclusion,
// interview, and heal. Command-class-specific wire behavior is out of
// scope (spec.md §1); a Node only needs to answer "do you support capability
// C" and expose a few mutable flags the state machines in internal/controller
// read and write.
package node

import (
	"context"
	"sync"

	"zwave-controller-core/internal/valuestore"
	"zwave-controller-core/internal/zwave"
)

// Status is the liveness state of a node, mirroring the teacher's
// store.Device notion of "known but not yet confirmed alive".
type Status int

const (
	StatusUnknown Status = iota
	StatusAlive
	StatusAsleep
	StatusDead
)

// InterviewStage tracks how far a node's startup interview has progressed.
// ProtocolInfo is the earliest stage reachable without the node being
// awake; it gates the heal-skip rule in spec §4.5 ("asleep +
// never-interviewed-past-ProtocolInfo").
type InterviewStage int

const (
	InterviewStageNone InterviewStage = iota
	InterviewStageProtocolInfo
	InterviewStageNodeInfo
	InterviewStageCCInterview
	InterviewStageComplete
)

// Node is a single entry in the controller's node registry (spec §3).
type Node struct {
	mu sync.RWMutex

	id     uint8
	status Status
	stage  InterviewStage

	deviceClass zwave.DeviceClass
	manufacturer string
	model        string
	supported   map[zwave.CommandClass]uint8 // cc -> advertised version
	controlled  map[zwave.CommandClass]struct{}

	isSecure          bool
	hasSUCReturnRoute bool
	interviewedPastProtocolInfo bool

	endpoints map[uint8]*Endpoint // endpoint 0 is implicit; multi-channel endpoints keyed >=1

	valueDB valuestore.Store

	listeners []func()
}

// Endpoint is a multi-channel sub-device within a node (spec GLOSSARY).
type Endpoint struct {
	ID         uint8
	CommandClasses map[zwave.CommandClass]uint8
}

// New creates an empty Node for the given id. Matches the interview
// orchestrator's "creates an empty Node per id" step (spec §4.1) and the
// inclusion state machine's "construct pending Node" step (spec §4.2).
func New(id uint8, vdb valuestore.Store) *Node {
	return &Node{
		id:         id,
		status:     StatusUnknown,
		stage:      InterviewStageNone,
		supported:  make(map[zwave.CommandClass]uint8),
		controlled: make(map[zwave.CommandClass]struct{}),
		endpoints:  make(map[uint8]*Endpoint),
		valueDB:    vdb,
	}
}

// ID returns the node's network id.
func (n *Node) ID() uint8 {
	return n.id
}

// Status returns the node's current liveness state.
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// MarkAsAlive records that the node responded to traffic. Part of the Node
// contract (spec §6).
func (n *Node) MarkAsAlive() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusAlive
}

// MarkAsAsleep records that the node is a sleeping (battery) device.
func (n *Node) MarkAsAsleep() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusAsleep
}

// MarkAsDead records that the node is known unreachable (spec §4.5's
// "known-dead" heal-skip condition).
func (n *Node) MarkAsDead() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusDead
}

// InterviewStage returns how far the node's interview has progressed.
func (n *Node) InterviewStage() InterviewStage {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stage
}

// SetInterviewStage advances the node's interview stage.
func (n *Node) SetInterviewStage(stage InterviewStage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stage = stage
	if stage > InterviewStageProtocolInfo {
		n.interviewedPastProtocolInfo = true
	}
}

// InterviewedPastProtocolInfo reports whether the node has ever progressed
// beyond the ProtocolInfo stage, used by the heal-skip rule (spec §4.5).
func (n *Node) InterviewedPastProtocolInfo() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.interviewedPastProtocolInfo
}

// DeviceClass returns the node's basic/generic/specific triple.
func (n *Node) DeviceClass() zwave.DeviceClass {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.deviceClass
}

// SetDeviceClass records the node's device-class triple, normally supplied
// by the AddingSlave/AddingController status context during inclusion
// (spec §4.2) or by a NIF during interview.
func (n *Node) SetDeviceClass(dc zwave.DeviceClass) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deviceClass = dc
}

// DeviceConfigKey returns the manufacturer/model pair used to look a node
// up in the device-config table (spec §4.6), as reported by the
// Manufacturer Specific CC interview.
func (n *Node) DeviceConfigKey() (manufacturer, model string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.manufacturer, n.model
}

// SetDeviceConfigKey records the manufacturer/model pair.
func (n *Node) SetDeviceConfigKey(manufacturer, model string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.manufacturer = manufacturer
	n.model = model
}

// SupportsCC reports whether the node advertises support for cc. Part of
// the Node contract (spec §6); the sole CC-generic query this spec
// requires (spec §1 non-goals exclude anything deeper).
func (n *Node) SupportsCC(cc zwave.CommandClass) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.supported[cc]
	return ok
}

// SupportsCCVersion returns the advertised version for cc, or 0 if
// unsupported.
func (n *Node) SupportsCCVersion(cc zwave.CommandClass) uint8 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.supported[cc]
}

// AddCC records that the node supports cc at the given version. Part of
// the Node contract (spec §6, "addCC"). Used by the S0 bootstrap's
// assumeSecure workaround (spec §4.3 step 1).
func (n *Node) AddCC(cc zwave.CommandClass, version uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.supported[cc] = version
}

// RemoveCC removes cc from the node's supported set. Part of the Node
// contract (spec §6, "removeCC"). Used by S0 bootstrap failure handling
// (spec §4.3 step 3).
func (n *Node) RemoveCC(cc zwave.CommandClass) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.supported, cc)
}

// ImplementedCommandClasses returns the full set of CCs the node
// advertises, sorted is not guaranteed. Part of the Node contract (spec §6).
func (n *Node) ImplementedCommandClasses() []zwave.CommandClass {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]zwave.CommandClass, 0, len(n.supported))
	for cc := range n.supported {
		out = append(out, cc)
	}
	return out
}

// AddControlledCC records a CC the node can issue (as opposed to respond
// to), supplied by the AddingSlave/AddingController status context.
func (n *Node) AddControlledCC(cc zwave.CommandClass) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.controlled[cc] = struct{}{}
}

// IsSecure reports whether the S0 bootstrap succeeded for this node.
func (n *Node) IsSecure() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isSecure
}

// SetSecure sets the S0 bootstrap outcome (spec §4.3).
func (n *Node) SetSecure(secure bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isSecure = secure
}

// HasSUCReturnRoute reports whether a SUC return route has been assigned.
func (n *Node) HasSUCReturnRoute() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hasSUCReturnRoute
}

// SetHasSUCReturnRoute records SUC return route assignment.
func (n *Node) SetHasSUCReturnRoute(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hasSUCReturnRoute = v
}

// Endpoint returns the endpoint with the given id, creating it (with no
// recorded CCs) if it does not yet exist. Endpoint 0 is the node itself.
func (n *Node) Endpoint(id uint8) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[id]
	if !ok {
		ep = &Endpoint{ID: id, CommandClasses: make(map[zwave.CommandClass]uint8)}
		n.endpoints[id] = ep
	}
	return ep
}

// EndpointExists reports whether endpoint id has been discovered, without
// creating it as a side effect. Used by the association admissibility
// check's "target endpoint ... must exist" rule (spec §4.6).
func (n *Node) EndpointExists(id uint8) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if id == 0 {
		return true
	}
	_, ok := n.endpoints[id]
	return ok
}

// EndpointSupportsCC reports whether the given endpoint advertises cc.
func (n *Node) EndpointSupportsCC(id uint8, cc zwave.CommandClass) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if id == 0 {
		_, ok := n.supported[cc]
		return ok
	}
	ep, ok := n.endpoints[id]
	if !ok {
		return false
	}
	_, ok = ep.CommandClasses[cc]
	return ok
}

// EndpointSupportsAnyActuatorCC reports whether the endpoint supports any
// actuator CC, used by the Basic-CC admissibility shortcut (spec §4.6).
func (n *Node) EndpointSupportsAnyActuatorCC(id uint8) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ccs := n.supported
	if id != 0 {
		ep, ok := n.endpoints[id]
		if !ok {
			return false
		}
		ccs = ep.CommandClasses
	}
	for cc := range ccs {
		if zwave.IsActuatorCC(cc) {
			return true
		}
	}
	return false
}

// ValueDB returns the node's per-node value store. Part of the Node
// contract (spec §6).
func (n *Node) ValueDB() valuestore.Store {
	return n.valueDB
}

// PingFunc performs a lightweight liveness check, used by
// replaceFailedNode and removeFailedNode to refuse operating on a node
// that is not actually failed (spec §4.2 step 2, §4.7). The
// transport-level mechanics are injected by
// the caller (the controller) rather than stored here, keeping Node free
// of a Transport dependency; Node has no ping method and does not record
// the outcome.
type PingFunc func(ctx context.Context, nodeID uint8) (bool, error)

// RemoveAllListeners clears any registered event listeners. Part of the
// Node contract (spec §6); used by hard reset (spec §4.8).
func (n *Node) RemoveAllListeners() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = nil
}

// OnEvent registers a listener. Minimal hook retained for symmetry with
// the Node contract's listener surface: Node stores the listener until
// RemoveAllListeners but never calls it, and the controller core does not
// itself depend on per-node listeners beyond RemoveAllListeners.
func (n *Node) OnEvent(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}
