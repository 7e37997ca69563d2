package controller

import (
	"context"
	"fmt"
	"strings"

	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/transport"
	"zwave-controller-core/internal/zwave"
)

// registerStatusHandlers wires the unsolicited-report handlers the
// inclusion, exclusion, and heal state machines are driven by (spec §4.2,
// §4.7). Grounded on the teacher's Coordinator wiring its indication
// handlers once at construction (internal/coordinator/coordinator.go,
// registerIndicationHandlers).
func (c *Controller) registerStatusHandlers() {
	c.transport.RegisterRequestHandler(zwave.FuncAddNodeToNetwork, c.handleAddNodeStatus, false)
	c.transport.RegisterRequestHandler(zwave.FuncRemoveNodeFromNetwork, c.handleRemoveNodeStatus, false)
	c.transport.RegisterRequestHandler(zwave.FuncReplaceFailedNode, c.handleReplaceFailedNodeStatus, false)
}

// BeginInclusion is the beginInclusion user-entry operation (spec §4.2).
// Returns false without side effects if exclusion or inclusion is already
// active. Otherwise it blocks until the stick acknowledges Ready and
// returns true, or returns *Error(Controller_InclusionFailed) if the stick
// reports Failed first.
func (c *Controller) BeginInclusion(ctx context.Context, includeNonSecure bool) (bool, error) {
	c.stateMu.Lock()
	if c.inclusionActive || c.exclusionActive {
		c.stateMu.Unlock()
		return false, nil
	}
	c.inclusionActive = true
	c.includeNonSecure = includeNonSecure
	c.beginInclusionSignal = newSignal[bool]()
	sig := c.beginInclusionSignal
	c.stateMu.Unlock()

	payload := []byte{1} // start flag; exact request shape is a non-goal (spec §1)
	if _, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncAddNodeToNetwork, Payload: payload}, transport.SendOptions{SupportCheck: true}); err != nil {
		c.stateMu.Lock()
		c.inclusionActive = false
		c.stateMu.Unlock()
		return false, err
	}

	return sig.wait(ctx)
}

// StopInclusion is the stopInclusion user-entry operation. Idempotent:
// returns false and emits nothing when inclusion is not active (spec
// §4.2 "Invariant and mutual exclusion").
func (c *Controller) StopInclusion(ctx context.Context) bool {
	c.stateMu.Lock()
	if !c.inclusionActive {
		c.stateMu.Unlock()
		return false
	}
	c.stopInclusionSignal = newSignal[bool]()
	sig := c.stopInclusionSignal
	c.stateMu.Unlock()

	_, _ = c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncAddNodeToNetwork, Payload: []byte{0}}, transport.SendOptions{SupportCheck: true})
	_, _ = sig.wait(ctx)
	return true
}

// stopInclusionInternal clears inclusion state without sending a further
// stop command, used by the state machine's internal transitions (spec
// §4.2's "call stopInclusionInternal"). It deliberately leaves the
// pending-node slot alone: ProtocolDone calls this while the pending node
// must survive until the following Done status commits or discards it.
func (c *Controller) stopInclusionInternal() {
	c.stateMu.Lock()
	c.inclusionActive = false
	c.includeController = false
	c.stateMu.Unlock()
}

// handleAddNodeStatus drives the inclusion state machine from unsolicited
// AddNodeToNetwork status reports (spec §4.2 state table).
func (c *Controller) handleAddNodeStatus(ctx context.Context, resp transport.Response) transport.HandlerResult {
	if len(resp.Payload) < 1 {
		return transport.NotHandled
	}
	status := zwave.AddNodeStatus(resp.Payload[0])

	switch status {
	case zwave.AddNodeStatusReady:
		c.stateMu.Lock()
		sig := c.beginInclusionSignal
		nonSecure := c.includeNonSecure
		c.stateMu.Unlock()
		if sig != nil {
			sig.resolve(true)
		}
		c.emit(Event{Kind: EventInclusionStarted, Secure: !nonSecure})
		return transport.Handled

	case zwave.AddNodeStatusFailed:
		c.stateMu.Lock()
		sig := c.beginInclusionSignal
		c.stateMu.Unlock()
		if sig != nil && sig.pending() {
			sig.reject(newError(ErrInclusionFailed, "stick reported AddNodeToNetwork failure"))
			c.stopInclusionInternal()
		} else {
			c.stopInclusionInternal()
			c.emit(Event{Kind: EventInclusionFailed})
		}
		c.pending.clear()
		return transport.Handled

	case zwave.AddNodeStatusAddingController:
		c.stateMu.Lock()
		c.includeController = true
		c.stateMu.Unlock()
		fallthrough
	case zwave.AddNodeStatusAddingSlave:
		n := newPendingNodeFromStatus(resp.Payload)
		c.pending.set(pendingInclusion, n)
		return transport.Handled

	case zwave.AddNodeStatusProtocolDone:
		c.stopInclusionInternal()
		c.emit(Event{Kind: EventInclusionStopped})
		return transport.Handled

	case zwave.AddNodeStatusDone:
		nodeID := decodeStatusNodeID(resp.Payload)
		if nodeID == zwave.BroadcastNodeID {
			c.pending.clear()
			c.logger.Warn("AddNodeToNetwork Done with broadcast node id, nothing to commit")
		} else if pn := c.pending.get(pendingInclusion); pn != nil {
			c.commitIncludedNode(ctx, pn)
		}
		c.stateMu.Lock()
		sig := c.stopInclusionSignal
		c.stateMu.Unlock()
		if sig != nil {
			sig.resolve(true)
		}
		return transport.Handled

	default:
		return transport.NotHandled
	}
}

// commitIncludedNode runs the Done-status commit sequence sequentially
// (spec §4.2: "All outgoing side-effects after Done happen sequentially
// within the handler"): register, mark alive, SUC return route, S0
// bootstrap, lifeline + wake-up bootstrap, clear includeController.
func (c *Controller) commitIncludedNode(ctx context.Context, n *node.Node) {
	c.registry.Set(n)
	n.MarkAsAlive()
	c.assignSUCReturnRoute(ctx, n)

	c.stateMu.Lock()
	includeController := c.includeController
	nonSecure := c.includeNonSecure
	c.stateMu.Unlock()

	if !nonSecure {
		c.secureBootstrapS0(ctx, n, false, includeController)
	} else {
		n.SetSecure(false)
	}
	c.bootstrapLifeline(ctx, n)
	c.bootstrapWakeUp(ctx, n)

	c.stateMu.Lock()
	c.includeController = false
	c.stateMu.Unlock()
	c.pending.clear()

	c.emit(Event{Kind: EventNodeAdded, Node: n})
}

// assignSUCReturnRoute sends AssignSUCReturnRoute for a newly included or
// replaced node (spec §4.2 "assign SUC return route").
func (c *Controller) assignSUCReturnRoute(ctx context.Context, n *node.Node) {
	sucID := c.identity.SUCNodeID()
	if sucID == 0 {
		return
	}
	payload := []byte{n.ID()}
	if _, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncAssignSUCReturnRoute, Payload: payload}, transport.SendOptions{SupportCheck: true}); err != nil {
		c.logger.Warn("assign SUC return route failed", "node", n.ID(), "err", err)
		return
	}
	n.SetHasSUCReturnRoute(true)
}

// BeginExclusion is the beginExclusion user-entry operation, symmetric to
// BeginInclusion (spec §4.2 "Exclusion state machine").
func (c *Controller) BeginExclusion(ctx context.Context) (bool, error) {
	c.stateMu.Lock()
	if c.inclusionActive || c.exclusionActive {
		c.stateMu.Unlock()
		return false, nil
	}
	c.exclusionActive = true
	c.beginInclusionSignal = newSignal[bool]() // reused slot; exclusion never runs concurrently with inclusion
	sig := c.beginInclusionSignal
	c.stateMu.Unlock()

	if _, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncRemoveNodeFromNetwork, Payload: []byte{1}}, transport.SendOptions{SupportCheck: true}); err != nil {
		c.stateMu.Lock()
		c.exclusionActive = false
		c.stateMu.Unlock()
		return false, err
	}

	return sig.wait(ctx)
}

// StopExclusion mirrors StopInclusion.
func (c *Controller) StopExclusion(ctx context.Context) bool {
	c.stateMu.Lock()
	if !c.exclusionActive {
		c.stateMu.Unlock()
		return false
	}
	c.stopInclusionSignal = newSignal[bool]()
	sig := c.stopInclusionSignal
	c.stateMu.Unlock()

	_, _ = c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncRemoveNodeFromNetwork, Payload: []byte{0}}, transport.SendOptions{SupportCheck: true})
	_, _ = sig.wait(ctx)
	return true
}

func (c *Controller) stopExclusionInternal() {
	c.stateMu.Lock()
	c.exclusionActive = false
	c.stateMu.Unlock()
	c.pending.clear()
}

// handleRemoveNodeStatus drives the exclusion state machine (spec §4.2
// "Exclusion state machine").
func (c *Controller) handleRemoveNodeStatus(ctx context.Context, resp transport.Response) transport.HandlerResult {
	if len(resp.Payload) < 1 {
		return transport.NotHandled
	}
	status := zwave.RemoveNodeStatus(resp.Payload[0])

	switch status {
	case zwave.RemoveNodeStatusReady:
		c.stateMu.Lock()
		sig := c.beginInclusionSignal
		c.stateMu.Unlock()
		if sig != nil {
			sig.resolve(true)
		}
		c.emit(Event{Kind: EventExclusionStarted})
		return transport.Handled

	case zwave.RemoveNodeStatusFailed:
		c.stateMu.Lock()
		sig := c.beginInclusionSignal
		c.stateMu.Unlock()
		if sig != nil && sig.pending() {
			sig.reject(newError(ErrExclusionFailed, "stick reported RemoveNodeFromNetwork failure"))
		} else {
			c.emit(Event{Kind: EventExclusionFailed})
		}
		c.stopExclusionInternal()
		return transport.Handled

	case zwave.RemoveNodeStatusRemovingSlave, zwave.RemoveNodeStatusRemovingController:
		id := decodeStatusNodeID(resp.Payload)
		if n, ok := c.registry.Get(id); ok {
			c.pending.set(pendingExclusion, n)
		}
		return transport.Handled

	case zwave.RemoveNodeStatusDone:
		c.stateMu.Lock()
		sig := c.stopInclusionSignal
		c.stateMu.Unlock()
		if sig != nil {
			sig.resolve(true)
		}
		if n := c.pending.get(pendingExclusion); n != nil {
			c.registry.Delete(n.ID())
			c.emit(Event{Kind: EventNodeRemoved, Node: n, Replaced: false})
		}
		c.stopExclusionInternal()
		return transport.Handled

	default:
		return transport.NotHandled
	}
}

// ReplaceFailedNode is the replaceFailedNode user-entry operation (spec
// §4.2 "Replace-failed-node state machine").
func (c *Controller) ReplaceFailedNode(ctx context.Context, nodeID uint8) (bool, error) {
	c.stateMu.Lock()
	if c.inclusionActive || c.exclusionActive {
		c.stateMu.Unlock()
		return false, nil
	}
	c.stateMu.Unlock()

	n, err := c.registry.GetOrThrow(nodeID)
	if err != nil {
		return false, err
	}

	if alive, _ := c.pingNode(ctx, nodeID); alive {
		return false, newError(ErrReplaceFailedNodeFailed, "node %d responded to a ping", nodeID)
	}

	resp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncReplaceFailedNode, Payload: []byte{nodeID}}, transport.SendOptions{SupportCheck: true})
	if err != nil {
		return false, err
	}
	if len(resp.Payload) >= 1 && resp.Payload[0] != 0 {
		return false, newError(ErrReplaceFailedNodeFailed, "replace failed to start: %s", decodeStartFlags(resp.Payload[0]))
	}

	c.pending.set(pendingReplace, n)
	c.stateMu.Lock()
	c.replaceFailedSignal = newSignal[bool]()
	sig := c.replaceFailedSignal
	c.stateMu.Unlock()

	return sig.wait(ctx)
}

// handleReplaceFailedNodeStatus drives the replace state machine (spec
// §4.2 steps 5).
func (c *Controller) handleReplaceFailedNodeStatus(ctx context.Context, resp transport.Response) transport.HandlerResult {
	if len(resp.Payload) < 1 {
		return transport.NotHandled
	}
	status := zwave.ReplaceFailedNodeStatus(resp.Payload[0])
	pn := c.pending.get(pendingReplace)

	switch status {
	case zwave.ReplaceFailedNodeStatusNodeOK:
		c.stateMu.Lock()
		sig := c.replaceFailedSignal
		c.stateMu.Unlock()
		if sig != nil {
			sig.reject(newError(ErrReplaceFailedNodeOK, "node is not actually failed"))
		}
		c.emit(Event{Kind: EventInclusionFailed})
		c.pending.clear()
		return transport.Handled

	case zwave.ReplaceFailedNodeStatusReplaceFailed:
		c.stateMu.Lock()
		sig := c.replaceFailedSignal
		c.stateMu.Unlock()
		if sig != nil {
			sig.reject(newError(ErrReplaceFailedNodeFailed, "replace failed"))
		}
		c.emit(Event{Kind: EventInclusionFailed})
		c.pending.clear()
		return transport.Handled

	case zwave.ReplaceFailedNodeStatusReplace:
		c.stateMu.Lock()
		c.inclusionActive = true
		nonSecure := c.includeNonSecure
		sig := c.replaceFailedSignal
		c.stateMu.Unlock()
		c.emit(Event{Kind: EventInclusionStarted, Secure: !nonSecure})
		if sig != nil {
			sig.resolve(true)
		}
		return transport.Handled

	case zwave.ReplaceFailedNodeStatusReplaceDone:
		c.emit(Event{Kind: EventInclusionStopped})
		if pn != nil {
			// nodes.get(oldId) read happens before delete (spec §9 ordering note).
			c.emit(Event{Kind: EventNodeRemoved, Node: pn, Replaced: true})
			id := pn.ID()
			c.registry.Delete(id)

			fresh := node.New(id, pn.ValueDB())
			fresh.MarkAsAlive()
			c.registry.Set(fresh)
			c.assignSUCReturnRoute(ctx, fresh)
			c.secureBootstrapS0(ctx, fresh, true, false)
			c.bootstrapLifeline(ctx, fresh)
			c.emit(Event{Kind: EventNodeAdded, Node: fresh})
		}
		c.stateMu.Lock()
		c.inclusionActive = false
		c.stateMu.Unlock()
		c.pending.clear()
		return transport.Handled

	default:
		return transport.NotHandled
	}
}

// pingNode is the Node.ping hook, injected via PingFunc (spec §6 Node
// contract "ping"). A Controller without one treats every node as
// unreachable-by-ping (conservative: never blocks a replace/remove on a
// ping it cannot actually perform).
func (c *Controller) pingNode(ctx context.Context, nodeID uint8) (bool, error) {
	if c.ping == nil {
		return false, nil
	}
	return c.ping(ctx, nodeID)
}

// newPendingNodeFromStatus builds the pending Node from an
// AddingSlave/AddingController status context (spec §4.2: device class
// triple, supported CCs, controlled CCs, empty value store). Payload
// layout: [status, nodeId, basic, generic, specific, numSupported,
// supported CCs..., numControlled, controlled CCs...].
func newPendingNodeFromStatus(payload []byte) *node.Node {
	if len(payload) < 6 {
		return nil
	}
	id := payload[1]
	n := node.New(id, nil)
	n.SetDeviceClass(zwave.DeviceClass{Basic: payload[2], Generic: payload[3], Specific: payload[4]})

	i := 6
	numSupported := int(payload[5])
	for j := 0; j < numSupported && i < len(payload); j++ {
		n.AddCC(zwave.CommandClass(payload[i]), 1)
		i++
	}
	if i < len(payload) {
		numControlled := int(payload[i])
		i++
		for j := 0; j < numControlled && i < len(payload); j++ {
			n.AddControlledCC(zwave.CommandClass(payload[i]))
			i++
		}
	}
	return n
}

func decodeStatusNodeID(payload []byte) uint8 {
	if len(payload) < 2 {
		return 0
	}
	return payload[1]
}

func decodeStartFlags(b byte) string {
	flags := zwave.StartFlag(b)
	var parts []string
	if flags&zwave.StartFlagNotPrimaryController != 0 {
		parts = append(parts, "not primary controller")
	}
	if flags&zwave.StartFlagNoCallbackFunction != 0 {
		parts = append(parts, "no callback function")
	}
	if flags&zwave.StartFlagNodeNotFound != 0 {
		parts = append(parts, "node not found")
	}
	if flags&zwave.StartFlagRemoveProcessBusy != 0 {
		parts = append(parts, "remove process busy")
	}
	if flags&zwave.StartFlagRemoveFail != 0 {
		parts = append(parts, "remove fail")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("unknown start flags 0x%02X", b)
	}
	return strings.Join(parts, "; ")
}
