package controller

import (
	"context"

	"zwave-controller-core/internal/transport"
	"zwave-controller-core/internal/zwave"
)

// RemoveFailedNode implements spec §4.7 "Failed-Node Removal": refuse if
// the node answers a ping, send RemoveFailedNode, and dispatch on the
// response/status.
func (c *Controller) RemoveFailedNode(ctx context.Context, nodeID uint8) error {
	n, err := c.registry.GetOrThrow(nodeID)
	if err != nil {
		return err
	}

	if alive, _ := c.pingNode(ctx, nodeID); alive {
		// spec §8 scenario 6 names this refusal ReplaceFailedNode_Failed,
		// not RemoveFailedNode_Failed, even though it's raised from
		// RemoveFailedNode — the ping-refusal check is shared vocabulary
		// between the two failed-node operations.
		return newError(ErrReplaceFailedNodeFailed, "node %d responded to a ping", nodeID)
	}

	resp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncRemoveFailedNode, Payload: []byte{nodeID}}, transport.SendOptions{SupportCheck: true})
	if err != nil {
		return err
	}

	if len(resp.Payload) < 1 {
		return newError(ErrRemoveFailedNodeFailed, "remove failed node: empty response")
	}
	// Byte 0 carries start-flags when starting the operation itself
	// failed, and a RemoveFailedNodeStatus when the operation started and
	// produced a genuine status report (spec §4.7). The two code spaces
	// share a wire position in the real protocol; byte 1's presence (a
	// one-byte status report never carries one) disambiguates them here:
	// a nonzero byte 0 followed by a byte 1 is read as start-flags.
	if len(resp.Payload) >= 2 && resp.Payload[0] != 0 {
		return newError(ErrRemoveFailedNodeFailed, "remove failed to start: %s", decodeStartFlags(resp.Payload[0]))
	}

	switch zwave.RemoveFailedNodeStatus(resp.Payload[0]) {
	case zwave.RemoveFailedNodeStatusNodeOK:
		return newError(ErrRemoveFailedNodeOK, "node %d is not actually failed", nodeID)
	case zwave.RemoveFailedNodeStatusNodeNotRemoved:
		return newError(ErrRemoveFailedNodeFailed, "node %d was not removed", nodeID)
	case zwave.RemoveFailedNodeStatusNodeRemoved:
		c.registry.Delete(nodeID)
		c.emit(Event{Kind: EventNodeRemoved, Node: n, Replaced: false})
		return nil
	default:
		return newError(ErrRemoveFailedNodeFailed, "unrecognized remove-failed-node status for node %d", nodeID)
	}
}

// HardReset implements spec §4.8: issue HardReset, register a one-shot
// handler that clears every node's listeners and empties the registry on
// confirmation.
func (c *Controller) HardReset(ctx context.Context) error {
	confirmed := make(chan struct{}, 1)
	c.transport.RegisterRequestHandler(zwave.FuncHardReset, func(ctx context.Context, resp transport.Response) transport.HandlerResult {
		for _, n := range c.registry.All() {
			n.RemoveAllListeners()
		}
		c.registry.Clear()
		select {
		case confirmed <- struct{}{}:
		default:
		}
		return transport.Handled
	}, true)

	if _, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncHardReset}, transport.SendOptions{SupportCheck: true}); err != nil {
		c.transport.UnregisterRequestHandler(zwave.FuncHardReset)
		return err
	}

	select {
	case <-confirmed:
		return nil
	case <-ctx.Done():
		c.transport.UnregisterRequestHandler(zwave.FuncHardReset)
		return ctx.Err()
	}
}
