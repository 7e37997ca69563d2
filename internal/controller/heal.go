package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/transport"
	"zwave-controller-core/internal/zwave"
)

const healPhaseRetries = 5

// healFunctionTypes is the class of in-flight requests stopHealingNetwork
// cancels via RejectTransactions (spec §4.5 "Stop heal").
var healFunctionTypes = map[zwave.FunctionType]struct{}{
	zwave.FuncRequestNodeNeighborUpd: {},
	zwave.FuncDeleteReturnRoute:      {},
	zwave.FuncAssignReturnRoute:      {},
}

func isHealTransaction(tx transport.Transaction) bool {
	_, ok := healFunctionTypes[tx.FunctionType]
	return ok
}

// healActiveNow reports whether healActive is still set, used as the
// cooperative abort check between retry attempts (spec §4.5 "Between
// attempts, check healActive; if cleared, abort and return false").
func (c *Controller) healActiveNow() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.healActive
}

// healNodeInternal runs the four-phase per-node heal (C7). Each phase is
// retried up to healPhaseRetries times; exhausting retries fails the
// heal. Grounded on the teacher's DeviceManager.Interview retry loop
// (internal/coordinator/device_manager.go) for the bounded-retry shape.
func (c *Controller) healNodeInternal(ctx context.Context, n *node.Node) bool {
	if !c.healActiveNow() {
		return false
	}
	if !c.healPhaseRetry(ctx, func() error { return c.healRefreshNeighbors(ctx, n) }) {
		return false
	}
	if !c.healActiveNow() {
		return false
	}
	if !c.healPhaseRetry(ctx, func() error { return c.healRetrieveNeighbors(ctx, n) }) {
		return false
	}
	if !c.healActiveNow() {
		return false
	}
	if !c.healPhaseRetry(ctx, func() error { return c.healDeleteReturnRoutes(ctx, n) }) {
		return false
	}
	if !c.healActiveNow() {
		return false
	}
	targets := c.healReturnRouteTargets(n)
	for _, target := range targets {
		if !c.healActiveNow() {
			return false
		}
		target := target
		if !c.healPhaseRetry(ctx, func() error { return c.healAssignReturnRoute(ctx, n, target) }) {
			return false
		}
	}
	return true
}

// healPhaseRetry retries fn up to healPhaseRetries times, aborting early
// if healActive clears (spec §4.5).
func (c *Controller) healPhaseRetry(ctx context.Context, fn func() error) bool {
	var lastErr error
	for attempt := 0; attempt < healPhaseRetries; attempt++ {
		if !c.healActiveNow() {
			return false
		}
		if err := fn(); err == nil {
			return true
		} else {
			lastErr = err
		}
	}
	if lastErr != nil {
		c.logger.Warn("heal phase exhausted retries", "err", lastErr)
	}
	return false
}

// healRefreshNeighbors is heal phase 1: send RequestNodeNeighborUpdate,
// success only when the report says UpdateDone.
func (c *Controller) healRefreshNeighbors(ctx context.Context, n *node.Node) error {
	resp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncRequestNodeNeighborUpd, Payload: []byte{n.ID()}}, transport.SendOptions{SupportCheck: true})
	if err != nil {
		return err
	}
	if len(resp.Payload) < 1 || zwave.NeighborUpdateStatus(resp.Payload[0]) != zwave.NeighborUpdateStatusDone {
		return fmt.Errorf("neighbor update did not complete for node %d", n.ID())
	}
	return nil
}

// healRetrieveNeighbors is heal phase 2: the node's internal neighbor
// query. Node-owned and CC-codec-agnostic (spec §1 non-goals); this
// controller only needs the call to succeed or fail.
func (c *Controller) healRetrieveNeighbors(ctx context.Context, n *node.Node) error {
	_, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncRequestNodeNeighborUpd, Payload: []byte{n.ID(), 1}}, transport.SendOptions{SupportCheck: true})
	return err
}

// healDeleteReturnRoutes is heal phase 3.
func (c *Controller) healDeleteReturnRoutes(ctx context.Context, n *node.Node) error {
	_, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncDeleteReturnRoute, Payload: []byte{n.ID()}}, transport.SendOptions{SupportCheck: true})
	return err
}

// healAssignReturnRoute is one send of heal phase 4.
func (c *Controller) healAssignReturnRoute(ctx context.Context, n *node.Node, targetID uint8) error {
	_, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncAssignReturnRoute, Payload: []byte{n.ID(), targetID}}, transport.SendOptions{SupportCheck: true})
	return err
}

// healReturnRouteTargets computes heal phase 4's destination set: the
// union of association-target nodes across all groups, deduplicated and
// sorted, own node id guaranteed present and first, truncated to at most
// 4 entries (spec §4.5 phase 4, §8 "Return-route cap").
func (c *Controller) healReturnRouteTargets(n *node.Node) []uint8 {
	ownID := c.identity.OwnNodeID()
	seen := map[uint8]struct{}{ownID: {}}
	targets := []uint8{ownID}

	assocs, err := c.associations.GetAssociations(n.ID())
	if err == nil {
		var ids []uint8
		for _, dests := range assocs {
			for _, a := range dests {
				if _, dup := seen[a.NodeID]; !dup {
					seen[a.NodeID] = struct{}{}
					ids = append(ids, a.NodeID)
				}
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		targets = append(targets, ids...)
	}

	if len(targets) > 4 {
		targets = targets[:4]
	}
	return targets
}

// BeginHealingNetwork is the network-wide heal operation (C7). Populates
// healProgress, fans out one heal task per eligible node, and emits
// progress/done events as each finishes (spec §4.5 "Network heal").
func (c *Controller) BeginHealingNetwork(ctx context.Context) {
	c.stateMu.Lock()
	if c.healActive {
		c.stateMu.Unlock()
		return
	}
	c.healActive = true
	c.stateMu.Unlock()

	ownID := c.identity.OwnNodeID()
	nodes := c.registry.All()

	c.healProgressMu.Lock()
	c.healProgress = make(map[uint8]HealNodeState, len(nodes))
	eligible := make([]*node.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.ID() == ownID {
			continue
		}
		if n.Status() == node.StatusDead {
			c.healProgress[n.ID()] = HealSkipped
			continue
		}
		if n.Status() == node.StatusAsleep && !n.InterviewedPastProtocolInfo() {
			c.healProgress[n.ID()] = HealSkipped
			continue
		}
		c.healProgress[n.ID()] = HealPending
		eligible = append(eligible, n)
	}
	c.healProgressMu.Unlock()

	var wg sync.WaitGroup
	for _, n := range eligible {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := c.healNodeInternal(ctx, n)

			c.healProgressMu.Lock()
			if ok {
				c.healProgress[n.ID()] = HealDone
			} else {
				c.healProgress[n.ID()] = HealFailed
			}
			snapshot := cloneHealProgress(c.healProgress)
			c.healProgressMu.Unlock()

			c.emit(Event{Kind: EventHealNetworkProgress, HealSnapshot: snapshot})
		}()
	}
	wg.Wait()

	if c.healActiveNow() {
		c.healProgressMu.Lock()
		snapshot := cloneHealProgress(c.healProgress)
		c.healProgressMu.Unlock()
		c.emit(Event{Kind: EventHealNetworkDone, HealSnapshot: snapshot})
	}

	c.stateMu.Lock()
	c.healActive = false
	c.stateMu.Unlock()
}

// StopHealingNetwork implements spec §4.5 "Stop heal": clear healActive
// and reject in-flight heal-class transactions.
func (c *Controller) StopHealingNetwork() {
	c.stateMu.Lock()
	c.healActive = false
	c.stateMu.Unlock()
	c.transport.RejectTransactions(isHealTransaction)
}

func cloneHealProgress(src map[uint8]HealNodeState) map[uint8]HealNodeState {
	out := make(map[uint8]HealNodeState, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
