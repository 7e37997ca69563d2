package controller

import (
	"context"
	"fmt"

	"zwave-controller-core/internal/cache"
	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/transport"
	"zwave-controller-core/internal/valuestore"
	"zwave-controller-core/internal/zwave"
)

// InitValueDBsFunc opens the backing value/metadata databases before any
// per-node Factory calls are made (spec §4.1, "invokes the external
// initValueDBs hook").
type InitValueDBsFunc func(ctx context.Context) error

// Interview runs the one-shot startup sequence (C3). Grounded on the
// teacher's Coordinator.Start (internal/coordinator/coordinator.go):
// a linear sequence of NCP/transport calls, each error wrapped and
// propagated, with a warn-level fallback for one optional step (SUC
// self-promotion here, network resume there).
func (c *Controller) Interview(ctx context.Context, initValueDBs InitValueDBsFunc, valueDBs valuestore.Factory) error {
	// Queries 1-5 are unconditional (spec §4.1 "Failure semantics");
	// any transport error here aborts the interview and IsFunctionSupported
	// keeps failing with Driver_NotReady.

	// 1. controller version.
	verResp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncGetSerialAPIVersion}, transport.SendOptions{SupportCheck: false})
	if err != nil {
		return fmt.Errorf("get serial api version: %w", err)
	}
	libVersion, libType := zwave.DecodeLibraryInfo(verResp.Payload)
	c.identity.SetLibraryInfo(libVersion, libType)

	// 2. controller ids.
	idsResp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncGetControllerCaps}, transport.SendOptions{SupportCheck: false})
	if err != nil {
		return fmt.Errorf("get controller ids: %w", err)
	}
	homeID, ownNodeID := zwave.DecodeControllerIDs(idsResp.Payload)
	c.identity.SetIDs(homeID, ownNodeID)

	// 3. controller capabilities -> role flags.
	capsResp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncGetControllerCaps}, transport.SendOptions{SupportCheck: false})
	if err != nil {
		return fmt.Errorf("get controller caps: %w", err)
	}
	isSecondary, usingOtherHomeID, isSIS, wasRealPrimary, isSUC, isSlave, supportsTimers := zwave.DecodeRoleFlags(capsResp.Payload)
	c.identity.SetRoleFlags(isSecondary, usingOtherHomeID, isSIS, wasRealPrimary, isSUC, isSlave, supportsTimers)

	// 4. serial API capabilities -> serialApiVersion, manufacturer triple,
	// supported function-type list.
	serialCapsResp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncGetSerialAPICaps}, transport.SendOptions{SupportCheck: false})
	if err != nil {
		return fmt.Errorf("get serial api caps: %w", err)
	}
	serialAPIVersion, manufacturerID, productType, productID, functions := zwave.DecodeSerialAPICaps(serialCapsResp.Payload)
	c.identity.SetSerialAPICaps(serialAPIVersion, manufacturerID, productType, productID, functions)

	// 5. SUC id.
	sucResp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncGetSUCNodeID}, transport.SendOptions{SupportCheck: false})
	if err != nil {
		return fmt.Errorf("get suc node id: %w", err)
	}
	sucNodeID := zwave.DecodeSUCNodeID(sucResp.Payload)
	c.identity.SetSUCNodeID(sucNodeID)

	// SUC self-promotion: non-secondary, not itself SUC, no SUC/SIS in the
	// network. Best-effort; failure is logged but non-fatal (spec §4.1).
	if !isSecondary && !isSUC && sucNodeID == 0 && !isSIS {
		if err := c.configureSUC(ctx, ownNodeID, true, true); err != nil {
			c.logger.Warn("SUC self-promotion failed", "err", err)
		}
	}

	if initValueDBs != nil {
		if err := initValueDBs(ctx); err != nil {
			return fmt.Errorf("init value dbs: %w", err)
		}
	}

	initDataResp, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncGetSerialAPIInitData}, transport.SendOptions{SupportCheck: false})
	if err != nil {
		return fmt.Errorf("get serial api init data: %w", err)
	}
	nodeIDs := zwave.DecodeNodeIDList(initDataResp.Payload)

	for _, id := range nodeIDs {
		var vdb valuestore.Store
		if valueDBs != nil {
			vdb, err = valueDBs.ForNode(id)
			if err != nil {
				return fmt.Errorf("open value db for node %d: %w", id, err)
			}
		}
		c.registry.Set(node.New(id, vdb))
	}
	// Own node id is always present after interview (spec §3 invariant).
	if _, ok := c.registry.Get(ownNodeID); !ok {
		var vdb valuestore.Store
		if valueDBs != nil {
			vdb, err = valueDBs.ForNode(ownNodeID)
			if err != nil {
				return fmt.Errorf("open value db for own node %d: %w", ownNodeID, err)
			}
		}
		c.registry.Set(node.New(ownNodeID, vdb))
	}

	if err := c.restoreFromCache(ctx); err != nil {
		return fmt.Errorf("restore from cache: %w", err)
	}

	if own, ok := c.registry.Get(ownNodeID); ok && own.ValueDB() != nil {
		manufacturerID, productType, productID := c.identity.ManufacturerTriple()
		_ = own.ValueDB().SetValue(valuestore.ValueID{CommandClass: uint8(zwave.CCManufacturerSpecific), Property: "manufacturerId"}, manufacturerID)
		_ = own.ValueDB().SetValue(valuestore.ValueID{CommandClass: uint8(zwave.CCManufacturerSpecific), Property: "productType"}, productType)
		_ = own.ValueDB().SetValue(valuestore.ValueID{CommandClass: uint8(zwave.CCManufacturerSpecific), Property: "productId"}, productID)
	}

	// identity.MarkReady must happen before the timeouts push below can
	// use IsFunctionSupported, and before any caller-facing API becomes
	// usable.
	c.identity.MarkReady()

	if libType != zwave.LibraryTypeBridgeController {
		supported, _ := c.identity.IsFunctionSupported(zwave.FuncSetSerialAPITimeouts)
		if supported {
			timeouts := c.transport.Timeouts()
			payload := zwave.EncodeSerialAPITimeouts(uint32(timeouts.Ack.Milliseconds()), uint32(timeouts.Byte.Milliseconds()))
			if _, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncSetSerialAPITimeouts, Payload: payload}, transport.SendOptions{SupportCheck: true}); err != nil {
				c.logger.Warn("SetSerialApiTimeouts failed", "err", err)
			}
		}
	}

	return nil
}

// configureSUC drives the controller's own SUC self-promotion (spec §4.1,
// §8 scenario 1: expect one SetSUCNodeIdRequest{sucNodeId=ownNodeId,
// enableSUC=true, enableSIS=true}).
func (c *Controller) configureSUC(ctx context.Context, ownNodeID uint8, enableSUC, enableSIS bool) error {
	payload := zwave.EncodeSetSUCNodeID(ownNodeID, enableSUC, enableSIS)
	_, err := c.transport.SendMessage(ctx, transport.Request{FunctionType: zwave.FuncSetSUCNodeID, Payload: payload}, transport.SendOptions{SupportCheck: false})
	return err
}

// restoreFromCache loads the persisted node registry snapshot and applies
// it onto the freshly created Node objects (spec §4.1, §6). A cache-less
// Controller (cacheStore == nil) treats this as a no-op.
func (c *Controller) restoreFromCache(ctx context.Context) error {
	if c.cacheStore == nil {
		return nil
	}
	doc, err := c.cacheStore.Load()
	if err != nil {
		return err
	}
	for key, ser := range doc.Nodes {
		n, ok := c.registry.Get(ser.ID)
		if !ok {
			c.logger.Warn("cache entry for unknown node, skipping", "key", key, "id", ser.ID)
			continue
		}
		n.Deserialize(ser)
	}
	return nil
}

// Persist writes the current registry snapshot to the cache store.
func (c *Controller) Persist() error {
	if c.cacheStore == nil {
		return nil
	}
	nodes := make(map[string]*node.Serialized)
	for _, n := range c.registry.All() {
		ser := n.Serialize()
		nodes[fmt.Sprintf("%d", ser.ID)] = ser
	}
	return c.cacheStore.Save(&cache.Document{Nodes: nodes})
}
