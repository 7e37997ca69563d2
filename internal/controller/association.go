package controller

import (
	"fmt"
	"strings"
	"sync"

	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/zwave"
)

// Association identifies one destination in an association group (spec
// §3 "Association"). Endpoint == nil means "plain association".
type Association struct {
	NodeID   uint8
	Endpoint *uint8
}

func (a Association) key() string {
	if a.Endpoint == nil {
		return fmt.Sprintf("%d", a.NodeID)
	}
	return fmt.Sprintf("%d/%d", a.NodeID, *a.Endpoint)
}

// AssociationGroup is the read model returned by GetAssociationGroups
// (spec §3 "AssociationGroup").
type AssociationGroup struct {
	MaxNodes       uint8
	IsLifeline     bool
	Label          string
	MultiChannel   bool
	IssuedCommands map[zwave.CommandClass]struct{}
}

// AGIGroupInfo is one group's cached Association Group Information CC
// data (spec §4.6 "AGI cache"): name and issued-command set. Populated by
// the (out-of-scope) AGI CC interview; tests populate it directly.
type AGIGroupInfo struct {
	Name           string
	IssuedCommands map[zwave.CommandClass]struct{}
}

// nodeAssocState holds one node's association bookkeeping: plain and
// multi-channel group counts, cached destinations per group, and the AGI
// cache. This is the part of the association data model spec §1 treats
// as node-owned state but doesn't dictate a storage shape for, so it's
// modeled as plain Controller-owned maps rather than stuffed onto Node
// (Node stays CC-codec-agnostic per spec §1 non-goals).
type nodeAssocState struct {
	plainGroupCount uint8
	mcGroupCount    uint8
	plainDests      map[uint8][]Association
	mcDests         map[uint8][]Association
	agi             map[uint8]AGIGroupInfo
}

// AssociationManager is the Association Manager component (C8).
type AssociationManager struct {
	c     *Controller
	mu    sync.Mutex
	state map[uint8]*nodeAssocState
}

func newAssociationManager(c *Controller) *AssociationManager {
	return &AssociationManager{c: c, state: make(map[uint8]*nodeAssocState)}
}

func (m *AssociationManager) stateFor(nodeID uint8) *nodeAssocState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[nodeID]
	if !ok {
		s = &nodeAssocState{plainDests: make(map[uint8][]Association), mcDests: make(map[uint8][]Association), agi: make(map[uint8]AGIGroupInfo)}
		m.state[nodeID] = s
	}
	return s
}

// SetGroupCounts records the plain/multi-channel group counts an external
// interview step discovered for a node, used by GetAssociationGroups.
func (m *AssociationManager) SetGroupCounts(nodeID uint8, plain, multiChannel uint8) {
	s := m.stateFor(nodeID)
	m.mu.Lock()
	s.plainGroupCount = plain
	s.mcGroupCount = multiChannel
	m.mu.Unlock()
}

// SetAGIInfo records a group's AGI cache entry.
func (m *AssociationManager) SetAGIInfo(nodeID uint8, group uint8, info AGIGroupInfo) {
	s := m.stateFor(nodeID)
	m.mu.Lock()
	s.agi[group] = info
	m.mu.Unlock()
}

// GetAssociationGroups implements spec §4.6 "getAssociationGroups(nodeId)".
func (m *AssociationManager) GetAssociationGroups(nodeID uint8) (map[uint8]AssociationGroup, error) {
	n, err := m.c.registry.GetOrThrow(nodeID)
	if err != nil {
		return nil, err
	}
	if !n.SupportsCC(zwave.CCAssociation) && !n.SupportsCC(zwave.CCMultiChannelAssociation) {
		return nil, newError(ErrCCNotSupported, "node %d does not support Association", nodeID)
	}

	s := m.stateFor(nodeID)
	m.mu.Lock()
	plainCount, mcCount := s.plainGroupCount, s.mcGroupCount
	m.mu.Unlock()

	count := plainCount
	if mcCount > count {
		count = mcCount
	}
	if count == 0 {
		count = 1 // every node has at least the lifeline group
	}

	hasAGI := n.SupportsCC(zwave.CCAssociationGroupInformation)
	cfgEntry := m.c.deviceConfigEntry(n)

	groups := make(map[uint8]AssociationGroup, count)
	for g := uint8(1); g <= count; g++ {
		groups[g] = m.buildGroup(s, g, hasAGI, cfgEntry, plainCount, mcCount)
	}
	return groups, nil
}

func (m *AssociationManager) buildGroup(s *nodeAssocState, group uint8, hasAGI bool, cfgEntry *deviceConfigEntryLike, plainCount, mcCount uint8) AssociationGroup {
	var cfg *groupConfigLike
	if cfgEntry != nil {
		cfg = cfgEntry.group(group)
	}

	var maxNodes uint8
	switch {
	case group <= mcCount && mcCount > 0:
		maxNodes = 14 // multi-channel group max, out-of-spec-scope concrete number
	case group <= plainCount && plainCount > 0:
		maxNodes = 5 // plain group max, out-of-spec-scope concrete number
	case cfg != nil && cfg.maxNodes > 0:
		maxNodes = cfg.maxNodes
	default:
		maxNodes = 1
	}

	var isLifeline bool
	if hasAGI {
		isLifeline = group == 1
	} else if cfg != nil {
		isLifeline = cfg.isLifeline
	} else {
		isLifeline = group == 1
	}

	m.mu.Lock()
	agi, hasAGIEntry := s.agi[group]
	m.mu.Unlock()

	var label string
	switch {
	case cfg != nil && cfg.label != "":
		label = cfg.label
	case hasAGIEntry && agi.Name != "":
		label = agi.Name
	default:
		label = fmt.Sprintf("Unnamed group %d", group)
	}

	multiChannel := group <= mcCount && mcCount > 0 && !(cfg != nil && cfg.noEndpoint)

	var issued map[zwave.CommandClass]struct{}
	if hasAGIEntry {
		issued = agi.IssuedCommands
	}

	return AssociationGroup{MaxNodes: maxNodes, IsLifeline: isLifeline, Label: label, MultiChannel: multiChannel, IssuedCommands: issued}
}

// GetAssociations implements spec §4.6 "getAssociations(nodeId)": merges
// cached plain and multi-channel destinations, deduping by (nodeId,
// endpoint).
func (m *AssociationManager) GetAssociations(nodeID uint8) (map[uint8][]Association, error) {
	if _, err := m.c.registry.GetOrThrow(nodeID); err != nil {
		return nil, err
	}
	s := m.stateFor(nodeID)
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[uint8][]Association)
	groups := make(map[uint8]struct{})
	for g := range s.plainDests {
		groups[g] = struct{}{}
	}
	for g := range s.mcDests {
		groups[g] = struct{}{}
	}
	for g := range groups {
		seen := make(map[string]struct{})
		var merged []Association
		for _, a := range s.plainDests[g] {
			if _, dup := seen[a.key()]; !dup {
				seen[a.key()] = struct{}{}
				merged = append(merged, a)
			}
		}
		for _, a := range s.mcDests[g] {
			if _, dup := seen[a.key()]; !dup {
				seen[a.key()] = struct{}{}
				merged = append(merged, a)
			}
		}
		out[g] = merged
	}
	return out, nil
}

// IsAssociationAllowed implements spec §4.6's admissibility check.
func (m *AssociationManager) IsAssociationAllowed(nodeID, group uint8, target Association) (bool, error) {
	n, err := m.c.registry.GetOrThrow(nodeID)
	if err != nil {
		return false, err
	}
	if !n.SupportsCC(zwave.CCAssociation) && !n.SupportsCC(zwave.CCMultiChannelAssociation) {
		return false, newError(ErrCCNotSupported, "node %d does not support Association", nodeID)
	}

	targetEndpoint := uint8(0)
	if target.Endpoint != nil {
		targetEndpoint = *target.Endpoint
	}

	if target.NodeID == m.c.identity.OwnNodeID() {
		if group == 1 {
			return true, nil
		}
	} else {
		targetNode, err := m.c.registry.GetOrThrow(target.NodeID)
		if err != nil {
			return false, err
		}
		if !targetNode.EndpointExists(targetEndpoint) {
			return false, newError(ErrEndpointNotFound, "node %d has no endpoint %d", target.NodeID, targetEndpoint)
		}
	}

	if group == 1 && target.NodeID == m.c.identity.OwnNodeID() {
		return true, nil // lifeline associations to the controller are always allowed
	}

	if !n.SupportsCC(zwave.CCAssociationGroupInformation) {
		return true, nil // no information to enforce on
	}

	s := m.stateFor(nodeID)
	m.mu.Lock()
	agi, ok := s.agi[group]
	m.mu.Unlock()
	if !ok || len(agi.IssuedCommands) == 0 {
		return true, nil
	}

	if target.NodeID == m.c.identity.OwnNodeID() {
		_, basicIssued := agi.IssuedCommands[zwave.CCBasic]
		return basicIssued, nil
	}
	targetNode, _ := m.c.registry.Get(target.NodeID)
	if _, basicIssued := agi.IssuedCommands[zwave.CCBasic]; basicIssued && targetNode != nil && targetNode.EndpointSupportsAnyActuatorCC(targetEndpoint) {
		return true, nil
	}
	if targetNode == nil {
		return false, nil
	}
	for cc := range agi.IssuedCommands {
		if targetNode.EndpointSupportsCC(targetEndpoint, cc) {
			return true, nil
		}
	}
	return false, nil
}

// AddAssociations implements spec §4.6 "addAssociations".
func (m *AssociationManager) AddAssociations(nodeID, group uint8, targets []Association) error {
	n, err := m.c.registry.GetOrThrow(nodeID)
	if err != nil {
		return err
	}

	groups, err := m.GetAssociationGroups(nodeID)
	if err != nil {
		return err
	}
	if int(group) > len(groups) {
		return newError(ErrAssociationInvalidGroup, "group %d exceeds group count %d", group, len(groups))
	}

	plain, endpointCarrying := splitAssociations(targets)
	if len(endpointCarrying) > 0 && !n.SupportsCC(zwave.CCMultiChannelAssociation) {
		return newError(ErrCCNotSupported, "node %d does not support Multi-Channel Association", nodeID)
	}

	var disallowed []string
	for _, a := range targets {
		ok, _ := m.IsAssociationAllowed(nodeID, group, a)
		if !ok {
			disallowed = append(disallowed, fmt.Sprintf("%d", a.NodeID))
		}
	}
	if len(disallowed) > 0 {
		return newError(ErrAssociationNotAllowed, "associations not allowed for node(s) %s", strings.Join(disallowed, ", "))
	}

	s := m.stateFor(nodeID)
	isMultiChannel := m.groupIsMultiChannel(n, group)

	m.mu.Lock()
	if isMultiChannel {
		s.mcDests[group] = append(s.mcDests[group], endpointCarrying...)
		s.mcDests[group] = append(s.mcDests[group], plain...)
	} else {
		s.plainDests[group] = append(s.plainDests[group], plain...)
	}
	m.mu.Unlock()

	return nil
}

// RemoveAssociations implements spec §4.6 "removeAssociations": prefer
// multi-channel when available, always fall back to plain. A group
// existing only in multi-channel must not cause the plain-CC fallback to
// raise InvalidGroup (spec §9 "Backward ordering...").
func (m *AssociationManager) RemoveAssociations(nodeID, group uint8, targets []Association) error {
	n, err := m.c.registry.GetOrThrow(nodeID)
	if err != nil {
		return err
	}
	s := m.stateFor(nodeID)
	toRemove := make(map[string]struct{})
	for _, a := range targets {
		toRemove[a.key()] = struct{}{}
	}

	existsAsMultiChannel := m.groupExistsAsMultiChannel(n, group)
	m.mu.Lock()
	if existsAsMultiChannel {
		s.mcDests[group] = filterOutAssociations(s.mcDests[group], toRemove)
	}
	if _, plainExists := s.plainDests[group]; plainExists || !existsAsMultiChannel {
		s.plainDests[group] = filterOutAssociations(s.plainDests[group], toRemove)
	}
	m.mu.Unlock()
	return nil
}

// RemoveNodeFromAllAssociations implements spec §4.6
// "removeNodeFromAllAssociations": concurrently scrub removedID from
// every other node's association groups.
func (m *AssociationManager) RemoveNodeFromAllAssociations(removedID uint8) {
	ownID := m.c.identity.OwnNodeID()
	var wg sync.WaitGroup
	for _, n := range m.c.registry.All() {
		if n.ID() == ownID || n.ID() == removedID {
			continue
		}
		if !n.SupportsCC(zwave.CCMultiChannelAssociation) && !n.SupportsCC(zwave.CCAssociation) {
			continue
		}
		wg.Add(1)
		go func(n *node.Node) {
			defer wg.Done()
			m.removeFromAllGroups(n.ID(), removedID)
		}(n)
	}
	wg.Wait()
}

func (m *AssociationManager) removeFromAllGroups(nodeID, removedID uint8) {
	s := m.stateFor(nodeID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for g, dests := range s.plainDests {
		s.plainDests[g] = filterOutNodeID(dests, removedID)
	}
	for g, dests := range s.mcDests {
		s.mcDests[g] = filterOutNodeID(dests, removedID)
	}
}

func (m *AssociationManager) groupIsMultiChannel(n *node.Node, group uint8) bool {
	s := m.stateFor(n.ID())
	m.mu.Lock()
	mcCount := s.mcGroupCount
	m.mu.Unlock()
	cfg := m.c.deviceConfigEntry(n)
	noEndpoint := cfg != nil && cfg.group(group) != nil && cfg.group(group).noEndpoint
	return n.SupportsCC(zwave.CCMultiChannelAssociation) && group <= mcCount && mcCount > 0 && !noEndpoint
}

func (m *AssociationManager) groupExistsAsMultiChannel(n *node.Node, group uint8) bool {
	s := m.stateFor(n.ID())
	m.mu.Lock()
	_, ok := s.mcDests[group]
	mcCount := s.mcGroupCount
	m.mu.Unlock()
	return ok || (n.SupportsCC(zwave.CCMultiChannelAssociation) && group <= mcCount && mcCount > 0)
}

func splitAssociations(targets []Association) (plain, endpointCarrying []Association) {
	for _, t := range targets {
		if t.Endpoint == nil {
			plain = append(plain, t)
		} else {
			endpointCarrying = append(endpointCarrying, t)
		}
	}
	return plain, endpointCarrying
}

func filterOutAssociations(dests []Association, remove map[string]struct{}) []Association {
	out := dests[:0:0]
	for _, d := range dests {
		if _, drop := remove[d.key()]; !drop {
			out = append(out, d)
		}
	}
	return out
}

func filterOutNodeID(dests []Association, nodeID uint8) []Association {
	out := dests[:0:0]
	for _, d := range dests {
		if d.NodeID != nodeID {
			out = append(out, d)
		}
	}
	return out
}

// groupConfigLike and deviceConfigEntryLike decouple association.go from
// internal/deviceconfig's concrete types so this file only depends on the
// handful of fields it actually reads.
type groupConfigLike struct {
	maxNodes   uint8
	isLifeline bool
	label      string
	noEndpoint bool
}

type deviceConfigEntryLike struct {
	groups map[uint8]groupConfigLike
}

func (e *deviceConfigEntryLike) group(g uint8) *groupConfigLike {
	if e == nil {
		return nil
	}
	if gc, ok := e.groups[g]; ok {
		return &gc
	}
	return nil
}

// deviceConfigEntry adapts the controller's deviceconfig.Table lookup
// (spec §4.6 "device-config table") into the local shape above, and is
// the only place this file touches internal/deviceconfig directly.
func (c *Controller) deviceConfigEntry(n *node.Node) *deviceConfigEntryLike {
	if c.deviceCfg == nil {
		return nil
	}
	manufacturer, model := n.DeviceConfigKey()
	entry := c.deviceCfg.Lookup(manufacturer, model)
	if entry == nil {
		return nil
	}
	groups := make(map[uint8]groupConfigLike, len(entry.Groups))
	for g, gc := range entry.Groups {
		groups[g] = groupConfigLike{maxNodes: gc.MaxNodes, isLifeline: gc.IsLifeline, label: gc.Label, noEndpoint: gc.NoEndpoint}
	}
	return &deviceConfigEntryLike{groups: groups}
}
