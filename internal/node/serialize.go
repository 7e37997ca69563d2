package node

import (
	"encoding/json"

	"zwave-controller-core/internal/zwave"
)

// Serialized is the on-disk representation of a Node, matching spec §6's
// cache format: each entry under "nodes" is one of these, keyed by the
// node's id (as a decimal string) in the parent cache document.
type Serialized struct {
	ID                uint8                        `json:"id"`
	Status            Status                       `json:"status"`
	Stage             InterviewStage               `json:"interviewStage"`
	DeviceClass       zwave.DeviceClass             `json:"deviceClass"`
	Supported         map[zwave.CommandClass]uint8 `json:"supported"`
	Controlled        []zwave.CommandClass         `json:"controlled"`
	IsSecure          bool                         `json:"isSecure"`
	HasSUCReturnRoute bool                         `json:"hasSUCReturnRoute"`
	Endpoints         []Serialized_Endpoint        `json:"endpoints,omitempty"`
}

// Serialized_Endpoint is the cache representation of an Endpoint.
type Serialized_Endpoint struct {
	ID             uint8                         `json:"id"`
	CommandClasses map[zwave.CommandClass]uint8 `json:"commandClasses"`
}

// Serialize produces the cache representation of the node (spec §6
// "serialize"). The caller is responsible for placing it under the
// correct id key in the parent cache document.
func (n *Node) Serialize() *Serialized {
	n.mu.RLock()
	defer n.mu.RUnlock()

	supported := make(map[zwave.CommandClass]uint8, len(n.supported))
	for cc, v := range n.supported {
		supported[cc] = v
	}
	controlled := make([]zwave.CommandClass, 0, len(n.controlled))
	for cc := range n.controlled {
		controlled = append(controlled, cc)
	}
	endpoints := make([]Serialized_Endpoint, 0, len(n.endpoints))
	for _, ep := range n.endpoints {
		ccs := make(map[zwave.CommandClass]uint8, len(ep.CommandClasses))
		for cc, v := range ep.CommandClasses {
			ccs[cc] = v
		}
		endpoints = append(endpoints, Serialized_Endpoint{ID: ep.ID, CommandClasses: ccs})
	}

	return &Serialized{
		ID:                n.id,
		Status:            n.status,
		Stage:             n.stage,
		DeviceClass:       n.deviceClass,
		Supported:         supported,
		Controlled:        controlled,
		IsSecure:          n.isSecure,
		HasSUCReturnRoute: n.hasSUCReturnRoute,
		Endpoints:         endpoints,
	}
}

// Deserialize restores node state from its cache representation (spec §6
// "deserialize"). The id-key-vs-serialized.id agreement check belongs to
// the cache loader (spec §6, Driver_InvalidCache), not here — this only
// repopulates the node's fields.
func (n *Node) Deserialize(s *Serialized) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.status = s.Status
	n.stage = s.Stage
	if s.Stage > InterviewStageProtocolInfo {
		n.interviewedPastProtocolInfo = true
	}
	n.deviceClass = s.DeviceClass
	n.supported = make(map[zwave.CommandClass]uint8, len(s.Supported))
	for cc, v := range s.Supported {
		n.supported[cc] = v
	}
	n.controlled = make(map[zwave.CommandClass]struct{}, len(s.Controlled))
	for _, cc := range s.Controlled {
		n.controlled[cc] = struct{}{}
	}
	n.isSecure = s.IsSecure
	n.hasSUCReturnRoute = s.HasSUCReturnRoute
	n.endpoints = make(map[uint8]*Endpoint, len(s.Endpoints))
	for _, se := range s.Endpoints {
		ccs := make(map[zwave.CommandClass]uint8, len(se.CommandClasses))
		for cc, v := range se.CommandClasses {
			ccs[cc] = v
		}
		n.endpoints[se.ID] = &Endpoint{ID: se.ID, CommandClasses: ccs}
	}
}

// MarshalCacheValue is a convenience wrapper for writers that store the
// cache document as raw JSON (internal/cache's bbolt-backed store).
func (n *Node) MarshalCacheValue() ([]byte, error) {
	return json.Marshal(n.Serialize())
}
