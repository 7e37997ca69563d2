package controller

import (
	"sync"

	"zwave-controller-core/internal/zwave"
)

// Identity is the Identity & Capability Cache component (C2): home id,
// own node id, SUC node id, library info, role flags, and the O(1)
// supported-function-type membership set (spec §3 "Identity", "Role
// flags", "Capability set"). Populated exactly once by the interview
// orchestrator (C3); read thereafter by every other component.
type Identity struct {
	mu sync.RWMutex

	ready bool // false until the interview orchestrator completes

	homeID           uint32
	ownNodeID        uint8
	sucNodeID        uint8 // 0 means "none"
	libraryVersion   string
	libraryType      zwave.LibraryType
	serialAPIVersion string
	manufacturerID   uint16
	productType      uint16
	productID        uint16

	isSecondary                  bool
	isUsingHomeIDFromOtherNetwork bool
	isSISPresent                 bool
	wasRealPrimary               bool
	isStaticUpdateController     bool
	isSlave                      bool
	supportsTimers                bool

	supportedFunctions map[zwave.FunctionType]struct{}
}

// NewIdentity creates an unpopulated Identity; IsFunctionSupported and
// friends fail with Driver_NotReady until MarkReady is called.
func NewIdentity() *Identity {
	return &Identity{supportedFunctions: make(map[zwave.FunctionType]struct{})}
}

// MarkReady flips the interview-complete flag. Called once, at the end of
// the interview orchestrator (spec §4.1).
func (id *Identity) MarkReady() {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.ready = true
}

// Ready reports whether the interview has completed.
func (id *Identity) Ready() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.ready
}

func (id *Identity) SetLibraryInfo(version string, libType zwave.LibraryType) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.libraryVersion = version
	id.libraryType = libType
}

func (id *Identity) SetIDs(homeID uint32, ownNodeID uint8) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.homeID = homeID
	id.ownNodeID = ownNodeID
}

func (id *Identity) SetRoleFlags(isSecondary, usingOtherHomeID, isSIS, wasRealPrimary, isSUC, isSlave, supportsTimers bool) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.isSecondary = isSecondary
	id.isUsingHomeIDFromOtherNetwork = usingOtherHomeID
	id.isSISPresent = isSIS
	id.wasRealPrimary = wasRealPrimary
	id.isStaticUpdateController = isSUC
	id.isSlave = isSlave
	id.supportsTimers = supportsTimers
}

func (id *Identity) SetSerialAPICaps(version string, manufacturerID, productType, productID uint16, functions []zwave.FunctionType) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.serialAPIVersion = version
	id.manufacturerID = manufacturerID
	id.productType = productType
	id.productID = productID
	id.supportedFunctions = make(map[zwave.FunctionType]struct{}, len(functions))
	for _, f := range functions {
		id.supportedFunctions[f] = struct{}{}
	}
}

func (id *Identity) SetSUCNodeID(sucNodeID uint8) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.sucNodeID = sucNodeID
}

func (id *Identity) HomeID() uint32 {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.homeID
}

func (id *Identity) OwnNodeID() uint8 {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.ownNodeID
}

func (id *Identity) SUCNodeID() uint8 {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.sucNodeID
}

func (id *Identity) LibraryType() zwave.LibraryType {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.libraryType
}

func (id *Identity) IsSecondary() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.isSecondary
}

func (id *Identity) IsSISPresent() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.isSISPresent
}

func (id *Identity) IsStaticUpdateController() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.isStaticUpdateController
}

// IsFunctionSupported is the O(1) capability query (spec §3, §4.1 point
// 4). Pre-interview calls fail uniformly with Driver_NotReady, resolving
// the source ambiguity spec §9 flags explicitly.
func (id *Identity) IsFunctionSupported(ft zwave.FunctionType) (bool, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if !id.ready {
		return false, newError(ErrDriverNotReady, "capability query for 0x%02X before interview completed", ft)
	}
	_, ok := id.supportedFunctions[ft]
	return ok, nil
}

// ManufacturerTriple returns the stick's own manufacturer/product ids,
// written into the own-node's value store at the end of interview (spec
// §4.1).
func (id *Identity) ManufacturerTriple() (manufacturerID, productType, productID uint16) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.manufacturerID, id.productType, id.productID
}
