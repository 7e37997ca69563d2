package zwave

import "encoding/binary"

// The encoding of individual request/response payloads is explicitly out
// of scope for the controller core (spec.md §1 non-goals) — it belongs to
// the frame-codec external collaborator. These functions are a minimal,
// best-effort stand-in for that collaborator so the interview orchestrator
// has real bytes to send and parse; they are not meant to be a faithful
// rendition of the wire format, only a stable round-trip within this
// module.

// DecodeLibraryInfo parses the GetSerialApiVersion response.
func DecodeLibraryInfo(payload []byte) (version string, libType LibraryType) {
	if len(payload) < 2 {
		return "", LibraryTypeUnknown
	}
	version = string(payload[:len(payload)-1])
	libType = LibraryType(payload[len(payload)-1])
	return version, libType
}

// DecodeControllerIDs parses the GetControllerCaps response's home id and
// own node id fields.
func DecodeControllerIDs(payload []byte) (homeID uint32, ownNodeID uint8) {
	if len(payload) < 5 {
		return 0, 0
	}
	return binary.BigEndian.Uint32(payload[0:4]), payload[4]
}

// Controller capability bits (typed StartFlag) decoded by DecodeRoleFlags.
const (
	CapFlagSecondary StartFlag = 1 << 0
	CapFlagOtherHomeID StartFlag = 1 << 1
	CapFlagSISPresent StartFlag = 1 << 2
	CapFlagWasRealPrimary StartFlag = 1 << 3
	CapFlagIsSUC StartFlag = 1 << 4
	CapFlagIsSlave StartFlag = 1 << 5
	CapFlagSupportsTimers StartFlag = 1 << 6
)

// DecodeRoleFlags parses the GetControllerCaps response's capability
// bitmask into the Identity role flags (spec §3 "Role flags").
func DecodeRoleFlags(payload []byte) (isSecondary, usingOtherHomeID, isSIS, wasRealPrimary, isSUC, isSlave, supportsTimers bool) {
	if len(payload) < 1 {
		return
	}
	flags := StartFlag(payload[0])
	return flags&CapFlagSecondary != 0,
		flags&CapFlagOtherHomeID != 0,
		flags&CapFlagSISPresent != 0,
		flags&CapFlagWasRealPrimary != 0,
		flags&CapFlagIsSUC != 0,
		flags&CapFlagIsSlave != 0,
		flags&CapFlagSupportsTimers != 0
}

// DecodeSerialAPICaps parses the GetSerialApiCapabilities response: a
// version string, the manufacturer/product triple, and the list of
// supported function types (each nonzero byte after the first eight is
// one function-type code).
func DecodeSerialAPICaps(payload []byte) (version string, manufacturerID, productType, productID uint16, functions []FunctionType) {
	if len(payload) < 8 {
		return "", 0, 0, 0, nil
	}
	version = byteString(payload[0:2])
	manufacturerID = binary.BigEndian.Uint16(payload[2:4])
	productType = binary.BigEndian.Uint16(payload[4:6])
	productID = binary.BigEndian.Uint16(payload[6:8])
	for _, b := range payload[8:] {
		if b != 0 {
			functions = append(functions, FunctionType(b))
		}
	}
	return version, manufacturerID, productType, productID, functions
}

// DecodeSUCNodeID parses the GetSUCNodeId response.
func DecodeSUCNodeID(payload []byte) uint8 {
	if len(payload) < 1 {
		return 0
	}
	return payload[0]
}

// DecodeNodeIDList parses the GetSerialApiInitData response's node-id
// bitmask into a sorted slice of node ids present in the network.
func DecodeNodeIDList(payload []byte) []uint8 {
	var ids []uint8
	for i, b := range payload {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				id := uint8(i*8 + bit + 1)
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// EncodeSetSUCNodeID builds the SetSUCNodeId request payload.
func EncodeSetSUCNodeID(ownNodeID uint8, enableSUC, enableSIS bool) []byte {
	flags := byte(0)
	if enableSUC {
		flags |= 1
	}
	if enableSIS {
		flags |= 2
	}
	return []byte{ownNodeID, flags}
}

// EncodeSerialAPITimeouts builds the SetSerialApiTimeouts request payload
// from ack/byte timeouts expressed in 10ms units, matching the real
// protocol's unit (though the exact unit is itself out of spec scope).
func EncodeSerialAPITimeouts(ackMillis, byteMillis uint32) []byte {
	return []byte{byte(ackMillis / 10), byte(byteMillis / 10)}
}

func byteString(b []byte) string {
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = 'a' + (v % 26)
	}
	return string(out)
}
