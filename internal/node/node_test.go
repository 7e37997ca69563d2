package node

import (
	"testing"

	"zwave-controller-core/internal/zwave"
)

func TestStatusTransitions(t *testing.T) {
	n := New(1, nil)
	if n.Status() != StatusUnknown {
		t.Fatalf("new node status = %v, want StatusUnknown", n.Status())
	}
	n.MarkAsAlive()
	if n.Status() != StatusAlive {
		t.Errorf("Status() = %v, want StatusAlive", n.Status())
	}
	n.MarkAsAsleep()
	if n.Status() != StatusAsleep {
		t.Errorf("Status() = %v, want StatusAsleep", n.Status())
	}
	n.MarkAsDead()
	if n.Status() != StatusDead {
		t.Errorf("Status() = %v, want StatusDead", n.Status())
	}
}

func TestInterviewStageTracksPastProtocolInfo(t *testing.T) {
	n := New(1, nil)
	if n.InterviewedPastProtocolInfo() {
		t.Fatal("a fresh node reports InterviewedPastProtocolInfo = true")
	}
	n.SetInterviewStage(InterviewStageProtocolInfo)
	if n.InterviewedPastProtocolInfo() {
		t.Error("InterviewedPastProtocolInfo = true at exactly ProtocolInfo stage")
	}
	n.SetInterviewStage(InterviewStageNodeInfo)
	if !n.InterviewedPastProtocolInfo() {
		t.Error("InterviewedPastProtocolInfo = false after advancing past ProtocolInfo")
	}
}

func TestCommandClassBookkeeping(t *testing.T) {
	n := New(1, nil)
	if n.SupportsCC(zwave.CCAssociation) {
		t.Fatal("a fresh node supports Association")
	}
	n.AddCC(zwave.CCAssociation, 2)
	if !n.SupportsCC(zwave.CCAssociation) {
		t.Fatal("SupportsCC false after AddCC")
	}
	if got := n.SupportsCCVersion(zwave.CCAssociation); got != 2 {
		t.Errorf("SupportsCCVersion = %d, want 2", got)
	}
	n.RemoveCC(zwave.CCAssociation)
	if n.SupportsCC(zwave.CCAssociation) {
		t.Error("SupportsCC true after RemoveCC")
	}
}

func TestEndpointExistsAndSupportsCC(t *testing.T) {
	n := New(1, nil)
	if !n.EndpointExists(0) {
		t.Fatal("endpoint 0 must always exist")
	}
	if n.EndpointExists(3) {
		t.Fatal("endpoint 3 exists before being discovered")
	}
	ep := n.Endpoint(3)
	ep.CommandClasses[zwave.CCBasic] = 1
	if !n.EndpointExists(3) {
		t.Error("EndpointExists(3) = false after Endpoint(3) created it")
	}
	if !n.EndpointSupportsCC(3, zwave.CCBasic) {
		t.Error("EndpointSupportsCC(3, Basic) = false after recording it")
	}
	if n.EndpointSupportsCC(3, zwave.CCAssociation) {
		t.Error("EndpointSupportsCC(3, Association) = true, want false")
	}
}

func TestEndpointSupportsAnyActuatorCC(t *testing.T) {
	n := New(1, nil)
	if n.EndpointSupportsAnyActuatorCC(0) {
		t.Fatal("a fresh node's root endpoint reports an actuator CC")
	}
	n.AddCC(zwave.CCSwitchBinary, 1)
	if !n.EndpointSupportsAnyActuatorCC(0) {
		t.Error("EndpointSupportsAnyActuatorCC(0) = false with Switch Binary present")
	}
}

func TestDeviceConfigKeyRoundTrip(t *testing.T) {
	n := New(1, nil)
	n.SetDeviceConfigKey("Acme", "Widget")
	manufacturer, model := n.DeviceConfigKey()
	if manufacturer != "Acme" || model != "Widget" {
		t.Errorf("DeviceConfigKey() = (%q, %q), want (Acme, Widget)", manufacturer, model)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	n := New(7, nil)
	n.MarkAsAlive()
	n.SetDeviceClass(zwave.DeviceClass{Basic: 4, Generic: 0x10, Specific: 1})
	n.AddCC(zwave.CCAssociation, 2)
	n.AddControlledCC(zwave.CCBasic)
	n.SetSecure(true)
	n.SetHasSUCReturnRoute(true)

	ser := n.Serialize()
	if ser.ID != 7 {
		t.Fatalf("Serialize().ID = %d, want 7", ser.ID)
	}

	fresh := New(7, nil)
	fresh.Deserialize(ser)

	if fresh.Status() != StatusAlive {
		t.Errorf("Status() after Deserialize = %v, want StatusAlive", fresh.Status())
	}
	if !fresh.IsSecure() {
		t.Error("IsSecure() after Deserialize = false, want true")
	}
	if !fresh.HasSUCReturnRoute() {
		t.Error("HasSUCReturnRoute() after Deserialize = false, want true")
	}
	if !fresh.SupportsCC(zwave.CCAssociation) {
		t.Error("SupportsCC(Association) after Deserialize = false, want true")
	}
	if fresh.DeviceClass() != n.DeviceClass() {
		t.Errorf("DeviceClass() after Deserialize = %+v, want %+v", fresh.DeviceClass(), n.DeviceClass())
	}
}
