package controller

import (
	"context"
	"testing"

	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/zwave"
)

// TestBootstrapLifelinePrefersMultiChannel covers spec.md §4.4: a
// Z-Wave-Plus node supporting both Association CCs gets its lifeline set
// via Multi Channel Association, not plain Association.
func TestBootstrapLifelinePrefersMultiChannel(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	n := node.New(60, nil)
	n.AddCC(zwave.CCZWavePlusInfo, 1)
	n.AddCC(zwave.CCAssociation, 1)
	n.AddCC(zwave.CCMultiChannelAssociation, 1)

	ft.queueResponse(zwave.FuncSendData, nil)
	ft.queueResponse(zwave.FuncAssignReturnRoute, nil)

	c.bootstrapLifeline(context.Background(), n)

	if len(ft.sent) != 2 {
		t.Fatalf("sent %d requests, want 2", len(ft.sent))
	}
	payload := ft.sent[0].Payload
	if len(payload) == 0 || zwave.CommandClass(payload[0]) != zwave.CCMultiChannelAssociation {
		t.Errorf("first sent payload CC = %#v, want CCMultiChannelAssociation", payload)
	}
}

// TestBootstrapLifelineSkipsNonPlusNodes covers spec.md §4.4: a node
// without Z-Wave Plus Info is not given a lifeline at all.
func TestBootstrapLifelineSkipsNonPlusNodes(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	n := node.New(61, nil)
	n.AddCC(zwave.CCAssociation, 1)

	c.bootstrapLifeline(context.Background(), n)

	if len(ft.sent) != 0 {
		t.Errorf("sent %d requests for a non-Plus node, want 0", len(ft.sent))
	}
}

// TestBootstrapWakeUpInterviewsAndRegisters covers spec.md §4.4's wake-up
// half: version queried, CC registered, interval set sent.
func TestBootstrapWakeUpInterviewsAndRegisters(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	n := node.New(62, nil)
	n.AddCC(zwave.CCWakeUp, 0)

	ft.queueResponse(zwave.FuncSendData, []byte{2}) // version query response
	ft.queueResponse(zwave.FuncSendData, nil)       // interval set

	c.bootstrapWakeUp(context.Background(), n)

	if got := n.SupportsCCVersion(zwave.CCWakeUp); got != 2 {
		t.Errorf("Wake Up version = %d, want 2", got)
	}
	if len(ft.sent) != 2 {
		t.Errorf("sent %d requests, want 2", len(ft.sent))
	}
}

// TestBootstrapWakeUpSkipsUnsupported covers a node that never advertised
// Wake Up: no traffic is sent.
func TestBootstrapWakeUpSkipsUnsupported(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	n := node.New(63, nil)
	c.bootstrapWakeUp(context.Background(), n)

	if len(ft.sent) != 0 {
		t.Errorf("sent %d requests for a node without Wake Up, want 0", len(ft.sent))
	}
}
