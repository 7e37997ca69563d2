package controller

import (
	"context"
	"testing"
	"time"

	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/zwave"
)

// TestRemoveFailedNodeHappyPath covers spec.md §4.7: a clean
// NodeRemoved status deletes the node and emits EventNodeRemoved.
func TestRemoveFailedNodeHappyPath(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	n := node.New(70, nil)
	n.MarkAsDead()
	c.registry.Set(n)

	ft.queueResponse(zwave.FuncRemoveFailedNode, []byte{byte(zwave.RemoveFailedNodeStatusNodeRemoved)})

	var kinds []EventKind
	c.Events().OnAll(func(ev Event) { kinds = append(kinds, ev.Kind) })

	if err := c.RemoveFailedNode(context.Background(), 70); err != nil {
		t.Fatalf("RemoveFailedNode err = %v", err)
	}
	if _, ok := c.Registry().Get(70); ok {
		t.Error("node 70 still present after RemoveFailedNode")
	}
	if len(kinds) != 1 || kinds[0] != EventNodeRemoved {
		t.Errorf("events = %v, want [EventNodeRemoved]", kinds)
	}
}

// TestRemoveFailedNodeNotActuallyFailed covers spec.md §4.7: a NodeOK
// status reports that the node answered, not removed.
func TestRemoveFailedNodeNotActuallyFailed(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	n := node.New(71, nil)
	n.MarkAsDead()
	c.registry.Set(n)

	ft.queueResponse(zwave.FuncRemoveFailedNode, []byte{byte(zwave.RemoveFailedNodeStatusNodeOK)})

	err := c.RemoveFailedNode(context.Background(), 71)
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != ErrRemoveFailedNodeOK {
		t.Errorf("err = %v, want ErrRemoveFailedNodeOK", err)
	}
	if _, ok := c.Registry().Get(71); !ok {
		t.Error("node 71 removed from registry despite NodeOK status")
	}
}

// TestRemoveFailedNodeRefusesLiveNode covers spec.md §4.7: a node that
// answers a ping is refused before any RemoveFailedNode request is sent.
func TestRemoveFailedNodeRefusesLiveNode(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)
	c.ping = func(ctx context.Context, nodeID uint8) (bool, error) { return true, nil }

	n := node.New(72, nil)
	c.registry.Set(n)

	err := c.RemoveFailedNode(context.Background(), 72)
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != ErrReplaceFailedNodeFailed {
		t.Errorf("err = %v, want ErrReplaceFailedNodeFailed (spec.md §8 scenario 6 names the ping-refusal this way)", err)
	}
	if len(ft.sent) != 0 {
		t.Errorf("sent %d requests for a live node, want 0", len(ft.sent))
	}
}

// TestRemoveFailedNodeStartFailure covers the start-flags response shape
// (byte 0 plus a second byte), distinct from a one-byte status report.
func TestRemoveFailedNodeStartFailure(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	n := node.New(73, nil)
	c.registry.Set(n)

	ft.queueResponse(zwave.FuncRemoveFailedNode, []byte{byte(zwave.StartFlagRemoveProcessBusy), 0})

	err := c.RemoveFailedNode(context.Background(), 73)
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != ErrRemoveFailedNodeFailed {
		t.Errorf("err = %v, want ErrRemoveFailedNodeFailed", err)
	}
}

// TestHardResetClearsRegistry covers spec.md §4.8: confirmation clears
// every node's listeners and empties the registry.
func TestHardResetClearsRegistry(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)
	c.registry.Set(node.New(80, nil))

	ft.queueResponse(zwave.FuncHardReset, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- c.HardReset(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	ft.deliver(zwave.FuncHardReset, nil)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("HardReset err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("HardReset did not return")
	}

	if c.Registry().Len() != 0 {
		t.Errorf("registry has %d nodes after HardReset, want 0", c.Registry().Len())
	}
}
