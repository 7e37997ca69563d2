package controller

import (
	"context"
	"testing"
	"time"

	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/zwave"
)

// TestInclusionHappyPath mirrors spec.md §8 scenario 2: Ready ->
// AddingSlave(node 7) -> ProtocolDone -> Done. The registry gains node 7
// and inclusion started/stopped/node added fire in order.
func TestInclusionHappyPath(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	var kinds []EventKind
	c.Events().OnAll(func(ev Event) { kinds = append(kinds, ev.Kind) })

	resultCh := make(chan bool, 1)
	go func() {
		ok, err := c.BeginInclusion(context.Background(), false)
		if err != nil {
			t.Errorf("BeginInclusion err = %v", err)
		}
		resultCh <- ok
	}()

	// Give the goroutine a chance to register the signal before Ready
	// lands; a tiny sleep stands in for a real scheduler yield since the
	// fake transport's SendMessage is synchronous.
	time.Sleep(5 * time.Millisecond)

	ft.deliver(zwave.FuncAddNodeToNetwork, []byte{byte(zwave.AddNodeStatusReady)})

	select {
	case ok := <-resultCh:
		if !ok {
			t.Fatal("BeginInclusion resolved false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("BeginInclusion did not resolve")
	}

	addingPayload := []byte{byte(zwave.AddNodeStatusAddingSlave), 7, 0x04, 0x10, 0x01, 2, 0x25, 0x86, 0}
	ft.deliver(zwave.FuncAddNodeToNetwork, addingPayload)
	ft.deliver(zwave.FuncAddNodeToNetwork, []byte{byte(zwave.AddNodeStatusProtocolDone)})
	ft.deliver(zwave.FuncAddNodeToNetwork, []byte{byte(zwave.AddNodeStatusDone), 7})

	n, ok := c.Registry().Get(7)
	if !ok {
		t.Fatal("node 7 not present in registry after Done")
	}
	if n.Status() != node.StatusAlive {
		t.Errorf("node 7 status = %v, want Alive", n.Status())
	}

	wantPrefix := []EventKind{EventInclusionStarted, EventInclusionStopped, EventNodeAdded}
	if len(kinds) < len(wantPrefix) {
		t.Fatalf("got %d events, want at least %d: %v", len(kinds), len(wantPrefix), kinds)
	}
	for i, want := range wantPrefix {
		if kinds[i] != want {
			t.Errorf("event[%d] = %v, want %v (all: %v)", i, kinds[i], want, kinds)
		}
	}
}

// TestInclusionFailedBeforeReady mirrors spec.md §8 scenario 3.
func TestInclusionFailedBeforeReady(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	var kinds []EventKind
	c.Events().OnAll(func(ev Event) { kinds = append(kinds, ev.Kind) })

	errCh := make(chan error, 1)
	go func() {
		_, err := c.BeginInclusion(context.Background(), false)
		errCh <- err
	}()

	time.Sleep(5 * time.Millisecond)
	ft.deliver(zwave.FuncAddNodeToNetwork, []byte{byte(zwave.AddNodeStatusFailed)})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("BeginInclusion err = nil, want Controller_InclusionFailed")
		}
		cerr, ok := err.(*Error)
		if !ok || cerr.Kind != ErrInclusionFailed {
			t.Errorf("err = %v, want ErrInclusionFailed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("BeginInclusion did not resolve")
	}

	for _, k := range kinds {
		if k == EventInclusionStarted {
			t.Error("inclusion started was emitted, want none before Ready")
		}
	}
}

// TestInclusionFailedWhileListening covers the §4.2 state-table row the
// happy-path and FailedBeforeReady tests leave uncovered: a Failed status
// arriving after Ready has already resolved the BeginInclusion call must
// still surface as an EventInclusionFailed, not be swallowed by the
// already-settled signal.
func TestInclusionFailedWhileListening(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	var kinds []EventKind
	c.Events().OnAll(func(ev Event) { kinds = append(kinds, ev.Kind) })

	resultCh := make(chan bool, 1)
	go func() {
		ok, _ := c.BeginInclusion(context.Background(), false)
		resultCh <- ok
	}()

	time.Sleep(5 * time.Millisecond)
	ft.deliver(zwave.FuncAddNodeToNetwork, []byte{byte(zwave.AddNodeStatusReady)})

	select {
	case ok := <-resultCh:
		if !ok {
			t.Fatal("BeginInclusion resolved false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("BeginInclusion did not resolve")
	}

	ft.deliver(zwave.FuncAddNodeToNetwork, []byte{byte(zwave.AddNodeStatusFailed)})

	var sawFailed bool
	for _, k := range kinds {
		if k == EventInclusionFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Errorf("no EventInclusionFailed emitted for a Failed status after Ready (events: %v)", kinds)
	}
	if c.inclusionActive {
		t.Error("inclusionActive still true after Failed-while-listening")
	}
}

// TestExclusionFailedWhileListening is the exclusion-side symmetric case
// of TestInclusionFailedWhileListening.
func TestExclusionFailedWhileListening(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	var kinds []EventKind
	c.Events().OnAll(func(ev Event) { kinds = append(kinds, ev.Kind) })

	resultCh := make(chan bool, 1)
	go func() {
		ok, _ := c.BeginExclusion(context.Background())
		resultCh <- ok
	}()

	time.Sleep(5 * time.Millisecond)
	ft.deliver(zwave.FuncRemoveNodeFromNetwork, []byte{byte(zwave.RemoveNodeStatusReady)})

	select {
	case ok := <-resultCh:
		if !ok {
			t.Fatal("BeginExclusion resolved false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("BeginExclusion did not resolve")
	}

	ft.deliver(zwave.FuncRemoveNodeFromNetwork, []byte{byte(zwave.RemoveNodeStatusFailed)})

	var sawFailed bool
	for _, k := range kinds {
		if k == EventExclusionFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Errorf("no EventExclusionFailed emitted for a Failed status after Ready (events: %v)", kinds)
	}
	if c.exclusionActive {
		t.Error("exclusionActive still true after Failed-while-listening")
	}
}

// TestMutualExclusionInclusionExclusion covers spec.md §8 "Mutual
// exclusion": inclusionActive and exclusionActive never hold together.
func TestMutualExclusionInclusionExclusion(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	go c.BeginInclusion(context.Background(), false)
	time.Sleep(5 * time.Millisecond)

	ok, err := c.BeginExclusion(context.Background())
	if err != nil {
		t.Fatalf("BeginExclusion err = %v", err)
	}
	if ok {
		t.Fatal("BeginExclusion returned true while inclusion active, want false")
	}
}

// TestStopInclusionIdempotent covers spec.md §8 "Stop idempotence".
func TestStopInclusionIdempotent(t *testing.T) {
	ft := newFakeTransport()
	c := newTestController(ft)

	var kinds []EventKind
	c.Events().OnAll(func(ev Event) { kinds = append(kinds, ev.Kind) })

	if got := c.StopInclusion(context.Background()); got {
		t.Fatal("StopInclusion on idle controller = true, want false")
	}
	if len(kinds) != 0 {
		t.Errorf("StopInclusion on idle controller emitted events: %v", kinds)
	}
}
