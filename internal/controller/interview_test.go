package controller

import (
	"context"
	"testing"

	"zwave-controller-core/internal/cache"
	"zwave-controller-core/internal/node"
	"zwave-controller-core/internal/zwave"
)

// fakeCacheStore is a minimal in-memory cache.Store, grounded on the same
// hand-written-fake pattern as fakeTransport.
type fakeCacheStore struct {
	doc *cache.Document
}

func (s *fakeCacheStore) Load() (*cache.Document, error) {
	if s.doc == nil {
		return &cache.Document{Nodes: make(map[string]*node.Serialized)}, nil
	}
	return s.doc, nil
}

func (s *fakeCacheStore) Save(doc *cache.Document) error {
	s.doc = doc
	return nil
}

func (s *fakeCacheStore) Close() error { return nil }

// TestInterviewHappyPath covers spec.md §4.1's startup sequence end to
// end: identity becomes ready, every discovered node id lands in the
// registry, and the own node id is always present.
func TestInterviewHappyPath(t *testing.T) {
	ft := newFakeTransport()
	c := New(ft, &fakeCacheStore{}, nil, nil, discardLogger())

	ft.queueResponse(zwave.FuncGetSerialAPIVersion, append([]byte("1.0"), byte(zwave.LibraryTypeStaticController)))
	ft.queueResponse(zwave.FuncGetControllerCaps, []byte{0, 0, 0, 1, 1}) // home id 1, own node id 1
	ft.queueResponse(zwave.FuncGetControllerCaps, []byte{0})             // no role flags set
	ft.queueResponse(zwave.FuncGetSerialAPICaps, []byte{0, 0, 0, 0, 0, 0, 0, 0, byte(zwave.FuncAddNodeToNetwork)})
	ft.queueResponse(zwave.FuncGetSUCNodeID, []byte{0})
	ft.queueResponse(zwave.FuncSetSUCNodeID, nil) // self-promotion
	ft.queueResponse(zwave.FuncGetSerialAPIInitData, []byte{0x03})
	ft.queueResponse(zwave.FuncSetSerialAPITimeouts, nil)

	if err := c.Interview(context.Background(), nil, nil); err != nil {
		t.Fatalf("Interview err = %v", err)
	}

	if !c.identity.Ready() {
		t.Fatal("identity not ready after Interview")
	}
	if _, ok := c.Registry().Get(1); !ok {
		t.Error("node 1 missing from registry")
	}
	if _, ok := c.Registry().Get(2); !ok {
		t.Error("node 2 missing from registry")
	}
	if c.identity.OwnNodeID() != 1 {
		t.Errorf("OwnNodeID = %d, want 1", c.identity.OwnNodeID())
	}
}

// TestInterviewAbortsOnTransportError covers spec.md §4.1 "Failure
// semantics": an error on any of the unconditional queries aborts the
// interview and leaves identity not-ready.
func TestInterviewAbortsOnTransportError(t *testing.T) {
	ft := newFakeTransport()
	c := New(ft, nil, nil, nil, discardLogger())

	ft.queueError(zwave.FuncGetSerialAPIVersion, errDroppedMessage)

	if err := c.Interview(context.Background(), nil, nil); err == nil {
		t.Fatal("Interview err = nil, want the transport error wrapped")
	}
	if c.identity.Ready() {
		t.Error("identity ready after an aborted interview")
	}
}

// TestInterviewRestoresFromCache covers spec.md §4.1/§6: a cached node
// entry is applied onto the freshly created Node for that id.
func TestInterviewRestoresFromCache(t *testing.T) {
	ft := newFakeTransport()
	store := &fakeCacheStore{doc: &cache.Document{Nodes: map[string]*node.Serialized{
		"2": {ID: 2, IsSecure: true},
	}}}
	c := New(ft, store, nil, nil, discardLogger())

	ft.queueResponse(zwave.FuncGetSerialAPIVersion, append([]byte("1.0"), byte(zwave.LibraryTypeStaticController)))
	ft.queueResponse(zwave.FuncGetControllerCaps, []byte{0, 0, 0, 1, 1})
	ft.queueResponse(zwave.FuncGetControllerCaps, []byte{0})
	ft.queueResponse(zwave.FuncGetSerialAPICaps, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	ft.queueResponse(zwave.FuncGetSUCNodeID, []byte{0})
	ft.queueResponse(zwave.FuncSetSUCNodeID, nil)
	ft.queueResponse(zwave.FuncGetSerialAPIInitData, []byte{0x03})

	if err := c.Interview(context.Background(), nil, nil); err != nil {
		t.Fatalf("Interview err = %v", err)
	}

	n, ok := c.Registry().Get(2)
	if !ok {
		t.Fatal("node 2 missing from registry")
	}
	if !n.IsSecure() {
		t.Error("node 2 not marked secure after cache restore")
	}
}
