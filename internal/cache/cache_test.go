package cache

import (
	"path/filepath"
	"testing"

	"zwave-controller-core/internal/node"
)

func TestValidateCatchesKeyMismatch(t *testing.T) {
	doc := &Document{Nodes: map[string]*node.Serialized{
		"3": {ID: 4},
	}}
	err := doc.Validate()
	if err == nil {
		t.Fatal("Validate on a mismatched key/id = nil, want ErrInvalidCache")
	}
	if _, ok := err.(*ErrInvalidCache); !ok {
		t.Errorf("err = %T, want *ErrInvalidCache", err)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	doc := &Document{Nodes: map[string]*node.Serialized{
		"5": {ID: 5, IsSecure: true},
	}}
	data, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal err = %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal err = %v", err)
	}
	if len(got.Nodes) != 1 || !got.Nodes["5"].IsSecure {
		t.Errorf("Unmarshal roundtrip = %+v, want node 5 secure", got.Nodes)
	}
}

func TestBoltStoreLoadEmptyThenSaveAndReload(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewBoltStore err = %v", err)
	}
	defer store.Close()

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("Load (empty) err = %v", err)
	}
	if len(doc.Nodes) != 0 {
		t.Fatalf("Load (empty) = %+v, want no nodes", doc.Nodes)
	}

	if err := store.Save(&Document{Nodes: map[string]*node.Serialized{"2": {ID: 2}}}); err != nil {
		t.Fatalf("Save err = %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load (after save) err = %v", err)
	}
	if len(reloaded.Nodes) != 1 || reloaded.Nodes["2"].ID != 2 {
		t.Errorf("Load (after save) = %+v, want node 2", reloaded.Nodes)
	}
}
