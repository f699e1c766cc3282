package cache

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/drivemirror/drivemirror/internal/gdrive"
)

type memStore struct {
	data    map[string][]byte
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Load(key string) ([]byte, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.data[key], nil
}

func (m *memStore) Save(key string, value []byte) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[key] = value
	return nil
}

func rec(id, name, parentID string) *gdrive.Record {
	return &gdrive.Record{
		ID:       id,
		Type:     gdrive.RecordTypeFile,
		Name:     name,
		MimeType: "text/plain",
		ParentID: parentID,
	}
}

func TestLoadFilesEmptyStore(t *testing.T) {
	c, err := LoadFiles(newMemStore())
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d records", c.Len())
	}
}

func TestLoadFilesCorruptPayload(t *testing.T) {
	store := newMemStore()
	store.data[FilesKey] = []byte("{definitely not json")

	c, err := LoadFiles(store)
	if err != nil {
		t.Fatalf("corrupt payload must degrade, not fail: %v", err)
	}
	if c.Len() != 0 {
		t.Fatal("expected fresh cache after corruption")
	}
}

func TestLoadFilesInvalidRecord(t *testing.T) {
	store := newMemStore()
	store.data[FilesKey], _ = json.Marshal(map[string]*gdrive.Record{
		"a": {ID: "a", Name: "", MimeType: "text/plain"},
	})

	c, err := LoadFiles(store)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Fatal("expected fresh cache after failed validation")
	}
}

func TestLoadFilesStoreError(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("disk gone")

	if _, err := LoadFiles(store); err == nil {
		t.Fatal("store I/O errors must propagate")
	}
}

func TestFilesSaveLoadRoundTrip(t *testing.T) {
	store := newMemStore()

	c := NewFiles(store)
	c.Set(rec("a", "a.txt", "p"))
	c.Set(rec("b", "b.txt", "p"))
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadFiles(store)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", reloaded.Len())
	}
	if got := reloaded.Find("a"); got == nil || got.Name != "a.txt" {
		t.Fatalf("unexpected record after reload: %+v", got)
	}
}

func TestFilesFindReturnsCopy(t *testing.T) {
	c := NewFiles(newMemStore())
	c.Set(rec("a", "a.txt", "p"))

	got := c.Find("a")
	got.Name = "mutated"

	if c.Find("a").Name != "a.txt" {
		t.Fatal("mutation of returned record leaked into the cache")
	}
}

func TestFilesRemoveAndAll(t *testing.T) {
	c := NewFiles(newMemStore())
	c.Set(rec("a", "a.txt", "p1"))
	c.Set(rec("b", "b.txt", "p2"))
	c.Set(rec("c", "c.txt", "p1"))

	c.Remove("b")
	c.Remove("missing")

	under := c.All(func(r *gdrive.Record) bool { return r.ParentID == "p1" })
	if len(under) != 2 {
		t.Fatalf("expected 2 records under p1, got %d", len(under))
	}
	if all := c.All(nil); len(all) != 2 {
		t.Fatalf("expected 2 records total, got %d", len(all))
	}
}
