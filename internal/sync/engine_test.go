package sync

import (
	"context"
	"testing"

	"github.com/drivemirror/drivemirror/internal/cache"
	"github.com/drivemirror/drivemirror/internal/gdrive"
)

type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Load(key string) ([]byte, error)     { return m.data[key], nil }
func (m *memStore) Save(key string, value []byte) error { m.data[key] = value; return nil }

type fakeLister struct {
	rootID string
	pages  []*gdrive.Page
}

func (f *fakeLister) RootID(ctx context.Context) (string, error) {
	return f.rootID, nil
}

func (f *fakeLister) ListPage(ctx context.Context, query, pageToken string) (*gdrive.Page, error) {
	idx := 0
	if pageToken != "" {
		for i, p := range f.pages[:len(f.pages)-1] {
			if p.NextToken == pageToken {
				idx = i + 1
				break
			}
		}
	}
	return f.pages[idx], nil
}

func folderRec(id, name, parentID string) *gdrive.Record {
	return &gdrive.Record{
		ID:       id,
		Type:     gdrive.RecordTypeFolder,
		Name:     name,
		MimeType: gdrive.FolderMimeType,
		ParentID: parentID,
	}
}

func fileRec(id, name, parentID string) *gdrive.Record {
	return &gdrive.Record{
		ID:       id,
		Type:     gdrive.RecordTypeFile,
		Name:     name,
		MimeType: "text/plain",
		ParentID: parentID,
	}
}

func TestRunSyncBuildsSnapshot(t *testing.T) {
	store := newMemStore()
	api := &fakeLister{
		rootID: "root-1",
		pages: []*gdrive.Page{
			{Items: []*gdrive.Record{folderRec("f1", "Documents", "root-1")}, NextToken: "t1"},
			{Items: []*gdrive.Record{
				fileRec("c1", "notes.txt", "f1"),
				folderRec("empty", "Empty", "root-1"),
			}, Skipped: 1},
		},
	}
	engine := NewEngine(store, api, nil, nil)

	if err := engine.RunSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	files, err := cache.LoadFiles(store)
	if err != nil {
		t.Fatal(err)
	}
	if files.Len() != 3 {
		t.Fatalf("expected 3 cached records, got %d", files.Len())
	}

	hierarchy, err := cache.LoadTree(store)
	if err != nil {
		t.Fatal(err)
	}
	if hierarchy == nil {
		t.Fatal("expected tree snapshot saved")
	}

	f1 := hierarchy.NodeByID("f1")
	if f1 == nil || len(f1.Children) != 1 || f1.Children[0].ID != "c1" {
		t.Fatalf("unexpected hierarchy under f1: %+v", f1)
	}
	// Empty folders were discovered but pruned before saving.
	if hierarchy.NodeByID("empty") != nil {
		t.Fatal("expected empty folder pruned from snapshot")
	}
}

func TestRunSyncReplacesStaleEntries(t *testing.T) {
	store := newMemStore()
	api := &fakeLister{
		rootID: "root-1",
		pages:  []*gdrive.Page{{Items: []*gdrive.Record{fileRec("keep", "keep.txt", "root-1")}}},
	}
	engine := NewEngine(store, api, nil, nil)

	// Seed a record the listing no longer returns.
	stale := cache.NewFiles(store)
	stale.Set(fileRec("stale", "stale.txt", "root-1"))
	if err := stale.Save(); err != nil {
		t.Fatal(err)
	}

	if err := engine.RunSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	files, err := cache.LoadFiles(store)
	if err != nil {
		t.Fatal(err)
	}
	if files.Find("stale") != nil {
		t.Fatal("full sync must drop entries absent from the listing")
	}
	if files.Find("keep") == nil {
		t.Fatal("expected listed entry in cache")
	}
}
