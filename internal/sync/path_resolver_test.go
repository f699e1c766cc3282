package sync

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/drivemirror/drivemirror/internal/cache"
	"github.com/drivemirror/drivemirror/internal/gdrive"
)

type fakeGetter struct {
	records map[string]*gdrive.Record
	calls   int
}

func (f *fakeGetter) Get(ctx context.Context, fileID string) (*gdrive.Record, error) {
	f.calls++
	rec, ok := f.records[fileID]
	if !ok {
		return nil, &googleapi.Error{Code: 404}
	}
	return rec, nil
}

func seedFiles(t *testing.T, store *memStore, recs ...*gdrive.Record) {
	t.Helper()
	files := cache.NewFiles(store)
	for _, r := range recs {
		files.Set(r)
	}
	if err := files.Save(); err != nil {
		t.Fatal(err)
	}
}

func TestResolveWalksParents(t *testing.T) {
	store := newMemStore()
	seedFiles(t, store,
		folderRec("a", "Alpha", "root-1"),
		folderRec("b", "Beta", "a"),
	)
	r := NewPathResolver(store, &fakeGetter{}, "root-1")

	path, err := r.Resolve(context.Background(), fileRec("c", "notes.txt", "b"))
	if err != nil {
		t.Fatal(err)
	}
	if path != "/Alpha/Beta/notes.txt" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestResolveFallsBackToAPI(t *testing.T) {
	store := newMemStore()
	api := &fakeGetter{records: map[string]*gdrive.Record{
		"a": folderRec("a", "Alpha", "root-1"),
	}}
	r := NewPathResolver(store, api, "root-1")

	path, err := r.Resolve(context.Background(), fileRec("c", "notes.txt", "a"))
	if err != nil {
		t.Fatal(err)
	}
	if path != "/Alpha/notes.txt" {
		t.Fatalf("unexpected path %s", path)
	}

	// Second resolve hits the memo, not the API.
	calls := api.calls
	if _, err := r.Resolve(context.Background(), fileRec("d", "other.txt", "a")); err != nil {
		t.Fatal(err)
	}
	if api.calls != calls {
		t.Fatal("expected memoized parent lookup")
	}
}

func TestResolveVanishedParent(t *testing.T) {
	store := newMemStore()
	r := NewPathResolver(store, &fakeGetter{}, "root-1")

	path, err := r.Resolve(context.Background(), fileRec("c", "notes.txt", "gone"))
	if err != nil {
		t.Fatal(err)
	}
	if path != "/notes.txt" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestResolveDetectsCycle(t *testing.T) {
	store := newMemStore()
	seedFiles(t, store,
		folderRec("a", "Alpha", "b"),
		folderRec("b", "Beta", "a"),
	)
	r := NewPathResolver(store, &fakeGetter{}, "root-1")

	_, err := r.Resolve(context.Background(), fileRec("c", "notes.txt", "a"))
	if !errors.Is(err, ErrParentCycle) {
		t.Fatalf("expected ErrParentCycle, got %v", err)
	}
}
