package tree

import (
	"encoding/json"
	"testing"

	"github.com/drivemirror/drivemirror/internal/gdrive"
)

const rootID = "root-1"

func folder(id, name, parentID string) *Node {
	return &Node{Record: gdrive.Record{
		ID:       id,
		Name:     name,
		MimeType: gdrive.FolderMimeType,
		ParentID: parentID,
	}}
}

func file(id, name, parentID string) *Node {
	return &Node{Record: gdrive.Record{
		ID:       id,
		Name:     name,
		MimeType: "text/plain",
		ParentID: parentID,
	}}
}

func childNames(n *Node) []string {
	names := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		names = append(names, c.Name)
	}
	return names
}

func findChild(t *testing.T, n *Node, id string) *Node {
	t.Helper()
	for _, c := range n.Children {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("node %s has no child %s", n.ID, id)
	return nil
}

func TestUpsertBuildsHierarchy(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(folder("f1", "Documents", rootID))
	tr.Upsert(file("c1", "notes.txt", "f1"))

	f1 := tr.NodeByID("f1")
	if f1 == nil {
		t.Fatal("expected f1 in tree")
	}
	if len(f1.Children) != 1 || f1.Children[0].ID != "c1" {
		t.Fatalf("expected f1 to contain c1, got %v", childNames(f1))
	}

	root := tr.RootNode()
	docs := findChild(t, root, "f1")
	if docs.Name != "Documents" {
		t.Fatalf("expected Documents, got %s", docs.Name)
	}
}

func TestUpsertChildBeforeParent(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(file("c1", "notes.txt", "f1"))

	placeholder := tr.NodeByID("f1")
	if placeholder == nil {
		t.Fatal("expected placeholder for unknown parent")
	}
	if placeholder.Name != "[f1]" {
		t.Fatalf("expected placeholder name [f1], got %s", placeholder.Name)
	}
	if len(placeholder.Children) != 1 || placeholder.Children[0].ID != "c1" {
		t.Fatal("expected placeholder to hold the early child")
	}

	// Real record arrives later and replaces the placeholder in place.
	tr.Upsert(folder("f1", "Documents", rootID))

	f1 := tr.NodeByID("f1")
	if f1.Name != "Documents" {
		t.Fatalf("expected placeholder to be replaced, got %s", f1.Name)
	}
	if len(f1.Children) != 1 || f1.Children[0].ID != "c1" {
		t.Fatal("expected child to survive placeholder replacement")
	}
}

func TestRenameKeepsChildren(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(folder("f1", "Documents", rootID))
	tr.Upsert(file("c1", "notes.txt", "f1"))

	// Fresh copy of the folder with a new name and no embedded children.
	tr.Upsert(folder("f1", "Renamed", rootID))

	f1 := tr.NodeByID("f1")
	if f1.Name != "Renamed" {
		t.Fatalf("expected rename applied, got %s", f1.Name)
	}
	if len(f1.Children) != 1 || f1.Children[0].ID != "c1" {
		t.Fatal("expected children to survive the rename")
	}
}

func TestUpsertIdempotent(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(folder("f1", "Documents", rootID))
	tr.Upsert(file("c1", "notes.txt", "f1"))
	tr.Upsert(folder("f1", "Documents", rootID))
	tr.Upsert(file("c1", "notes.txt", "f1"))

	root := tr.RootNode()
	if len(root.Children) != 1 {
		t.Fatalf("expected 1 root child, got %d", len(root.Children))
	}
	f1 := findChild(t, root, "f1")
	if len(f1.Children) != 1 {
		t.Fatalf("expected 1 child under f1, got %d", len(f1.Children))
	}
}

func TestUpsertOrderIndependent(t *testing.T) {
	forward := New(rootID)
	forward.Upsert(folder("a", "A", rootID))
	forward.Upsert(folder("b", "B", "a"))
	forward.Upsert(file("c", "C", "b"))

	reverse := New(rootID)
	reverse.Upsert(file("c", "C", "b"))
	reverse.Upsert(folder("b", "B", "a"))
	reverse.Upsert(folder("a", "A", rootID))

	fwd, err := json.Marshal(forward.RootNode())
	if err != nil {
		t.Fatal(err)
	}
	rev, err := json.Marshal(reverse.RootNode())
	if err != nil {
		t.Fatal(err)
	}
	if string(fwd) != string(rev) {
		t.Fatalf("insertion order changed the tree:\n%s\n%s", fwd, rev)
	}
}

func TestSharedWithMePlacement(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(&Node{Record: gdrive.Record{
		ID:               "s1",
		Name:             "shared.doc",
		MimeType:         "text/plain",
		SharedWithMeTime: "2024-01-01T00:00:00Z",
	}})

	container := tr.NodeByID(SharedWithMeID)
	if container == nil {
		t.Fatal("expected shared-with-me container")
	}
	if container.Name != "Shared with me" {
		t.Fatalf("unexpected container name %s", container.Name)
	}
	if len(container.Children) != 1 || container.Children[0].ID != "s1" {
		t.Fatal("expected shared item under the container")
	}
}

func TestSharedWithMeParentPlaceholder(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(&Node{Record: gdrive.Record{
		ID:               "s1",
		Name:             "shared.doc",
		MimeType:         "text/plain",
		ParentID:         "sp1",
		SharedWithMeTime: "2024-01-01T00:00:00Z",
	}})

	// The unknown shared parent lands beneath the container, not the root.
	container := tr.NodeByID(SharedWithMeID)
	if container == nil {
		t.Fatal("expected shared-with-me container")
	}
	parent := findChild(t, container, "sp1")
	if parent.Name != "[sp1]" {
		t.Fatalf("expected placeholder parent, got %s", parent.Name)
	}
	if len(parent.Children) != 1 || parent.Children[0].ID != "s1" {
		t.Fatal("expected shared item under its placeholder parent")
	}
}

func TestSharedDrivePlacement(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(&Node{Record: gdrive.Record{
		ID:       "d-file",
		Name:     "report.pdf",
		MimeType: "application/pdf",
		DriveID:  "drive-9",
	}})

	container := tr.NodeByID(SharedDrivesID)
	if container == nil {
		t.Fatal("expected shared-drives container")
	}
	driveRoot := findChild(t, container, "drive-9")
	if driveRoot.Name != "[drive-9]" {
		t.Fatalf("expected drive root placeholder, got %s", driveRoot.Name)
	}
	if len(driveRoot.Children) != 1 || driveRoot.Children[0].ID != "d-file" {
		t.Fatal("expected item under its drive root")
	}
}

func TestRebalanceOnRicherRecord(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(file("s1", "shared.doc", ""))

	findChild(t, tr.RootNode(), "s1")

	// A later listing reveals the item is shared; it must move.
	tr.Upsert(&Node{Record: gdrive.Record{
		ID:               "s1",
		Name:             "shared.doc",
		MimeType:         "text/plain",
		SharedWithMeTime: "2024-01-01T00:00:00Z",
	}})

	container := tr.NodeByID(SharedWithMeID)
	if len(container.Children) != 1 || container.Children[0].ID != "s1" {
		t.Fatal("expected s1 under shared-with-me after rebalance")
	}
	for _, c := range tr.RootNode().Children {
		if c.ID == "s1" {
			t.Fatal("s1 still attached to root after rebalance")
		}
	}
}

func TestChildrenOrderedByName(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(file("x", "zebra.txt", rootID))
	tr.Upsert(file("y", "Apple.txt", rootID))
	tr.Upsert(file("z", "mango.txt", rootID))

	got := childNames(tr.RootNode())
	want := []string{"Apple.txt", "mango.txt", "zebra.txt"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestPruneEmptyFolders(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(folder("f1", "Keep", rootID))
	tr.Upsert(file("c1", "notes.txt", "f1"))
	tr.Upsert(folder("e1", "Empty", rootID))
	// Chain of empties: pruning e3 empties e2, which empties... down to none.
	tr.Upsert(folder("e2", "EmptyOuter", rootID))
	tr.Upsert(folder("e3", "EmptyInner", "e2"))

	tr.PruneEmptyFolders()

	if tr.NodeByID("e1") != nil {
		t.Fatal("expected e1 pruned")
	}
	if tr.NodeByID("e2") != nil || tr.NodeByID("e3") != nil {
		t.Fatal("expected empty chain pruned to a fixed point")
	}
	if tr.NodeByID("f1") == nil {
		t.Fatal("expected non-empty folder kept")
	}

	// Pruning again changes nothing.
	before, _ := json.Marshal(tr.RootNode())
	tr.PruneEmptyFolders()
	after, _ := json.Marshal(tr.RootNode())
	if string(before) != string(after) {
		t.Fatal("prune is not idempotent")
	}
}

func TestPruneKeepsFixedContainers(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(&Node{Record: gdrive.Record{
		ID:               "s1",
		Name:             "shared.doc",
		MimeType:         "text/plain",
		SharedWithMeTime: "2024-01-01T00:00:00Z",
	}})

	tr.PruneEmptyFolders()

	if tr.NodeByID(SharedWithMeID) == nil {
		t.Fatal("shared-with-me container must never be pruned")
	}
	if tr.NodeByID(rootID) == nil {
		t.Fatal("root must never be pruned")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(folder("f1", "Documents", rootID))
	tr.Upsert(file("c1", "notes.txt", "f1"))
	tr.Upsert(&Node{Record: gdrive.Record{
		ID:               "s1",
		Name:             "shared.doc",
		MimeType:         "text/plain",
		SharedWithMeTime: "2024-01-01T00:00:00Z",
	}})

	data, err := tr.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}

	restored, err := FromJSON(data)
	if err != nil {
		t.Fatal(err)
	}

	again, err := restored.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(again) {
		t.Fatalf("round trip diverged:\n%s\n%s", data, again)
	}
}

func TestFromJSONRejectsGarbage(t *testing.T) {
	if _, err := FromJSON([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed snapshot")
	}
	if _, err := FromJSON([]byte(`{"name":"no id"}`)); err == nil {
		t.Fatal("expected error for snapshot without root id")
	}
}

func TestNodeByIDReturnsCopy(t *testing.T) {
	tr := New(rootID)
	tr.Upsert(folder("f1", "Documents", rootID))

	got := tr.NodeByID("f1")
	got.Name = "Mutated"

	if tr.NodeByID("f1").Name != "Documents" {
		t.Fatal("mutation of returned node leaked into the tree")
	}
}
