// Package tree reconstructs a single rooted folder hierarchy from an
// unordered, incrementally-arriving stream of flat Drive records. Children
// may arrive before their parents (placeholder nodes bridge the gap) and a
// record's classification may only become known on a later upsert, in which
// case the node is rebalanced to its correct location.
package tree

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/drivemirror/drivemirror/internal/gdrive"
)

// Fixed ids of the virtual containers that adopt items with no natural
// single parent under the real root.
const (
	SharedWithMeID = "sharedWithMe"
	SharedDrivesID = "sharedDrives"
)

// Node is a tree-positioned view of a record. Children is nil for leaves and
// for folders whose contents were never explored, keeping serialized
// snapshots minimal.
type Node struct {
	gdrive.Record
	Children []*Node `json:"children,omitempty"`
}

// Tree holds the hierarchy as two explicit maps: records by id and child-id
// sets by parent id. Internal maps never escape; lookups return deep copies.
type Tree struct {
	rootID   string
	records  map[string]*gdrive.Record
	childIDs map[string]map[string]struct{}
}

// New creates a tree rooted at the account's real root folder id.
func New(rootID string) *Tree {
	t := &Tree{
		rootID:   rootID,
		records:  make(map[string]*gdrive.Record),
		childIDs: make(map[string]map[string]struct{}),
	}
	t.records[rootID] = &gdrive.Record{
		ID:       rootID,
		Type:     gdrive.RecordTypeFolder,
		Name:     "My Drive",
		MimeType: gdrive.FolderMimeType,
	}
	t.childIDs[rootID] = make(map[string]struct{})
	return t
}

// RootID returns the real root folder id.
func (t *Tree) RootID() string {
	return t.rootID
}

// Upsert inserts or updates a node. Placement is recomputed from the latest
// record on every call, so re-upserting an id with richer information moves
// it to its now-correct location. Embedded children are upserted
// recursively, supporting both incremental single-item updates and bulk
// hierarchical loads.
func (t *Tree) Upsert(n *Node) *Tree {
	if n == nil || n.ID == "" {
		return t
	}

	if n.ID != t.rootID {
		rec := n.Record
		if rec.Type == "" {
			rec.Type = gdrive.TypeForMime(rec.MimeType)
		}

		existing := t.records[rec.ID]
		prevChildren := make(map[string]struct{}, len(t.childIDs[rec.ID]))
		for id := range t.childIDs[rec.ID] {
			prevChildren[id] = struct{}{}
		}

		if existing != nil {
			prevParent := t.effectiveParentID(existing)
			delete(t.childIDs[prevParent], existing.ID)
		}

		t.records[rec.ID] = &rec

		parentID := t.effectiveParentID(&rec)
		t.ensureParentNode(parentID, &rec)
		t.ensureChildSet(parentID)
		t.childIDs[parentID][rec.ID] = struct{}{}

		// Replacing a folder's record must not orphan children discovered
		// independently.
		if rec.IsFolder() {
			t.ensureChildSet(rec.ID)
			if len(prevChildren) > 0 {
				t.childIDs[rec.ID] = prevChildren
			}
		}
	}

	for _, child := range n.Children {
		t.Upsert(child)
	}
	return t
}

// NodeByID returns a materialized deep copy of the node and its descendants,
// or nil if the id is unknown.
func (t *Tree) NodeByID(id string) *Node {
	if _, ok := t.records[id]; !ok {
		return nil
	}
	return t.buildNode(id)
}

// RootNode returns the fully materialized tree: a deep copy with descendants
// attached and children deterministically ordered.
func (t *Tree) RootNode() *Node {
	return t.buildNode(t.rootID)
}

// PruneEmptyFolders removes folders with no children, iterating to a fixed
// point because deleting a folder can empty its own parent. The real root
// and the two virtual containers are never pruned. Must run before
// serializing a snapshot built from partial listings, so stub folders for
// never-explored parents do not accumulate.
func (t *Tree) PruneEmptyFolders() *Tree {
	empty := make(map[string]struct{})

	for {
		found := false
		for parentID, childSet := range t.childIDs {
			if t.isFixedID(parentID) {
				continue
			}
			if _, dead := empty[parentID]; dead {
				continue
			}
			rec := t.records[parentID]
			if rec == nil || !rec.IsFolder() {
				continue
			}
			if len(childSet) == 0 {
				empty[parentID] = struct{}{}
				found = true
			}
		}
		if !found {
			break
		}
		t.detachAll(empty)
	}

	for id := range empty {
		delete(t.records, id)
		delete(t.childIDs, id)
	}
	return t
}

func (t *Tree) detachAll(ids map[string]struct{}) {
	for id := range ids {
		rec := t.records[id]
		if rec == nil {
			continue
		}
		parentID := t.effectiveParentID(rec)
		delete(t.childIDs[parentID], id)
	}
}

// MarshalJSON serializes the materialized tree.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.RootNode())
}

// FromJSON rebuilds a tree from a serialized snapshot.
func FromJSON(data []byte) (*Tree, error) {
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("tree: invalid snapshot: %w", err)
	}
	if root.ID == "" {
		return nil, fmt.Errorf("tree: snapshot missing root id")
	}
	return New(root.ID).Upsert(&root), nil
}

func (t *Tree) buildNode(id string) *Node {
	rec := t.records[id]
	node := &Node{Record: *rec}

	childSet := t.childIDs[id]
	if len(childSet) == 0 {
		return node
	}

	children := make([]*Node, 0, len(childSet))
	for childID := range childSet {
		children = append(children, t.buildNode(childID))
	}
	sort.Slice(children, func(i, j int) bool {
		a, b := strings.ToLower(children[i].Name), strings.ToLower(children[j].Name)
		if a != b {
			return a < b
		}
		return children[i].ID < children[j].ID
	})
	node.Children = children
	return node
}

// effectiveParentID places a record per the precedence rule: shared-with-me
// items go under the "Shared with me" container (or their recorded parent
// beneath it), shared-drive items under their drive's root beneath "Shared
// drives", everything else under its first parent or the real root.
func (t *Tree) effectiveParentID(rec *gdrive.Record) string {
	if rec.SharedWithMeTime != "" {
		t.ensureVirtualNode(SharedWithMeID, "Shared with me")
		if rec.ParentID != "" {
			t.ensureSharedWithMeParent(rec.ParentID)
			return rec.ParentID
		}
		return SharedWithMeID
	}

	if rec.DriveID != "" {
		t.ensureVirtualNode(SharedDrivesID, "Shared drives")
		t.ensureDriveRootNode(rec.DriveID)
		if rec.ParentID != "" {
			return rec.ParentID
		}
		return rec.DriveID
	}

	if rec.ParentID != "" {
		return rec.ParentID
	}
	return t.rootID
}

// ensureParentNode creates a placeholder folder for a parent id referenced
// before its own record arrived. The placeholder keeps the child's
// classification: it lands under "Shared with me", the drive root, or the
// real root according to the child's fields.
func (t *Tree) ensureParentNode(parentID string, child *gdrive.Record) {
	if _, ok := t.records[parentID]; ok {
		return
	}
	if t.isFixedID(parentID) {
		return
	}

	anchorID := t.placeholderAnchorID(child)
	t.createPlaceholder(parentID, anchorID)
	t.ensureChildSet(anchorID)
	t.childIDs[anchorID][parentID] = struct{}{}
}

func (t *Tree) placeholderAnchorID(child *gdrive.Record) string {
	if child.SharedWithMeTime != "" {
		t.ensureVirtualNode(SharedWithMeID, "Shared with me")
		return SharedWithMeID
	}
	if child.DriveID != "" {
		t.ensureVirtualNode(SharedDrivesID, "Shared drives")
		t.ensureDriveRootNode(child.DriveID)
		return child.DriveID
	}
	return t.rootID
}

func (t *Tree) ensureSharedWithMeParent(parentID string) {
	if _, ok := t.records[parentID]; ok {
		return
	}
	t.createPlaceholder(parentID, SharedWithMeID)
	t.ensureChildSet(SharedWithMeID)
	t.childIDs[SharedWithMeID][parentID] = struct{}{}
}

func (t *Tree) ensureVirtualNode(id, name string) {
	if _, ok := t.records[id]; ok {
		return
	}
	t.records[id] = &gdrive.Record{
		ID:       id,
		Type:     gdrive.RecordTypeFolder,
		Name:     name,
		MimeType: gdrive.FolderMimeType,
	}
	t.childIDs[id] = make(map[string]struct{})
	t.childIDs[t.rootID][id] = struct{}{}
}

func (t *Tree) ensureDriveRootNode(driveID string) {
	if _, ok := t.records[driveID]; ok {
		return
	}
	t.records[driveID] = &gdrive.Record{
		ID:       driveID,
		Type:     gdrive.RecordTypeFolder,
		Name:     placeholderName(driveID),
		MimeType: gdrive.FolderMimeType,
		ParentID: SharedDrivesID,
	}
	t.childIDs[driveID] = make(map[string]struct{})
	t.childIDs[SharedDrivesID][driveID] = struct{}{}
}

func (t *Tree) createPlaceholder(id, parentID string) {
	t.records[id] = &gdrive.Record{
		ID:       id,
		Type:     gdrive.RecordTypeFolder,
		Name:     placeholderName(id),
		MimeType: gdrive.FolderMimeType,
		ParentID: parentID,
	}
	t.childIDs[id] = make(map[string]struct{})
}

func (t *Tree) ensureChildSet(id string) {
	if _, ok := t.childIDs[id]; !ok {
		t.childIDs[id] = make(map[string]struct{})
	}
}

func (t *Tree) isFixedID(id string) bool {
	return id == t.rootID || id == SharedWithMeID || id == SharedDrivesID
}

func placeholderName(id string) string {
	return "[" + id + "]"
}
