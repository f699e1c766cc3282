package sync

import (
	"context"
	"errors"
	"strings"
	gosync "sync"

	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/cache"
	"github.com/drivemirror/drivemirror/internal/gdrive"
	"github.com/drivemirror/drivemirror/internal/state"
	"github.com/drivemirror/drivemirror/internal/tree"
)

// ErrParentCycle reports a parent chain that loops back on itself. The walk
// is aborted rather than followed forever.
var ErrParentCycle = errors.New("sync: parent chain contains a cycle")

// Getter fetches a single record's metadata by id.
type Getter interface {
	Get(ctx context.Context, fileID string) (*gdrive.Record, error)
}

// PathResolver builds absolute paths by walking parent chains. Lookups go
// cache first, then the remote API, with results memoized for the resolver's
// lifetime.
type PathResolver struct {
	store  state.Store
	api    Getter
	rootID string

	mu    gosync.Mutex
	files *cache.FileCache
	memo  map[string]*gdrive.Record
}

// NewPathResolver creates a resolver rooted at rootID.
func NewPathResolver(store state.Store, api Getter, rootID string) *PathResolver {
	return &PathResolver{
		store:  store,
		api:    api,
		rootID: rootID,
		memo:   make(map[string]*gdrive.Record),
	}
}

// Resolve returns the record's absolute path from the root, one "/"-joined
// segment per ancestor name.
func (r *PathResolver) Resolve(ctx context.Context, rec *gdrive.Record) (string, error) {
	names := []string{rec.Name}
	seen := map[string]struct{}{rec.ID: {}}

	parentID := rec.ParentID
	for parentID != "" && !r.terminal(parentID) {
		if _, looped := seen[parentID]; looped {
			return "", ErrParentCycle
		}
		seen[parentID] = struct{}{}

		parent, err := r.lookup(ctx, parentID)
		if err != nil {
			return "", err
		}
		if parent == nil {
			break
		}
		names = append([]string{parent.Name}, names...)
		parentID = parent.ParentID
	}

	return "/" + strings.Join(names, "/"), nil
}

// terminal reports whether id is a walk boundary rather than a real folder.
func (r *PathResolver) terminal(id string) bool {
	return id == r.rootID || id == "root" || id == tree.SharedWithMeID || id == tree.SharedDrivesID
}

func (r *PathResolver) lookup(ctx context.Context, id string) (*gdrive.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.memo[id]; ok {
		return rec, nil
	}

	if r.files == nil {
		files, err := cache.LoadFiles(r.store)
		if err != nil {
			return nil, err
		}
		r.files = files
	}
	if rec := r.files.Find(id); rec != nil {
		r.memo[id] = rec
		return rec, nil
	}

	rec, err := r.api.Get(ctx, id)
	if err != nil {
		if gdrive.IsNotFound(err) {
			log.Debug().Str("file_id", id).Msg("Parent vanished during path resolution")
			r.memo[id] = nil
			return nil, nil
		}
		return nil, err
	}
	r.memo[id] = rec
	return rec, nil
}
