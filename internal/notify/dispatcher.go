// Package notify turns inbound push notifications into cache, tree and
// event updates. Delivery is at-least-once and unordered, so every handler
// path is idempotent: re-processing a notification converges to the same
// state instead of failing.
package notify

import (
	"context"
	"net/http"
	"strings"
	gosync "sync"

	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/cache"
	"github.com/drivemirror/drivemirror/internal/channels"
	"github.com/drivemirror/drivemirror/internal/events"
	"github.com/drivemirror/drivemirror/internal/gdrive"
	"github.com/drivemirror/drivemirror/internal/metrics"
	"github.com/drivemirror/drivemirror/internal/state"
	"github.com/drivemirror/drivemirror/internal/tree"
)

// Resource states delivered by the provider. Only these two carry
// actionable information; everything else ("sync", "add", ...) is ignored.
const (
	stateUpdate = "update"
	stateRemove = "remove"
)

// Notification is the decoded envelope of one push delivery.
type Notification struct {
	ResourceState string
	Changed       []string
	ChannelToken  string
}

// FromHeaders decodes the provider's notification headers.
func FromHeaders(h http.Header) Notification {
	n := Notification{
		ResourceState: h.Get("X-Goog-Resource-State"),
		ChannelToken:  h.Get("X-Goog-Channel-Token"),
	}
	if changed := h.Get("X-Goog-Changed"); changed != "" {
		for _, part := range strings.Split(changed, ",") {
			if part = strings.TrimSpace(part); part != "" {
				n.Changed = append(n.Changed, part)
			}
		}
	}
	return n
}

func (n Notification) childrenChanged() bool {
	for _, c := range n.Changed {
		if c == "children" {
			return true
		}
	}
	return false
}

// FolderLister is the slice of the Drive client the dispatcher needs.
type FolderLister interface {
	ListChildren(ctx context.Context, folderID string) ([]*gdrive.Record, error)
}

// Emitter receives the change events derived from a notification.
type Emitter interface {
	Broadcast(events.Event)
}

// PathResolver annotates events with the record's absolute path. Optional;
// a nil resolver leaves paths empty.
type PathResolver interface {
	Resolve(ctx context.Context, rec *gdrive.Record) (string, error)
}

// Dispatcher processes verified notifications. It owns no long-lived state;
// each notification loads the caches from the store, mutates and saves them,
// so the store is always the single source of truth.
type Dispatcher struct {
	store  state.Store
	codec  *channels.TokenCodec
	api    FolderLister
	events Emitter
	paths  PathResolver

	// cacheMu guards ownership of the files cache and tree snapshot.
	// Deliveries arrive concurrently but load-mutate-save cycles must not
	// overlap each other or a running full sync.
	cacheMu *gosync.Mutex
}

// NewDispatcher creates a dispatcher. cacheMu is the cache-ownership lock
// shared with the sync engine; nil creates a private one.
func NewDispatcher(store state.Store, codec *channels.TokenCodec, api FolderLister, emitter Emitter, paths PathResolver, cacheMu *gosync.Mutex) *Dispatcher {
	if cacheMu == nil {
		cacheMu = &gosync.Mutex{}
	}
	return &Dispatcher{store: store, codec: codec, api: api, events: emitter, paths: paths, cacheMu: cacheMu}
}

// Handle processes one notification. It never returns an error: the webhook
// endpoint must always acknowledge, so failures are logged and the delivery
// dropped. A dropped children update is recovered by the next full sync.
func (d *Dispatcher) Handle(ctx context.Context, n Notification) {
	token := d.codec.Verify(n.ChannelToken)
	if token == nil {
		log.Warn().Str("resource_state", n.ResourceState).Msg("Dropping notification with invalid channel token")
		metrics.NotificationsTotal.WithLabelValues("invalid_token").Inc()
		return
	}

	switch {
	case n.ResourceState == stateUpdate && n.childrenChanged() && token.FileType == channels.FileTypeFolder:
		d.handleChildrenUpdate(ctx, token.FileID)
	case n.ResourceState == stateRemove:
		d.handleRemove(ctx, token.FileID)
	default:
		log.Debug().
			Str("resource_state", n.ResourceState).
			Str("file_id", token.FileID).
			Msg("Ignoring notification state")
		metrics.NotificationsTotal.WithLabelValues("ignored").Inc()
	}
}

// handleChildrenUpdate diffs a folder's current children against the cached
// view. Renames and moves inside an unchanged child set produce no events.
func (d *Dispatcher) handleChildrenUpdate(ctx context.Context, folderID string) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	files, err := cache.LoadFiles(d.store)
	if err != nil {
		log.Error().Err(err).Str("folder_id", folderID).Msg("Loading files cache for children update failed")
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return
	}

	current, err := d.api.ListChildren(ctx, folderID)
	if err != nil {
		if gdrive.IsNotFound(err) {
			log.Debug().Str("folder_id", folderID).Msg("Notified folder no longer exists")
		} else {
			log.Error().Err(err).Str("folder_id", folderID).Msg("Listing notified folder failed")
		}
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return
	}

	prior := files.All(func(r *gdrive.Record) bool { return r.ParentID == folderID })
	priorByID := make(map[string]*gdrive.Record, len(prior))
	for _, rec := range prior {
		priorByID[rec.ID] = rec
	}
	currentByID := make(map[string]*gdrive.Record, len(current))
	for _, rec := range current {
		currentByID[rec.ID] = rec
	}

	hierarchy, err := cache.LoadTree(d.store)
	if err != nil {
		log.Error().Err(err).Msg("Loading tree snapshot failed; continuing without tree maintenance")
		hierarchy = nil
	}

	changed := false
	for id, rec := range currentByID {
		if _, known := priorByID[id]; known {
			continue
		}
		files.Set(rec)
		if hierarchy != nil {
			hierarchy.Upsert(&tree.Node{Record: *rec})
		}
		d.emit(ctx, rec, true)
		changed = true
	}
	for id, rec := range priorByID {
		if _, still := currentByID[id]; still {
			continue
		}
		files.Remove(id)
		d.emit(ctx, rec, false)
		changed = true
	}

	if changed {
		if err := files.Save(); err != nil {
			log.Error().Err(err).Msg("Saving files cache after children update failed")
		}
		if hierarchy != nil {
			if err := cache.SaveTree(d.store, hierarchy); err != nil {
				log.Error().Err(err).Msg("Saving tree snapshot after children update failed")
			}
		}
	}
	metrics.NotificationsTotal.WithLabelValues("processed").Inc()
}

// handleRemove drops a deleted file from the cache. Unknown ids are a
// no-op, which makes re-delivered removals harmless.
func (d *Dispatcher) handleRemove(ctx context.Context, fileID string) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	files, err := cache.LoadFiles(d.store)
	if err != nil {
		log.Error().Err(err).Str("file_id", fileID).Msg("Loading files cache for removal failed")
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return
	}

	rec := files.Find(fileID)
	if rec == nil {
		log.Debug().Str("file_id", fileID).Msg("Removal for untracked file; nothing to do")
		metrics.NotificationsTotal.WithLabelValues("processed").Inc()
		return
	}

	d.emit(ctx, rec, false)
	files.Remove(fileID)
	if err := files.Save(); err != nil {
		log.Error().Err(err).Msg("Saving files cache after removal failed")
	}
	metrics.NotificationsTotal.WithLabelValues("processed").Inc()
}

func (d *Dispatcher) emit(ctx context.Context, rec *gdrive.Record, created bool) {
	ev := events.Event{Type: events.TypeFor(rec, created), Record: rec}
	if d.paths != nil {
		path, err := d.paths.Resolve(ctx, rec)
		if err != nil {
			log.Debug().Err(err).Str("file_id", rec.ID).Msg("Path resolution failed for event")
		} else {
			ev.Path = path
		}
	}
	d.events.Broadcast(ev)
}
