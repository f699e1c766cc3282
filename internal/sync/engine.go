// Package sync drives the two periodic reconciliation passes: the full
// hierarchy rebuild from a complete listing, and the channel resync that
// re-establishes every push-notification subscription.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/cache"
	"github.com/drivemirror/drivemirror/internal/channels"
	"github.com/drivemirror/drivemirror/internal/config"
	"github.com/drivemirror/drivemirror/internal/gdrive"
	"github.com/drivemirror/drivemirror/internal/metrics"
	"github.com/drivemirror/drivemirror/internal/state"
	"github.com/drivemirror/drivemirror/internal/tree"
)

// Lister is the slice of the Drive client the engine needs.
type Lister interface {
	RootID(ctx context.Context) (string, error)
	ListPage(ctx context.Context, query, pageToken string) (*gdrive.Page, error)
}

// Engine runs full synchronization and channel resync passes. Each pass is
// single-flight: a concurrent trigger waits for the running pass instead of
// racing it.
type Engine struct {
	store   state.Store
	api     Lister
	watcher *channels.Manager

	// cacheMu guards ownership of the files cache and tree snapshot. One
	// session at a time: load, mutate, save. Shared with the notification
	// dispatcher so a notification never interleaves with a full sync.
	cacheMu   *gosync.Mutex
	channelMu gosync.Mutex
}

// NewEngine creates an engine. cacheMu is the cache-ownership lock shared
// with the notification dispatcher; nil creates a private one.
func NewEngine(store state.Store, api Lister, watcher *channels.Manager, cacheMu *gosync.Mutex) *Engine {
	if cacheMu == nil {
		cacheMu = &gosync.Mutex{}
	}
	return &Engine{store: store, api: api, watcher: watcher, cacheMu: cacheMu}
}

// RunSync rebuilds the hierarchy and the files cache from a complete
// listing. The saved generation fully replaces the previous one, so entries
// whose deletion notification was lost disappear here.
func (e *Engine) RunSync(ctx context.Context) error {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, config.GetTimeouts().SyncPass)
	defer cancel()

	started := time.Now()

	rootID, err := e.api.RootID(ctx)
	if err != nil {
		metrics.SyncPassesTotal.WithLabelValues("error").Inc()
		return err
	}

	files := cache.NewFiles(e.store)
	hierarchy := tree.New(rootID)

	total, skipped := 0, 0
	pageToken := ""
	for {
		page, err := e.api.ListPage(ctx, gdrive.QueryAll, pageToken)
		if err != nil {
			metrics.SyncPassesTotal.WithLabelValues("error").Inc()
			return err
		}

		for _, rec := range page.Items {
			hierarchy.Upsert(&tree.Node{Record: *rec})
			files.Set(rec)
			total++
		}
		skipped += page.Skipped
		metrics.RecordsUpserted.Add(float64(len(page.Items)))
		metrics.RecordsSkipped.Add(float64(page.Skipped))

		if page.NextToken == "" {
			break
		}
		pageToken = page.NextToken
	}

	hierarchy.PruneEmptyFolders()

	if err := cache.SaveTree(e.store, hierarchy); err != nil {
		metrics.SyncPassesTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := files.Save(); err != nil {
		metrics.SyncPassesTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.SyncPassesTotal.WithLabelValues("ok").Inc()
	log.Info().
		Int("records", total).
		Int("skipped", skipped).
		Dur("duration", time.Since(started)).
		Msg("Full synchronization completed")
	return nil
}

// SyncChannels re-establishes the complete push-notification channel set.
// Channels from the previous generation are stopped after the new one is
// persisted. The returned flag reports whether any file hit the subscription
// quota; callers shorten the resync interval when it is set.
func (e *Engine) SyncChannels(ctx context.Context) (bool, error) {
	e.channelMu.Lock()
	defer e.channelMu.Unlock()

	started := time.Now()

	store, err := cache.LoadChannels(e.store)
	if err != nil {
		return false, err
	}

	result, err := e.watcher.WatchAll(ctx)
	if err != nil {
		return false, err
	}

	diff, err := store.SetAll(result.Channels)
	if err != nil {
		return false, err
	}

	for _, ch := range diff.Deleted {
		if err := e.watcher.TryUnwatch(ctx, ch); err != nil {
			log.Error().Err(err).Str("channel_id", ch.ID).Msg("Stopping stale channel failed")
		}
	}

	metrics.ActiveChannels.Set(float64(len(result.Channels)))
	log.Info().
		Int("channels", len(result.Channels)).
		Int("new", len(diff.New)).
		Int("updated", len(diff.Updated)).
		Int("deleted", len(diff.Deleted)).
		Bool("rate_limited", result.RateLimited).
		Dur("duration", time.Since(started)).
		Msg("Channel resync completed")
	return result.RateLimited, nil
}
