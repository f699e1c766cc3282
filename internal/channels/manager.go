package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/cache"
	"github.com/drivemirror/drivemirror/internal/gdrive"
	"github.com/drivemirror/drivemirror/internal/metrics"
)

// Channels expire after this TTL; the resync cycle renews them well before.
const watchTTL = 24 * time.Hour

// DriveAPI is the slice of the Drive client the manager needs.
type DriveAPI interface {
	Watch(ctx context.Context, req gdrive.WatchRequest) (*gdrive.ChannelInfo, error)
	StopChannel(ctx context.Context, channelID, resourceID string) error
	ListPage(ctx context.Context, query, pageToken string) (*gdrive.Page, error)
}

// WatchOutcome distinguishes a successful subscription from the expected
// per-file quota refusal.
type WatchOutcome int

const (
	WatchOK WatchOutcome = iota
	WatchRateLimited
)

// WatchAllResult is the output of a full subscription pass.
type WatchAllResult struct {
	Channels []cache.Channel
	// RateLimited is set when at least one file hit the subscription quota.
	// Those files carry no channel in this generation; the caller shortens
	// the resync interval so they are retried sooner.
	RateLimited bool
}

// Manager issues and cancels push-notification subscriptions against the
// remote API. It holds no state of its own; the channel generation lives in
// cache.ChannelStore.
type Manager struct {
	api     DriveAPI
	codec   *TokenCodec
	address string
}

// NewManager creates a manager delivering notifications to address.
func NewManager(api DriveAPI, codec *TokenCodec, address string) *Manager {
	return &Manager{api: api, codec: codec, address: address}
}

// Watch subscribes to change notifications for a single file. Every call
// creates a distinct channel id, so re-watching a file yields a new
// subscription rather than renewing the old one.
func (m *Manager) Watch(ctx context.Context, fileID, fileType string) (*cache.Channel, error) {
	token, err := m.codec.Sign(fileID, fileType)
	if err != nil {
		return nil, err
	}

	req := gdrive.WatchRequest{
		FileID:     fileID,
		ChannelID:  uuid.NewString(),
		Address:    m.address,
		Token:      token,
		Expiration: time.Now().Add(watchTTL),
	}
	info, err := m.api.Watch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("channels: watching %s: %w", fileID, err)
	}

	return &cache.Channel{
		ID:         info.ChannelID,
		ResourceID: info.ResourceID,
		FileID:     fileID,
		Expiration: info.Expiration,
	}, nil
}

// TryWatch is Watch with the subscription quota refusal downgraded to a
// reported outcome instead of an error.
func (m *Manager) TryWatch(ctx context.Context, fileID, fileType string) (*cache.Channel, WatchOutcome, error) {
	ch, err := m.Watch(ctx, fileID, fileType)
	if err != nil {
		if gdrive.IsSubscriptionRateLimit(err) {
			log.Warn().Str("file_id", fileID).Msg("Subscription quota hit; file skipped until next cycle")
			metrics.WatchRateLimited.Inc()
			return nil, WatchRateLimited, nil
		}
		return nil, WatchOK, err
	}
	return ch, WatchOK, nil
}

// WatchAll subscribes to every non-trashed file and folder. Files and
// folders are streamed from the provider in parallel; within each stream
// subscriptions are issued sequentially in listing order. Quota refusals are
// skipped and flagged; the first hard error aborts the pass.
func (m *Manager) WatchAll(ctx context.Context) (*WatchAllResult, error) {
	type streamResult struct {
		channels    []cache.Channel
		rateLimited bool
		err         error
	}

	streams := []struct {
		query    string
		fileType string
	}{
		{gdrive.QueryFiles, FileTypeFile},
		{gdrive.QueryFolders, FileTypeFolder},
	}

	results := make([]streamResult, len(streams))
	var wg sync.WaitGroup
	for i, s := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i].channels, results[i].rateLimited, results[i].err = m.watchStream(ctx, s.query, s.fileType)
		}()
	}
	wg.Wait()

	out := &WatchAllResult{}
	for _, res := range results {
		if res.err != nil {
			return nil, res.err
		}
		out.Channels = append(out.Channels, res.channels...)
		out.RateLimited = out.RateLimited || res.rateLimited
	}
	return out, nil
}

func (m *Manager) watchStream(ctx context.Context, query, fileType string) ([]cache.Channel, bool, error) {
	var channels []cache.Channel
	rateLimited := false

	pageToken := ""
	for {
		page, err := m.api.ListPage(ctx, query, pageToken)
		if err != nil {
			return nil, false, err
		}

		for _, rec := range page.Items {
			ch, outcome, err := m.TryWatch(ctx, rec.ID, fileType)
			if err != nil {
				return nil, false, err
			}
			if outcome == WatchRateLimited {
				rateLimited = true
				continue
			}
			channels = append(channels, *ch)
		}

		if page.NextToken == "" {
			return channels, rateLimited, nil
		}
		pageToken = page.NextToken
	}
}

// Unwatch cancels a subscription remotely.
func (m *Manager) Unwatch(ctx context.Context, ch cache.Channel) error {
	if err := m.api.StopChannel(ctx, ch.ID, ch.ResourceID); err != nil {
		return fmt.Errorf("channels: stopping channel %s: %w", ch.ID, err)
	}
	return nil
}

// TryUnwatch cancels a subscription, treating an already-gone channel as
// success. Expired channels vanish server-side on their own.
func (m *Manager) TryUnwatch(ctx context.Context, ch cache.Channel) error {
	err := m.Unwatch(ctx, ch)
	if err != nil && gdrive.IsNotFound(err) {
		log.Debug().Str("channel_id", ch.ID).Msg("Channel already gone; nothing to stop")
		return nil
	}
	return err
}
