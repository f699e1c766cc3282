package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/state"
)

// ChannelsKey is the state-store key for the channels cache.
const ChannelsKey = "filesChannelsCache"

// Channel is one active push-notification subscription. One channel per
// watched file; re-watching replaces it and the old one must be explicitly
// cancelled, never merely dropped.
type Channel struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	FileID     string    `json:"fileId"`
	Expiration time.Time `json:"expiration"`
}

// ChannelDiff is the delta between two channel generations.
type ChannelDiff struct {
	// New channels watch a file that was not previously tracked.
	New []Channel
	// Updated channels re-watch an already-tracked file under a different
	// subscription id.
	Updated []Channel
	// Deleted channels were tracked before and are absent from the fresh
	// generation. The caller is responsible for unsubscribing them remotely.
	Deleted []Channel
}

// ChannelStore is the persisted map of active channels keyed by file id.
type ChannelStore struct {
	store    state.Store
	channels map[string]Channel
}

// LoadChannels loads the channel store. Malformed payloads are logged and
// replaced with an empty store.
func LoadChannels(store state.Store) (*ChannelStore, error) {
	raw, err := store.Load(ChannelsKey)
	if err != nil {
		return nil, fmt.Errorf("cache: loading channels cache: %w", err)
	}

	s := &ChannelStore{store: store, channels: make(map[string]Channel)}
	if len(raw) == 0 {
		return s, nil
	}

	var decoded map[string]Channel
	if err := json.Unmarshal(raw, &decoded); err != nil {
		log.Error().Err(err).Msg("Channels cache is corrupted; starting fresh")
		return s, nil
	}
	for fileID, ch := range decoded {
		if ch.ID == "" || ch.FileID == "" || ch.FileID != fileID {
			log.Error().Str("file_id", fileID).Msg("Channels cache failed validation; starting fresh")
			return s, nil
		}
	}

	s.channels = decoded
	return s, nil
}

// Find returns the active channel for a file id, or nil when none.
func (s *ChannelStore) Find(fileID string) *Channel {
	ch, ok := s.channels[fileID]
	if !ok {
		return nil
	}
	return &ch
}

// All returns every tracked channel, ordered by file id.
func (s *ChannelStore) All() []Channel {
	out := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	sortChannels(out)
	return out
}

// SetAll replaces the tracked generation with fresh and reports the delta.
// The replacement is atomic: the whole generation, never a merge. The store
// is saved before the diff is returned so a crash afterwards leaves only
// stale remote channels, which unwatch handles idempotently.
func (s *ChannelStore) SetAll(fresh []Channel) (ChannelDiff, error) {
	next := make(map[string]Channel, len(fresh))
	var diff ChannelDiff

	for _, ch := range fresh {
		if ch.FileID == "" {
			continue
		}
		next[ch.FileID] = ch

		prev, tracked := s.channels[ch.FileID]
		switch {
		case !tracked:
			diff.New = append(diff.New, ch)
		case prev.ID != ch.ID:
			diff.Updated = append(diff.Updated, ch)
		}
	}

	for fileID, prev := range s.channels {
		if _, ok := next[fileID]; !ok {
			diff.Deleted = append(diff.Deleted, prev)
		}
	}

	sortChannels(diff.New)
	sortChannels(diff.Updated)
	sortChannels(diff.Deleted)

	s.channels = next
	if err := s.save(); err != nil {
		return ChannelDiff{}, err
	}
	return diff, nil
}

func (s *ChannelStore) save() error {
	data, err := json.Marshal(s.channels)
	if err != nil {
		return fmt.Errorf("cache: marshalling channels cache: %w", err)
	}
	if err := s.store.Save(ChannelsKey, data); err != nil {
		return fmt.Errorf("cache: saving channels cache: %w", err)
	}
	return nil
}

func sortChannels(chs []Channel) {
	sort.Slice(chs, func(i, j int) bool { return chs[i].FileID < chs[j].FileID })
}
