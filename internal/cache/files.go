// Package cache persists the known-files map and the active
// push-notification channels between synchronization sessions. Loads are
// defensive: a corrupted payload degrades to an empty cache that self-heals
// from the remote API, never to a crash.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/gdrive"
	"github.com/drivemirror/drivemirror/internal/state"
)

// FilesKey is the state-store key for the files cache.
const FilesKey = "filesCache"

// FileCache is the persisted map of known records keyed by file id. One
// synchronization session owns the cache at a time: load, mutate, save.
type FileCache struct {
	store   state.Store
	records map[string]*gdrive.Record
}

// NewFiles returns an empty cache bound to the store. Full
// synchronizations start from one so the saved generation is a complete
// replacement, never a merge with stale entries.
func NewFiles(store state.Store) *FileCache {
	return &FileCache{store: store, records: make(map[string]*gdrive.Record)}
}

// LoadFiles loads the files cache from the store. Malformed or
// schema-invalid payloads are logged and replaced with an empty cache.
func LoadFiles(store state.Store) (*FileCache, error) {
	raw, err := store.Load(FilesKey)
	if err != nil {
		return nil, fmt.Errorf("cache: loading files cache: %w", err)
	}

	c := &FileCache{store: store, records: make(map[string]*gdrive.Record)}
	if len(raw) == 0 {
		return c, nil
	}

	var decoded map[string]*gdrive.Record
	if err := json.Unmarshal(raw, &decoded); err != nil {
		log.Error().Err(err).Msg("Files cache is corrupted; starting fresh")
		return c, nil
	}
	if err := validateRecords(decoded); err != nil {
		log.Error().Err(err).Msg("Files cache failed validation; starting fresh")
		return c, nil
	}

	c.records = decoded
	return c, nil
}

func validateRecords(records map[string]*gdrive.Record) error {
	for id, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
		if rec.ID != id {
			return fmt.Errorf("record %s stored under key %s", rec.ID, id)
		}
	}
	return nil
}

// Save commits the cache to the store.
func (c *FileCache) Save() error {
	data, err := json.Marshal(c.records)
	if err != nil {
		return fmt.Errorf("cache: marshalling files cache: %w", err)
	}
	if err := c.store.Save(FilesKey, data); err != nil {
		return fmt.Errorf("cache: saving files cache: %w", err)
	}
	return nil
}

// Find returns the record for id, or nil when unknown.
func (c *FileCache) Find(id string) *gdrive.Record {
	rec, ok := c.records[id]
	if !ok {
		return nil
	}
	out := *rec
	return &out
}

// Set stores a record, replacing any previous one with the same id.
func (c *FileCache) Set(rec *gdrive.Record) {
	if rec == nil || rec.ID == "" {
		return
	}
	stored := *rec
	c.records[rec.ID] = &stored
}

// Remove deletes a record by id. Removing an absent id is a no-op.
func (c *FileCache) Remove(id string) {
	delete(c.records, id)
}

// All returns every record matching the predicate; a nil predicate matches
// everything.
func (c *FileCache) All(pred func(*gdrive.Record) bool) []*gdrive.Record {
	out := make([]*gdrive.Record, 0, len(c.records))
	for _, rec := range c.records {
		if pred != nil && !pred(rec) {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	return out
}

// Len returns the number of cached records.
func (c *FileCache) Len() int {
	return len(c.records)
}
