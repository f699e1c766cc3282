package cache

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/drivemirror/drivemirror/internal/state"
	"github.com/drivemirror/drivemirror/internal/tree"
)

// TreeKey is the state-store key for the hierarchy snapshot.
const TreeKey = "filesTree"

// LoadTree loads the persisted hierarchy snapshot. A missing or corrupted
// snapshot yields nil without error; callers skip tree maintenance until the
// next full synchronization rebuilds it.
func LoadTree(store state.Store) (*tree.Tree, error) {
	raw, err := store.Load(TreeKey)
	if err != nil {
		return nil, fmt.Errorf("cache: loading tree snapshot: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	t, err := tree.FromJSON(raw)
	if err != nil {
		log.Error().Err(err).Msg("Tree snapshot is corrupted; awaiting next full sync")
		return nil, nil
	}
	return t, nil
}

// SaveTree persists the hierarchy snapshot.
func SaveTree(store state.Store, t *tree.Tree) error {
	data, err := t.MarshalJSON()
	if err != nil {
		return fmt.Errorf("cache: marshalling tree snapshot: %w", err)
	}
	if err := store.Save(TreeKey, data); err != nil {
		return fmt.Errorf("cache: saving tree snapshot: %w", err)
	}
	return nil
}
