package snapshot

import (
	"go.uber.org/zap"

	"github.com/simplesurance/prsync/internal/logfields"
)

// DryStore is a Store that does not write snapshots.
// Save is simulated and always succeeds, Load is forwarded to the wrapped
// Store.
type DryStore struct {
	store  Store
	logger *zap.Logger
}

func NewDryStore(store Store) *DryStore {
	return &DryStore{
		store:  store,
		logger: zap.L().Named("dry_snapshot_store"),
	}
}

func (s *DryStore) Load(path string) (*Snapshot, error) {
	return s.store.Load(path)
}

func (s *DryStore) Save(snap *Snapshot, path string) error {
	s.logger.Info(
		"simulated saving of snapshot, file not written",
		logfields.Event("snapshot_save_simulated"),
		logfields.SnapshotFile(path),
		zap.Int("pull_requests", snap.Len()),
	)

	return nil
}
