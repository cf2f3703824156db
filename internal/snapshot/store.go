package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/simplesurance/prsync/internal/logfields"
	"github.com/simplesurance/prsync/internal/prsyncerr"
	"github.com/simplesurance/prsync/internal/record"
)

const loggerName = "snapshot_store"

const fileFormatVersion = 1

const filePerms = 0o644

// FileName returns the name of the snapshot file of a repository.
func FileName(repository string) string {
	return repository + "_prs.dat"
}

// Store loads and persists snapshots.
type Store interface {
	Load(path string) (*Snapshot, error)
	Save(snap *Snapshot, path string) error
}

// fileData is the serialization format of a Snapshot.
type fileData struct {
	Version      int                   `json:"version"`
	Owner        string                `json:"owner"`
	Repository   string                `json:"repository"`
	Watermark    time.Time             `json:"watermark"`
	SyncID       string                `json:"sync_id,omitempty"`
	SyncedAt     time.Time             `json:"synced_at"`
	PullRequests []*record.PullRequest `json:"pull_requests"`
}

// FileStore stores a snapshot as zstd compressed JSON document in a single
// file.
type FileStore struct {
	logger *zap.Logger
}

func NewFileStore() *FileStore {
	return &FileStore{logger: zap.L().Named(loggerName)}
}

// Load reads a snapshot from path.
// If the file does not exist an error wrapping os.ErrNotExist is returned.
// If the file can not be decoded an error wrapping
// prsyncerr.ErrCorruptSnapshot is returned.
func (s *FileStore) Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file failed: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: creating zstd reader failed: %w", prsyncerr.ErrCorruptSnapshot, err)
	}
	defer dec.Close()

	var data fileData
	if err := json.NewDecoder(dec).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: decoding %s failed: %w", prsyncerr.ErrCorruptSnapshot, path, err)
	}

	snap, err := fromFileData(&data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", prsyncerr.ErrCorruptSnapshot, path, err)
	}

	s.logger.Debug(
		"snapshot loaded",
		logfields.Event("snapshot_loaded"),
		logfields.SnapshotFile(path),
		logfields.Watermark(snap.Watermark),
		zap.Int("pull_requests", snap.Len()),
	)

	return snap, nil
}

func fromFileData(data *fileData) (*Snapshot, error) {
	if data.Version != fileFormatVersion {
		return nil, fmt.Errorf("unsupported file format version %d, expected %d", data.Version, fileFormatVersion)
	}

	snap := New(data.Owner, data.Repository)
	snap.Watermark = data.Watermark
	snap.SyncID = data.SyncID
	snap.SyncedAt = data.SyncedAt

	for i, pr := range data.PullRequests {
		if pr == nil {
			return nil, fmt.Errorf("record %d is null", i)
		}

		if err := pr.Validate(); err != nil {
			return nil, fmt.Errorf("record %d (#%d) is invalid: %w", i, pr.Number, err)
		}

		if snap.Contains(pr.Number) {
			return nil, fmt.Errorf("pull request #%d is stored multiple times", pr.Number)
		}

		if _, err := snap.Upsert(pr); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

// Save writes the snapshot to path.
// The data is written to a temporary file in the same directory that is
// renamed to path, an existing file is never left partially written.
func (s *FileStore) Save(snap *Snapshot, path string) (err error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file failed: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tmpFile.Close()
			if rmErr := os.Remove(tmpFile.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				s.logger.Warn(
					"removing temporary snapshot file failed",
					logfields.Event("snapshot_tmpfile_removal_failed"),
					zap.String("path", tmpFile.Name()),
					zap.Error(rmErr),
				)
			}
		}
	}()

	enc, err := zstd.NewWriter(tmpFile)
	if err != nil {
		return fmt.Errorf("creating zstd writer failed: %w", err)
	}

	if err := json.NewEncoder(enc).Encode(toFileData(snap)); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encoding snapshot failed: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("flushing compressed snapshot failed: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing temporary file failed: %w", err)
	}

	if err := tmpFile.Chmod(filePerms); err != nil {
		return fmt.Errorf("setting file permissions failed: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temporary file failed: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), path); err != nil {
		return fmt.Errorf("renaming temporary file to %s failed: %w", path, err)
	}

	s.logger.Debug(
		"snapshot saved",
		logfields.Event("snapshot_saved"),
		logfields.SnapshotFile(path),
		logfields.Watermark(snap.Watermark),
		zap.Int("pull_requests", snap.Len()),
	)

	return nil
}

func toFileData(snap *Snapshot) *fileData {
	return &fileData{
		Version:      fileFormatVersion,
		Owner:        snap.Owner,
		Repository:   snap.Repository,
		Watermark:    snap.Watermark,
		SyncID:       snap.SyncID,
		SyncedAt:     snap.SyncedAt,
		PullRequests: snap.SortedByNumber(),
	}
}
