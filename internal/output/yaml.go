package output

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simplesurance/prsync/internal/record"
	"github.com/simplesurance/prsync/internal/snapshot"
)

type yamlDocument struct {
	Owner        string                `yaml:"owner"`
	Repository   string                `yaml:"repository"`
	Watermark    time.Time             `yaml:"watermark"`
	SyncID       string                `yaml:"sync_id,omitempty"`
	SyncedAt     time.Time             `yaml:"synced_at"`
	PullRequests []*record.PullRequest `yaml:"pull_requests"`
}

// WriteYAML writes the snapshot metadata and prs as a YAML document to w.
func WriteYAML(w io.Writer, snap *snapshot.Snapshot, prs []*record.PullRequest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	err := enc.Encode(&yamlDocument{
		Owner:        snap.Owner,
		Repository:   snap.Repository,
		Watermark:    snap.Watermark,
		SyncID:       snap.SyncID,
		SyncedAt:     snap.SyncedAt,
		PullRequests: prs,
	})
	if err != nil {
		return fmt.Errorf("encoding yaml failed: %w", err)
	}

	return enc.Close()
}
