// Package snapshot provides the local cache of pull request records of a
// repository and its persistence.
package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/simplesurance/prsync/internal/prsyncerr"
	"github.com/simplesurance/prsync/internal/record"
)

// Snapshot is the set of pull request records of a repository, keyed by
// their number.
// Records are kept in insertion order, an index maps pull request numbers to
// their position.
// The zero value is not usable, use New.
type Snapshot struct {
	Owner      string
	Repository string

	// Watermark is the latest update time up to which all pull requests
	// were processed. It never moves backwards.
	Watermark time.Time
	// SyncID identifies the synchronization run that last modified the
	// snapshot.
	SyncID   string
	SyncedAt time.Time

	records []*record.PullRequest
	index   map[int]int
}

func New(owner, repository string) *Snapshot {
	return &Snapshot{
		Owner:      owner,
		Repository: repository,
		index:      map[int]int{},
	}
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Contains returns true if a record for the pull request number exists.
func (s *Snapshot) Contains(nr int) bool {
	_, exists := s.index[nr]
	return exists
}

// Get returns the record for the pull request number.
// If it does not exist nil is returned.
func (s *Snapshot) Get(nr int) *record.PullRequest {
	pos, exists := s.index[nr]
	if !exists {
		return nil
	}

	return s.records[pos]
}

// Upsert replaces the record with the same number or appends pr if none
// exists.
// If the index references a position that does not hold the record with the
// same number, an error wrapping prsyncerr.ErrInconsistentSnapshot is
// returned and the snapshot is not modified.
func (s *Snapshot) Upsert(pr *record.PullRequest) (replaced bool, err error) {
	if pr == nil {
		return false, fmt.Errorf("can not upsert nil record")
	}

	pos, exists := s.index[pr.Number]
	if !exists {
		s.index[pr.Number] = len(s.records)
		s.records = append(s.records, pr)

		return false, nil
	}

	if pos < 0 || pos >= len(s.records) {
		return false, fmt.Errorf("%w: index position %d of pull request #%d is out of bounds (records: %d)",
			prsyncerr.ErrInconsistentSnapshot, pos, pr.Number, len(s.records))
	}

	if existing := s.records[pos]; existing == nil || existing.Number != pr.Number {
		return false, fmt.Errorf("%w: index position %d of pull request #%d does not contain its record",
			prsyncerr.ErrInconsistentSnapshot, pos, pr.Number)
	}

	s.records[pos] = pr

	return true, nil
}

// AdvanceWatermark sets the watermark to t if it is after the current
// watermark.
// It returns true if the watermark changed.
func (s *Snapshot) AdvanceWatermark(t time.Time) bool {
	if !t.After(s.Watermark) {
		return false
	}

	s.Watermark = t

	return true
}

// Foreach iterates through the records in insertion order.
// When fn returns false the iteration is aborted.
func (s *Snapshot) Foreach(fn func(*record.PullRequest) bool) {
	for _, pr := range s.records {
		if !fn(pr) {
			return
		}
	}
}

// Records returns a new slice containing the records in insertion order.
func (s *Snapshot) Records() []*record.PullRequest {
	result := make([]*record.PullRequest, len(s.records))
	copy(result, s.records)

	return result
}

// SortedByNumber returns a new slice containing the records ordered by
// ascending pull request number.
func (s *Snapshot) SortedByNumber() []*record.PullRequest {
	result := s.Records()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})

	return result
}

// Numbers returns the pull request numbers in ascending order.
func (s *Snapshot) Numbers() []int {
	result := make([]int, 0, len(s.index))
	for nr := range s.index {
		result = append(result, nr)
	}

	sort.Ints(result)

	return result
}
