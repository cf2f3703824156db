package prsync

import (
	"time"

	"go.uber.org/zap"
)

// Stats are counters of a synchronization run.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time

	Pages      uint
	Seen       uint
	Ignored    uint
	OutOfRange uint
	Known      uint
	Open       uint
	Closed     uint
	Merged     uint
	Inserted   uint
	Replaced   uint
	NoProgress uint
}

// Upserted returns the number of records that were inserted or replaced.
func (s *Stats) Upserted() uint {
	return s.Inserted + s.Replaced
}

func (s *Stats) LogFields() []zap.Field {
	return []zap.Field{
		zap.Duration("sync_duration", s.EndTime.Sub(s.StartTime)),
		zap.Uint("pr_sync.pages", s.Pages),
		zap.Uint("pr_sync.seen", s.Seen),
		zap.Uint("pr_sync.ignored", s.Ignored),
		zap.Uint("pr_sync.out_of_range", s.OutOfRange),
		zap.Uint("pr_sync.known", s.Known),
		zap.Uint("pr_sync.open", s.Open),
		zap.Uint("pr_sync.closed", s.Closed),
		zap.Uint("pr_sync.merged", s.Merged),
		zap.Uint("pr_sync.inserted", s.Inserted),
		zap.Uint("pr_sync.replaced", s.Replaced),
		zap.Uint("pr_sync.upserted", s.Upserted()),
		zap.Uint("pr_sync.no_progress", s.NoProgress),
	}
}
