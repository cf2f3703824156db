package logfields

import (
	"time"

	"go.uber.org/zap"
)

func Watermark(val time.Time) zap.Field {
	return zap.Time("pr_sync.watermark", val)
}

func Page(val uint) zap.Field {
	return zap.Uint("pr_sync.page", val)
}

func SnapshotFile(val string) zap.Field {
	return zap.String("snapshot_file", val)
}
