package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func SyncID(val string) zap.Field {
	return zap.String("sync_id", val)
}
