package prsync

import (
	"go.uber.org/zap"

	"github.com/simplesurance/prsync/internal/logfields"
)

var (
	logEventSyncStarted    = logfields.Event("sync_started")
	logEventSyncFinished   = logfields.Event("sync_finished")
	logEventSyncFailed     = logfields.Event("sync_failed")
	logEventSyncSkipped    = logfields.Event("sync_skipped")
	logEventPageFetched    = logfields.Event("page_fetched")
	logEventNoProgress     = logfields.Event("no_progress")
	logEventListingDrained = logfields.Event("listing_drained")
	logEventPRProcessed    = logfields.Event("pull_request_processed")
	logEventPRSkipped      = logfields.Event("pull_request_skipped")
	logEventIssueIgnored   = logfields.Event("issue_ignored")
)

func logFieldTag(tag classification) zap.Field {
	return zap.String("tag", string(tag))
}
