// Package prsync synchronizes the pull requests of a GitHub repository into a
// local snapshot.
//
// The Syncer pages through the issue listing of a repository, sorted by the
// last update time in ascending order, starting at a watermark timestamp.
// Issues that are not pull requests are discarded. Open pull requests are
// retrieved with all details (head and base refs, combined commit status,
// issue comments), for closed pull requests the issue record is stored
// together with the merge state.
// Records are inserted into the snapshot or replace the record with the same
// pull request number.
//
// After each page the watermark advances to the latest update time of the
// page. Pages that do not advance the watermark, e.g. because the API
// returns the same records again or no records at all, move it forward by
// one hour. When this happens too many times in a row the synchronization
// fails instead of looping forever.
//
// A synchronization run is sequential, only one request to GitHub is
// outstanding at a time. The snapshot must not be accessed concurrently
// while Sync is running.
package prsync
