package prsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simplesurance/prsync/internal/logfields"
	"github.com/simplesurance/prsync/internal/prsyncerr"
	"github.com/simplesurance/prsync/internal/record"
	"github.com/simplesurance/prsync/internal/snapshot"
)

const loggerName = "pr_sync"

const (
	// MaxPageSize is the maximum number of issues GitHub returns per page.
	MaxPageSize = 100
	// DefaultMaxNoProgress is the number of consecutive pages that do not
	// advance the watermark after which a synchronization fails.
	DefaultMaxNoProgress = 24

	noProgressStep = time.Hour
)

// epochStart is the watermark of a synchronization without a start time.
var epochStart = time.Date(1970, 1, 1, 0, 0, 1, 0, time.UTC)

//go:generate mockgen -destination=mocks/mock_githubclient.go -package=mocks . GithubClient

// GithubClient is the remote listing client used by the Syncer.
type GithubClient interface {
	ListIssues(ctx context.Context, owner, repo string, since time.Time, perPage int) ([]*record.Issue, error)
	HighestPullRequestNumber(ctx context.Context, owner, repo string) (int, error)
	PullRequest(ctx context.Context, owner, repo string, number int) (*record.PullRequest, error)
	MergeInfo(ctx context.Context, owner, repo string, number int) (*record.MergeInfo, error)
}

// Retryer is an interface used for running GithubClient methods repeatedly if
// they fail with a temporary error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}

// classification is the result of processing an issue record.
type classification string

const (
	classIgnored    classification = "ignored"
	classOutOfRange classification = "out-of-range"
	classKnown      classification = "known"
	classOpen       classification = "open"
	classClosed     classification = "closed"
	classMerged     classification = "merged"
)

// Params are the parameters of a synchronization run.
type Params struct {
	Owner      string
	Repository string

	// Range restricts the synchronization to pull requests with numbers
	// in the range. It can not be combined with Since.
	Range *record.Range
	// Since is a date in the format YYYY-MM-DD, only pull requests that
	// were updated after the end of the day are synchronized.
	// It can not be combined with Range.
	Since string
	// Update enables refreshing pull requests that already exist in the
	// snapshot.
	Update bool
	// PageSize is the number of issues requested per page. 0 or values
	// bigger than MaxPageSize are interpreted as MaxPageSize.
	PageSize int
}

func (p *Params) validate() (since time.Time, pageSize int, err error) {
	if p.Owner == "" {
		return time.Time{}, 0, prsyncerr.NewInputError("repository owner", "", "must not be empty")
	}

	if p.Repository == "" {
		return time.Time{}, 0, prsyncerr.NewInputError("repository", "", "must not be empty")
	}

	if p.Range != nil && p.Since != "" {
		return time.Time{}, 0, prsyncerr.NewInputError("range", p.Range.String(), "range and since are mutually exclusive")
	}

	if p.Range != nil {
		if err := p.Range.Validate(); err != nil {
			return time.Time{}, 0, err
		}
	}

	if p.Since != "" {
		since, err = record.ParseSince(p.Since)
		if err != nil {
			return time.Time{}, 0, err
		}
	}

	switch {
	case p.PageSize < 0:
		return time.Time{}, 0, prsyncerr.NewInputError("page size", fmt.Sprint(p.PageSize), "must not be negative")
	case p.PageSize == 0 || p.PageSize > MaxPageSize:
		pageSize = MaxPageSize
	default:
		pageSize = p.PageSize
	}

	return since, pageSize, nil
}

// Result is the outcome of a synchronization run.
type Result struct {
	Snapshot *snapshot.Snapshot
	Stats    Stats
	// Cached is true when the snapshot was returned without querying
	// GitHub.
	Cached bool
}

// Syncer synchronizes pull requests of a GitHub repository into a snapshot.
type Syncer struct {
	clt     GithubClient
	retryer Retryer
	logger  *zap.Logger
	metrics *Metrics

	maxNoProgress  int
	noProgressStep time.Duration
	now            func() time.Time
}

type Option func(*Syncer)

// WithMetrics records metrics of synchronization runs in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// WithMaxNoProgress sets the number of consecutive pages that do not advance
// the watermark after which a synchronization fails.
func WithMaxNoProgress(n int) Option {
	return func(s *Syncer) {
		s.maxNoProgress = n
	}
}

func NewSyncer(clt GithubClient, retryer Retryer, opts ...Option) *Syncer {
	s := Syncer{
		clt:            clt,
		retryer:        retryer,
		logger:         zap.L().Named(loggerName),
		maxNoProgress:  DefaultMaxNoProgress,
		noProgressStep: noProgressStep,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(&s)
	}

	return &s
}

// run is the state of a single synchronization.
type run struct {
	*Syncer

	params  *Params
	snap    *snapshot.Snapshot
	logger  *zap.Logger
	stats   *Stats
	repoLbl string

	// visited contains the update time of pull requests that were
	// retrieved during the run, it prevents fetching a pull request
	// multiple times when pages overlap.
	visited map[int]time.Time
	// listed contains the update time of every issue that was returned
	// by the issue listing during the run.
	listed map[int]time.Time
}

// Sync synchronizes the pull requests described by params into snap.
// If snap is nil, a new snapshot is created.
//
// If snap contains pull requests, params.Update is false and no range is
// specified, snap is returned unchanged without querying GitHub.
//
// Invalid params cause a prsyncerr.InputError to be returned before GitHub is
// queried.
// When the context is cancelled or an error happens, the snapshot
// containing the changes done so far is returned together with the error.
// The snapshot is consistent, it can be persisted after a cancellation.
//
// A run ends on a page of the issue listing that is not full. Runs for a
// range therefore list all issues updated after the creation of the first
// pull request of the range up to the present.
func (s *Syncer) Sync(ctx context.Context, snap *snapshot.Snapshot, params *Params) (*Result, error) {
	since, pageSize, err := params.validate()
	if err != nil {
		return nil, err
	}

	if snap == nil {
		snap = snapshot.New(params.Owner, params.Repository)
	}

	syncID := uuid.NewString()
	logger := s.logger.With(
		logfields.RepositoryOwner(params.Owner),
		logfields.Repository(params.Repository),
		logfields.SyncID(syncID),
	)

	if snap.Len() > 0 && !params.Update && params.Range == nil {
		logger.Info(
			"snapshot exists and update was not requested, skipping synchronization",
			logEventSyncSkipped,
			zap.Int("pull_requests", snap.Len()),
			logfields.Watermark(snap.Watermark),
		)

		return &Result{Snapshot: snap, Cached: true}, nil
	}

	r := run{
		Syncer:  s,
		params:  params,
		snap:    snap,
		logger:  logger,
		stats:   &Stats{StartTime: s.now()},
		repoLbl: repoLabelVal(params.Owner, params.Repository),
		visited: map[int]time.Time{},
		listed:  map[int]time.Time{},
	}

	logger.Info(
		"starting synchronization",
		logEventSyncStarted,
		zap.Stringer("range", params.Range),
		zap.Time("since", since),
		zap.Bool("update", params.Update),
		zap.Int("page_size", pageSize),
		zap.Int("known_pull_requests", snap.Len()),
	)

	err = r.sync(ctx, since, pageSize)
	r.stats.EndTime = s.now()

	result := Result{Snapshot: snap, Stats: *r.stats}

	if err == nil || errors.Is(err, context.Canceled) {
		snap.SyncID = syncID
		snap.SyncedAt = r.stats.EndTime
	}

	s.metrics.runFinished(r.repoLbl, &result, err == nil)

	if err != nil {
		logger.Error(
			"synchronization failed",
			append(r.stats.LogFields(), logEventSyncFailed, zap.Error(err))...,
		)

		return &result, err
	}

	logger.Info(
		"synchronization finished",
		append(r.stats.LogFields(),
			logEventSyncFinished,
			logfields.Watermark(snap.Watermark),
			zap.Int("pull_requests", snap.Len()),
		)...,
	)

	return &result, nil
}

func (r *run) sync(ctx context.Context, since time.Time, pageSize int) error {
	maxNumber, err := r.highestNumber(ctx)
	if err != nil {
		return err
	}

	if maxNumber == 0 || (r.params.Range != nil && r.params.Range.Low > maxNumber) {
		r.logger.Info(
			"no pull requests to synchronize",
			zap.Int("highest_pull_request_number", maxNumber),
		)

		return nil
	}

	watermark, err := r.initialWatermark(ctx, since)
	if err != nil {
		return err
	}

	lastNumber := 0
	if r.params.Range != nil {
		lastNumber = r.params.Range.Low - 1
	}

	var noProgressCnt int

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.stats.Pages++

		issues, err := r.fetchPage(ctx, watermark, pageSize)
		if err != nil {
			return fmt.Errorf("fetching issues updated since %s failed: %w", watermark, err)
		}

		r.metrics.pageFetched(r.repoLbl)

		r.logger.Info(
			"processing page",
			logEventPageFetched,
			logfields.Page(r.stats.Pages),
			logfields.Watermark(watermark),
			zap.Int("issues", len(issues)),
			zap.Int("last_issue_number", lastNumber),
			zap.Int("max_pull_request_number", maxNumber),
		)

		pageWatermark := watermark
		var fresh int
		for _, issue := range issues {
			if err := ctx.Err(); err != nil {
				return err
			}

			if updatedAt, listed := r.listed[issue.Number]; !listed || issue.UpdatedAt.After(updatedAt) {
				fresh++
				r.listed[issue.Number] = issue.UpdatedAt
			}

			if err := r.process(ctx, issue); err != nil {
				return err
			}

			if issue.Number > lastNumber {
				lastNumber = issue.Number
			}

			if issue.UpdatedAt.After(pageWatermark) {
				pageWatermark = issue.UpdatedAt
			}
		}

		progressed := pageWatermark.After(watermark)
		if progressed {
			watermark = pageWatermark
			noProgressCnt = 0
			r.snap.AdvanceWatermark(watermark)
		}

		// A page that is not full contains the last issues updated since
		// the watermark. The run is complete when the highest pull request
		// number was seen, the watermark passed the start of the run or
		// the listing is drained.
		if len(issues) < pageSize && (lastNumber >= maxNumber ||
			watermark.After(r.stats.StartTime) ||
			r.drained(issues, fresh, since)) {
			return nil
		}

		if progressed {
			continue
		}

		noProgressCnt++
		r.stats.NoProgress++
		r.metrics.noProgressPage(r.repoLbl)

		if noProgressCnt > r.maxNoProgress {
			return fmt.Errorf("%w: watermark %s did not advance on %d consecutive pages",
				prsyncerr.ErrNoProgress, watermark, noProgressCnt)
		}

		next := watermark.Add(r.noProgressStep)
		r.logger.Warn(
			"page did not advance the watermark, moving it forward",
			logEventNoProgress,
			logfields.Watermark(watermark),
			zap.Time("new_watermark", next),
			zap.Int("no_progress_count", noProgressCnt),
		)

		watermark = next
	}
}

// drained returns true if a page that is not full contains no issue that
// was not already listed during the run. The highest pull request might not
// have been updated since the watermark, it is then never listed.
// An empty page only drains the listing when an explicit since time was
// specified, otherwise the watermark is moved forward.
func (r *run) drained(issues []*record.Issue, fresh int, since time.Time) bool {
	if fresh > 0 {
		return false
	}

	if len(issues) > 0 {
		r.logger.Info(
			"page only contains already listed issues, listing is drained",
			logEventListingDrained,
			zap.Int("issues", len(issues)),
		)

		return true
	}

	return !since.IsZero()
}

// highestNumber returns the highest pull request number that has to be
// synchronized.
func (r *run) highestNumber(ctx context.Context) (int, error) {
	var highest int

	err := r.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		highest, err = r.clt.HighestPullRequestNumber(ctx, r.params.Owner, r.params.Repository)
		return err
	}, []zap.Field{logfields.Event("github_highest_pull_request_number")})
	if err != nil {
		return 0, fmt.Errorf("retrieving highest pull request number failed: %w", err)
	}

	if r.params.Range != nil && r.params.Range.High < highest {
		return r.params.Range.High, nil
	}

	return highest, nil
}

// initialWatermark returns the explicitly specified since time, the
// creation time of the first pull request of the range or the epoch start.
func (r *run) initialWatermark(ctx context.Context, since time.Time) (time.Time, error) {
	if !since.IsZero() {
		return since, nil
	}

	if r.params.Range == nil {
		return epochStart, nil
	}

	pr, err := r.clt.PullRequest(ctx, r.params.Owner, r.params.Repository, r.params.Range.Low)
	if err != nil {
		return time.Time{}, fmt.Errorf("retrieving creation time of pull request #%d failed: %w", r.params.Range.Low, err)
	}

	return pr.CreatedAt, nil
}

func (r *run) fetchPage(ctx context.Context, since time.Time, pageSize int) ([]*record.Issue, error) {
	var issues []*record.Issue

	err := r.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		issues, err = r.clt.ListIssues(ctx, r.params.Owner, r.params.Repository, since, pageSize)
		return err
	}, []zap.Field{logfields.Event("github_list_issues"), logfields.Watermark(since)})

	return issues, err
}

func (r *run) skip(issue *record.Issue, logger *zap.Logger, tag classification, msg string) {
	switch tag {
	case classIgnored:
		r.stats.Ignored++
		logger.Debug(msg, logEventIssueIgnored, logFieldTag(tag))
	case classOutOfRange:
		r.stats.OutOfRange++
		logger.Debug(msg, logEventPRSkipped, logFieldTag(tag))
	default:
		r.stats.Known++
		logger.Debug(msg, logEventPRSkipped, logFieldTag(tag), zap.Time("github.pull_request_updated_at", issue.UpdatedAt))
	}

	r.metrics.recordProcessed(r.repoLbl, tag)
}

// isCurrent returns true if the pull request does not need to be retrieved.
func (r *run) isCurrent(issue *record.Issue) bool {
	if updatedAt, visited := r.visited[issue.Number]; visited && !issue.UpdatedAt.After(updatedAt) {
		return true
	}

	if r.params.Update {
		return false
	}

	cached := r.snap.Get(issue.Number)
	if cached == nil {
		return false
	}

	// pull requests of an explicitly requested range are refreshed when
	// they changed
	return r.params.Range == nil || !issue.UpdatedAt.After(cached.UpdatedAt)
}

func (r *run) process(ctx context.Context, issue *record.Issue) error {
	logger := r.logger.With(logfields.PullRequest(issue.Number))

	r.stats.Seen++

	if !issue.IsPullRequest {
		r.skip(issue, logger, classIgnored, "issue is not a pull request, ignoring it")
		return nil
	}

	if !r.params.Range.Contains(issue.Number) {
		r.skip(issue, logger, classOutOfRange, "pull request is out of range, skipping it")
		return nil
	}

	if r.isCurrent(issue) {
		r.skip(issue, logger, classKnown, "pull request is known, skipping it")
		return nil
	}

	var pr *record.PullRequest
	var tag classification

	switch issue.State {
	case record.StateOpen:
		var err error
		pr, err = r.clt.PullRequest(ctx, r.params.Owner, r.params.Repository, issue.Number)
		if err != nil {
			return fmt.Errorf("retrieving pull request #%d failed: %w", issue.Number, err)
		}

		if pr.Number != issue.Number {
			return fmt.Errorf("%w: retrieving pull request #%d returned pull request #%d",
				prsyncerr.ErrInconsistentSnapshot, issue.Number, pr.Number)
		}

		r.stats.Open++
		tag = classOpen

	case record.StateClosed:
		mi, err := r.clt.MergeInfo(ctx, r.params.Owner, r.params.Repository, issue.Number)
		if err != nil {
			return fmt.Errorf("retrieving merge state of pull request #%d failed: %w", issue.Number, err)
		}

		pr = issue.ToPullRequest()
		pr.IsMerged = &mi.Merged
		r.stats.Closed++
		tag = classClosed

		if mi.Merged {
			pr.MergedBy = mi.MergedBy
			r.stats.Merged++
			tag = classMerged
		}

	default:
		return fmt.Errorf("pull request #%d has unsupported state %q", issue.Number, issue.State)
	}

	replaced, err := r.snap.Upsert(pr)
	if err != nil {
		return fmt.Errorf("storing pull request #%d failed: %w", issue.Number, err)
	}

	if replaced {
		r.stats.Replaced++
	} else {
		r.stats.Inserted++
	}

	r.visited[issue.Number] = issue.UpdatedAt
	r.metrics.recordProcessed(r.repoLbl, tag)

	r.logger.Info(
		"pull request synchronized",
		append(pr.LogFields(),
			logEventPRProcessed,
			logFieldTag(tag),
			zap.Bool("replaced", replaced),
			zap.String("github.combined_status", string(pr.CombinedStatus)),
		)...,
	)

	return nil
}
