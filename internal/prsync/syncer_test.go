package prsync

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/prsync/internal/prsync/mocks"
	"github.com/simplesurance/prsync/internal/prsyncerr"
	"github.com/simplesurance/prsync/internal/record"
	"github.com/simplesurance/prsync/internal/retryer"
	"github.com/simplesurance/prsync/internal/snapshot"
)

const (
	repoOwner = "easybuilders"
	repo      = "easybuild-easyconfigs"
)

var baseTime = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// fakeRepo is an in-memory GitHub repository, its methods are used as
// DoAndReturn functions of MockGithubClient calls.
type fakeRepo struct {
	issues map[int]*record.Issue
	// mergedBy contains the login of the user that merged a pull request.
	// Closed pull requests without an entry are not merged.
	mergedBy map[int]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		issues:   map[int]*record.Issue{},
		mergedBy: map[int]string{},
	}
}

func (f *fakeRepo) add(nr int, state record.State, isPR bool, updatedAfter time.Duration) *record.Issue {
	issue := record.Issue{
		Number:        nr,
		State:         state,
		CreatedAt:     baseTime.Add(time.Duration(nr) * time.Minute),
		Title:         "issue",
		User:          "alice",
		IsPullRequest: isPR,
	}
	issue.UpdatedAt = issue.CreatedAt.Add(updatedAfter)

	if state == record.StateClosed {
		closedAt := issue.UpdatedAt
		issue.ClosedAt = &closedAt
	}

	f.issues[nr] = &issue

	return &issue
}

func (f *fakeRepo) listIssues(_ context.Context, _, _ string, since time.Time, perPage int) ([]*record.Issue, error) {
	var result []*record.Issue

	for _, issue := range f.issues {
		if issue.UpdatedAt.Before(since) {
			continue
		}

		cpy := *issue
		result = append(result, &cpy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].Number < result[j].Number
		}
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	if len(result) > perPage {
		result = result[:perPage]
	}

	return result, nil
}

func (f *fakeRepo) highestPullRequestNumber(context.Context, string, string) (int, error) {
	var highest int

	for nr, issue := range f.issues {
		if issue.IsPullRequest && nr > highest {
			highest = nr
		}
	}

	return highest, nil
}

func (f *fakeRepo) pullRequest(_ context.Context, _, _ string, nr int) (*record.PullRequest, error) {
	issue, exists := f.issues[nr]
	if !exists || !issue.IsPullRequest {
		return nil, prsyncerr.NewInputError("pull request number", "", "not found")
	}

	pr := issue.ToPullRequest()
	pr.Head = &record.Ref{Ref: "feature", SHA: "deadbeef"}
	pr.Base = &record.Ref{Ref: "develop", SHA: "cafe"}
	pr.CombinedStatus = record.CIStatusSuccess
	pr.IssueComments = []record.Comment{{Author: "boegel", Body: "Test report: SUCCESS"}}

	return pr, nil
}

func (f *fakeRepo) mergeInfo(_ context.Context, _, _ string, nr int) (*record.MergeInfo, error) {
	mergedBy, merged := f.mergedBy[nr]
	return &record.MergeInfo{Merged: merged, MergedBy: mergedBy}, nil
}

// mockRemote configures clt to answer all calls from repo.
func mockRemote(clt *mocks.MockGithubClient, repo *fakeRepo) {
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(repo.listIssues).AnyTimes()
	clt.EXPECT().HighestPullRequestNumber(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(repo.highestPullRequestNumber).AnyTimes()
	clt.EXPECT().PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(repo.pullRequest).AnyTimes()
	clt.EXPECT().MergeInfo(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(repo.mergeInfo).AnyTimes()
}

func newTestSyncer(t *testing.T, clt GithubClient, opts ...Option) *Syncer {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	return NewSyncer(
		clt,
		retryer.New(retryer.WithInitialInterval(time.Millisecond), retryer.WithMaxInterval(time.Millisecond)),
		opts...,
	)
}

func newTestFakeRepo() *fakeRepo {
	remote := newFakeRepo()
	remote.add(1, record.StateOpen, true, time.Hour)
	remote.add(2, record.StateClosed, true, 2*time.Hour)
	remote.add(3, record.StateOpen, false, 3*time.Hour)
	remote.add(4, record.StateClosed, true, 4*time.Hour)
	remote.add(5, record.StateOpen, true, 5*time.Hour)
	remote.mergedBy[4] = "boegel"

	return remote
}

func TestSyncEmptySnapshot(t *testing.T) {
	remote := newTestFakeRepo()

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)

	res, err := syncer.Sync(context.Background(), nil, &Params{
		Owner:      repoOwner,
		Repository: repo,
		PageSize:   2,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)

	snap := res.Snapshot
	assert.False(t, res.Cached)
	assert.Equal(t, []int{1, 2, 4, 5}, snap.Numbers())
	assert.False(t, snap.Contains(3), "issue is stored in snapshot")
	assert.Equal(t, remote.issues[5].UpdatedAt, snap.Watermark)
	assert.NotEmpty(t, snap.SyncID)
	assert.False(t, snap.SyncedAt.IsZero())

	open := snap.Get(1)
	require.NotNil(t, open)
	assert.Equal(t, record.CIStatusSuccess, open.CombinedStatus)
	assert.Equal(t, "feature", open.Head.Ref)
	assert.Len(t, open.IssueComments, 1)
	assert.Nil(t, open.IsMerged)

	closed := snap.Get(2)
	require.NotNil(t, closed)
	require.NotNil(t, closed.IsMerged)
	assert.False(t, *closed.IsMerged)
	assert.Equal(t, record.CIStatusUnknown, closed.CombinedStatus)

	merged := snap.Get(4)
	require.NotNil(t, merged)
	assert.True(t, merged.Merged())
	assert.Equal(t, "boegel", merged.MergedBy)

	assert.EqualValues(t, 4, res.Stats.Inserted)
	assert.EqualValues(t, 0, res.Stats.Replaced)
	assert.EqualValues(t, 2, res.Stats.Open)
	assert.EqualValues(t, 2, res.Stats.Closed)
	assert.EqualValues(t, 1, res.Stats.Merged)
	assert.NotZero(t, res.Stats.Ignored)
	assert.Zero(t, res.Stats.NoProgress)
}

func TestSyncFetchesEachPullRequestOnce(t *testing.T) {
	remote := newTestFakeRepo()

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(remote.listIssues).AnyTimes()
	clt.EXPECT().HighestPullRequestNumber(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(remote.highestPullRequestNumber).Times(1)
	clt.EXPECT().PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(1)).
		DoAndReturn(remote.pullRequest).Times(1)
	clt.EXPECT().PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(5)).
		DoAndReturn(remote.pullRequest).Times(1)
	clt.EXPECT().MergeInfo(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(2)).
		DoAndReturn(remote.mergeInfo).Times(1)
	clt.EXPECT().MergeInfo(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(4)).
		DoAndReturn(remote.mergeInfo).Times(1)

	syncer := newTestSyncer(t, clt)

	// overlapping pages return already processed records again
	_, err := syncer.Sync(context.Background(), nil, &Params{
		Owner:      repoOwner,
		Repository: repo,
		PageSize:   2,
	})
	require.NoError(t, err)
}

func TestSyncIsIdempotent(t *testing.T) {
	remote := newTestFakeRepo()

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)
	params := Params{
		Owner:      repoOwner,
		Repository: repo,
		Update:     true,
		PageSize:   3,
	}

	res1, err := syncer.Sync(context.Background(), nil, &params)
	require.NoError(t, err)
	first := res1.Snapshot.SortedByNumber()
	firstWatermark := res1.Snapshot.Watermark

	res2, err := syncer.Sync(context.Background(), res1.Snapshot, &params)
	require.NoError(t, err)

	assert.Equal(t, first, res2.Snapshot.SortedByNumber())
	assert.Equal(t, firstWatermark, res2.Snapshot.Watermark)
	assert.Zero(t, res2.Stats.Inserted)
	assert.EqualValues(t, 4, res2.Stats.Replaced)
}

func TestSyncDoesNotDuplicateRecords(t *testing.T) {
	remote := newFakeRepo()
	for i := 1; i <= 10; i++ {
		remote.add(i, record.StateOpen, true, time.Hour)
	}

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)
	params := Params{
		Owner:      repoOwner,
		Repository: repo,
		Update:     true,
		PageSize:   4,
	}

	res, err := syncer.Sync(context.Background(), nil, &params)
	require.NoError(t, err)
	require.Equal(t, 10, res.Snapshot.Len())

	// the pull requests are updated after the first sync
	for i := 1; i <= 10; i += 3 {
		remote.issues[i].UpdatedAt = remote.issues[i].UpdatedAt.Add(24 * time.Hour)
	}

	res, err = syncer.Sync(context.Background(), res.Snapshot, &params)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Snapshot.Len())
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, res.Snapshot.Numbers())
	assert.Equal(t, remote.issues[10].UpdatedAt, res.Snapshot.Watermark)
}

func TestSyncWatermarkIsMonotonic(t *testing.T) {
	remote := newFakeRepo()
	for i := 1; i <= 9; i++ {
		remote.add(i, record.StateOpen, i%3 != 0, time.Duration(i)*time.Hour)
	}

	var sinceArgs []time.Time
	listIssues := func(ctx context.Context, owner, repo string, since time.Time, perPage int) ([]*record.Issue, error) {
		sinceArgs = append(sinceArgs, since)
		return remote.listIssues(ctx, owner, repo, since, perPage)
	}

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(listIssues).AnyTimes()
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)

	res, err := syncer.Sync(context.Background(), nil, &Params{
		Owner:      repoOwner,
		Repository: repo,
		PageSize:   2,
	})
	require.NoError(t, err)

	require.Greater(t, len(sinceArgs), 1)
	assert.Equal(t, epochStart, sinceArgs[0])
	for i := 1; i < len(sinceArgs); i++ {
		assert.False(t, sinceArgs[i].Before(sinceArgs[i-1]),
			"watermark of page %d (%s) is before watermark of page %d (%s)", i, sinceArgs[i], i-1, sinceArgs[i-1])
	}

	assert.Equal(t, remote.issues[9].UpdatedAt, res.Snapshot.Watermark)
}

func TestSyncRange(t *testing.T) {
	remote := newFakeRepo()
	for i := 1; i <= 6; i++ {
		remote.add(i, record.StateOpen, true, time.Duration(10-i)*time.Hour)
	}

	var sinceArgs []time.Time
	listIssues := func(ctx context.Context, owner, repo string, since time.Time, perPage int) ([]*record.Issue, error) {
		sinceArgs = append(sinceArgs, since)
		return remote.listIssues(ctx, owner, repo, since, perPage)
	}

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(listIssues).AnyTimes()
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)

	res, err := syncer.Sync(context.Background(), nil, &Params{
		Owner:      repoOwner,
		Repository: repo,
		Range:      &record.Range{Low: 3, High: 4},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{3, 4}, res.Snapshot.Numbers())
	assert.NotZero(t, res.Stats.OutOfRange)
	require.NotEmpty(t, sinceArgs)
	assert.Equal(t, remote.issues[3].CreatedAt, sinceArgs[0])
}

func TestSyncRangeRefreshesChangedRecords(t *testing.T) {
	remote := newFakeRepo()
	remote.add(1, record.StateOpen, true, time.Hour)
	remote.add(2, record.StateOpen, true, time.Hour)

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)
	params := Params{
		Owner:      repoOwner,
		Repository: repo,
		Range:      &record.Range{Low: 1, High: 2},
	}

	res, err := syncer.Sync(context.Background(), nil, &params)
	require.NoError(t, err)
	require.Equal(t, 2, res.Snapshot.Len())

	remote.issues[2].Title = "changed"
	remote.issues[2].UpdatedAt = remote.issues[2].UpdatedAt.Add(time.Hour)

	res, err = syncer.Sync(context.Background(), res.Snapshot, &params)
	require.NoError(t, err)

	assert.Equal(t, "changed", res.Snapshot.Get(2).Title)
	assert.EqualValues(t, 1, res.Stats.Replaced)
	assert.NotZero(t, res.Stats.Known)
}

func TestSyncRangeBeyondHighestNumber(t *testing.T) {
	remote := newTestFakeRepo()

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().HighestPullRequestNumber(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(remote.highestPullRequestNumber).Times(1)

	syncer := newTestSyncer(t, clt)

	res, err := syncer.Sync(context.Background(), nil, &Params{
		Owner:      repoOwner,
		Repository: repo,
		Range:      &record.Range{Low: 100, High: 200},
	})
	require.NoError(t, err)
	assert.Zero(t, res.Snapshot.Len())
}

func TestSyncMergedPullRequestIsReplaced(t *testing.T) {
	remote := newFakeRepo()
	remote.add(42, record.StateOpen, true, time.Hour)

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)
	params := Params{Owner: repoOwner, Repository: repo, Update: true}

	res, err := syncer.Sync(context.Background(), nil, &params)
	require.NoError(t, err)
	require.Equal(t, record.StateOpen, res.Snapshot.Get(42).State)

	pr := remote.issues[42]
	pr.State = record.StateClosed
	pr.UpdatedAt = pr.UpdatedAt.Add(time.Hour)
	closedAt := pr.UpdatedAt
	pr.ClosedAt = &closedAt
	remote.mergedBy[42] = "boegel"

	res, err = syncer.Sync(context.Background(), res.Snapshot, &params)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Snapshot.Len())
	merged := res.Snapshot.Get(42)
	require.NotNil(t, merged)
	assert.Equal(t, record.StateClosed, merged.State)
	assert.True(t, merged.Merged())
	assert.Equal(t, "boegel", merged.MergedBy)
	assert.EqualValues(t, 1, res.Stats.Replaced)
	assert.EqualValues(t, 1, res.Stats.Merged)
}

func TestSyncCachedSnapshotDoesNotQueryGithub(t *testing.T) {
	snap := snapshot.New(repoOwner, repo)
	remote := newFakeRepo()
	for i := 1; i <= 5; i++ {
		_, err := snap.Upsert(remote.add(i, record.StateOpen, true, time.Hour).ToPullRequest())
		require.NoError(t, err)
	}
	snap.Watermark = baseTime.Add(2 * time.Hour)

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)

	syncer := newTestSyncer(t, clt)

	res, err := syncer.Sync(context.Background(), snap, &Params{Owner: repoOwner, Repository: repo})
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Same(t, snap, res.Snapshot)
	assert.Equal(t, 5, res.Snapshot.Len())
	assert.Equal(t, baseTime.Add(2*time.Hour), res.Snapshot.Watermark)
	assert.Empty(t, res.Snapshot.SyncID)
}

func TestSyncInvalidParams(t *testing.T) {
	tcs := []struct {
		name   string
		params Params
	}{
		{name: "empty owner", params: Params{Repository: repo}},
		{name: "empty repository", params: Params{Owner: repoOwner}},
		{
			name: "range and since",
			params: Params{
				Owner: repoOwner, Repository: repo,
				Range: &record.Range{Low: 1, High: 2}, Since: "2024-01-01",
			},
		},
		{
			name:   "inverted range",
			params: Params{Owner: repoOwner, Repository: repo, Range: &record.Range{Low: 5, High: 2}},
		},
		{name: "invalid since", params: Params{Owner: repoOwner, Repository: repo, Since: "01.01.2024"}},
		{name: "negative page size", params: Params{Owner: repoOwner, Repository: repo, PageSize: -1}},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			mockctrl := gomock.NewController(t)
			clt := mocks.NewMockGithubClient(mockctrl)

			syncer := newTestSyncer(t, clt)

			res, err := syncer.Sync(context.Background(), nil, &tc.params)
			require.Error(t, err)
			assert.Nil(t, res)

			var inputErr *prsyncerr.InputError
			assert.ErrorAs(t, err, &inputErr)
		})
	}
}

func TestSyncSince(t *testing.T) {
	remote := newTestFakeRepo()

	var sinceArgs []time.Time
	listIssues := func(ctx context.Context, owner, repo string, since time.Time, perPage int) ([]*record.Issue, error) {
		sinceArgs = append(sinceArgs, since)
		return remote.listIssues(ctx, owner, repo, since, perPage)
	}

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(listIssues).AnyTimes()
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)

	res, err := syncer.Sync(context.Background(), nil, &Params{
		Owner:      repoOwner,
		Repository: repo,
		Since:      "2024-02-28",
	})
	require.NoError(t, err)

	require.NotEmpty(t, sinceArgs)
	assert.Equal(t, time.Date(2024, 2, 28, 23, 59, 59, 0, time.UTC), sinceArgs[0])
	assert.Equal(t, 4, res.Snapshot.Len())
}

func TestSyncSinceHighestPullRequestNotUpdated(t *testing.T) {
	remote := newFakeRepo()
	remote.add(1, record.StateOpen, true, 0).UpdatedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	remote.add(2, record.StateOpen, true, 0).UpdatedAt = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	remote.add(5, record.StateOpen, true, 0).UpdatedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var listCalls int
	listIssues := func(ctx context.Context, owner, repo string, since time.Time, perPage int) ([]*record.Issue, error) {
		listCalls++
		return remote.listIssues(ctx, owner, repo, since, perPage)
	}

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(listIssues).AnyTimes()
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)
	syncer.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	res, err := syncer.Sync(context.Background(), nil, &Params{
		Owner:      repoOwner,
		Repository: repo,
		Since:      "2024-03-02",
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, res.Snapshot.Numbers())
	assert.Equal(t, 2, listCalls)
	assert.Zero(t, res.Stats.NoProgress)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), res.Snapshot.Watermark)
}

func TestSyncEndsWhenListingOnlyRepeatsIssues(t *testing.T) {
	remote := newTestFakeRepo()

	var sinceArgs []time.Time
	listIssues := func(ctx context.Context, owner, repo string, since time.Time, perPage int) ([]*record.Issue, error) {
		sinceArgs = append(sinceArgs, since)
		return remote.listIssues(ctx, owner, repo, since, perPage)
	}

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	// the highest pull request was deleted, it is never listed
	clt.EXPECT().HighestPullRequestNumber(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(9, nil).Times(1)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(listIssues).AnyTimes()
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)
	syncer.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	res, err := syncer.Sync(context.Background(), nil, &Params{Owner: repoOwner, Repository: repo})
	require.NoError(t, err)

	assert.Equal(t, []time.Time{epochStart, remote.issues[5].UpdatedAt}, sinceArgs)
	assert.Equal(t, 4, res.Snapshot.Len())
	assert.Zero(t, res.Stats.NoProgress)
}

func TestSyncSinceWithoutUpdates(t *testing.T) {
	remote := newTestFakeRepo()

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil).Times(1)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("issue listing was queried again")).AnyTimes()
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)
	syncer.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	res, err := syncer.Sync(context.Background(), nil, &Params{
		Owner:      repoOwner,
		Repository: repo,
		Since:      "2024-05-01",
	})
	require.NoError(t, err)

	assert.Zero(t, res.Snapshot.Len())
	assert.Zero(t, res.Stats.NoProgress)
}

func TestSyncFailsWithoutProgress(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().HighestPullRequestNumber(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(5, nil).Times(1)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil).Times(4)

	syncer := newTestSyncer(t, clt, WithMaxNoProgress(3))

	res, err := syncer.Sync(context.Background(), nil, &Params{Owner: repoOwner, Repository: repo})
	require.ErrorIs(t, err, prsyncerr.ErrNoProgress)
	require.NotNil(t, res)

	assert.EqualValues(t, 4, res.Stats.NoProgress)
	assert.True(t, res.Snapshot.Watermark.IsZero(), "watermark advanced without records")
	assert.Empty(t, res.Snapshot.SyncID)
}

func TestSyncStopsWhenWatermarkPassesStartTime(t *testing.T) {
	var sinceArgs []time.Time

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().HighestPullRequestNumber(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(5, nil).Times(1)
	clt.EXPECT().ListIssues(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, since time.Time, _ int) ([]*record.Issue, error) {
			sinceArgs = append(sinceArgs, since)
			return nil, nil
		}).Times(3)

	syncer := newTestSyncer(t, clt)
	syncer.now = func() time.Time { return epochStart.Add(90 * time.Minute) }

	res, err := syncer.Sync(context.Background(), nil, &Params{Owner: repoOwner, Repository: repo})
	require.NoError(t, err)

	assert.Equal(t, []time.Time{epochStart, epochStart.Add(time.Hour), epochStart.Add(2 * time.Hour)}, sinceArgs)
	assert.EqualValues(t, 2, res.Stats.NoProgress)
}

func TestSyncRepositoryWithoutPullRequests(t *testing.T) {
	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().HighestPullRequestNumber(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(0, nil).Times(1)

	syncer := newTestSyncer(t, clt)

	res, err := syncer.Sync(context.Background(), nil, &Params{Owner: repoOwner, Repository: repo})
	require.NoError(t, err)
	assert.Zero(t, res.Snapshot.Len())
}

func TestSyncRejectsMismatchingPullRequest(t *testing.T) {
	remote := newFakeRepo()
	remote.add(7, record.StateOpen, true, time.Hour)

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(7)).
		DoAndReturn(func(ctx context.Context, owner, repo string, _ int) (*record.PullRequest, error) {
			pr, err := remote.pullRequest(ctx, owner, repo, 7)
			if err != nil {
				return nil, err
			}
			pr.Number = 8
			return pr, nil
		}).Times(1)
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)

	res, err := syncer.Sync(context.Background(), nil, &Params{Owner: repoOwner, Repository: repo})
	require.ErrorIs(t, err, prsyncerr.ErrInconsistentSnapshot)
	assert.Zero(t, res.Snapshot.Len())
}

func TestSyncCancelledReturnsPartialSnapshot(t *testing.T) {
	remote := newTestFakeRepo()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	clt.EXPECT().PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(1)).
		DoAndReturn(func(ctx context.Context, owner, repo string, nr int) (*record.PullRequest, error) {
			cancel()
			return remote.pullRequest(ctx, owner, repo, nr)
		}).Times(1)
	mockRemote(clt, remote)

	syncer := newTestSyncer(t, clt)

	res, err := syncer.Sync(ctx, nil, &Params{Owner: repoOwner, Repository: repo})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.Equal(t, []int{1}, res.Snapshot.Numbers())
	assert.NotEmpty(t, res.Snapshot.SyncID)
	assert.True(t, res.Snapshot.Watermark.IsZero())
}

func TestSyncRecordsMetrics(t *testing.T) {
	remote := newTestFakeRepo()

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)
	mockRemote(clt, remote)

	metrics := NewMetrics()
	syncer := newTestSyncer(t, clt, WithMetrics(metrics))

	_, err := syncer.Sync(context.Background(), nil, &Params{Owner: repoOwner, Repository: repo})
	require.NoError(t, err)

	mfs, err := metrics.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	var openPRs float64
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if mf.GetName() == "prsync_snapshot_pull_requests" {
				for _, l := range m.GetLabel() {
					if l.GetName() == "state" && l.GetValue() == string(record.StateOpen) {
						openPRs += m.GetGauge().GetValue()
					}
				}
			}

			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}

	assert.EqualValues(t, 4, values["prsync_snapshot_pull_requests"])
	assert.EqualValues(t, 2, openPRs)
	assert.EqualValues(t, 1, values["prsync_pages_total"])
	assert.NotZero(t, values["prsync_records_total"])
	assert.NotZero(t, values["prsync_last_success_timestamp_seconds"])
}
