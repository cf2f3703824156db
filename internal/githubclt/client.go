// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/prsync/internal/logfields"
	"github.com/simplesurance/prsync/internal/prsyncerr"
	"github.com/simplesurance/prsync/internal/record"
)

const DefaultHTTPClientTimeout = time.Minute

// MaxPerPage is the maximum page size supported by the GitHub REST API.
const MaxPerPage = 100

const loggerName = "github_client"

// New returns a new github api client.
func New(oauthAPItoken string) *Client {
	return &Client{
		restClt: github.NewClient(newHTTPClient(oauthAPItoken)),
		logger:  zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout:   DefaultHTTPClientTimeout,
			Transport: NewRetryTransport(http.DefaultTransport),
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout
	tc.Transport = NewRetryTransport(tc.Transport)

	return tc
}

// Client is an github API client.
// All methods return a prsyncerr.RetryableError when an operation can be
// retried.
// This can be e.g. the case when the API ratelimit is exceeded.
// Records are validated before they are returned, callers never receive
// records that violate the invariants of the record package.
type Client struct {
	restClt *github.Client
	logger  *zap.Logger
}

// ListIssues returns one page of issues and pull requests of the repository
// that were updated at or after since, sorted by their update time in
// ascending order.
func (clt *Client) ListIssues(ctx context.Context, owner, repo string, since time.Time, perPage int) ([]*record.Issue, error) {
	ghIssues, _, err := clt.restClt.Issues.ListByRepo(ctx, owner, repo, &github.IssueListByRepoOptions{
		State:     "all",
		Sort:      "updated",
		Direction: "asc",
		Since:     since,
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	})
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	result := make([]*record.Issue, 0, len(ghIssues))
	for _, ghIssue := range ghIssues {
		issue, err := issueFromGithub(ghIssue)
		if err != nil {
			return nil, fmt.Errorf("github returned invalid issue #%d: %w", ghIssue.GetNumber(), err)
		}

		result = append(result, issue)
	}

	return result, nil
}

// HighestPullRequestNumber returns the number of the most recently created
// pull request, independent of its state.
// If the repository has no pull requests, 0 is returned.
func (clt *Client) HighestPullRequestNumber(ctx context.Context, owner, repo string) (int, error) {
	prs, _, err := clt.restClt.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:     "all",
		Sort:      "created",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: 1,
		},
	})
	if err != nil {
		return 0, clt.wrapRetryableErrors(err)
	}

	if len(prs) == 0 {
		return 0, nil
	}

	return prs[0].GetNumber(), nil
}

// PullRequest returns the full record of a pull request.
// For open pull requests the combined status of the head commit is
// retrieved. The issue comments are retrieved for all pull requests.
func (clt *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*record.PullRequest, error) {
	ghPR, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	pr, err := pullRequestFromGithub(ghPR)
	if err != nil {
		return nil, fmt.Errorf("github returned invalid pull request #%d: %w", number, err)
	}

	if pr.State == record.StateOpen && pr.Head != nil && pr.Head.SHA != "" {
		pr.CombinedStatus, err = clt.CombinedStatus(ctx, owner, repo, pr.Head.SHA)
		if err != nil {
			return nil, fmt.Errorf("retrieving combined status of %s failed: %w", pr.Head.SHA, err)
		}
	}

	pr.IssueComments, err = clt.IssueComments(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("retrieving issue comments failed: %w", err)
	}

	return pr, nil
}

// CombinedStatus returns the combined commit status for ref.
func (clt *Client) CombinedStatus(ctx context.Context, owner, repo, ref string) (record.CIStatus, error) {
	status, _, err := clt.restClt.Repositories.GetCombinedStatus(ctx, owner, repo, ref, nil)
	if err != nil {
		return record.CIStatusUnknown, clt.wrapRetryableErrors(err)
	}

	clt.logger.Debug(
		"retrieved combined status",
		logfields.Event("github_combined_status_retrieved"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Commit(ref),
		zap.String("github.combined_status", status.GetState()),
	)

	return record.ParseCIStatus(status.GetState()), nil
}

// IssueComments returns all comments of an issue or pull request in
// chronological order.
// Review comments and commit comments are not included.
func (clt *Client) IssueComments(ctx context.Context, owner, repo string, number int) ([]record.Comment, error) {
	var result []record.Comment

	opts := github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{
			Page:    1,
			PerPage: MaxPerPage,
		},
	}

	for {
		comments, resp, err := clt.restClt.Issues.ListComments(ctx, owner, repo, number, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		result = append(result, commentsFromGithub(comments)...)

		if resp.NextPage == 0 || len(comments) == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// MergeInfo returns if a pull request was merged and by whom.
func (clt *Client) MergeInfo(ctx context.Context, owner, repo string, number int) (*record.MergeInfo, error) {
	ghPR, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return &record.MergeInfo{
		Merged:   ghPR.GetMerged(),
		MergedBy: ghPR.GetMergedBy().GetLogin(),
	}, nil
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return prsyncerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		clt.logger.Info(
			"secondary rate limit exceeded",
			logfields.Event("github_api_secondary_rate_limit_exceeded"),
			zap.Durationp("github_api_retry_after", v.RetryAfter),
		)

		if v.RetryAfter != nil {
			return prsyncerr.NewRetryableError(err, time.Now().Add(*v.RetryAfter))
		}

		return prsyncerr.NewRetryableAnytimeError(err)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return prsyncerr.NewRetryableAnytimeError(err)
		}

		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return prsyncerr.NewRetryableAnytimeError(err)
	}

	return err
}
