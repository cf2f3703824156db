package githubclt

import (
	"time"

	"github.com/google/go-github/v59/github"

	"github.com/simplesurance/prsync/internal/record"
)

func timestampPtr(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}

	t := ts.Time.UTC()
	return &t
}

func issueFromGithub(ghIssue *github.Issue) (*record.Issue, error) {
	state, err := record.ParseState(ghIssue.GetState())
	if err != nil {
		return nil, err
	}

	issue := record.Issue{
		Number:        ghIssue.GetNumber(),
		State:         state,
		CreatedAt:     ghIssue.GetCreatedAt().Time.UTC(),
		UpdatedAt:     ghIssue.GetUpdatedAt().Time.UTC(),
		ClosedAt:      timestampPtr(ghIssue.ClosedAt),
		Title:         ghIssue.GetTitle(),
		Body:          ghIssue.GetBody(),
		User:          ghIssue.GetUser().GetLogin(),
		HTMLURL:       ghIssue.GetHTMLURL(),
		IsPullRequest: ghIssue.IsPullRequest(),
	}

	if err := issue.Validate(); err != nil {
		return nil, err
	}

	return &issue, nil
}

func refFromGithub(branch *github.PullRequestBranch) *record.Ref {
	if branch == nil {
		return nil
	}

	return &record.Ref{
		Ref: branch.GetRef(),
		SHA: branch.GetSHA(),
	}
}

func pullRequestFromGithub(ghPR *github.PullRequest) (*record.PullRequest, error) {
	state, err := record.ParseState(ghPR.GetState())
	if err != nil {
		return nil, err
	}

	pr := record.PullRequest{
		Number:         ghPR.GetNumber(),
		State:          state,
		CreatedAt:      ghPR.GetCreatedAt().Time.UTC(),
		UpdatedAt:      ghPR.GetUpdatedAt().Time.UTC(),
		ClosedAt:       timestampPtr(ghPR.ClosedAt),
		Title:          ghPR.GetTitle(),
		Body:           ghPR.GetBody(),
		User:           ghPR.GetUser().GetLogin(),
		HTMLURL:        ghPR.GetHTMLURL(),
		Head:           refFromGithub(ghPR.GetHead()),
		Base:           refFromGithub(ghPR.GetBase()),
		CombinedStatus: record.CIStatusUnknown,
	}

	if state == record.StateClosed {
		merged := ghPR.GetMerged()
		pr.IsMerged = &merged
		pr.MergedBy = ghPR.GetMergedBy().GetLogin()
	}

	if err := pr.Validate(); err != nil {
		return nil, err
	}

	return &pr, nil
}

func commentsFromGithub(ghComments []*github.IssueComment) []record.Comment {
	result := make([]record.Comment, 0, len(ghComments))

	for _, c := range ghComments {
		result = append(result, record.Comment{
			Author: c.GetUser().GetLogin(),
			Body:   c.GetBody(),
		})
	}

	return result
}
