// Package record defines the typed pull request and issue records that are
// exchanged between the GitHub client, the synchronization engine and the
// snapshot store.
package record

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/prsync/internal/logfields"
)

type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

func ParseState(s string) (State, error) {
	switch State(s) {
	case StateOpen, StateClosed:
		return State(s), nil
	default:
		return "", fmt.Errorf("unsupported state: %q", s)
	}
}

// CIStatus is the combined commit status of a pull request head commit.
type CIStatus string

const (
	CIStatusSuccess CIStatus = "success"
	CIStatusFailure CIStatus = "failure"
	CIStatusError   CIStatus = "error"
	CIStatusPending CIStatus = "pending"
	CIStatusUnknown CIStatus = "unknown"
)

// ParseCIStatus converts a GitHub combined status state to a CIStatus.
// Unsupported or empty values are converted to CIStatusUnknown.
func ParseCIStatus(s string) CIStatus {
	switch CIStatus(s) {
	case CIStatusSuccess, CIStatusFailure, CIStatusError, CIStatusPending:
		return CIStatus(s)
	default:
		return CIStatusUnknown
	}
}

type Ref struct {
	Ref string `json:"ref" yaml:"ref"`
	SHA string `json:"sha" yaml:"sha"`
}

type Comment struct {
	Author string `json:"author" yaml:"author"`
	Body   string `json:"body" yaml:"body"`
}

// Issue is an entry of the repository issue listing.
// Pull requests are listed as issues, IsPullRequest distinguishes them.
type Issue struct {
	Number        int        `json:"number"`
	State         State      `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	User          string     `json:"user"`
	HTMLURL       string     `json:"html_url"`
	IsPullRequest bool       `json:"is_pull_request"`
}

func (i *Issue) Validate() error {
	return validate(i.Number, i.State, i.CreatedAt, i.UpdatedAt, i.ClosedAt)
}

// ToPullRequest returns the pull request record that can be derived from the
// issue listing entry alone.
// Head, Base, comments and merge information are not part of it.
func (i *Issue) ToPullRequest() *PullRequest {
	return &PullRequest{
		Number:         i.Number,
		State:          i.State,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
		ClosedAt:       i.ClosedAt,
		Title:          i.Title,
		Body:           i.Body,
		User:           i.User,
		HTMLURL:        i.HTMLURL,
		CombinedStatus: CIStatusUnknown,
	}
}

// PullRequest is the accumulated state of a pull request.
type PullRequest struct {
	Number    int        `json:"number" yaml:"number"`
	State     State      `json:"state" yaml:"state"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" yaml:"closed_at,omitempty"`
	Title     string     `json:"title" yaml:"title"`
	Body      string     `json:"body" yaml:"body"`
	User      string     `json:"user" yaml:"user"`
	HTMLURL   string     `json:"html_url" yaml:"html_url"`

	// Head and Base are only set for records that were fetched via the
	// pull request endpoint.
	Head *Ref `json:"head,omitempty" yaml:"head,omitempty"`
	Base *Ref `json:"base,omitempty" yaml:"base,omitempty"`

	// CombinedStatus is only retrieved for open pull requests.
	CombinedStatus CIStatus  `json:"combined_status" yaml:"combined_status"`
	IssueComments  []Comment `json:"issue_comments,omitempty" yaml:"issue_comments,omitempty"`

	// IsMerged is nil until the pull request was observed as closed.
	IsMerged *bool  `json:"is_merged,omitempty" yaml:"is_merged,omitempty"`
	MergedBy string `json:"merged_by,omitempty" yaml:"merged_by,omitempty"`
}

func (p *PullRequest) Validate() error {
	if err := validate(p.Number, p.State, p.CreatedAt, p.UpdatedAt, p.ClosedAt); err != nil {
		return err
	}

	if p.IsMerged != nil && *p.IsMerged && p.State != StateClosed {
		return fmt.Errorf("pull request is merged but has state %q", p.State)
	}

	return nil
}

// Merged returns true if the pull request was observed as merged.
func (p *PullRequest) Merged() bool {
	return p.IsMerged != nil && *p.IsMerged
}

func (p *PullRequest) LogFields() []zap.Field {
	return []zap.Field{
		logfields.PullRequest(p.Number),
		zap.String("github.pull_request_state", string(p.State)),
		zap.Time("github.pull_request_updated_at", p.UpdatedAt),
	}
}

// MergeInfo is the merge state of a closed pull request.
type MergeInfo struct {
	Merged   bool
	MergedBy string
}

func validate(number int, state State, createdAt, updatedAt time.Time, closedAt *time.Time) error {
	if number <= 0 {
		return fmt.Errorf("number is %d, must be >0", number)
	}

	if _, err := ParseState(string(state)); err != nil {
		return err
	}

	if createdAt.IsZero() {
		return errors.New("created_at is unset")
	}

	if updatedAt.Before(createdAt) {
		return fmt.Errorf("updated_at (%s) is before created_at (%s)", updatedAt, createdAt)
	}

	if closedAt != nil && closedAt.Before(createdAt) {
		return fmt.Errorf("closed_at (%s) is before created_at (%s)", closedAt, createdAt)
	}

	return nil
}
