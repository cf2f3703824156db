package output

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/simplesurance/prsync/internal/prsyncerr"
	"github.com/simplesurance/prsync/internal/record"
)

// Filter selects pull requests via a jq query that is evaluated on the JSON
// representation of a record and must return a single bool.
type Filter struct {
	query *gojq.Query
}

// NewFilter parses a jq query.
// An invalid query results in a prsyncerr.InputError.
func NewFilter(jqQuery string) (*Filter, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, prsyncerr.NewInputError("filter", jqQuery, err.Error())
	}

	return &Filter{query: query}, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errors []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errors
		}

		if err, isErr := res.(error); isErr {
			errors = append(errors, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Match returns true if the query evaluates to true for pr.
func (f *Filter) Match(ctx context.Context, pr *record.PullRequest) (bool, error) {
	var prUn any

	data, err := json.Marshal(pr)
	if err != nil {
		return false, fmt.Errorf("marshaling pull request #%d failed: %w", pr.Number, err)
	}

	if err := json.Unmarshal(data, &prUn); err != nil {
		return false, fmt.Errorf("unmarshaling pull request #%d failed: %w", pr.Number, err)
	}

	result, errors := goJQIterToSlice(f.query.RunWithContext(ctx, prUn))
	if len(errors) != 0 {
		return false, fmt.Errorf("json query returned errors, query: %q, errors: %s", f.query.String(), errString(errors))
	}

	if len(result) != 1 {
		return false, fmt.Errorf("json query returned %d results, expected 1, query: %q", len(result), f.query.String())
	}

	val, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf(
			"json query returned non-bool result: %+v (%T), query: %q",
			result[0], result[0], f.query.String(),
		)
	}

	return val, nil
}

// Apply returns the pull requests for that the query evaluates to true.
// A nil Filter matches all pull requests.
func (f *Filter) Apply(ctx context.Context, prs []*record.PullRequest) ([]*record.PullRequest, error) {
	if f == nil {
		return prs, nil
	}

	var result []*record.PullRequest

	for _, pr := range prs {
		match, err := f.Match(ctx, pr)
		if err != nil {
			return nil, err
		}

		if match {
			result = append(result, pr)
		}
	}

	return result, nil
}
