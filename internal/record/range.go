package record

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/simplesurance/prsync/internal/prsyncerr"
)

var (
	rangeRe = regexp.MustCompile(`^([0-9]+)-([0-9]+)$`)
	sinceRe = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
)

// Range is an inclusive range of pull request numbers.
// A nil *Range contains every number.
type Range struct {
	Low  int
	High int
}

// ParseRange parses a range in the format LOW-HIGH, e.g. "10-20".
func ParseRange(s string) (*Range, error) {
	matches := rangeRe.FindStringSubmatch(s)
	if matches == nil {
		return nil, prsyncerr.NewInputError("range", s, fmt.Sprintf("does not match pattern %q", rangeRe.String()))
	}

	low, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, prsyncerr.NewInputError("range", s, err.Error())
	}

	high, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, prsyncerr.NewInputError("range", s, err.Error())
	}

	r := Range{Low: low, High: high}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	return &r, nil
}

func (r *Range) Validate() error {
	if r.Low <= 0 {
		return prsyncerr.NewInputError("range", r.String(), "lower bound must be >0")
	}

	if r.High < r.Low {
		return prsyncerr.NewInputError("range", r.String(), "upper bound is smaller than lower bound")
	}

	return nil
}

// Contains returns true if nr is within the range.
func (r *Range) Contains(nr int) bool {
	if r == nil {
		return true
	}

	return r.Low <= nr && nr <= r.High
}

func (r *Range) String() string {
	if r == nil {
		return "all"
	}

	return fmt.Sprintf("%d-%d", r.Low, r.High)
}

// ParseSince parses a date in the format YYYY-MM-DD and returns the last
// second of that day in UTC.
func ParseSince(s string) (time.Time, error) {
	if !sinceRe.MatchString(s) {
		return time.Time{}, prsyncerr.NewInputError("since", s, fmt.Sprintf("does not match pattern %q", sinceRe.String()))
	}

	t, err := time.Parse(time.DateOnly+"T15:04:05Z07:00", s+"T23:59:59Z")
	if err != nil {
		return time.Time{}, prsyncerr.NewInputError("since", s, err.Error())
	}

	return t.UTC(), nil
}
