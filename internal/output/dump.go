package output

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/simplesurance/prsync/internal/record"
)

// NewPRMarker is contained in the description of pull requests that were
// created with "eb --new-pr".
const NewPRMarker = "eb --new-pr"

const dumpTimeFormat = "2006-01-02 15:04:05"

var dumpHeader = []string{"PR#", "user", "state", "created", "merged", "new_pr"}

// Dump writes one CSV row per pull request, ordered by number, to w.
// The merged column is empty for pull requests that were never observed as
// closed.
func Dump(w io.Writer, prs []*record.PullRequest) error {
	sorted := make([]*record.PullRequest, len(prs))
	copy(sorted, prs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})

	cw := csv.NewWriter(w)

	if err := cw.Write(dumpHeader); err != nil {
		return err
	}

	for _, pr := range sorted {
		var merged string
		if pr.IsMerged != nil {
			merged = strconv.FormatBool(*pr.IsMerged)
		}

		err := cw.Write([]string{
			strconv.Itoa(pr.Number),
			pr.User,
			string(pr.State),
			pr.CreatedAt.UTC().Format(dumpTimeFormat),
			merged,
			strconv.FormatBool(strings.Contains(pr.Body, NewPRMarker)),
		})
		if err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}
