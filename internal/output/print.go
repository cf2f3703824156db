// Package output renders pull request records of a snapshot for consumers:
// a human readable overview, a CSV dump, a YAML export and an export into a
// SQLite database.
package output

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/simplesurance/prsync/internal/record"
)

type userPullRequests struct {
	user    string
	prs     []*record.PullRequest
	openCnt int
}

func groupByUser(prs []*record.PullRequest) []*userPullRequests {
	byUser := map[string]*userPullRequests{}

	for _, pr := range prs {
		u, exists := byUser[pr.User]
		if !exists {
			u = &userPullRequests{user: pr.User}
			byUser[pr.User] = u
		}

		u.prs = append(u.prs, pr)
		if pr.State == record.StateOpen {
			u.openCnt++
		}
	}

	result := make([]*userPullRequests, 0, len(byUser))
	for _, u := range byUser {
		sort.Slice(u.prs, func(i, j int) bool {
			return u.prs[i].Number < u.prs[j].Number
		})

		result = append(result, u)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].openCnt == result[j].openCnt {
			return result[i].user < result[j].user
		}

		return result[i].openCnt < result[j].openCnt
	})

	return result
}

// PrintOverview writes an overview of the open pull requests grouped by their
// authors to w.
// Authors are ordered by their number of open pull requests ascending,
// authors without open pull requests are omitted.
func PrintOverview(w io.Writer, prs []*record.PullRequest) error {
	var openCnt int
	for _, pr := range prs {
		if pr.State == record.StateOpen {
			openCnt++
		}
	}

	users := groupByUser(prs)

	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Overview of %d pull requests (%d open), by user (%d users in total):\n\n",
		len(prs), openCnt, len(users))

	for _, u := range users {
		if u.openCnt == 0 {
			continue
		}

		fmt.Fprintf(bw, "%s (open: %d/%d):\n", u.user, u.openCnt, len(u.prs))

		for _, pr := range u.prs {
			if pr.State != record.StateOpen {
				continue
			}

			fmt.Fprintf(bw, "\t#%d [state: %s]: %s (created %s)\n",
				pr.Number, pr.CombinedStatus, pr.Title, pr.CreatedAt.UTC().Format(time.RFC3339))
		}
	}

	return bw.Flush()
}
