// Package scoring decides round winners from submissions and votes.
package scoring

import (
	"sort"

	"github.com/wfunc/picklo/models"
)

// Winner is a submission that finished a round with the top vote count.
type Winner struct {
	SubmissionID string
	PlayerID     string
	Votes        int
}

// Counts returns votes per submission id. Votes for submissions not in
// subs are ignored.
func Counts(subs []models.Submission, votes []models.Vote) map[string]int {
	counts := make(map[string]int, len(subs))
	for _, s := range subs {
		counts[s.ID] = 0
	}
	for _, v := range votes {
		if _, ok := counts[v.SubmissionID]; ok {
			counts[v.SubmissionID]++
		}
	}
	return counts
}

// Tally returns every submission tied at the highest vote count. A round
// without votes has no winner. Order is by submission creation time, then id.
// A tie is not broken: every tied author is credited one point.
func Tally(subs []models.Submission, votes []models.Vote) []Winner {
	counts := Counts(subs, votes)
	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	if best == 0 {
		return nil
	}

	ordered := make([]models.Submission, len(subs))
	copy(ordered, subs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	var winners []Winner
	for _, s := range ordered {
		if counts[s.ID] == best {
			winners = append(winners, Winner{SubmissionID: s.ID, PlayerID: s.PlayerID, Votes: best})
		}
	}
	return winners
}
