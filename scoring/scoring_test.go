package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/picklo/models"
)

func sub(id, player string, at int) models.Submission {
	return models.Submission{ID: id, PlayerID: player, CreatedAt: time.Unix(int64(at), 0)}
}

func vote(voter, submission string) models.Vote {
	return models.Vote{VoterPlayerID: voter, SubmissionID: submission}
}

func TestTally(t *testing.T) {
	tests := []struct {
		name  string
		subs  []models.Submission
		votes []models.Vote
		want  []string
	}{
		{
			name:  "single winner",
			subs:  []models.Submission{sub("s1", "alice", 1), sub("s2", "bob", 2), sub("s3", "cara", 3)},
			votes: []models.Vote{vote("alice", "s2"), vote("cara", "s2"), vote("bob", "s3")},
			want:  []string{"bob"},
		},
		{
			name:  "tie shares the win",
			subs:  []models.Submission{sub("s1", "alice", 1), sub("s2", "bob", 2)},
			votes: []models.Vote{vote("alice", "s2"), vote("bob", "s1")},
			want:  []string{"alice", "bob"},
		},
		{
			name:  "no votes no winner",
			subs:  []models.Submission{sub("s1", "alice", 1)},
			votes: nil,
			want:  nil,
		},
		{
			name:  "votes for unknown submissions ignored",
			subs:  []models.Submission{sub("s1", "alice", 1), sub("s2", "bob", 2)},
			votes: []models.Vote{vote("x", "ghost"), vote("y", "ghost"), vote("bob", "s1")},
			want:  []string{"alice"},
		},
		{
			name:  "deterministic order by creation time",
			subs:  []models.Submission{sub("s9", "late", 9), sub("s1", "early", 1)},
			votes: []models.Vote{vote("a", "s9"), vote("b", "s1")},
			want:  []string{"early", "late"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			winners := Tally(tc.subs, tc.votes)
			var got []string
			for _, w := range winners {
				got = append(got, w.PlayerID)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCounts(t *testing.T) {
	counts := Counts(
		[]models.Submission{sub("s1", "a", 1), sub("s2", "b", 2)},
		[]models.Vote{vote("a", "s2"), vote("c", "s2")},
	)
	require.Len(t, counts, 2)
	assert.Equal(t, 0, counts["s1"])
	assert.Equal(t, 2, counts["s2"])
}
