package game

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scoreboardAPI/internal/config"
	"scoreboardAPI/internal/store"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func fid(id int64) *int64 {
	return &id
}

func userRec(id int64, group string) store.UserRecord {
	return store.UserRecord{
		ID:          id,
		LoginKey:    fmt.Sprintf("email:user%d@example.com", id),
		Group:       group,
		Enabled:     true,
		TermsAgreed: true,
		AuthToken:   fmt.Sprintf("auth-%d", id),
		Token:       "tok",
		Profile: store.ProfileRecord{Fields: map[string]string{
			"nickname": "u", "tel": "1", "email": "e", "stu_id": "s",
		}},
	}
}

func chalRec(id int64, category string, flags ...int64) store.ChallengeRecord {
	return store.ChallengeRecord{
		ID:       id,
		Key:      fmt.Sprintf("ch%d", id),
		Title:    "challenge",
		Category: category,
		FlagIDs:  flags,
		Enabled:  true,
	}
}

func flagRec(id, chal int64, base int, policy store.PolicyParams) store.FlagRecord {
	return store.FlagRecord{
		ID:          id,
		ChallengeID: chal,
		Name:        "flag",
		Token:       fmt.Sprintf("flag{%d}", id),
		BaseScore:   base,
		Policy:      policy,
	}
}

func subRec(id, uid int64, flag *int64, sec int) store.SubmissionRecord {
	return store.SubmissionRecord{ID: id, UserID: uid, Value: "x", FlagID: flag, CreatedAt: at(sec)}
}

var (
	flat       = store.PolicyParams{Kind: PolicyFlat}
	reciprocal = store.PolicyParams{Kind: PolicyReciprocal}
	decay      = store.PolicyParams{Kind: PolicyDecay, MinScore: 50, Decay: 3}
)

func newTestGame(t *testing.T, snap Snapshot) *Game {
	t.Helper()
	g := New(config.Default())
	require.NoError(t, g.Load(snap))
	return g
}

// twoUserSnapshot is users A(1) and B(2) in one group, challenge C1(10) of
// category Algorithm with the single flag F1(100) worth 100.
func twoUserSnapshot(policy store.PolicyParams) Snapshot {
	return Snapshot{
		Users:      []store.UserRecord{userRec(1, "internal"), userRec(2, "internal")},
		Challenges: []store.ChallengeRecord{chalRec(10, "Algorithm", 100)},
		Flags:      []store.FlagRecord{flagRec(100, 10, 100, policy)},
	}
}

// multiSnapshot has three users, two categories and a two-flag challenge.
func multiSnapshot(policy store.PolicyParams) Snapshot {
	return Snapshot{
		Users: []store.UserRecord{
			userRec(1, "internal"), userRec(2, "external"), userRec(3, "internal"),
		},
		Challenges: []store.ChallengeRecord{
			chalRec(10, "Web", 100, 101),
			chalRec(11, "Binary", 110),
		},
		Flags: []store.FlagRecord{
			flagRec(100, 10, 100, policy),
			flagRec(101, 10, 200, policy),
			flagRec(110, 11, 300, policy),
		},
	}
}

func multiHistory() []store.SubmissionRecord {
	return []store.SubmissionRecord{
		subRec(1, 1, fid(100), 1),
		subRec(2, 2, nil, 2),
		subRec(3, 2, fid(110), 3),
		subRec(4, 1, fid(101), 4),
		subRec(5, 3, fid(100), 5),
		subRec(6, 1, fid(100), 6),
		subRec(7, 3, fid(110), 7),
		subRec(8, 2, fid(100), 8),
		subRec(9, 1, fid(110), 9),
	}
}

type scoreSnapshot struct {
	total map[int64]int
	byCat map[int64]map[string]int
	flags map[int64]int
}

func captureScores(g *Game) scoreSnapshot {
	s := scoreSnapshot{total: map[int64]int{}, byCat: map[int64]map[string]int{}, flags: map[int64]int{}}
	for _, u := range g.users.list {
		s.total[u.ID()] = u.totScore
		cats := map[string]int{}
		for k, v := range u.totScoreByCat {
			cats[k] = v
		}
		s.byCat[u.ID()] = cats
	}
	for _, f := range g.flags.list {
		s.flags[f.ID()] = f.curScore
	}
	return s
}
