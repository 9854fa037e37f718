package game

import (
	"cmp"
	"slices"
	"time"

	"scoreboardAPI/internal/config"
)

// Population selects the users a board ranks.
type Population func(u *User) bool

func groupPopulation(groups []string) Population {
	set := make(map[string]bool, len(groups))
	for _, g := range groups {
		set[g] = true
	}
	return func(u *User) bool {
		return set[u.rec.Group]
	}
}

type BoardEntry struct {
	UserID    int64     `json:"user_id"`
	Nickname  string    `json:"nickname"`
	Group     string    `json:"group"`
	Rank      int       `json:"rank"`
	Score     int       `json:"score"`
	ReachedAt time.Time `json:"reached_at"`
}

// Standings is one computed ranking. It is never modified after rebuild
// returns it, so readers may keep it past the game lock.
type Standings struct {
	Key      string       `json:"key"`
	Name     string       `json:"name"`
	Revision int64        `json:"revision"`
	Entries  []BoardEntry `json:"entries"`

	rankByUser map[int64]int
}

// Rank returns the 1-based rank of uid, ok is false for users outside the
// board population.
func (s *Standings) Rank(uid int64) (int, bool) {
	r, ok := s.rankByUser[uid]
	return r, ok
}

type Board struct {
	key      string
	name     string
	groups   []string
	includes Population
	current  *Standings
}

func newBoard(cfg config.Board) *Board {
	b := &Board{
		key:      cfg.Key,
		name:     cfg.Name,
		groups:   cfg.Groups,
		includes: groupPopulation(cfg.Groups),
	}
	b.current = &Standings{Key: b.key, Name: b.name, rankByUser: map[int64]int{}}
	return b
}

// rebuild ranks the population by score descending, then by the time the
// score was reached ascending, then by user id. The order is total, so ranks
// run 1..n without ties.
func (b *Board) rebuild(users []*User, revision int64) {
	members := make([]*User, 0, len(users))
	for _, u := range users {
		if b.includes(u) {
			members = append(members, u)
		}
	}

	slices.SortFunc(members, func(x, y *User) int {
		if x.totScore != y.totScore {
			return cmp.Compare(y.totScore, x.totScore)
		}
		if c := x.scoreReachedAt.Compare(y.scoreReachedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.rec.ID, y.rec.ID)
	})

	s := &Standings{
		Key:        b.key,
		Name:       b.name,
		Revision:   revision,
		Entries:    make([]BoardEntry, 0, len(members)),
		rankByUser: make(map[int64]int, len(members)),
	}
	for i, u := range members {
		s.Entries = append(s.Entries, BoardEntry{
			UserID:    u.rec.ID,
			Nickname:  u.rec.Profile.Field(config.FieldNickname),
			Group:     u.rec.Group,
			Rank:      i + 1,
			Score:     u.totScore,
			ReachedAt: u.scoreReachedAt,
		})
		s.rankByUser[u.rec.ID] = i + 1
	}
	b.current = s
}

func (b *Board) hasGroup(group string) bool {
	return slices.Contains(b.groups, group)
}
