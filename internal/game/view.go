package game

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"scoreboardAPI/internal/config"
)

const (
	StatusPassed    = "passed"
	StatusPartial   = "partial"
	StatusUntouched = "untouched"
)

type CategoryScore struct {
	Category string `json:"category"`
	Color    string `json:"color"`
	Score    int    `json:"score"`
}

// UserView is a copy of one user's record and derived state.
type UserView struct {
	ID               int64             `json:"id"`
	Group            string            `json:"group"`
	GroupDisplay     string            `json:"group_disp"`
	Token            string            `json:"token"`
	Enabled          bool              `json:"enabled"`
	TermsAgreed      bool              `json:"terms_agreed"`
	Profile          map[string]string `json:"profile"`
	ScoreAvailable   bool              `json:"score_available"`
	TotalScore       int               `json:"tot_score"`
	ScoreByCategory  []CategoryScore   `json:"tot_score_by_cat"`
	PassedFlags      []int64           `json:"passed_flags"`
	PassedChallenges []int64           `json:"passed_challenges"`
	Submissions      int               `json:"submissions"`
	SuccSubmissions  int               `json:"succ_submissions"`
	LastSubmissionAt *time.Time        `json:"last_submission_at,omitempty"`
	LastSuccAt       *time.Time        `json:"last_succ_at,omitempty"`
}

type FlagView struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	BaseScore    int    `json:"base_score"`
	CurrentScore int    `json:"cur_score"`
	Solvers      int    `json:"solvers"`
	Passed       bool   `json:"passed"`
}

type ChallengeView struct {
	ID                int64      `json:"id"`
	Key               string     `json:"key"`
	Title             string     `json:"title"`
	Category          string     `json:"category"`
	CategoryColor     string     `json:"category_color"`
	Flags             []FlagView `json:"flags"`
	TotalBaseScore    int        `json:"tot_base_score"`
	TotalCurrentScore int        `json:"tot_cur_score"`
	PassedUsersCount  int        `json:"passed_users_count"`
	TouchedUsersCount int        `json:"touched_users_count"`
	Status            string     `json:"status"`
}

// FlagMatch is the outcome of checking a submitted value.
type FlagMatch struct {
	Correct     bool  `json:"correct"`
	FlagID      int64 `json:"flag_id,omitempty"`
	ChallengeID int64 `json:"challenge_id,omitempty"`
}

type Stats struct {
	Users       int   `json:"n_users"`
	Submissions int   `json:"n_submissions"`
	Revision    int64 `json:"revision"`
	Cursor      int64 `json:"cursor"`
	Computed    bool  `json:"game_available"`
	NeedsReset  bool  `json:"needs_reset"`
}

func (g *Game) UserByID(id int64) (UserView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	u, ok := g.users.Get(id)
	if !ok {
		return UserView{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return g.userView(u), nil
}

func (g *Game) UserByAuthToken(token string) (UserView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	u, ok := g.users.ByAuthToken(token)
	if !ok {
		return UserView{}, fmt.Errorf("auth token: %w", ErrNotFound)
	}
	return g.userView(u), nil
}

// CheckPlayGame runs the eligibility gates for uid.
func (g *Game) CheckPlayGame(uid int64) *CheckError {
	g.mu.RLock()
	defer g.mu.RUnlock()
	u, ok := g.users.Get(uid)
	if !ok {
		return &CheckError{Code: CodeNoSuchUser, Message: "not logged in"}
	}
	return u.CheckPlayGame(g.cfg)
}

// userView copies u out. Derived state is only filled in while the
// scoreboard is computed; after an aborted batch it may be half applied.
// Callers hold mu.
func (g *Game) userView(u *User) UserView {
	v := UserView{
		ID:               u.rec.ID,
		Group:            u.rec.Group,
		GroupDisplay:     g.cfg.GroupDisplay(u.rec.Group),
		Token:            u.rec.Token,
		Enabled:          u.rec.Enabled,
		TermsAgreed:      u.rec.TermsAgreed,
		Profile:          map[string]string{},
		PassedFlags:      []int64{},
		PassedChallenges: []int64{},
		ScoreAvailable:   g.computed,
	}
	for _, f := range g.cfg.RequiredFields(u.rec.Group) {
		v.Profile[f] = u.rec.Profile.Field(f)
	}
	if !g.computed {
		return v
	}

	v.TotalScore = u.totScore
	v.Submissions = len(u.submissions)
	v.SuccSubmissions = len(u.succSubmissions)
	for cat, score := range u.totScoreByCat {
		v.ScoreByCategory = append(v.ScoreByCategory, CategoryScore{Category: cat, Color: g.cfg.CategoryColor(cat), Score: score})
	}
	slices.SortFunc(v.ScoreByCategory, func(a, b CategoryScore) int {
		if c := cmp.Compare(g.cfg.CategoryOrder(a.Category), g.cfg.CategoryOrder(b.Category)); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})
	for fid := range u.passedFlags {
		v.PassedFlags = append(v.PassedFlags, fid)
	}
	slices.Sort(v.PassedFlags)
	for cid := range u.passedChallenges {
		v.PassedChallenges = append(v.PassedChallenges, cid)
	}
	slices.Sort(v.PassedChallenges)
	if s := u.LastSubmission(); s != nil {
		t := s.CreatedAt()
		v.LastSubmissionAt = &t
	}
	if s := u.LastSuccSubmission(); s != nil {
		t := s.CreatedAt()
		v.LastSuccAt = &t
	}
	return v
}

// EffectiveChallenges lists the challenges open at now, with the status of
// each for uid (pass 0 for an anonymous view).
func (g *Game) EffectiveChallenges(uid int64, now time.Time) ([]ChallengeView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.computed {
		return nil, ErrScoreboardUnavailable
	}
	return g.effectiveChallenges(uid, now), nil
}

// effectiveChallenges builds the challenge list. Callers hold mu.
func (g *Game) effectiveChallenges(uid int64, now time.Time) []ChallengeView {
	tick := g.triggers.CurrentTick(now)
	u, _ := g.users.Get(uid)

	out := make([]ChallengeView, 0, len(g.challenges.list))
	for _, c := range g.challenges.list {
		if !c.effective(tick) {
			continue
		}
		cv := ChallengeView{
			ID:                c.rec.ID,
			Key:               c.rec.Key,
			Title:             c.rec.Title,
			Category:          c.rec.Category,
			CategoryColor:     g.cfg.CategoryColor(c.rec.Category),
			TotalBaseScore:    c.totBaseScore,
			TotalCurrentScore: c.totCurScore,
			PassedUsersCount:  len(c.passedUsers),
			TouchedUsersCount: len(c.touchedUsers),
			Status:            StatusUntouched,
		}
		for _, fid := range c.rec.FlagIDs {
			f, ok := g.flags.Get(fid)
			if !ok {
				continue
			}
			cv.Flags = append(cv.Flags, FlagView{
				ID:           f.rec.ID,
				Name:         f.rec.Name,
				BaseScore:    f.rec.BaseScore,
				CurrentScore: f.curScore,
				Solvers:      len(f.solvers),
				Passed:       u != nil && u.HasPassedFlag(fid),
			})
		}
		if u != nil {
			switch {
			case c.PassedBy(uid):
				cv.Status = StatusPassed
			case c.TouchedBy(uid):
				cv.Status = StatusPartial
			}
		}
		out = append(out, cv)
	}
	return out
}

// PlayerView is everything the game page shows one player, taken from a
// single revision.
type PlayerView struct {
	User             UserView        `json:"user"`
	Challenges       []ChallengeView `json:"challenges"`
	BoardKey         string          `json:"board_key,omitempty"`
	BoardName        string          `json:"board_name,omitempty"`
	Rank             int             `json:"rank,omitempty"`
	LastAnnouncement *Announcement   `json:"last_announcement"`
}

// GameView checks uid may play and copies out its page under one read lock,
// so the challenge list, score and rank always agree.
func (g *Game) GameView(uid int64, now time.Time) (PlayerView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users.Get(uid)
	if !ok {
		return PlayerView{}, &CheckError{Code: CodeNoSuchUser, Message: "not logged in"}
	}
	if cerr := u.CheckPlayGame(g.cfg); cerr != nil {
		return PlayerView{}, cerr
	}
	if !g.computed {
		return PlayerView{}, ErrScoreboardUnavailable
	}

	v := PlayerView{
		User:             g.userView(u),
		Challenges:       g.effectiveChallenges(uid, now),
		LastAnnouncement: g.announcements.Latest(),
	}
	if key := g.BoardKeyFor(u.rec.Group); key != "" {
		b := g.boardByKey[key].current
		v.BoardKey, v.BoardName = key, b.Name
		if rank, ok := b.Rank(uid); ok {
			v.Rank = rank
		}
	}
	return v, nil
}

// Board returns the current standings for key.
func (g *Game) Board(key string) (*Standings, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.boardByKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBoard, key)
	}
	if !g.computed {
		return nil, ErrScoreboardUnavailable
	}
	return b.current, nil
}

// BoardKeyFor picks the narrowest board that ranks group, "" when none does.
func (g *Game) BoardKeyFor(group string) string {
	best, bestSize := "", 0
	for _, b := range g.boards {
		if !b.hasGroup(group) {
			continue
		}
		if best == "" || len(b.groups) < bestSize {
			best, bestSize = b.key, len(b.groups)
		}
	}
	return best
}

func (g *Game) BoardKeys() []config.Board {
	return g.cfg.Boards
}

func (g *Game) CurrentTick(now time.Time) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.triggers.CurrentTick(now)
}

func (g *Game) TriggerStatuses(now time.Time) []TriggerStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.triggers.Statuses(now)
}

// MatchFlag compares value against the tokens of flags whose challenge is
// effective at now. The comparison is exact and case-sensitive; tokens are
// unique so at most one flag matches.
func (g *Game) MatchFlag(value string, now time.Time) FlagMatch {
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, ok := g.flags.ByToken(value)
	if !ok {
		return FlagMatch{}
	}
	c, ok := g.challenges.Get(f.ChallengeID())
	if !ok || !c.effective(g.triggers.CurrentTick(now)) {
		return FlagMatch{}
	}
	return FlagMatch{Correct: true, FlagID: f.ID(), ChallengeID: c.ID()}
}

// Announcements lists the published notices, newest first.
func (g *Game) Announcements() []Announcement {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.announcements.List()
}

func (g *Game) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		Users:       len(g.users.list),
		Submissions: len(g.submissions),
		Revision:    g.revision,
		Cursor:      g.cursor,
		Computed:    g.computed,
		NeedsReset:  g.needsReset,
	}
}
