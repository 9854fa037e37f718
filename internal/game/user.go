package game

import (
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"scoreboardAPI/internal/config"
	"scoreboardAPI/internal/store"
)

const (
	maxProfileFieldLen = 128
	// minimum time between two profile writes of one user
	profileUpdateInterval = time.Second
)

type Users struct {
	list        []*User
	byID        map[int64]*User
	byLoginKey  map[string]*User
	byAuthToken map[string]*User
}

func newUsers() *Users {
	return &Users{
		byID:        map[int64]*User{},
		byLoginKey:  map[string]*User{},
		byAuthToken: map[string]*User{},
	}
}

func (r *Users) reindex(list []*User) error {
	byID, err := indexBy(list, "user id", func(u *User) (int64, bool) { return u.rec.ID, true })
	if err != nil {
		return err
	}
	byLoginKey, err := indexBy(list, "login key", func(u *User) (string, bool) { return u.rec.LoginKey, u.rec.LoginKey != "" })
	if err != nil {
		return err
	}
	byAuthToken, err := indexBy(list, "auth token", func(u *User) (string, bool) { return u.rec.AuthToken, u.rec.AuthToken != "" })
	if err != nil {
		return err
	}
	r.list, r.byID, r.byLoginKey, r.byAuthToken = list, byID, byLoginKey, byAuthToken
	return nil
}

func (r *Users) Reload(recs []store.UserRecord) (Effect, error) {
	list := make([]*User, 0, len(recs))
	for _, rec := range recs {
		list = append(list, newUser(rec))
	}
	if err := r.reindex(list); err != nil {
		return Effect{}, err
	}
	return Effect{NeedsReset: true}, nil
}

func (r *Users) ApplyUpdate(id int64, rec *store.UserRecord) (Effect, error) {
	old := r.byID[id]

	switch {
	case rec == nil:
		if old == nil {
			return Effect{}, nil
		}
		if err := r.reindex(without(r.list, func(u *User) bool { return u == old })); err != nil {
			return Effect{}, err
		}
		return Effect{NeedsReset: true}, nil

	case old == nil:
		list := append(slices.Clip(r.list), newUser(*rec))
		if err := r.reindex(list); err != nil {
			return Effect{}, err
		}
		// a new user has no submissions yet, so nothing ranked can change
		return Effect{}, nil

	default:
		prev := old.rec
		old.rec = *rec
		if err := r.reindex(r.list); err != nil {
			old.rec = prev
			return Effect{}, err
		}
		old.rec = prev
		return old.onStoreReload(*rec), nil
	}
}

func (r *Users) Get(id int64) (*User, bool) {
	u, ok := r.byID[id]
	return u, ok
}

func (r *Users) ByLoginKey(key string) (*User, bool) {
	u, ok := r.byLoginKey[key]
	return u, ok
}

func (r *Users) ByAuthToken(token string) (*User, bool) {
	u, ok := r.byAuthToken[token]
	return u, ok
}

func (r *Users) onScoreboardReset() {
	for _, u := range r.list {
		u.onScoreboardReset()
	}
}

func (r *Users) onScoreboardBatchDone(scores scoreLookup) {
	for _, u := range r.list {
		u.onScoreboardBatchDone(scores)
	}
}

// scoreLookup resolves a flag id to its current score and the category of
// its challenge.
type scoreLookup interface {
	flagScore(flagID int64) (score int, category string, ok bool)
}

type User struct {
	rec store.UserRecord

	passedFlags      map[int64]*Submission
	passedChallenges map[int64]*Submission
	succSubmissions  []*Submission
	submissions      []*Submission

	totScore      int
	totScoreByCat map[string]int
	// time of the last first-solve among passedFlags, the board tie-break
	scoreReachedAt time.Time
}

func newUser(rec store.UserRecord) *User {
	u := &User{rec: rec}
	u.onScoreboardReset()
	return u
}

func (u *User) onStoreReload(rec store.UserRecord) Effect {
	reset := u.rec.Group != rec.Group
	u.rec = rec
	return Effect{NeedsReset: reset}
}

func (u *User) onScoreboardReset() {
	u.passedFlags = map[int64]*Submission{}
	u.passedChallenges = map[int64]*Submission{}
	u.succSubmissions = nil
	u.submissions = nil
	u.totScore = 0
	u.totScoreByCat = map[string]int{}
	u.scoreReachedAt = time.Time{}
}

// onScoreboardUpdate appends sub to the user's history. challengePassed tells
// whether the user is a member of the matched challenge's passed set after
// sub was applied to it. Outside a batch the score is recomputed at once.
func (u *User) onScoreboardUpdate(sub *Submission, challengePassed, inBatch bool, scores scoreLookup) {
	u.submissions = append(u.submissions, sub)

	flagID, chalID, ok := sub.MatchedFlag()
	if !ok {
		return
	}

	u.succSubmissions = append(u.succSubmissions, sub)
	if _, seen := u.passedFlags[flagID]; !seen {
		u.passedFlags[flagID] = sub
	}
	if challengePassed {
		if _, seen := u.passedChallenges[chalID]; !seen {
			u.passedChallenges[chalID] = sub
		}
	}

	if !inBatch {
		u.updateTotScore(scores)
	}
}

func (u *User) onScoreboardBatchDone(scores scoreLookup) {
	u.updateTotScore(scores)
}

// updateTotScore walks passedFlags once, so its cost is bound by the number of
// distinct flags the user solved.
func (u *User) updateTotScore(scores scoreLookup) {
	u.totScore = 0
	u.totScoreByCat = map[string]int{}
	u.scoreReachedAt = time.Time{}

	for fid, sub := range u.passedFlags {
		score, cat, ok := scores.flagScore(fid)
		if !ok {
			continue
		}
		u.totScore += score
		u.totScoreByCat[cat] += score
		if sub.CreatedAt().After(u.scoreReachedAt) {
			u.scoreReachedAt = sub.CreatedAt()
		}
	}
}

func (u *User) LastSuccSubmission() *Submission {
	if len(u.succSubmissions) == 0 {
		return nil
	}
	return u.succSubmissions[len(u.succSubmissions)-1]
}

func (u *User) LastSubmission() *Submission {
	if len(u.submissions) == 0 {
		return nil
	}
	return u.submissions[len(u.submissions)-1]
}

func (u *User) ID() int64       { return u.rec.ID }
func (u *User) Group() string   { return u.rec.Group }
func (u *User) TotalScore() int { return u.totScore }

func (u *User) HasPassedFlag(flagID int64) bool {
	_, ok := u.passedFlags[flagID]
	return ok
}

func (u *User) CheckLogin() *CheckError {
	if !u.rec.Enabled {
		return &CheckError{Code: CodeUserDisabled, Message: "account is disabled"}
	}
	return nil
}

func (u *User) CheckUpdateProfile(cfg *config.Config) *CheckError {
	if err := u.CheckLogin(); err != nil {
		return err
	}
	if !u.rec.TermsAgreed {
		return &CheckError{Code: CodeShouldAgree, Message: "terms must be agreed first"}
	}
	if cfg.BannedGroup != "" && u.rec.Group == cfg.BannedGroup {
		return &CheckError{Code: CodeUserBanned, Message: "this group may not take part"}
	}
	return nil
}

func (u *User) CheckPlayGame(cfg *config.Config) *CheckError {
	if err := u.CheckUpdateProfile(cfg); err != nil {
		return err
	}
	if msg := CheckProfile(cfg, u.rec.Group, u.rec.Profile.Fields); msg != "" {
		return &CheckError{Code: CodeShouldProfile, Message: msg}
	}
	return nil
}

// CheckProfile validates fields against what group requires and returns a
// human readable problem, or "" when the profile is complete.
func CheckProfile(cfg *config.Config, group string, fields map[string]string) string {
	for _, name := range cfg.RequiredFields(group) {
		v := fields[name]
		if v == "" {
			return fmt.Sprintf("missing %s", name)
		}
		if utf8.RuneCountInString(v) > maxProfileFieldLen {
			return fmt.Sprintf("%s is too long", name)
		}
	}
	return ""
}

// CheckProfileUpdate validates a profile write by uid at now and returns the
// fields to store, which are exactly the ones the user's group requires.
func (g *Game) CheckProfileUpdate(uid int64, fields map[string]string, now time.Time) (map[string]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	u, ok := g.users.Get(uid)
	if !ok {
		return nil, &CheckError{Code: CodeNoSuchUser, Message: "not logged in"}
	}
	if last := u.rec.Profile.TimestampMs; last > 0 && now.UnixMilli()-last < profileUpdateInterval.Milliseconds() {
		return nil, &CheckError{Code: CodeRateLimit, Message: "too many requests"}
	}
	if cerr := u.CheckUpdateProfile(g.cfg); cerr != nil {
		return nil, cerr
	}

	out := map[string]string{}
	for _, name := range g.cfg.RequiredFields(u.rec.Group) {
		v, ok := fields[name]
		if !ok {
			return nil, &CheckError{Code: CodeInvalidParam, Message: fmt.Sprintf("missing %s", name)}
		}
		out[name] = v
	}
	if msg := CheckProfile(g.cfg, u.rec.Group, out); msg != "" {
		return nil, &CheckError{Code: CodeInvalidParam, Message: msg}
	}
	return out, nil
}
