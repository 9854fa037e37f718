package game

import (
	"log"
	"slices"

	"scoreboardAPI/internal/store"
)

type Flags struct {
	defaults store.PolicyParams

	list    []*Flag
	byID    map[int64]*Flag
	byToken map[string]*Flag
}

func newFlags(defaults store.PolicyParams) *Flags {
	return &Flags{
		defaults: defaults,
		byID:     map[int64]*Flag{},
		byToken:  map[string]*Flag{},
	}
}

func (r *Flags) reindex(list []*Flag) error {
	byID, err := indexBy(list, "flag id", func(f *Flag) (int64, bool) { return f.rec.ID, true })
	if err != nil {
		return err
	}
	byToken, err := indexBy(list, "flag token", func(f *Flag) (string, bool) { return f.rec.Token, f.rec.Token != "" })
	if err != nil {
		return err
	}
	r.list, r.byID, r.byToken = list, byID, byToken
	return nil
}

func (r *Flags) Reload(recs []store.FlagRecord) (Effect, error) {
	list := make([]*Flag, 0, len(recs))
	for _, rec := range recs {
		list = append(list, newFlag(rec, r.defaults))
	}
	if err := r.reindex(list); err != nil {
		return Effect{}, err
	}
	return Effect{NeedsReset: true}, nil
}

func (r *Flags) ApplyUpdate(id int64, rec *store.FlagRecord) (Effect, error) {
	old := r.byID[id]

	switch {
	case rec == nil:
		if old == nil {
			return Effect{}, nil
		}
		if err := r.reindex(without(r.list, func(f *Flag) bool { return f == old })); err != nil {
			return Effect{}, err
		}
		return Effect{NeedsReset: true}, nil

	case old == nil:
		list := append(slices.Clip(r.list), newFlag(*rec, r.defaults))
		if err := r.reindex(list); err != nil {
			return Effect{}, err
		}
		// a flag nobody has solved can still complete or block a challenge
		return Effect{NeedsReset: true}, nil

	default:
		prev := old.rec
		old.rec = *rec
		if err := r.reindex(r.list); err != nil {
			old.rec = prev
			return Effect{}, err
		}
		old.rec = prev
		return old.onStoreReload(*rec, r.defaults), nil
	}
}

func (r *Flags) Get(id int64) (*Flag, bool) {
	f, ok := r.byID[id]
	return f, ok
}

func (r *Flags) ByToken(token string) (*Flag, bool) {
	f, ok := r.byToken[token]
	return f, ok
}

func (r *Flags) onScoreboardReset() {
	for _, f := range r.list {
		f.onScoreboardReset()
	}
}

func (r *Flags) onScoreboardBatchDone() {
	for _, f := range r.list {
		f.onScoreboardBatchDone()
	}
}

type Flag struct {
	rec store.FlagRecord
	// the record's policy, or the game default when the record names none
	params    store.PolicyParams
	policy    ScoringPolicy
	policyErr error

	solvers         map[int64]*Submission
	succSubmissions []*Submission
	curScore        int
	dirty           bool
}

func newFlag(rec store.FlagRecord, defaults store.PolicyParams) *Flag {
	f := &Flag{}
	f.onStoreReload(rec, defaults)
	f.onScoreboardReset()
	f.onScoreboardBatchDone()
	return f
}

func (f *Flag) onStoreReload(rec store.FlagRecord, defaults store.PolicyParams) Effect {
	changed := f.policy == nil && f.policyErr == nil ||
		f.rec.BaseScore != rec.BaseScore ||
		f.rec.Policy != rec.Policy ||
		f.rec.ChallengeID != rec.ChallengeID

	f.rec = rec
	if changed {
		f.params = rec.Policy
		if f.params.Kind == "" {
			f.params = defaults
		}
		f.policy, f.policyErr = NewPolicy(f.params, rec.BaseScore)
		if f.policyErr != nil {
			log.Printf("Flag %d: %v, scoring at floor", rec.ID, f.policyErr)
		}
		f.dirty = true
	}
	return Effect{NeedsReset: changed}
}

func (f *Flag) onScoreboardReset() {
	f.solvers = map[int64]*Submission{}
	f.succSubmissions = nil
	f.dirty = true
}

// onScoreboardUpdate records sub as a solve of f and reports whether it is
// the user's first solve of this flag.
func (f *Flag) onScoreboardUpdate(sub *Submission) bool {
	f.succSubmissions = append(f.succSubmissions, sub)
	if _, seen := f.solvers[sub.UserID()]; seen {
		return false
	}
	f.solvers[sub.UserID()] = sub
	f.dirty = true
	return true
}

func (f *Flag) onScoreboardBatchDone() {
	if !f.dirty {
		return
	}
	f.curScore = f.scoreFor(len(f.solvers))
	f.dirty = false
}

func (f *Flag) scoreFor(solvers int) int {
	if f.policy == nil {
		return fallbackScore(f.rec.BaseScore, f.params.MinScore)
	}
	return f.policy.Score(solvers)
}

func (f *Flag) ID() int64          { return f.rec.ID }
func (f *Flag) ChallengeID() int64 { return f.rec.ChallengeID }
func (f *Flag) BaseScore() int     { return f.rec.BaseScore }
func (f *Flag) CurrentScore() int  { return f.curScore }
func (f *Flag) SolverCount() int   { return len(f.solvers) }

func (f *Flag) SolvedBy(uid int64) bool {
	_, ok := f.solvers[uid]
	return ok
}
