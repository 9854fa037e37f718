package game

import (
	"cmp"
	"slices"

	"scoreboardAPI/internal/store"
)

type Challenges struct {
	list  []*Challenge
	byID  map[int64]*Challenge
	byKey map[string]*Challenge
}

func newChallenges() *Challenges {
	return &Challenges{
		byID:  map[int64]*Challenge{},
		byKey: map[string]*Challenge{},
	}
}

func (r *Challenges) reindex(list []*Challenge) error {
	byID, err := indexBy(list, "challenge id", func(c *Challenge) (int64, bool) { return c.rec.ID, true })
	if err != nil {
		return err
	}
	byKey, err := indexBy(list, "challenge key", func(c *Challenge) (string, bool) { return c.rec.Key, c.rec.Key != "" })
	if err != nil {
		return err
	}

	slices.SortStableFunc(list, func(a, b *Challenge) int {
		if a.rec.SortIndex != b.rec.SortIndex {
			return cmp.Compare(a.rec.SortIndex, b.rec.SortIndex)
		}
		return cmp.Compare(a.rec.ID, b.rec.ID)
	})
	r.list, r.byID, r.byKey = list, byID, byKey
	return nil
}

func (r *Challenges) Reload(recs []store.ChallengeRecord) (Effect, error) {
	list := make([]*Challenge, 0, len(recs))
	for _, rec := range recs {
		list = append(list, newChallenge(rec))
	}
	if err := r.reindex(list); err != nil {
		return Effect{}, err
	}
	return Effect{NeedsReset: true}, nil
}

func (r *Challenges) ApplyUpdate(id int64, rec *store.ChallengeRecord) (Effect, error) {
	old := r.byID[id]

	switch {
	case rec == nil:
		if old == nil {
			return Effect{}, nil
		}
		if err := r.reindex(without(r.list, func(c *Challenge) bool { return c == old })); err != nil {
			return Effect{}, err
		}
		return Effect{NeedsReset: true}, nil

	case old == nil:
		list := append(slices.Clone(r.list), newChallenge(*rec))
		if err := r.reindex(list); err != nil {
			return Effect{}, err
		}
		return Effect{NeedsReset: true}, nil

	default:
		prev := old.rec
		old.rec = *rec
		// reindex sorts in place, so hand it a copy to keep r.list intact on failure
		if err := r.reindex(slices.Clone(r.list)); err != nil {
			old.rec = prev
			return Effect{}, err
		}
		old.rec = prev
		return old.onStoreReload(*rec), nil
	}
}

func (r *Challenges) Get(id int64) (*Challenge, bool) {
	c, ok := r.byID[id]
	return c, ok
}

func (r *Challenges) ByKey(key string) (*Challenge, bool) {
	c, ok := r.byKey[key]
	return c, ok
}

func (r *Challenges) onScoreboardReset() {
	for _, c := range r.list {
		c.onScoreboardReset()
	}
}

func (r *Challenges) onScoreboardBatchDone(flags *Flags) {
	for _, c := range r.list {
		c.onScoreboardBatchDone(flags)
	}
}

type Challenge struct {
	rec store.ChallengeRecord

	passedUsers  map[int64]struct{}
	touchedUsers map[int64]struct{}

	totBaseScore int
	totCurScore  int
}

func newChallenge(rec store.ChallengeRecord) *Challenge {
	c := &Challenge{rec: rec}
	c.onScoreboardReset()
	return c
}

func (c *Challenge) onStoreReload(rec store.ChallengeRecord) Effect {
	reset := c.rec.Category != rec.Category || !slices.Equal(c.rec.FlagIDs, rec.FlagIDs)
	c.rec = rec
	return Effect{NeedsReset: reset}
}

func (c *Challenge) onScoreboardReset() {
	c.passedUsers = map[int64]struct{}{}
	c.touchedUsers = map[int64]struct{}{}
}

// onScoreboardUpdate marks the submitting user as touching c, and as passing
// it when solvedAll says every flag of c is now solved by that user.
func (c *Challenge) onScoreboardUpdate(sub *Submission, solvedAll bool) {
	c.touchedUsers[sub.UserID()] = struct{}{}
	if solvedAll {
		c.passedUsers[sub.UserID()] = struct{}{}
	}
}

func (c *Challenge) onScoreboardBatchDone(flags *Flags) {
	c.totBaseScore, c.totCurScore = 0, 0
	for _, fid := range c.rec.FlagIDs {
		if f, ok := flags.Get(fid); ok {
			c.totBaseScore += f.BaseScore()
			c.totCurScore += f.CurrentScore()
		}
	}
}

// solvedAllBy reports whether uid holds a solve for every flag of c.
func (c *Challenge) solvedAllBy(uid int64, flags *Flags) bool {
	if len(c.rec.FlagIDs) == 0 {
		return false
	}
	for _, fid := range c.rec.FlagIDs {
		f, ok := flags.Get(fid)
		if !ok || !f.SolvedBy(uid) {
			return false
		}
	}
	return true
}

// effective reports whether c is visible and accepts flags at tick.
func (c *Challenge) effective(tick int) bool {
	return c.rec.Enabled && tick >= c.rec.EffectiveAfterTick
}

func (c *Challenge) ID() int64        { return c.rec.ID }
func (c *Challenge) Category() string { return c.rec.Category }

func (c *Challenge) PassedBy(uid int64) bool {
	_, ok := c.passedUsers[uid]
	return ok
}

func (c *Challenge) TouchedBy(uid int64) bool {
	_, ok := c.touchedUsers[uid]
	return ok
}
