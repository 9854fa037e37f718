package game

import (
	"cmp"
	"slices"
	"time"

	"scoreboardAPI/internal/store"
)

const (
	TriggerPast    = "pst"
	TriggerPresent = "prs"
	TriggerFuture  = "ftr"
)

type TriggerStatus struct {
	TimestampS int64  `json:"timestamp_s"`
	Name       string `json:"name"`
	Tick       int    `json:"tick"`
	Status     string `json:"status"`
}

// Triggers holds the competition timeline. Each trigger switches the game to
// its tick once its timestamp has passed.
type Triggers struct {
	list []store.TriggerRecord
}

func newTriggers() *Triggers {
	return &Triggers{}
}

func (r *Triggers) Reload(recs []store.TriggerRecord) (Effect, error) {
	list := slices.Clone(recs)
	if _, err := indexBy(list, "trigger id", func(t store.TriggerRecord) (int64, bool) { return t.ID, true }); err != nil {
		return Effect{}, err
	}
	sortTriggers(list)
	r.list = list
	return Effect{}, nil
}

// ApplyUpdate never asks for a reset: ticks only gate visibility and
// submission, not scoring.
func (r *Triggers) ApplyUpdate(id int64, rec *store.TriggerRecord) (Effect, error) {
	list := without(r.list, func(t store.TriggerRecord) bool { return t.ID == id })
	if rec != nil {
		list = append(list, *rec)
	}
	sortTriggers(list)
	r.list = list
	return Effect{}, nil
}

func sortTriggers(list []store.TriggerRecord) {
	slices.SortStableFunc(list, func(a, b store.TriggerRecord) int {
		if a.TimestampS != b.TimestampS {
			return cmp.Compare(a.TimestampS, b.TimestampS)
		}
		return cmp.Compare(a.Tick, b.Tick)
	})
}

// CurrentTick is the tick of the latest trigger not in the future, 0 before
// the first one fires.
func (r *Triggers) CurrentTick(now time.Time) int {
	tick := 0
	for _, t := range r.list {
		if t.TimestampS > now.Unix() {
			break
		}
		tick = t.Tick
	}
	return tick
}

func (r *Triggers) Statuses(now time.Time) []TriggerStatus {
	cur := r.CurrentTick(now)
	out := make([]TriggerStatus, 0, len(r.list))
	for _, t := range r.list {
		status := TriggerPast
		switch {
		case t.Tick == cur:
			status = TriggerPresent
		case t.Tick > cur:
			status = TriggerFuture
		}
		out = append(out, TriggerStatus{TimestampS: t.TimestampS, Name: t.Name, Tick: t.Tick, Status: status})
	}
	return out
}
