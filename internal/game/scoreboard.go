package game

import (
	"cmp"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/google/uuid"

	"scoreboardAPI/internal/store"
)

type BatchMode string

const (
	ModeReset       BatchMode = "reset"
	ModeIncremental BatchMode = "incremental"
)

type BatchReport struct {
	ID         uuid.UUID     `json:"id"`
	Mode       BatchMode     `json:"mode"`
	Replayed   int           `json:"replayed"`
	Successful int           `json:"successful"`
	Revision   int64         `json:"revision"`
	Duration   time.Duration `json:"duration"`
}

// Sync runs one scoreboard batch.
//
// With full set, subs is the complete submission history and the state is
// rebuilt from it. Otherwise subs holds submissions fetched after Cursor();
// they are replayed incrementally, or, when a reset is pending, together with
// every submission already known.
//
// Every submission is validated before anything is touched. On a validation
// error the previous state stays readable and the next Sync is forced into a
// reset. A failure while applying leaves no computed state until a later
// reset succeeds.
func (g *Game) Sync(subs []store.SubmissionRecord, full bool) (*BatchReport, error) {
	start := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	reset := full || g.needsReset
	report := &BatchReport{ID: uuid.New(), Mode: ModeIncremental}
	if reset {
		report.Mode = ModeReset
	}

	recs := g.replaySet(subs, full, reset)
	replay, err := g.resolve(recs)
	if err != nil {
		g.needsReset = true
		return nil, err
	}

	if !reset && len(replay) == 0 {
		report.Revision = g.revision
		report.Duration = time.Since(start)
		return report, nil
	}

	succ, err := g.applyBatch(replay, reset, g.revision+1)
	if err != nil {
		g.computed = false
		g.needsReset = true
		return nil, err
	}

	if reset {
		g.submissions = replay
		g.cursor = 0
	} else {
		g.submissions = append(g.submissions, replay...)
	}
	if n := len(replay); n > 0 {
		g.cursor = max(g.cursor, replay[n-1].ID())
	}
	g.revision++
	g.needsReset = false
	g.computed = true

	report.Replayed = len(replay)
	report.Successful = succ
	report.Revision = g.revision
	report.Duration = time.Since(start)
	log.Printf("Scoreboard: batch %s mode=%s replayed=%d successful=%d revision=%d took=%s",
		report.ID, report.Mode, report.Replayed, report.Successful, report.Revision, report.Duration)
	return report, nil
}

// replaySet picks and orders the submissions to replay. Callers hold mu.
func (g *Game) replaySet(subs []store.SubmissionRecord, full, reset bool) []store.SubmissionRecord {
	var recs []store.SubmissionRecord
	switch {
	case full:
		recs = slices.Clone(subs)
	case reset:
		recs = make([]store.SubmissionRecord, 0, len(g.submissions)+len(subs))
		for _, s := range g.submissions {
			recs = append(recs, s.rec)
		}
		for _, s := range subs {
			if s.ID > g.cursor {
				recs = append(recs, s)
			}
		}
	default:
		for _, s := range subs {
			if s.ID > g.cursor {
				recs = append(recs, s)
			}
		}
	}

	// replay must follow arrival order
	slices.SortStableFunc(recs, func(a, b store.SubmissionRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return slices.CompactFunc(recs, func(a, b store.SubmissionRecord) bool {
		return a.ID == b.ID
	})
}

// resolve binds every record to its user and matched flag. Callers hold mu.
func (g *Game) resolve(recs []store.SubmissionRecord) ([]*Submission, error) {
	out := make([]*Submission, 0, len(recs))
	for _, rec := range recs {
		if _, ok := g.users.Get(rec.UserID); !ok {
			return nil, fmt.Errorf("%w: submission %d references unknown user %d", ErrConsistency, rec.ID, rec.UserID)
		}

		sub := &Submission{rec: rec}
		if rec.FlagID != nil {
			f, ok := g.flags.Get(*rec.FlagID)
			if !ok {
				return nil, fmt.Errorf("%w: submission %d references unknown flag %d", ErrConsistency, rec.ID, *rec.FlagID)
			}
			if _, ok := g.challenges.Get(f.ChallengeID()); !ok {
				return nil, fmt.Errorf("%w: flag %d belongs to unknown challenge %d", ErrConsistency, f.ID(), f.ChallengeID())
			}
			sub.flagID, sub.chalID, sub.ok = f.ID(), f.ChallengeID(), true
		}
		out = append(out, sub)
	}
	return out, nil
}

// applyBatch replays subs in order and then runs the deferred recomputation
// once: flags, challenge totals, user scores, boards. Callers hold mu.
func (g *Game) applyBatch(subs []*Submission, reset bool, revision int64) (succ int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: batch aborted: %v", ErrConsistency, r)
			log.Printf("Scoreboard: %v", err)
		}
	}()

	if reset {
		g.flags.onScoreboardReset()
		g.challenges.onScoreboardReset()
		g.users.onScoreboardReset()
	}

	for _, sub := range subs {
		u, _ := g.users.Get(sub.UserID())

		flagID, chalID, ok := sub.MatchedFlag()
		if !ok {
			u.onScoreboardUpdate(sub, false, true, g)
			continue
		}

		f, _ := g.flags.Get(flagID)
		c, _ := g.challenges.Get(chalID)

		f.onScoreboardUpdate(sub)
		c.onScoreboardUpdate(sub, c.solvedAllBy(u.ID(), g.flags))
		u.onScoreboardUpdate(sub, c.PassedBy(u.ID()), true, g)
		succ++
	}

	g.flags.onScoreboardBatchDone()
	g.challenges.onScoreboardBatchDone(g.flags)
	g.users.onScoreboardBatchDone(g)

	for _, b := range g.boards {
		b.rebuild(g.users.list, revision)
	}
	return succ, nil
}
