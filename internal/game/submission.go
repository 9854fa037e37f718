package game

import (
	"time"

	"scoreboardAPI/internal/store"
)

// Submission is a persisted attempt with its matched flag resolved against the
// flag registry. It never changes after construction.
type Submission struct {
	rec    store.SubmissionRecord
	flagID int64
	chalID int64
	ok     bool
}

func (s *Submission) ID() int64            { return s.rec.ID }
func (s *Submission) UserID() int64        { return s.rec.UserID }
func (s *Submission) CreatedAt() time.Time { return s.rec.CreatedAt }

// MatchedFlag returns the flag id and its challenge id, ok is false for wrong
// answers.
func (s *Submission) MatchedFlag() (flagID, challengeID int64, ok bool) {
	return s.flagID, s.chalID, s.ok
}
