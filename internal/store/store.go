package store

import "time"

// RecordKind names the table a change notification refers to.
type RecordKind string

const (
	KindUser         RecordKind = "user"
	KindChallenge    RecordKind = "challenge"
	KindFlag         RecordKind = "flag"
	KindTrigger      RecordKind = "trigger"
	KindSubmission   RecordKind = "submission"
	KindAnnouncement RecordKind = "announcement"
)

// Change is the payload of the record_changed notification channel.
type Change struct {
	Kind RecordKind `json:"kind"`
	ID   int64      `json:"id"`
}

type ProfileRecord struct {
	ID          int64             `json:"id" db:"id"`
	Fields      map[string]string `json:"fields" db:"fields"`
	TimestampMs int64             `json:"timestamp_ms" db:"timestamp_ms"`
}

// Field returns the value of a profile field, or "" when unset.
func (p ProfileRecord) Field(name string) string {
	if p.Fields == nil {
		return ""
	}
	return p.Fields[name]
}

type UserRecord struct {
	ID          int64         `json:"id" db:"id"`
	LoginKey    string        `json:"login_key" db:"login_key"`
	Group       string        `json:"group" db:"group"`
	Enabled     bool          `json:"enabled" db:"enabled"`
	TermsAgreed bool          `json:"terms_agreed" db:"terms_agreed"`
	AuthToken   string        `json:"-" db:"auth_token"`
	Token       string        `json:"token" db:"token"`
	Profile     ProfileRecord `json:"profile"`
}

type ChallengeRecord struct {
	ID                 int64   `json:"id" db:"id"`
	Key                string  `json:"key" db:"key"`
	Title              string  `json:"title" db:"title"`
	Category           string  `json:"category" db:"category"`
	SortIndex          int     `json:"sort_index" db:"sort_index"`
	FlagIDs            []int64 `json:"flag_ids" db:"flag_ids"`
	Enabled            bool    `json:"enabled" db:"enabled"`
	EffectiveAfterTick int     `json:"effective_after_tick" db:"effective_after_tick"`
}

type PolicyParams struct {
	Kind     string  `json:"kind" db:"policy_kind" yaml:"kind"`
	MinScore int     `json:"min_score" db:"min_score" yaml:"min_score"`
	Decay    float64 `json:"decay" db:"decay" yaml:"decay"`
}

type FlagRecord struct {
	ID          int64        `json:"id" db:"id"`
	ChallengeID int64        `json:"challenge_id" db:"challenge_id"`
	Name        string       `json:"name" db:"name"`
	Token       string       `json:"-" db:"token"`
	BaseScore   int          `json:"base_score" db:"base_score"`
	Policy      PolicyParams `json:"policy"`
}

// SubmissionRecord is a persisted flag attempt. FlagID is the flag the value
// matched at submit time, nil for wrong answers.
type SubmissionRecord struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Value     string    `json:"-" db:"value"`
	FlagID    *int64    `json:"flag_id,omitempty" db:"flag_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TriggerRecord struct {
	ID         int64  `json:"id" db:"id"`
	Tick       int    `json:"tick" db:"tick"`
	TimestampS int64  `json:"timestamp_s" db:"timestamp_s"`
	Name       string `json:"name" db:"name"`
}

type AnnouncementRecord struct {
	ID         int64  `json:"id" db:"id"`
	Title      string `json:"title" db:"title"`
	Content    string `json:"content" db:"content"`
	TimestampS int64  `json:"timestamp_s" db:"timestamp_s"`
}
