package game

import "errors"

var (
	// ErrDuplicateKey is returned when an update would make two entities share
	// an id, login key, auth token, challenge key or flag token.
	ErrDuplicateKey = errors.New("duplicate secondary key")

	// ErrConsistency marks a submission that references an unknown user, flag
	// or challenge. The batch is aborted and the next run starts from a reset.
	ErrConsistency = errors.New("consistency violation")

	// ErrScoreboardUnavailable is returned by reads while no batch has
	// completed since the last failed reset.
	ErrScoreboardUnavailable = errors.New("scoreboard unavailable")

	ErrNotFound     = errors.New("not found")
	ErrUnknownBoard = errors.New("unknown board")
	ErrPolicy       = errors.New("invalid scoring policy")
)

// CheckError is a coded refusal returned by the eligibility checks.
type CheckError struct {
	Code    string
	Message string
}

func (e *CheckError) Error() string {
	return e.Code + ": " + e.Message
}

const (
	CodeUserDisabled   = "USER_DISABLED"
	CodeShouldAgree    = "SHOULD_AGREE_TERMS"
	CodeUserBanned     = "USER_BANNED"
	CodeShouldProfile  = "SHOULD_UPDATE_PROFILE"
	CodeNoSuchUser     = "NO_USER"
	CodeGameNotStarted = "NO_GAME"
	CodeInvalidParam   = "INVALID_PARAM"
	CodeRateLimit      = "RATE_LIMIT"
)
