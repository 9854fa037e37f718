package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"scoreboardAPI/internal/game"
	"scoreboardAPI/internal/store"
)

// ChangeChannel is the Postgres notification channel every record write is
// announced on.
const ChangeChannel = "record_changed"

// RecordService reads and writes the competition records in Postgres.
type RecordService struct {
	db *pgxpool.Pool
}

func NewRecordService(db *pgxpool.Pool) *RecordService {
	return &RecordService{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userSelect = `
	SELECT u.id, u.login_key, u.grp, u.enabled, u.terms_agreed,
		   COALESCE(u.auth_token, ''), u.token,
		   COALESCE(p.id, 0), COALESCE(p.fields, '{}'::jsonb), COALESCE(p.timestamp_ms, 0)
	FROM users u
	LEFT JOIN LATERAL (
		SELECT id, fields, timestamp_ms
		FROM user_profiles
		WHERE user_id = u.id
		ORDER BY timestamp_ms DESC, id DESC
		LIMIT 1
	) p ON TRUE
`

func scanUser(row rowScanner) (store.UserRecord, error) {
	var u store.UserRecord
	err := row.Scan(
		&u.ID, &u.LoginKey, &u.Group, &u.Enabled, &u.TermsAgreed,
		&u.AuthToken, &u.Token,
		&u.Profile.ID, &u.Profile.Fields, &u.Profile.TimestampMs,
	)
	return u, err
}

const challengeSelect = `
	SELECT c.id, c.key, c.title, c.category, c.sort_index, c.enabled, c.effective_after_tick,
		   COALESCE(array_agg(f.id ORDER BY f.id) FILTER (WHERE f.id IS NOT NULL), '{}')
	FROM challenges c
	LEFT JOIN flags f ON f.challenge_id = c.id
`

func scanChallenge(row rowScanner) (store.ChallengeRecord, error) {
	var c store.ChallengeRecord
	err := row.Scan(&c.ID, &c.Key, &c.Title, &c.Category, &c.SortIndex, &c.Enabled, &c.EffectiveAfterTick, &c.FlagIDs)
	return c, err
}

const flagSelect = `
	SELECT id, challenge_id, name, token, base_score, policy_kind, policy_min_score, policy_decay
	FROM flags
`

func scanFlag(row rowScanner) (store.FlagRecord, error) {
	var f store.FlagRecord
	err := row.Scan(&f.ID, &f.ChallengeID, &f.Name, &f.Token, &f.BaseScore,
		&f.Policy.Kind, &f.Policy.MinScore, &f.Policy.Decay)
	return f, err
}

const triggerSelect = `SELECT id, tick, timestamp_s, name FROM triggers`

func scanTrigger(row rowScanner) (store.TriggerRecord, error) {
	var t store.TriggerRecord
	err := row.Scan(&t.ID, &t.Tick, &t.TimestampS, &t.Name)
	return t, err
}

const announcementSelect = `SELECT id, title, content, timestamp_s FROM announcements`

func scanAnnouncement(row rowScanner) (store.AnnouncementRecord, error) {
	var a store.AnnouncementRecord
	err := row.Scan(&a.ID, &a.Title, &a.Content, &a.TimestampS)
	return a, err
}

func scanSubmission(row rowScanner) (store.SubmissionRecord, error) {
	var s store.SubmissionRecord
	err := row.Scan(&s.ID, &s.UserID, &s.Value, &s.FlagID, &s.CreatedAt)
	return s, err
}

// listRows runs query and scans every row with scan.
func listRows[T any](ctx context.Context, db *pgxpool.Pool, what string, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}
	return out, nil
}

// getRow returns nil when no row matches.
func getRow[T any](ctx context.Context, db *pgxpool.Pool, what string, scan func(rowScanner) (T, error), query string, args ...any) (*T, error) {
	v, err := scan(db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return &v, nil
}

func (s *RecordService) ListUsers(ctx context.Context) ([]store.UserRecord, error) {
	return listRows(ctx, s.db, "users", scanUser, userSelect+` ORDER BY u.id`)
}

func (s *RecordService) ListChallenges(ctx context.Context) ([]store.ChallengeRecord, error) {
	return listRows(ctx, s.db, "challenges", scanChallenge, challengeSelect+` GROUP BY c.id ORDER BY c.id`)
}

func (s *RecordService) ListFlags(ctx context.Context) ([]store.FlagRecord, error) {
	return listRows(ctx, s.db, "flags", scanFlag, flagSelect+` ORDER BY id`)
}

func (s *RecordService) ListTriggers(ctx context.Context) ([]store.TriggerRecord, error) {
	return listRows(ctx, s.db, "triggers", scanTrigger, triggerSelect+` ORDER BY timestamp_s, tick`)
}

func (s *RecordService) ListAnnouncements(ctx context.Context) ([]store.AnnouncementRecord, error) {
	return listRows(ctx, s.db, "announcements", scanAnnouncement, announcementSelect+` ORDER BY timestamp_s DESC, id DESC`)
}

// ListSubmissionsSince returns submissions with id above cursor in id order.
func (s *RecordService) ListSubmissionsSince(ctx context.Context, cursor int64) ([]store.SubmissionRecord, error) {
	query := `
		SELECT id, user_id, value, flag_id, created_at
		FROM submissions
		WHERE id > $1
		ORDER BY id
	`
	return listRows(ctx, s.db, "submissions", scanSubmission, query, cursor)
}

func (s *RecordService) GetUser(ctx context.Context, id int64) (*store.UserRecord, error) {
	return getRow(ctx, s.db, "user", scanUser, userSelect+` WHERE u.id = $1`, id)
}

func (s *RecordService) GetChallenge(ctx context.Context, id int64) (*store.ChallengeRecord, error) {
	return getRow(ctx, s.db, "challenge", scanChallenge, challengeSelect+` WHERE c.id = $1 GROUP BY c.id`, id)
}

func (s *RecordService) GetFlag(ctx context.Context, id int64) (*store.FlagRecord, error) {
	return getRow(ctx, s.db, "flag", scanFlag, flagSelect+` WHERE id = $1`, id)
}

func (s *RecordService) GetTrigger(ctx context.Context, id int64) (*store.TriggerRecord, error) {
	return getRow(ctx, s.db, "trigger", scanTrigger, triggerSelect+` WHERE id = $1`, id)
}

func (s *RecordService) GetAnnouncement(ctx context.Context, id int64) (*store.AnnouncementRecord, error) {
	return getRow(ctx, s.db, "announcement", scanAnnouncement, announcementSelect+` WHERE id = $1`, id)
}

// lockUser takes a share lock on the user row, or reports game.ErrNotFound.
func lockUser(ctx context.Context, tx pgx.Tx, uid int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR SHARE`, uid).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("user %d: %w", uid, game.ErrNotFound)
		}
		return fmt.Errorf("failed to check user: %w", err)
	}
	return nil
}

// InsertProfile stores a new profile version for uid. The latest version by
// timestamp is the one users are read with.
func (s *RecordService) InsertProfile(ctx context.Context, uid int64, fields map[string]string, timestampMs int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, uid); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_profiles (user_id, fields, timestamp_ms)
		VALUES ($1, $2, $3)
	`, uid, fields, timestampMs)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit profile: %w", err)
	}
	return nil
}

func (s *RecordService) SetTermsAgreed(ctx context.Context, uid int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET terms_agreed = TRUE WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("failed to update terms: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", uid, game.ErrNotFound)
	}
	return nil
}

// InsertSubmission persists rec and returns its id. The user row is locked
// for the duration so a concurrent delete cannot orphan the submission.
func (s *RecordService) InsertSubmission(ctx context.Context, rec store.SubmissionRecord) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, rec.UserID); err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO submissions (user_id, value, flag_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, rec.UserID, rec.Value, rec.FlagID, rec.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert submission: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit submission: %w", err)
	}
	return id, nil
}

// LoadSnapshot reads every registry table concurrently.
func (s *RecordService) LoadSnapshot(ctx context.Context) (game.Snapshot, error) {
	var snap game.Snapshot
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.Users, err = s.ListUsers(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Challenges, err = s.ListChallenges(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Flags, err = s.ListFlags(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Triggers, err = s.ListTriggers(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Announcements, err = s.ListAnnouncements(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return game.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return snap, nil
}

// ListenChanges blocks on the change channel and calls fn for every
// notification until ctx is done or the connection fails.
func (s *RecordService) ListenChanges(ctx context.Context, fn func(store.Change)) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}
	log.Printf("RecordService: listening on %s", ChangeChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed waiting for notification: %w", err)
		}

		var ch store.Change
		if err := json.Unmarshal([]byte(n.Payload), &ch); err != nil {
			log.Printf("RecordService: dropping malformed notification %q: %v", n.Payload, err)
			continue
		}
		fn(ch)
	}
}
