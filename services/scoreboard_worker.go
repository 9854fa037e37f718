package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"scoreboardAPI/internal/game"
	"scoreboardAPI/internal/store"
)

// RecordStore is the part of RecordService the worker depends on.
type RecordStore interface {
	LoadSnapshot(ctx context.Context) (game.Snapshot, error)
	ListSubmissionsSince(ctx context.Context, cursor int64) ([]store.SubmissionRecord, error)
	GetUser(ctx context.Context, id int64) (*store.UserRecord, error)
	GetChallenge(ctx context.Context, id int64) (*store.ChallengeRecord, error)
	GetFlag(ctx context.Context, id int64) (*store.FlagRecord, error)
	GetTrigger(ctx context.Context, id int64) (*store.TriggerRecord, error)
	GetAnnouncement(ctx context.Context, id int64) (*store.AnnouncementRecord, error)
	InsertSubmission(ctx context.Context, rec store.SubmissionRecord) (int64, error)
	InsertProfile(ctx context.Context, uid int64, fields map[string]string, timestampMs int64) error
	SetTermsAgreed(ctx context.Context, uid int64) error
	ListenChanges(ctx context.Context, fn func(store.Change)) error
}

// Publisher fans events out to push clients.
type Publisher interface {
	Publish(event PushEvent)
}

const (
	listenRetryDelay = 5 * time.Second
	kickInterval     = 250 * time.Millisecond
)

// ScoreboardWorker keeps the game in step with the store. It applies record
// notifications as they arrive and runs a scoreboard batch on every tick or
// kick.
type ScoreboardWorker struct {
	game     *game.Game
	records  RecordStore
	push     Publisher
	interval time.Duration

	kick    chan struct{}
	limiter *rate.Limiter
	group   singleflight.Group

	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewScoreboardWorker(g *game.Game, records RecordStore, push Publisher, interval time.Duration) *ScoreboardWorker {
	return &ScoreboardWorker{
		game:     g,
		records:  records,
		push:     push,
		interval: interval,
		kick:     make(chan struct{}, 1),
		limiter:  rate.NewLimiter(rate.Every(kickInterval), 1),
		stopChan: make(chan struct{}),
	}
}

// Start launches the sync loop and the change listener.
func (w *ScoreboardWorker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(2)
	go w.run(ctx)
	go w.listen(ctx)
	log.Printf("ScoreboardWorker: started, sync interval %v", w.interval)
}

func (w *ScoreboardWorker) Stop() {
	close(w.stopChan)
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	log.Println("ScoreboardWorker: stopped")
}

// Kick asks for a batch soon. Kicks arriving while one is pending collapse
// into it.
func (w *ScoreboardWorker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *ScoreboardWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.syncLogged(ctx)
		case <-w.kick:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			w.syncLogged(ctx)
		case <-w.stopChan:
			return
		}
	}
}

func (w *ScoreboardWorker) syncLogged(ctx context.Context) {
	if _, err := w.SyncNow(ctx); err != nil && ctx.Err() == nil {
		log.Printf("ScoreboardWorker: sync failed: %v", err)
	}
}

// listen follows the change feed. A broken feed may have dropped
// notifications, so every reconnect starts from a fresh snapshot.
func (w *ScoreboardWorker) listen(ctx context.Context) {
	defer w.wg.Done()

	for {
		err := w.records.ListenChanges(ctx, func(ch store.Change) {
			w.HandleChange(ctx, ch)
		})
		if ctx.Err() != nil {
			return
		}
		log.Printf("ScoreboardWorker: change feed lost: %v", err)

		select {
		case <-time.After(listenRetryDelay):
		case <-w.stopChan:
			return
		}
		if err := w.Reload(ctx); err != nil {
			log.Printf("ScoreboardWorker: reload after reconnect failed: %v", err)
		}
		w.Kick()
	}
}

// Reload replaces every registry with a fresh snapshot from the store. The
// next batch is a full replay.
func (w *ScoreboardWorker) Reload(ctx context.Context) error {
	snap, err := w.records.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if err := w.game.Load(snap); err != nil {
		return fmt.Errorf("failed to load game: %w", err)
	}
	scoreboardUsers.Set(float64(len(snap.Users)))
	return nil
}

// SyncNow runs one batch and returns its report. Concurrent callers share a
// single run.
func (w *ScoreboardWorker) SyncNow(ctx context.Context) (*game.BatchReport, error) {
	v, err, _ := w.group.Do("sync", func() (any, error) {
		return w.sync(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*game.BatchReport), nil
}

func (w *ScoreboardWorker) sync(ctx context.Context) (*game.BatchReport, error) {
	full := w.game.NeedsReset()
	cursor := w.game.Cursor()
	mode := game.ModeIncremental
	if full {
		cursor = 0
		mode = game.ModeReset
	}

	subs, err := w.records.ListSubmissionsSince(ctx, cursor)
	if err != nil {
		return nil, err
	}

	report, err := w.game.Sync(subs, full)
	if err != nil {
		scoreboardBatchesTotal.WithLabelValues(string(mode), "error").Inc()
		if errors.Is(err, game.ErrConsistency) {
			// the registries are behind the submission log
			if rerr := w.Reload(ctx); rerr != nil {
				log.Printf("ScoreboardWorker: reload after consistency error failed: %v", rerr)
			}
		}
		return nil, fmt.Errorf("scoreboard batch failed: %w", err)
	}

	scoreboardBatchesTotal.WithLabelValues(string(report.Mode), "ok").Inc()
	scoreboardBatchDuration.WithLabelValues(string(report.Mode)).Observe(report.Duration.Seconds())
	scoreboardReplayedTotal.Add(float64(report.Replayed))
	scoreboardRevision.Set(float64(report.Revision))

	if report.Mode == game.ModeReset || report.Replayed > 0 {
		w.publish(PushEvent{Action: ActionScoreboardUpdated, Revision: report.Revision, BatchID: report.ID.String()})
	}
	return report, nil
}

// HandleChange applies one record notification to the game.
func (w *ScoreboardWorker) HandleChange(ctx context.Context, ch store.Change) {
	var err error

	switch ch.Kind {
	case store.KindSubmission:
		w.Kick()
		return

	case store.KindUser:
		err = w.refreshUser(ctx, ch.ID)

	case store.KindChallenge:
		err = w.refreshChallenge(ctx, ch.ID)

	case store.KindFlag:
		err = w.refreshFlag(ctx, ch.ID)

	case store.KindTrigger:
		var rec *store.TriggerRecord
		if rec, err = w.records.GetTrigger(ctx, ch.ID); err == nil {
			err = w.game.ApplyTrigger(ch.ID, rec)
		}
		if err == nil {
			w.publish(PushEvent{Action: ActionTriggersUpdated})
		}

	case store.KindAnnouncement:
		var rec *store.AnnouncementRecord
		if rec, err = w.records.GetAnnouncement(ctx, ch.ID); err == nil {
			err = w.game.ApplyAnnouncement(ch.ID, rec)
		}
		if err == nil {
			w.publish(PushEvent{Action: ActionAnnouncementsUpdated})
		}

	default:
		log.Printf("ScoreboardWorker: ignoring change of unknown kind %q", ch.Kind)
		return
	}

	if err != nil {
		log.Printf("ScoreboardWorker: failed to apply %s %d: %v", ch.Kind, ch.ID, err)
		if errors.Is(err, game.ErrDuplicateKey) {
			if rerr := w.Reload(ctx); rerr != nil {
				log.Printf("ScoreboardWorker: reload failed: %v", rerr)
			}
		}
	}
	if w.game.NeedsReset() {
		w.Kick()
	}
}

func (w *ScoreboardWorker) refreshUser(ctx context.Context, id int64) error {
	rec, err := w.records.GetUser(ctx, id)
	if err != nil {
		return err
	}
	return w.game.ApplyUser(id, rec)
}

func (w *ScoreboardWorker) refreshChallenge(ctx context.Context, id int64) error {
	rec, err := w.records.GetChallenge(ctx, id)
	if err != nil {
		return err
	}
	return w.game.ApplyChallenge(id, rec)
}

// refreshFlag applies a flag change and re-reads the challenges on both
// sides of it, since a challenge record lists its flags.
func (w *ScoreboardWorker) refreshFlag(ctx context.Context, id int64) error {
	oldChal, known := w.game.FlagChallengeID(id)

	rec, err := w.records.GetFlag(ctx, id)
	if err != nil {
		return err
	}
	if err := w.game.ApplyFlag(id, rec); err != nil {
		return err
	}

	if known {
		if err := w.refreshChallenge(ctx, oldChal); err != nil {
			return err
		}
	}
	if rec != nil && (!known || rec.ChallengeID != oldChal) {
		return w.refreshChallenge(ctx, rec.ChallengeID)
	}
	return nil
}

// Submit checks uid may play, matches value against the open flags and
// persists the attempt. The scoreboard picks it up on the next batch.
func (w *ScoreboardWorker) Submit(ctx context.Context, uid int64, value string, now time.Time) (game.FlagMatch, error) {
	if cerr := w.game.CheckPlayGame(uid); cerr != nil {
		return game.FlagMatch{}, cerr
	}

	m := w.game.MatchFlag(value, now)
	rec := store.SubmissionRecord{UserID: uid, Value: value, CreatedAt: now}
	if m.Correct {
		fid := m.FlagID
		rec.FlagID = &fid
	}

	id, err := w.records.InsertSubmission(ctx, rec)
	if err != nil {
		return game.FlagMatch{}, fmt.Errorf("failed to record submission: %w", err)
	}
	log.Printf("ScoreboardWorker: submission %d by user %d, correct=%v", id, uid, m.Correct)

	w.Kick()
	return m, nil
}

// UpdateProfile validates and stores a new profile for uid. The game sees it
// before UpdateProfile returns; the change notification that follows is a
// no-op.
func (w *ScoreboardWorker) UpdateProfile(ctx context.Context, uid int64, fields map[string]string, now time.Time) error {
	clean, err := w.game.CheckProfileUpdate(uid, fields, now)
	if err != nil {
		return err
	}
	if err := w.records.InsertProfile(ctx, uid, clean, now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record profile: %w", err)
	}
	log.Printf("ScoreboardWorker: profile of user %d updated", uid)
	return w.refreshUser(ctx, uid)
}

// AgreeTerms marks uid as having agreed to the terms. Agreeing twice is a
// no-op.
func (w *ScoreboardWorker) AgreeTerms(ctx context.Context, uid int64) error {
	u, err := w.game.UserByID(uid)
	if err != nil {
		if errors.Is(err, game.ErrNotFound) {
			return &game.CheckError{Code: game.CodeNoSuchUser, Message: "not logged in"}
		}
		return err
	}
	if u.TermsAgreed {
		return nil
	}
	if err := w.records.SetTermsAgreed(ctx, uid); err != nil {
		return fmt.Errorf("failed to record terms: %w", err)
	}
	log.Printf("ScoreboardWorker: user %d agreed to the terms", uid)
	return w.refreshUser(ctx, uid)
}

func (w *ScoreboardWorker) publish(ev PushEvent) {
	if w.push != nil {
		w.push.Publish(ev)
	}
}
