package game

import (
	"fmt"
	"log"
	"sync"

	"scoreboardAPI/internal/config"
	"scoreboardAPI/internal/store"
)

// Snapshot is a full materialized copy of the store used for cold start and
// full resync.
type Snapshot struct {
	Users         []store.UserRecord
	Challenges    []store.ChallengeRecord
	Flags         []store.FlagRecord
	Triggers      []store.TriggerRecord
	Announcements []store.AnnouncementRecord
}

// Game is the root of the in-memory competition state. A single writer
// mutates it under mu; readers take the read lock and copy out what they need.
type Game struct {
	mu  sync.RWMutex
	cfg *config.Config

	users         *Users
	challenges    *Challenges
	flags         *Flags
	triggers      *Triggers
	announcements *Announcements

	boards     []*Board
	boardByKey map[string]*Board

	// replayed submissions, ascending id
	submissions []*Submission
	cursor      int64
	revision    int64
	needsReset  bool
	computed    bool
}

func New(cfg *config.Config) *Game {
	g := &Game{
		cfg:           cfg,
		users:         newUsers(),
		challenges:    newChallenges(),
		flags:         newFlags(cfg.DefaultPolicy),
		triggers:      newTriggers(),
		announcements: newAnnouncements(),
		boardByKey:    map[string]*Board{},
		needsReset:    true,
	}
	for _, bc := range cfg.Boards {
		b := newBoard(bc)
		g.boards = append(g.boards, b)
		g.boardByKey[b.key] = b
	}
	return g
}

func (g *Game) Config() *config.Config {
	return g.cfg
}

// Load replaces every registry from snap. Nothing is replaced when any
// registry rejects its records.
func (g *Game) Load(snap Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	users, challenges, flags, triggers := newUsers(), newChallenges(), newFlags(g.cfg.DefaultPolicy), newTriggers()
	if _, err := users.Reload(snap.Users); err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	if _, err := challenges.Reload(snap.Challenges); err != nil {
		return fmt.Errorf("failed to load challenges: %w", err)
	}
	if _, err := flags.Reload(snap.Flags); err != nil {
		return fmt.Errorf("failed to load flags: %w", err)
	}
	if _, err := triggers.Reload(snap.Triggers); err != nil {
		return fmt.Errorf("failed to load triggers: %w", err)
	}
	announcements := newAnnouncements()
	if _, err := announcements.Reload(snap.Announcements); err != nil {
		return fmt.Errorf("failed to load announcements: %w", err)
	}

	g.users, g.challenges, g.flags, g.triggers = users, challenges, flags, triggers
	g.announcements = announcements
	g.needsReset = true
	log.Printf("Game: loaded %d users, %d challenges, %d flags, %d triggers, %d announcements",
		len(snap.Users), len(snap.Challenges), len(snap.Flags), len(snap.Triggers), len(snap.Announcements))
	return nil
}

func (g *Game) ApplyUser(id int64, rec *store.UserRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	eff, err := g.users.ApplyUpdate(id, rec)
	return g.absorb(store.KindUser, id, eff, err)
}

func (g *Game) ApplyChallenge(id int64, rec *store.ChallengeRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	eff, err := g.challenges.ApplyUpdate(id, rec)
	return g.absorb(store.KindChallenge, id, eff, err)
}

func (g *Game) ApplyFlag(id int64, rec *store.FlagRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	eff, err := g.flags.ApplyUpdate(id, rec)
	return g.absorb(store.KindFlag, id, eff, err)
}

func (g *Game) ApplyTrigger(id int64, rec *store.TriggerRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	eff, err := g.triggers.ApplyUpdate(id, rec)
	return g.absorb(store.KindTrigger, id, eff, err)
}

func (g *Game) ApplyAnnouncement(id int64, rec *store.AnnouncementRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	eff, err := g.announcements.ApplyUpdate(id, rec)
	return g.absorb(store.KindAnnouncement, id, eff, err)
}

// absorb folds a registry result into the game state. Callers hold mu.
func (g *Game) absorb(kind store.RecordKind, id int64, eff Effect, err error) error {
	if err != nil {
		return fmt.Errorf("failed to apply %s %d: %w", kind, id, err)
	}
	if eff.NeedsReset && !g.needsReset {
		log.Printf("Game: %s %d changed ranking inputs, scoreboard reset scheduled", kind, id)
	}
	g.needsReset = g.needsReset || eff.NeedsReset
	return nil
}

// NeedsReset reports whether the next Sync has to replay the full history.
func (g *Game) NeedsReset() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.needsReset
}

// Cursor is the id of the last replayed submission.
func (g *Game) Cursor() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cursor
}

func (g *Game) Revision() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.revision
}

// flagScore implements scoreLookup over the registries.
func (g *Game) flagScore(flagID int64) (int, string, bool) {
	f, ok := g.flags.Get(flagID)
	if !ok {
		return 0, "", false
	}
	c, ok := g.challenges.Get(f.ChallengeID())
	if !ok {
		return 0, "", false
	}
	return f.CurrentScore(), c.Category(), true
}

// FlagChallengeID returns the challenge a known flag belongs to.
func (g *Game) FlagChallengeID(flagID int64) (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.flags.Get(flagID)
	if !ok {
		return 0, false
	}
	return f.ChallengeID(), true
}
