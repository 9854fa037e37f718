package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"scoreboardAPI/internal/config"
	"scoreboardAPI/internal/game"
	"scoreboardAPI/middleware"
)

const maxFlagLen = 256

// Actions are the writes a player can make. Implemented by
// services.ScoreboardWorker.
type Actions interface {
	Submit(ctx context.Context, uid int64, value string, now time.Time) (game.FlagMatch, error)
	UpdateProfile(ctx context.Context, uid int64, fields map[string]string, now time.Time) error
	AgreeTerms(ctx context.Context, uid int64) error
}

type GameHandler struct {
	game    *game.Game
	actions Actions
	now     func() time.Time
}

func NewGameHandler(g *game.Game, actions Actions) *GameHandler {
	return &GameHandler{
		game:    g,
		actions: actions,
		now:     time.Now,
	}
}

type featureInfo struct {
	Push bool `json:"push"`
	Game bool `json:"game"`
}

type gameInfoResponse struct {
	User       *game.UserView    `json:"user"`
	Feature    featureInfo       `json:"feature"`
	Boards     []config.Board    `json:"boards"`
	Categories []config.Category `json:"categories"`
}

// GetGameInfo describes the caller and what the client may show them.
func (h *GameHandler) GetGameInfo(w http.ResponseWriter, r *http.Request) {
	resp := gameInfoResponse{
		Feature:    featureInfo{Push: true},
		Boards:     h.game.BoardKeys(),
		Categories: h.game.Config().Categories,
	}

	if uid, ok := middleware.GetUserID(r.Context()); ok {
		u, err := h.game.UserByID(uid)
		if err == nil {
			resp.User = &u
			resp.Feature.Game = true
		}
	}

	respondWithJSON(w, http.StatusOK, resp)
}

type userInfo struct {
	ScoreByCategory []game.CategoryScore `json:"tot_score_by_cat"`
	StatusLine      string               `json:"status_line"`
	Board           string               `json:"board,omitempty"`
	Rank            int                  `json:"rank,omitempty"`
}

type gameResponse struct {
	Challenges       []game.ChallengeView `json:"challenge_list"`
	UserInfo         userInfo             `json:"user_info"`
	LastAnnouncement *game.Announcement   `json:"last_announcement"`
}

// GetGame lists the open challenges with the caller's progress.
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithCode(w, http.StatusUnauthorized, game.CodeNoSuchUser, "not logged in")
		return
	}

	v, err := h.game.GameView(uid, h.now())
	if err != nil {
		respondWithGameError(w, err)
		return
	}

	info := userInfo{ScoreByCategory: v.User.ScoreByCategory, Board: v.BoardKey, Rank: v.Rank}
	rankText, boardName := "--", "overall"
	if v.BoardName != "" {
		boardName = v.BoardName
	}
	if v.Rank > 0 {
		rankText = fmt.Sprintf("%d", v.Rank)
	}
	info.StatusLine = fmt.Sprintf("Total score %d, %s rank %s", v.User.TotalScore, boardName, rankText)

	respondWithJSON(w, http.StatusOK, gameResponse{
		Challenges:       v.Challenges,
		UserInfo:         info,
		LastAnnouncement: v.LastAnnouncement,
	})
}

func (h *GameHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	b, err := h.game.Board(key)
	if err != nil {
		respondWithGameError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, b)
}

type triggersResponse struct {
	Current int                  `json:"current"`
	List    []game.TriggerStatus `json:"list"`
}

func (h *GameHandler) GetTriggers(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	respondWithJSON(w, http.StatusOK, triggersResponse{
		Current: h.game.CurrentTick(now),
		List:    h.game.TriggerStatuses(now),
	})
}

type announcementsResponse struct {
	List []game.Announcement `json:"list"`
}

func (h *GameHandler) GetAnnouncements(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, announcementsResponse{List: h.game.Announcements()})
}

func (h *GameHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.game.Stats())
}

type submitRequest struct {
	Flag string `json:"flag"`
}

// SubmitFlag records an attempt for the authenticated user. The score shows
// up on the boards after the next batch.
func (h *GameHandler) SubmitFlag(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithCode(w, http.StatusUnauthorized, game.CodeNoSuchUser, "not logged in")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithCode(w, http.StatusBadRequest, CodeInvalidParam, "invalid request body")
		return
	}
	value := strings.TrimSpace(req.Flag)
	if value == "" {
		respondWithCode(w, http.StatusBadRequest, CodeInvalidParam, "flag is required")
		return
	}
	if utf8.RuneCountInString(value) > maxFlagLen {
		respondWithCode(w, http.StatusBadRequest, CodeInvalidParam, "flag is too long")
		return
	}

	m, err := h.actions.Submit(ctx, uid, value, h.now())
	if err != nil {
		respondWithGameError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

type updateProfileRequest struct {
	Profile map[string]string `json:"profile"`
}

// UpdateProfile replaces the caller's profile with the fields their group
// requires.
func (h *GameHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithCode(w, http.StatusUnauthorized, game.CodeNoSuchUser, "not logged in")
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Profile == nil {
		respondWithCode(w, http.StatusBadRequest, CodeInvalidParam, "invalid request body")
		return
	}

	if err := h.actions.UpdateProfile(ctx, uid, req.Profile, h.now()); err != nil {
		respondWithGameError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, struct{}{})
}

func (h *GameHandler) AgreeTerms(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	uid, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithCode(w, http.StatusUnauthorized, game.CodeNoSuchUser, "not logged in")
		return
	}

	if err := h.actions.AgreeTerms(ctx, uid); err != nil {
		respondWithGameError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, struct{}{})
}
