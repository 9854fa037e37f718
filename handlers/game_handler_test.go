package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoreboardAPI/internal/config"
	"scoreboardAPI/internal/game"
	"scoreboardAPI/internal/store"
	"scoreboardAPI/middleware"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// fakeActions applies writes straight to the game, the way the worker does
// once the store has accepted them.
type fakeActions struct {
	g     *game.Game
	recs  map[int64]store.UserRecord
	calls []string
}

func newFakeActions(g *game.Game) *fakeActions {
	f := &fakeActions{g: g, recs: map[int64]store.UserRecord{}}
	for _, u := range testUsers() {
		f.recs[u.ID] = u
	}
	return f
}

func (f *fakeActions) Submit(ctx context.Context, uid int64, value string, now time.Time) (game.FlagMatch, error) {
	if cerr := f.g.CheckPlayGame(uid); cerr != nil {
		return game.FlagMatch{}, cerr
	}
	f.calls = append(f.calls, value)
	return f.g.MatchFlag(value, now), nil
}

func (f *fakeActions) UpdateProfile(ctx context.Context, uid int64, fields map[string]string, now time.Time) error {
	clean, err := f.g.CheckProfileUpdate(uid, fields, now)
	if err != nil {
		return err
	}
	rec := f.recs[uid]
	rec.Profile = store.ProfileRecord{ID: rec.Profile.ID + 1, Fields: clean, TimestampMs: now.UnixMilli()}
	f.recs[uid] = rec
	return f.g.ApplyUser(uid, &rec)
}

func (f *fakeActions) AgreeTerms(ctx context.Context, uid int64) error {
	rec, ok := f.recs[uid]
	if !ok {
		return &game.CheckError{Code: game.CodeNoSuchUser, Message: "not logged in"}
	}
	rec.TermsAgreed = true
	f.recs[uid] = rec
	return f.g.ApplyUser(uid, &rec)
}

func testUser(id int64, group string) store.UserRecord {
	return store.UserRecord{
		ID:          id,
		LoginKey:    fmt.Sprintf("email:user%d@example.com", id),
		Group:       group,
		Enabled:     true,
		TermsAgreed: true,
		AuthToken:   fmt.Sprintf("auth-%d", id),
		Profile: store.ProfileRecord{Fields: map[string]string{
			"nickname": fmt.Sprintf("player%d", id), "tel": "1", "email": "e", "stu_id": "s",
		}},
	}
}

func fid(id int64) *int64 { return &id }

func testUsers() []store.UserRecord {
	noTerms := testUser(3, "internal")
	noTerms.TermsAgreed = false
	return []store.UserRecord{testUser(1, "internal"), testUser(2, "external"), noTerms}
}

func newTestGame(t *testing.T, synced bool) *game.Game {
	t.Helper()
	g := game.New(config.Default())
	require.NoError(t, g.Load(game.Snapshot{
		Users: testUsers(),
		Challenges: []store.ChallengeRecord{
			{ID: 10, Key: "web1", Title: "Web One", Category: "Web", FlagIDs: []int64{100, 101}, Enabled: true},
		},
		Flags: []store.FlagRecord{
			{ID: 100, ChallengeID: 10, Token: "flag{a}", BaseScore: 100, Policy: store.PolicyParams{Kind: game.PolicyFlat}},
			{ID: 101, ChallengeID: 10, Token: "flag{b}", BaseScore: 200, Policy: store.PolicyParams{Kind: game.PolicyFlat}},
		},
		Triggers: []store.TriggerRecord{{ID: 1, Tick: 1, TimestampS: t0.Unix(), Name: "start"}},
		Announcements: []store.AnnouncementRecord{
			{ID: 1, Title: "Welcome", Content: "good luck", TimestampS: t0.Unix()},
			{ID: 2, Title: "Hint for web1", Content: "look at the headers", TimestampS: t0.Unix() + 30},
		},
	}))
	if synced {
		_, err := g.Sync([]store.SubmissionRecord{
			{ID: 1, UserID: 1, Value: "flag{a}", FlagID: fid(100), CreatedAt: t0},
			{ID: 2, UserID: 2, Value: "flag{a}", FlagID: fid(100), CreatedAt: t0.Add(time.Second)},
			{ID: 3, UserID: 2, Value: "flag{b}", FlagID: fid(101), CreatedAt: t0.Add(2 * time.Second)},
		}, true)
		require.NoError(t, err)
	}
	return g
}

func newTestRouter(g *game.Game, actions Actions) *mux.Router {
	h := NewGameHandler(g, actions)
	h.now = func() time.Time { return t0.Add(time.Minute) }

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.OptionalAuthMiddleware(g))
	api.HandleFunc("/game_info", h.GetGameInfo).Methods("GET")
	api.HandleFunc("/game", h.GetGame).Methods("GET")
	api.HandleFunc("/board/{key}", h.GetBoard).Methods("GET")
	api.HandleFunc("/triggers", h.GetTriggers).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/announcements", h.GetAnnouncements).Methods("GET")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(g))
	protected.HandleFunc("/submit", h.SubmitFlag).Methods("POST")
	protected.HandleFunc("/update_profile", h.UpdateProfile).Methods("POST")
	protected.HandleFunc("/agree_term", h.AgreeTerms).Methods("POST")
	return r
}

func do(t *testing.T, r http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestGetGame(t *testing.T) {
	g := newTestGame(t, true)
	r := newTestRouter(g, newFakeActions(g))

	rec, out := do(t, r, "GET", "/api/v1/game", "auth-2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := out["challenge_list"].([]any)
	require.Len(t, list, 1)
	ch := list[0].(map[string]any)
	assert.Equal(t, game.StatusPassed, ch["status"])
	assert.Equal(t, "#2d8664", ch["category_color"])

	info := out["user_info"].(map[string]any)
	assert.Equal(t, "Total score 300, Overall rank 1", info["status_line"])
	assert.Equal(t, "score_all", info["board"])

	_, out = do(t, r, "GET", "/api/v1/game", "auth-1", "")
	info = out["user_info"].(map[string]any)
	assert.Equal(t, "Total score 100, Internal rank 1", info["status_line"])
	assert.Equal(t, game.StatusPartial, out["challenge_list"].([]any)[0].(map[string]any)["status"])
}

func TestGetGame_Errors(t *testing.T) {
	g := newTestGame(t, false)
	r := newTestRouter(g, newFakeActions(g))

	rec, out := do(t, r, "GET", "/api/v1/game", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, game.CodeNoSuchUser, out["error"])

	rec, out = do(t, r, "GET", "/api/v1/game", "auth-3", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, game.CodeShouldAgree, out["error"])

	rec, out = do(t, r, "GET", "/api/v1/game", "auth-1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, game.CodeGameNotStarted, out["error"])

	rec, out = do(t, r, "GET", "/api/v1/board/score_all", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, game.CodeGameNotStarted, out["error"])
}

func TestGetBoard(t *testing.T) {
	g := newTestGame(t, true)
	r := newTestRouter(g, newFakeActions(g))

	rec, out := do(t, r, "GET", "/api/v1/board/score_all", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := out["entries"].([]any)
	require.Len(t, entries, 3)
	first := entries[0].(map[string]any)
	assert.Equal(t, float64(2), first["user_id"])
	assert.Equal(t, float64(300), first["score"])
	assert.Equal(t, "player2", first["nickname"])

	rec, out = do(t, r, "GET", "/api/v1/board/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeUnknownBoard, out["error"])
}

func TestGetGameInfoAndTriggers(t *testing.T) {
	g := newTestGame(t, true)
	r := newTestRouter(g, newFakeActions(g))

	_, out := do(t, r, "GET", "/api/v1/game_info", "", "")
	assert.Nil(t, out["user"])
	assert.Equal(t, false, out["feature"].(map[string]any)["game"])

	_, out = do(t, r, "GET", "/api/v1/game_info", "auth-1", "")
	user := out["user"].(map[string]any)
	assert.Equal(t, "Internal", user["group_disp"])
	assert.Equal(t, true, out["feature"].(map[string]any)["game"])

	_, out = do(t, r, "GET", "/api/v1/triggers", "", "")
	assert.Equal(t, float64(1), out["current"])
	list := out["list"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, game.TriggerPresent, list[0].(map[string]any)["status"])

	_, out = do(t, r, "GET", "/api/v1/stats", "", "")
	assert.Equal(t, float64(3), out["n_users"])
	assert.Equal(t, true, out["game_available"])
}

func TestSubmitFlag(t *testing.T) {
	g := newTestGame(t, true)
	sub := newFakeActions(g)
	r := newTestRouter(g, sub)

	rec, out := do(t, r, "POST", "/api/v1/submit", "auth-1", `{"flag": " flag{b}\n"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["correct"])
	assert.Equal(t, float64(101), out["flag_id"])

	rec, out = do(t, r, "POST", "/api/v1/submit", "auth-1", `{"flag": "FLAG{B}"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["correct"])

	rec, out = do(t, r, "POST", "/api/v1/submit", "auth-1", `{"flag": "   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidParam, out["error"])

	rec, _ = do(t, r, "POST", "/api/v1/submit", "auth-1", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = do(t, r, "POST", "/api/v1/submit", "auth-3", `{"flag": "flag{a}"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, game.CodeShouldAgree, out["error"])

	rec, _ = do(t, r, "POST", "/api/v1/submit", "", `{"flag": "flag{a}"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, []string{"flag{b}", "FLAG{B}"}, sub.calls)
}

func TestUpdateProfile(t *testing.T) {
	g := newTestGame(t, true)
	r := newTestRouter(g, newFakeActions(g))

	body := `{"profile": {"nickname": "neo", "tel": "2", "email": "neo@example.com", "stu_id": "s2", "qq": "1"}}`
	rec, out := do(t, r, "POST", "/api/v1/update_profile", "auth-1", body)
	require.Equal(t, http.StatusOK, rec.Code, out)

	u, err := g.UserByID(1)
	require.NoError(t, err)
	assert.Equal(t, "neo", u.Profile["nickname"])
	assert.NotContains(t, u.Profile, "qq")

	// same instant as the previous write
	rec, out = do(t, r, "POST", "/api/v1/update_profile", "auth-1", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, game.CodeRateLimit, out["error"])

	rec, out = do(t, r, "POST", "/api/v1/update_profile", "auth-2", `{"profile": {"nickname": "x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidParam, out["error"])
	assert.Equal(t, "missing tel", out["error_msg"])

	rec, out = do(t, r, "POST", "/api/v1/update_profile", "auth-2", `{"profile": {"nickname": "", "tel": "1", "email": "e"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing nickname", out["error_msg"])

	rec, _ = do(t, r, "POST", "/api/v1/update_profile", "auth-2", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = do(t, r, "POST", "/api/v1/update_profile", "auth-3", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, game.CodeShouldAgree, out["error"])
}

func TestAgreeTerms(t *testing.T) {
	g := newTestGame(t, true)
	r := newTestRouter(g, newFakeActions(g))

	rec, _ := do(t, r, "GET", "/api/v1/game", "auth-3", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, r, "POST", "/api/v1/agree_term", "auth-3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, g.CheckPlayGame(3))

	rec, out := do(t, r, "GET", "/api/v1/game", "auth-3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Total score 0, Internal rank 2", out["user_info"].(map[string]any)["status_line"])

	rec, _ = do(t, r, "POST", "/api/v1/agree_term", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnnouncements(t *testing.T) {
	g := newTestGame(t, true)
	r := newTestRouter(g, newFakeActions(g))

	rec, out := do(t, r, "GET", "/api/v1/announcements", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := out["list"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "Hint for web1", list[0].(map[string]any)["title"])

	_, out = do(t, r, "GET", "/api/v1/game", "auth-1", "")
	last := out["last_announcement"].(map[string]any)
	assert.Equal(t, float64(2), last["id"])

	require.NoError(t, g.ApplyAnnouncement(2, nil))
	_, out = do(t, r, "GET", "/api/v1/game", "auth-1", "")
	assert.Equal(t, "Welcome", out["last_announcement"].(map[string]any)["title"])
}
