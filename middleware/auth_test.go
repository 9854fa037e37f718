package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"scoreboardAPI/internal/game"
)

type tokenTable map[string]int64

func (t tokenTable) UserByAuthToken(token string) (game.UserView, error) {
	id, ok := t[token]
	if !ok {
		return game.UserView{}, fmt.Errorf("auth token: %w", game.ErrNotFound)
	}
	return game.UserView{ID: id}, nil
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	uid, ok := GetUserID(r.Context())
	if !ok {
		fmt.Fprint(w, "anonymous")
		return
	}
	fmt.Fprintf(w, "user %d", uid)
}

func TestAuthMiddleware(t *testing.T) {
	h := AuthMiddleware(tokenTable{"good": 4})(http.HandlerFunc(echoUser))

	cases := []struct {
		name   string
		header string
		query  string
		code   int
		body   string
	}{
		{"bearer", "Bearer good", "", http.StatusOK, "user 4"},
		{"query token", "", "?token=good", http.StatusOK, "user 4"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"no bearer prefix", "good", "", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer bad", "", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	h := OptionalAuthMiddleware(tokenTable{"good": 4})(http.HandlerFunc(echoUser))

	for header, want := range map[string]string{
		"Bearer good": "user 4",
		"Bearer bad":  "anonymous",
		"":            "anonymous",
	} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, rec.Body.String())
	}
}

func TestBasicAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := BasicAuthMiddleware(ok)

	t.Setenv("METRICS_USER", "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "closed when unconfigured")

	t.Setenv("METRICS_USER", "prom")
	t.Setenv("METRICS_PASS", "s3cret")

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
