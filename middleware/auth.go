package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"scoreboardAPI/internal/game"
)

type contextKey string

const UserIDKey contextKey = "userID"

// UserResolver looks up the user an auth token belongs to.
type UserResolver interface {
	UserByAuthToken(token string) (game.UserView, error)
}

// bearerToken extracts the token from "Authorization: Bearer <token>". The
// websocket endpoint may pass it as ?token= since browsers cannot set headers
// on the upgrade request.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, true
		}
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || token == "" {
		return "", false
	}
	return token, true
}

// AuthMiddleware rejects requests without a valid auth token and puts the
// caller's user id in the request context.
func AuthMiddleware(users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "Authorization header required. Use 'Bearer <token>'")
				return
			}

			u, err := users.UserByAuthToken(token)
			if err != nil {
				log.Printf("Auth: token rejected: %v", err)
				respondWithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, u.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware - allows requests with or without auth
func OptionalAuthMiddleware(users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				if u, err := users.UserByAuthToken(token); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), UserIDKey, u.ID))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserID extracts the authenticated user id from context
func GetUserID(ctx context.Context) (int64, bool) {
	uid, ok := ctx.Value(UserIDKey).(int64)
	return uid, ok
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
