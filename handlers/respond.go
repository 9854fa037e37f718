package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"scoreboardAPI/internal/game"
)

const (
	CodeInvalidParam = game.CodeInvalidParam
	CodeUnknownBoard = "UNKNOWN_BOARD"
	CodeInternal     = "INTERNAL_ERROR"
)

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithCode sends a machine readable error code next to the message.
func respondWithCode(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, map[string]string{"error": code, "error_msg": message})
}

// respondWithGameError maps errors from the game to HTTP responses.
func respondWithGameError(w http.ResponseWriter, err error) {
	var cerr *game.CheckError
	switch {
	case errors.As(err, &cerr):
		status := http.StatusForbidden
		switch cerr.Code {
		case game.CodeNoSuchUser:
			status = http.StatusUnauthorized
		case game.CodeInvalidParam:
			status = http.StatusBadRequest
		case game.CodeRateLimit:
			status = http.StatusTooManyRequests
		}
		respondWithCode(w, status, cerr.Code, cerr.Message)
	case errors.Is(err, game.ErrScoreboardUnavailable):
		respondWithCode(w, http.StatusServiceUnavailable, game.CodeGameNotStarted, "scoreboard is temporarily unavailable")
	case errors.Is(err, game.ErrUnknownBoard):
		respondWithCode(w, http.StatusNotFound, CodeUnknownBoard, "no such board")
	case errors.Is(err, game.ErrNotFound):
		respondWithCode(w, http.StatusNotFound, game.CodeNoSuchUser, "not found")
	default:
		log.Printf("Handler: unexpected error: %v", err)
		respondWithCode(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
