package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"scoreboardAPI/middleware"
	"scoreboardAPI/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type PushHandler struct {
	hub *services.PushHub
}

func NewPushHandler(hub *services.PushHub) *PushHandler {
	return &PushHandler{hub: hub}
}

// Subscribe upgrades the request and attaches it to the hub. Anonymous
// viewers are allowed; they only ever receive public events.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.GetUserID(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Could not upgrade connection: %v", err)
		return
	}
	h.hub.Attach(conn, uid)
}
