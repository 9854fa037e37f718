package services

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only ever send control frames.
	maxMessageSize = 512

	sendBuffer = 16
)

const (
	ActionHello                = "hello"
	ActionScoreboardUpdated    = "scoreboard_updated"
	ActionTriggersUpdated      = "triggers_updated"
	ActionAnnouncementsUpdated = "announcements_updated"
)

type PushEvent struct {
	Action   string `json:"action"`
	Revision int64  `json:"revision,omitempty"`
	BatchID  string `json:"batch_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// PushHub fans scoreboard events out to websocket clients. Clients are only
// ever added, removed or written to from the Run loop, which owns the map.
type PushHub struct {
	clients    map[*PushClient]bool
	broadcast  chan []byte
	register   chan *PushClient
	unregister chan *PushClient
	stopChan   chan struct{}
	done       chan struct{}
}

func NewPushHub() *PushHub {
	return &PushHub{
		clients:    make(map[*PushClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *PushClient),
		unregister: make(chan *PushClient),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *PushHub) Run() {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			pushClients.Set(float64(len(h.clients)))
			log.Printf("PushHub: client %s connected (user %d). Count: %d", c.ID, c.UserID, len(h.clients))

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.Send <- msg:
				default:
					// slow reader
					h.drop(c)
				}
			}

		case <-h.stopChan:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *PushHub) drop(c *PushClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
	pushClients.Set(float64(len(h.clients)))
}

func (h *PushHub) Stop() {
	close(h.stopChan)
	<-h.done
}

// Publish queues ev for every client. Events are dropped, not blocked on,
// when the hub is backed up; clients refetch on the next one anyway.
func (h *PushHub) Publish(ev PushEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("PushHub: failed to marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.stopChan:
	default:
		log.Printf("PushHub: broadcast queue full, dropping %s", ev.Action)
	}
}

// Attach registers conn and starts its pumps. It returns once the client is
// known to the hub.
func (h *PushHub) Attach(conn *websocket.Conn, userID int64) *PushClient {
	c := &PushClient{
		ID:     uuid.New(),
		UserID: userID,
		hub:    h,
		conn:   conn,
		Send:   make(chan []byte, sendBuffer),
	}

	hello, _ := json.Marshal(PushEvent{Action: ActionHello, ClientID: c.ID.String()})
	c.Send <- hello

	select {
	case h.register <- c:
	case <-h.stopChan:
		conn.Close()
		return c
	}
	go c.writePump()
	go c.readPump()
	return c
}

// PushClient is one websocket subscriber. UserID is 0 for anonymous viewers.
type PushClient struct {
	ID     uuid.UUID
	UserID int64
	Send   chan []byte

	hub  *PushHub
	conn *websocket.Conn
}

// readPump only exists to process pongs and notice the peer going away.
func (c *PushClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopChan:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("PushHub: client %s read error: %v", c.ID, err)
			}
			return
		}
	}
}

func (c *PushClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
