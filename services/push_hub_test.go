package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, conn *websocket.Conn) PushEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev PushEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestPushHub_Broadcast(t *testing.T) {
	hub := NewPushHub()
	go hub.Run()
	defer hub.Stop()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(conn, 7)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer b.Close()

	helloA := readEvent(t, a)
	helloB := readEvent(t, b)
	assert.Equal(t, ActionHello, helloA.Action)
	assert.NotEmpty(t, helloA.ClientID)
	assert.NotEqual(t, helloA.ClientID, helloB.ClientID)

	hub.Publish(PushEvent{Action: ActionScoreboardUpdated, Revision: 3})

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, ActionScoreboardUpdated, ev.Action)
		assert.Equal(t, int64(3), ev.Revision)
	}
}

func TestPushHub_StopClosesClients(t *testing.T) {
	hub := NewPushHub()
	go hub.Run()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(conn, 0)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn)

	hub.Stop()
	// publishing to a stopped hub must not block
	hub.Publish(PushEvent{Action: ActionScoreboardUpdated})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
