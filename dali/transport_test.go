package dali

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-playground/assert/v2"
)

type testWsHandler struct {
	connected    chan struct{}
	disconnected chan error
	events       chan *WsMessage
}

func newTestWsHandler() *testWsHandler {
	return &testWsHandler{
		connected:    make(chan struct{}, 4),
		disconnected: make(chan error, 4),
		events:       make(chan *WsMessage, 16),
	}
}

func (self *testWsHandler) Connected() {
	self.connected <- struct{}{}
}

func (self *testWsHandler) Disconnected(err error) {
	self.disconnected <- err
}

func (self *testWsHandler) Event(event string, data json.RawMessage) {
	self.events <- &WsMessage{
		Event: event,
		Data:  data,
	}
}

func receive[T any](t *testing.T, c chan T) T {
	select {
	case value := <-c:
		return value
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout.")
		var empty T
		return empty
	}
}

// The server accepts the first authenticate message on each connection,
// pushes one event, and drops the first connection.
func newTestWsServer(auths chan *SocketAuth) *httptest.Server {
	upgrader := &websocket.Upgrader{}
	var connectionCount atomic.Int32

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != FoodNamespace {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		connection := connectionCount.Add(1)

		var message WsMessage
		if err := ws.ReadJSON(&message); err != nil || message.Event != EventAuthenticate {
			return
		}
		var auth SocketAuth
		if err := json.Unmarshal(message.Data, &auth); err != nil {
			return
		}
		auths <- &auth

		ws.WriteJSON(&WsMessage{Event: EventAuthenticated})
		ws.WriteJSON(&WsMessage{Event: FoodUpdateEvent, Data: json.RawMessage(`"Tacos"`)})
		ws.WriteMessage(websocket.TextMessage, []byte("not json"))
		if connection == 1 {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWsUrl(t *testing.T) {
	assert.Equal(t, WsUrl("https://dali.test", "/equipment"), "wss://dali.test/equipment")
	assert.Equal(t, WsUrl("http://localhost:8080/", "food"), "ws://localhost:8080/food")
}

func TestWsTransportReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auths := make(chan *SocketAuth, 4)
	server := newTestWsServer(auths)
	defer server.Close()

	settings := DefaultWsTransportSettings()
	settings.ReconnectTimeout = 50 * time.Millisecond

	handler := newTestWsHandler()
	transport := NewWsTransport(ctx, WsUrl(server.URL, FoodNamespace), handler, settings)

	err := transport.Emit(EventAuthenticate, &SocketAuth{ApiKey: "key"})
	assert.Equal(t, err, ErrTransportNotConnected)

	transport.Connect()
	// connect is idempotent
	transport.Connect()

	for _, token := range []string{"first", "second"} {
		receive(t, handler.connected)
		err = transport.Emit(EventAuthenticate, &SocketAuth{Token: token})
		assert.Equal(t, err, nil)
		assert.Equal(t, receive(t, auths).Token, token)

		message := receive(t, handler.events)
		assert.Equal(t, message.Event, EventAuthenticated)
		message = receive(t, handler.events)
		assert.Equal(t, message.Event, FoodUpdateEvent)
		assert.Equal(t, string(message.Data), `"Tacos"`)

		if token == "first" {
			// the server drops the first connection
			assert.NotEqual(t, receive(t, handler.disconnected), nil)
		}
	}

	transport.Disconnect()
	select {
	case <-handler.disconnected:
		t.Fatal("Disconnect should not report a dropped connection.")
	case <-time.After(100 * time.Millisecond):
	}
	err = transport.Emit(FoodUpdateEvent, nil)
	assert.NotEqual(t, err, nil)
}
