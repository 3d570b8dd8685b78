package dali

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

// wire event names used by the channel handshake
const (
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventUnauthorized  = "unauthorized"
)

var ErrTransportNotConnected = errors.New("Transport not connected.")

// A duplex channel to one server namespace.
// A transport is single use: `Connect` once, then `Disconnect` once.
// Reconnecting after a dropped connection is internal to the transport.
type Transport interface {
	Connect()
	Disconnect()
	Emit(event string, data any) error
}

// Transport callbacks. Calls for one transport are serialized and
// `Event` calls are in server arrival order.
type TransportHandler interface {
	// the transport is connected and can emit
	Connected()
	// the connection dropped. The transport will reconnect unless disconnected.
	Disconnected(err error)
	Event(event string, data json.RawMessage)
}

type TransportGenerator func(namespace string, handler TransportHandler) Transport

// the json envelope of every websocket message
type WsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type WsTransportSettings struct {
	HandshakeTimeout time.Duration
	ReconnectTimeout time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	SendBufferSize   int
}

func DefaultWsTransportSettings() *WsTransportSettings {
	return &WsTransportSettings{
		HandshakeTimeout: 5 * time.Second,
		ReconnectTimeout: 5 * time.Second,
		PingTimeout:      10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      30 * time.Second,
		SendBufferSize:   8,
	}
}

func NewWsTransportGeneratorWithDefaults(ctx context.Context, serverUrl string) TransportGenerator {
	return NewWsTransportGenerator(ctx, serverUrl, DefaultWsTransportSettings())
}

func NewWsTransportGenerator(ctx context.Context, serverUrl string, settings *WsTransportSettings) TransportGenerator {
	return func(namespace string, handler TransportHandler) Transport {
		return NewWsTransport(ctx, WsUrl(serverUrl, namespace), handler, settings)
	}
}

// maps an http(s) server url and namespace to the ws(s) url
func WsUrl(serverUrl string, namespace string) string {
	url := serverUrl
	if strings.HasPrefix(url, "https://") {
		url = "wss://" + strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return strings.TrimSuffix(url, "/") + "/" + strings.TrimPrefix(namespace, "/")
}

type WsTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	handler  TransportHandler
	settings *WsTransportSettings

	connectOnce sync.Once

	stateLock sync.Mutex
	send      chan []byte
}

func NewWsTransport(ctx context.Context, url string, handler TransportHandler, settings *WsTransportSettings) *WsTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &WsTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      url,
		handler:  handler,
		settings: settings,
	}
}

func (self *WsTransport) Connect() {
	self.connectOnce.Do(func() {
		go self.run()
	})
}

func (self *WsTransport) Disconnect() {
	self.cancel()
}

func (self *WsTransport) Emit(event string, data any) error {
	if self.ctx.Err() != nil {
		return ErrClosed
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &InvalidJsonError{Text: fmt.Sprintf("%v", data), Err: err}
	}
	messageBytes, err := json.Marshal(&WsMessage{
		Event: event,
		Data:  dataBytes,
	})
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	send := self.send
	self.stateLock.Unlock()

	if send == nil {
		return ErrTransportNotConnected
	}
	select {
	case <-self.ctx.Done():
		return ErrClosed
	case send <- messageBytes:
		return nil
	case <-time.After(self.settings.WriteTimeout):
		return fmt.Errorf("Emit %s timeout.", event)
	}
}

func (self *WsTransport) run() {
	defer self.cancel()

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: self.settings.HandshakeTimeout,
	}

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		ws, _, err := dialer.DialContext(self.ctx, self.url, nil)
		if err != nil {
			glog.Infof("[ws]%s connect error = %s\n", self.url, err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		err = self.handle(ws)
		select {
		case <-self.ctx.Done():
			return
		default:
		}
		glog.Infof("[ws]%s disconnected = %v\n", self.url, err)
		self.handler.Disconnected(err)

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

// runs one connection until it drops or the transport is disconnected
func (self *WsTransport) handle(ws *websocket.Conn) error {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	send := make(chan []byte, self.settings.SendBufferSize)
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.send = send
	}()
	defer func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.send = nil
	}()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(self.settings.WriteTimeout))
				return
			case message := <-send:
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					// note that for websocket a dealine timeout cannot be recovered
					glog.Infof("[ws]%s-> error = %s\n", self.url, err)
					return
				}
				glog.V(LogLevelTrace).Infof("[ws]%s->\n", self.url)
			case <-time.After(self.settings.PingTimeout):
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(self.settings.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	self.handler.Connected()

	// close the websocket when the handle context ends, to unblock the read
	go func() {
		<-handleCtx.Done()
		ws.SetReadDeadline(time.Now())
	}()

	for {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, messageBytes, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		switch messageType {
		case websocket.TextMessage:
			var message WsMessage
			if err := json.Unmarshal(messageBytes, &message); err != nil {
				glog.Infof("[ws]%s<- bad message = %s\n", self.url, err)
				continue
			}
			glog.V(LogLevelTrace).Infof("[ws]%s<- %s\n", self.url, message.Event)
			self.handler.Event(message.Event, message.Data)
		default:
			glog.V(LogLevelTrace).Infof("[ws]other=%d %s<-\n", messageType, self.url)
		}
	}
}

type Reconnect struct {
	timeout time.Duration
	start   time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		timeout: timeout,
		start:   time.Now(),
	}
}

// fires `timeout` after the reconnect was created
func (self *Reconnect) After() <-chan time.Time {
	remaining := self.timeout - time.Since(self.start)
	if remaining < 0 {
		remaining = 0
	}
	return time.After(remaining)
}
