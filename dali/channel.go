package dali

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/golang/glog"
)

type ChannelState string

const (
	ChannelStateClosed        ChannelState = "closed"
	ChannelStateConnecting    ChannelState = "connecting"
	ChannelStateAuthenticated ChannelState = "authenticated"
)

type ChannelMessage struct {
	Namespace string
	Event     string
	Payload   json.RawMessage
	// set on the single terminal message sent when the server rejects the channel authentication
	Err error
}

type ListenerFunction func(message *ChannelMessage)

type channelListener struct {
	event string
	// empty for channel-wide listeners
	entityId string
	callback ListenerFunction
}

type ChannelRegistrySettings struct {
	TransportGenerator TransportGenerator
	Metrics            *Metrics
}

// Holds at most one open transport per namespace. Each channel is shared by
// reference count and disconnected when the last holder releases it.
type ChannelRegistry struct {
	ctx    context.Context
	cancel context.CancelFunc

	credentials *Credentials
	settings    *ChannelRegistrySettings

	log LogFunction

	stateLock sync.Mutex
	channels  map[string]*channel
	suspended bool
	closed    bool
}

func NewChannelRegistry(ctx context.Context, credentials *Credentials, settings *ChannelRegistrySettings) *ChannelRegistry {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ChannelRegistry{
		ctx:         cancelCtx,
		cancel:      cancel,
		credentials: credentials,
		settings:    settings,
		log:         LogFn(LogLevelLifecycle, "channel"),
		channels:    map[string]*channel{},
	}
}

type channel struct {
	namespace     string
	autoSwitching bool

	// the fields below are guarded by the registry state lock

	state    ChannelState
	refCount int
	// increments each time the transport is replaced or dropped.
	// Transport callbacks from an earlier generation are ignored.
	generation int
	transport  Transport
	suspended  bool
	rejected   bool

	// closed on the first authentication or when the channel closes before authenticating
	ready     chan struct{}
	readyDone bool
	readyErr  error

	listeners *CallbackList[*channelListener]
}

func (self *channel) markReady(err error) {
	if !self.readyDone {
		self.readyDone = true
		self.readyErr = err
		close(self.ready)
	}
}

// Returns a handle that holds one reference to the channel for `namespace`.
// This does not block. The first acquire of a namespace starts the connect
// and authenticate sequence; later acquires share it. Use `Wait` to block
// until the channel is authenticated.
// When `autoSwitching` is set on the first acquire, the channel is
// disconnected on `Suspend` and reconnected on `Resume`.
func (self *ChannelRegistry) Acquire(namespace string, autoSwitching bool) *ChannelHandle {
	var connectTransport Transport
	var c *channel
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed {
			c = &channel{
				namespace: namespace,
				state:     ChannelStateClosed,
				ready:     make(chan struct{}),
				listeners: NewCallbackList[*channelListener](),
			}
			c.markReady(ErrClosed)
			return
		}

		var ok bool
		c, ok = self.channels[namespace]
		if !ok {
			c = &channel{
				namespace:     namespace,
				autoSwitching: autoSwitching,
				state:         ChannelStateConnecting,
				ready:         make(chan struct{}),
				listeners:     NewCallbackList[*channelListener](),
			}
			self.channels[namespace] = c
			if self.settings.Metrics != nil {
				self.settings.Metrics.ChannelsOpen.Inc()
			}
			if self.suspended && c.autoSwitching {
				c.suspended = true
				c.state = ChannelStateClosed
			} else {
				connectTransport = self.newTransport(c)
			}
			self.log("%s open", namespace)
		}
		c.refCount += 1
	}()

	if connectTransport != nil {
		connectTransport.Connect()
	}

	return &ChannelHandle{
		registry: self,
		channel:  c,
	}
}

// must be called with the state lock
func (self *ChannelRegistry) newTransport(c *channel) Transport {
	c.generation += 1
	c.state = ChannelStateConnecting
	handler := &channelTransportHandler{
		registry:   self,
		channel:    c,
		generation: c.generation,
	}
	c.transport = self.settings.TransportGenerator(c.namespace, handler)
	return c.transport
}

// Releases one reference to the current channel for `namespace`.
// Prefer `ChannelHandle.Release`, which always releases the channel the handle acquired.
func (self *ChannelRegistry) Release(namespace string) {
	var c *channel
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		c = self.channels[namespace]
	}()
	if c != nil {
		self.release(c)
	}
}

func (self *ChannelRegistry) release(c *channel) {
	var disconnectTransport Transport
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if c.refCount <= 0 {
			return
		}
		c.refCount -= 1
		if 0 < c.refCount {
			return
		}
		if current, ok := self.channels[c.namespace]; !ok || current != c {
			// already removed from the registry, e.g. after an authentication rejection
			return
		}
		delete(self.channels, c.namespace)
		disconnectTransport = c.transport
		c.transport = nil
		c.generation += 1
		c.state = ChannelStateClosed
		c.markReady(ErrClosed)
		if self.settings.Metrics != nil {
			self.settings.Metrics.ChannelsOpen.Dec()
		}
		self.log("%s close", c.namespace)
	}()

	if disconnectTransport != nil {
		disconnectTransport.Disconnect()
	}
}

// Delivers `payload` to every listener of `event` on the namespace, in registration order.
// Entity-scoped listeners receive the payload only when it carries their entity id.
// Listeners may add or remove listeners, or release the channel, from within the callback.
func (self *ChannelRegistry) Dispatch(namespace string, event string, payload json.RawMessage) {
	var c *channel
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		c = self.channels[namespace]
	}()
	if c == nil {
		glog.V(LogLevelTrace).Infof("[channel]%s %s no channel\n", namespace, event)
		return
	}
	self.dispatch(c, event, payload)
}

func (self *ChannelRegistry) dispatch(c *channel, event string, payload json.RawMessage) {
	if self.settings.Metrics != nil {
		self.settings.Metrics.Dispatches.WithLabelValues(c.namespace, event).Inc()
	}

	var ids []string
	idsParsed := false
	for _, listener := range c.listeners.Get() {
		if listener.event != event {
			continue
		}
		if listener.entityId != "" {
			if !idsParsed {
				ids = payloadIds(payload)
				idsParsed = true
			}
			if !slices.Contains(ids, listener.entityId) {
				continue
			}
		}
		message := &ChannelMessage{
			Namespace: c.namespace,
			Event:     event,
			Payload:   payload,
		}
		HandleError(func() {
			glog.V(LogLevelTrace).Infof("[channel]%s %s -> %s\n", c.namespace, event, CallbackName(listener.callback))
			listener.callback(message)
		})
	}
}

// the `id` of an object payload, or the `id` of each element of an array payload
func payloadIds(payload json.RawMessage) []string {
	type identified struct {
		Id string `json:"id"`
	}
	var one identified
	if err := json.Unmarshal(payload, &one); err == nil {
		if one.Id == "" {
			return nil
		}
		return []string{one.Id}
	}
	var many []identified
	if err := json.Unmarshal(payload, &many); err == nil {
		ids := make([]string, 0, len(many))
		for _, element := range many {
			if element.Id != "" {
				ids = append(ids, element.Id)
			}
		}
		return ids
	}
	return nil
}

// The server rejected the credential. The channel closes, is removed so that the
// next acquire starts over, and each registered listener receives one terminal message.
func (self *ChannelRegistry) reject(c *channel, generation int) {
	var disconnectTransport Transport
	var listeners []*channelListener
	rejected := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if c.generation != generation || c.rejected {
			return false
		}
		c.rejected = true
		c.generation += 1
		c.state = ChannelStateClosed
		disconnectTransport = c.transport
		c.transport = nil
		c.markReady(ErrUnauthorized)
		if current, ok := self.channels[c.namespace]; ok && current == c {
			delete(self.channels, c.namespace)
			if self.settings.Metrics != nil {
				self.settings.Metrics.ChannelsOpen.Dec()
			}
		}
		// listeners added after this point are notified in `addListener`
		listeners = c.listeners.Get()
		return true
	}()
	if !rejected {
		return
	}

	glog.Infof("[channel]%s authentication rejected\n", c.namespace)
	if self.settings.Metrics != nil {
		self.settings.Metrics.AuthFailures.WithLabelValues(c.namespace).Inc()
	}
	if disconnectTransport != nil {
		disconnectTransport.Disconnect()
	}
	for _, listener := range listeners {
		notifyUnauthorized(c, listener)
	}
}

func notifyUnauthorized(c *channel, listener *channelListener) {
	message := &ChannelMessage{
		Namespace: c.namespace,
		Event:     listener.event,
		Err:       ErrUnauthorized,
	}
	HandleError(func() {
		listener.callback(message)
	})
}

func (self *ChannelRegistry) addListener(c *channel, event string, entityId string, callback ListenerFunction) Id {
	listener := &channelListener{
		event:    event,
		entityId: entityId,
		callback: callback,
	}
	var listenerId Id
	var rejected bool
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		listenerId = c.listeners.Add(listener)
		rejected = c.rejected
	}()
	if self.settings.Metrics != nil {
		self.settings.Metrics.ChannelListeners.Inc()
	}
	if rejected {
		notifyUnauthorized(c, listener)
	}
	return listenerId
}

func (self *ChannelRegistry) removeListener(c *channel, listenerId Id) bool {
	removed := c.listeners.Remove(listenerId)
	if removed && self.settings.Metrics != nil {
		self.settings.Metrics.ChannelListeners.Dec()
	}
	return removed
}

// Disconnects auto-switching channels. Reference counts and listeners are kept.
func (self *ChannelRegistry) Suspend() {
	var disconnectTransports []Transport
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.suspended || self.closed {
			return
		}
		self.suspended = true
		for _, c := range self.channels {
			if !c.autoSwitching || c.suspended {
				continue
			}
			c.suspended = true
			c.generation += 1
			c.state = ChannelStateClosed
			if c.transport != nil {
				disconnectTransports = append(disconnectTransports, c.transport)
				c.transport = nil
			}
			self.log("%s suspend", c.namespace)
		}
	}()

	for _, transport := range disconnectTransports {
		transport.Disconnect()
	}
}

// Reconnects the channels disconnected by `Suspend`, each with a new transport.
func (self *ChannelRegistry) Resume() {
	var connectTransports []Transport
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if !self.suspended || self.closed {
			return
		}
		self.suspended = false
		for _, c := range self.channels {
			if !c.suspended {
				continue
			}
			c.suspended = false
			connectTransports = append(connectTransports, self.newTransport(c))
			self.log("%s resume", c.namespace)
		}
	}()

	for _, transport := range connectTransports {
		transport.Connect()
	}
}

// `ChannelStateClosed` if there is no channel for the namespace
func (self *ChannelRegistry) State(namespace string) ChannelState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if c, ok := self.channels[namespace]; ok {
		return c.state
	}
	return ChannelStateClosed
}

func (self *ChannelRegistry) RefCount(namespace string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if c, ok := self.channels[namespace]; ok {
		return c.refCount
	}
	return 0
}

func (self *ChannelRegistry) ListenerCount(namespace string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if c, ok := self.channels[namespace]; ok {
		return c.listeners.Len()
	}
	return 0
}

// Disconnects every channel. Acquires after close return closed handles.
func (self *ChannelRegistry) Close() {
	var disconnectTransports []Transport
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed {
			return
		}
		self.closed = true
		for namespace, c := range self.channels {
			c.generation += 1
			c.state = ChannelStateClosed
			c.markReady(ErrClosed)
			if c.transport != nil {
				disconnectTransports = append(disconnectTransports, c.transport)
				c.transport = nil
			}
			delete(self.channels, namespace)
			if self.settings.Metrics != nil {
				self.settings.Metrics.ChannelsOpen.Dec()
			}
		}
	}()

	for _, transport := range disconnectTransports {
		transport.Disconnect()
	}
	self.cancel()
}

// A reference to a channel, returned by `Acquire`.
type ChannelHandle struct {
	registry *ChannelRegistry
	channel  *channel

	releaseOnce sync.Once
}

func (self *ChannelHandle) Namespace() string {
	return self.channel.namespace
}

// Blocks until the channel is authenticated.
// Returns `ErrUnauthorized` if the server rejected the credential,
// and `ErrClosed` if the channel closed first.
func (self *ChannelHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-self.channel.ready:
	}

	self.registry.stateLock.Lock()
	defer self.registry.stateLock.Unlock()
	return self.channel.readyErr
}

// An empty `entityId` listens to every `event` on the channel.
func (self *ChannelHandle) AddListener(event string, entityId string, callback ListenerFunction) Id {
	return self.registry.addListener(self.channel, event, entityId, callback)
}

func (self *ChannelHandle) RemoveListener(listenerId Id) bool {
	return self.registry.removeListener(self.channel, listenerId)
}

// Releases the reference held by this handle. Calls after the first have no effect.
func (self *ChannelHandle) Release() {
	self.releaseOnce.Do(func() {
		self.registry.release(self.channel)
	})
}

type channelTransportHandler struct {
	registry   *ChannelRegistry
	channel    *channel
	generation int
}

// returns the transport if the handler is for the current transport of the channel
func (self *channelTransportHandler) current() (Transport, bool) {
	self.registry.stateLock.Lock()
	defer self.registry.stateLock.Unlock()

	if self.channel.generation != self.generation || self.channel.transport == nil {
		return nil, false
	}
	return self.channel.transport, true
}

func (self *channelTransportHandler) Connected() {
	transport, ok := self.current()
	if !ok {
		return
	}
	func() {
		self.registry.stateLock.Lock()
		defer self.registry.stateLock.Unlock()
		if self.channel.generation == self.generation {
			self.channel.state = ChannelStateConnecting
		}
	}()
	self.registry.log("%s connected, authenticating", self.channel.namespace)
	if err := transport.Emit(EventAuthenticate, self.registry.credentials.SocketAuth()); err != nil {
		glog.Infof("[channel]%s authenticate error = %s\n", self.channel.namespace, err)
	}
}

func (self *channelTransportHandler) Disconnected(err error) {
	self.registry.stateLock.Lock()
	defer self.registry.stateLock.Unlock()

	if self.channel.generation == self.generation {
		// the transport reconnects and authenticates again
		self.channel.state = ChannelStateConnecting
	}
}

func (self *channelTransportHandler) Event(event string, data json.RawMessage) {
	if _, ok := self.current(); !ok {
		return
	}
	switch event {
	case EventAuthenticated:
		func() {
			self.registry.stateLock.Lock()
			defer self.registry.stateLock.Unlock()
			if self.channel.generation == self.generation {
				self.channel.state = ChannelStateAuthenticated
				self.channel.markReady(nil)
			}
		}()
		self.registry.log("%s authenticated", self.channel.namespace)
	case EventUnauthorized:
		self.registry.reject(self.channel, self.generation)
	default:
		authenticated := func() bool {
			self.registry.stateLock.Lock()
			defer self.registry.stateLock.Unlock()
			return self.channel.generation == self.generation && self.channel.state == ChannelStateAuthenticated
		}()
		if !authenticated {
			glog.V(LogLevelTrace).Infof("[channel]%s %s before authenticated, dropped\n", self.channel.namespace, event)
			return
		}
		self.registry.dispatch(self.channel, event, data)
	}
}
