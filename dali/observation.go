package dali

import (
	"context"
	"sync"
)

// Registers a subscription and returns the function that removes it.
// `ctx` is canceled when the observation stops.
type SubscribeFunction func(ctx context.Context) (unsubscribe func())

// A caller held handle for a subscription.
// After `Stop` no further values are delivered, including values whose
// fetch was in flight when the observation stopped.
type Observation struct {
	id          Id
	ctx         context.Context
	subscribe   SubscribeFunction
	restartable bool

	stateLock   sync.Mutex
	active      bool
	cancel      context.CancelFunc
	done        <-chan struct{}
	unsubscribe func()
}

func NewObservation(ctx context.Context, subscribe SubscribeFunction, restartable bool) *Observation {
	observation := &Observation{
		id:          NewId(),
		ctx:         ctx,
		subscribe:   subscribe,
		restartable: restartable,
	}
	observation.start()
	return observation
}

func (self *Observation) start() {
	subscribeCtx, cancel := context.WithCancel(self.ctx)
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.active = true
		self.cancel = cancel
		self.done = subscribeCtx.Done()
	}()

	// the subscribe may deliver synchronously, and the callback may stop the observation
	unsubscribe := self.subscribe(subscribeCtx)

	stopped := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.active && self.done == subscribeCtx.Done() {
			self.unsubscribe = unsubscribe
			return false
		}
		return true
	}()
	if stopped {
		cancel()
		unsubscribe()
	}
}

func (self *Observation) Id() Id {
	return self.id
}

// Removes the subscription. Calls after the first have no effect.
func (self *Observation) Stop() {
	var cancel context.CancelFunc
	var unsubscribe func()
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if !self.active {
			return
		}
		self.active = false
		cancel = self.cancel
		unsubscribe = self.unsubscribe
		self.cancel = nil
		self.unsubscribe = nil
	}()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Subscribes again with the same callback. Returns false if this observation
// does not support restart. An active observation is left as is.
func (self *Observation) Restart() bool {
	if !self.restartable {
		return false
	}
	active := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		return self.active
	}()
	if !active {
		self.start()
	}
	return true
}

func (self *Observation) Active() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.active
}

// closed when the current subscription stops
func (self *Observation) Done() <-chan struct{} {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.done
}
