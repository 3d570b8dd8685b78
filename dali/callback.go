package dali

import (
	"slices"
	"sync"
)

type callbackEntry[T any] struct {
	id       Id
	callback T
}

// Ordered by registration. Makes a copy of the list on update,
// so `Get` returns a snapshot that is safe to iterate while callbacks
// add or remove themselves.
type CallbackList[T any] struct {
	mutex     sync.Mutex
	callbacks []*callbackEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: []*callbackEntry[T]{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, len(self.callbacks))
	for i, entry := range self.callbacks {
		callbacks[i] = entry.callback
	}
	return callbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}

func (self *CallbackList[T]) Add(callback T) Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	id := NewId()
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, &callbackEntry[T]{
		id:       id,
		callback: callback,
	})
	self.callbacks = nextCallbacks
	return id
}

// returns true if the callback was present
func (self *CallbackList[T]) Remove(id Id) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.callbacks, func(entry *callbackEntry[T]) bool {
		return entry.id == id
	})
	if i < 0 {
		// not present
		return false
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
	return true
}
