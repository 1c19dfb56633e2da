package feedsync

import (
	mathrand "math/rand"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Reconnect schedules retry attempts with exponential backoff and jitter.
// each call to `After` doubles the delay up to `maxTimeout`. `Reset` is
// called after a successful connect so the next failure starts small again.
type Reconnect struct {
	minTimeout time.Duration
	maxTimeout time.Duration

	stateLock    sync.Mutex
	failureCount int
}

func NewReconnect(minTimeout time.Duration, maxTimeout time.Duration) *Reconnect {
	return &Reconnect{
		minTimeout: minTimeout,
		maxTimeout: maxTimeout,
	}
}

func (self *Reconnect) After() <-chan time.Time {
	self.stateLock.Lock()
	timeout := self.minTimeout << self.failureCount
	if self.maxTimeout < timeout || timeout < self.minTimeout {
		// capped, or the shift overflowed
		timeout = self.maxTimeout
	}
	self.failureCount += 1
	self.stateLock.Unlock()

	// jitter in [timeout/2, timeout)
	jittered := timeout/2 + time.Duration(mathrand.Int63n(int64(timeout/2)+1))
	return time.After(jittered)
}

func (self *Reconnect) Reset() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.failureCount = 0
}

// makes a copy of the list on update
type CallbackList[T any] struct {
	stateLock sync.Mutex

	nextCallbackId int
	callbacks      map[int]T
	callbackIds    []int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbacks[callbackId] = callback
	self.callbackIds = append(self.callbackIds, callbackId)
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	delete(self.callbacks, callbackId)
	i := slices.Index(self.callbackIds, callbackId)
	self.callbackIds = slices.Delete(slices.Clone(self.callbackIds), i, i+1)
}

func (self *CallbackList[T]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.callbacks)
}
