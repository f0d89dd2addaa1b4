// Package contextver tracks which company context is active. The version
// starts at 1 and strictly increases on every selection change; tiles stamped
// with an older version are stale.
package contextver

import (
	"sync"
	"sync/atomic"
)

const Initial int64 = 1

type Counter struct {
	v atomic.Int64

	mu   sync.Mutex
	subs map[chan int64]struct{}
}

func NewCounter() *Counter {
	return NewCounterFrom(Initial)
}

// NewCounterFrom returns a counter starting at v, or at Initial when v is
// lower. Seeding with the highest version already stamped on stored tiles
// keeps a new counter from reusing versions an earlier run handed out.
func NewCounterFrom(v int64) *Counter {
	c := &Counter{subs: make(map[chan int64]struct{})}
	c.v.Store(max(v, Initial))
	return c
}

func (c *Counter) Current() int64 {
	return c.v.Load()
}

// Bump increments the version and notifies subscribers. Subscribers that
// have not consumed the previous value only see the latest one.
func (c *Counter) Bump() int64 {
	v := c.v.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	// a concurrent Bump may have landed; always publish the newest value
	latest := c.v.Load()
	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- latest
	}
	return v
}

// Subscribe returns a channel receiving new versions and a func that
// unsubscribes and closes the channel.
func (c *Counter) Subscribe() (<-chan int64, func()) {
	ch := make(chan int64, 1)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Registry keeps one counter per session.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*Counter)}
}

func (r *Registry) For(sessionID string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[sessionID]
	if !ok {
		c = NewCounter()
		r.counters[sessionID] = c
	}
	return c
}
