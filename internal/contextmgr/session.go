package contextmgr

import (
	"container/list"
	"sync"

	"github.com/halcyonbot/halcyon/internal/schema"
)

// Session is the in-memory window for one conversation. TurnCount is the
// lifetime ordinal counter and keeps growing across summarizations; Turns
// holds only the live window.
type Session struct {
	Key       string
	Turns     []schema.Turn
	Summary   string
	TurnCount int
}

// SessionCache keeps hot sessions resident, evicting the least recently
// accessed once capacity is exceeded. Eviction is deterministic: exactly
// the coldest sessions go, and an evicted session rehydrates from the
// durable store on its next access.
type SessionCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

func NewSessionCache(capacity int) *SessionCache {
	if capacity < 1 {
		capacity = 1
	}
	return &SessionCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached session and marks it most recently used.
func (c *SessionCache) Get(key string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*Session), true
}

// Put inserts or refreshes a session and returns any sessions evicted to
// stay within capacity.
func (c *SessionCache) Put(sess *Session) []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[sess.Key]; ok {
		el.Value = sess
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[sess.Key] = c.order.PushFront(sess)

	var evicted []*Session
	for c.order.Len() > c.capacity {
		el := c.order.Back()
		old := el.Value.(*Session)
		c.order.Remove(el)
		delete(c.entries, old.Key)
		evicted = append(evicted, old)
	}
	return evicted
}

// Remove drops a session without touching the durable store.
func (c *SessionCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len reports the number of resident sessions.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
