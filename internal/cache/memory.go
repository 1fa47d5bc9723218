package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/gfs-forecast-service/internal/domain"
)

// Memory is a thread-safe in-process LRU cache with per-entry expiry.
type Memory[V any] struct {
	maxEntries int
	clock      clockwork.Clock
	mu         sync.Mutex
	entries    map[Key]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key       Key
	value     V
	expiresAt time.Time // zero means no expiry
	prev      *entry[V]
	next      *entry[V]
}

// NewMemory creates a Memory cache holding at most maxEntries values.
func NewMemory[V any](maxEntries int, clock clockwork.Clock) *Memory[V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Memory[V]{
		maxEntries: maxEntries,
		clock:      domain.Clock(clock),
		entries:    make(map[Key]*entry[V]),
	}
}

func (c *Memory[V]) Get(_ context.Context, key Key) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false, nil
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		c.remove(e)
		delete(c.entries, key)
		return zero, false, nil
	}
	c.moveToFront(e)
	return e.value, true, nil
}

func (c *Memory[V]) Set(_ context.Context, key Key, value V, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.clock.Now().Add(ttl)
	}

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return nil
	}

	e := &entry[V]{key: key, value: value, expiresAt: expiresAt}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
	return nil
}

// Len returns the number of entries, expired or not.
func (c *Memory[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close drops every entry.
func (c *Memory[V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*entry[V])
	c.head, c.tail = nil, nil
	return nil
}

func (c *Memory[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *Memory[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Memory[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *Memory[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
