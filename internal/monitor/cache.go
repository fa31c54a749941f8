package monitor

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/canview/internal/canbus"
)

// MessageState is the latest known state of one identifier. Latest is nil
// until a frame for the identifier decodes successfully.
type MessageState struct {
	ID       uint32        `json:"id"`
	LastSeen time.Time     `json:"last_seen"`
	Count    uint64        `json:"count"`
	Latest   canbus.Fields `json:"latest,omitempty"`
}

func (m MessageState) clone() MessageState {
	m.Latest = m.Latest.Clone()
	return m
}

// Cache holds one MessageState per identifier. Each entry is an immutable
// value behind an atomic pointer, so an update replaces timestamp, count and
// fields together and readers never see a partial write. The map lock only
// guards slot creation and lookup.
type Cache struct {
	mu    sync.RWMutex
	slots map[uint32]*atomic.Pointer[MessageState]
}

func NewCache() *Cache {
	return &Cache{slots: make(map[uint32]*atomic.Pointer[MessageState])}
}

// Upsert records a decoded frame: count+1, last_seen=at, latest=fields.
func (c *Cache) Upsert(id uint32, fields canbus.Fields, at time.Time) MessageState {
	return c.update(id, at, fields.Clone(), true)
}

// Observe records a frame that did not decode: count+1, last_seen=at,
// latest unchanged.
func (c *Cache) Observe(id uint32, at time.Time) MessageState {
	return c.update(id, at, nil, false)
}

func (c *Cache) update(id uint32, at time.Time, fields canbus.Fields, replace bool) MessageState {
	slot := c.slot(id)
	for {
		prev := slot.Load()
		next := &MessageState{ID: id, LastSeen: at, Count: 1}
		if prev != nil {
			next.Count = prev.Count
			if next.Count < math.MaxUint64 {
				next.Count++
			}
			next.Latest = prev.Latest
		}
		if replace {
			next.Latest = fields
		}
		if slot.CompareAndSwap(prev, next) {
			return next.clone()
		}
	}
}

func (c *Cache) slot(id uint32) *atomic.Pointer[MessageState] {
	c.mu.RLock()
	slot, ok := c.slots[id]
	c.mu.RUnlock()
	if ok {
		return slot
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok := c.slots[id]; ok {
		return slot
	}
	slot = new(atomic.Pointer[MessageState])
	c.slots[id] = slot
	return slot
}

// Get returns an independent copy of the entry for id.
func (c *Cache) Get(id uint32) (MessageState, bool) {
	c.mu.RLock()
	slot, ok := c.slots[id]
	c.mu.RUnlock()
	if !ok {
		return MessageState{}, false
	}
	st := slot.Load()
	if st == nil {
		return MessageState{}, false
	}
	return st.clone(), true
}

// ReadAll returns independent copies of every entry ordered by identifier.
func (c *Cache) ReadAll() []MessageState {
	c.mu.RLock()
	out := make([]MessageState, 0, len(c.slots))
	for _, slot := range c.slots {
		if st := slot.Load(); st != nil {
			out = append(out, st.clone())
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.slots = make(map[uint32]*atomic.Pointer[MessageState])
	c.mu.Unlock()
}
