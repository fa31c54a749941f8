package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/observability"
)

// Entry is one identifier's state as of a snapshot.
type Entry struct {
	ID       uint32        `json:"id" cbor:"id"`
	Name     string        `json:"name,omitempty" cbor:"name,omitempty"`
	Count    uint64        `json:"count" cbor:"count"`
	LastSeen time.Time     `json:"last_seen" cbor:"last_seen"`
	Age      time.Duration `json:"age_ns" cbor:"age_ns"`
	Fields   canbus.Fields `json:"fields" cbor:"fields"`
}

// Snapshot is an immutable, ordered view of the selected identifiers.
// Entries ascend by identifier.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at" cbor:"taken_at"`
	Entries []Entry   `json:"entries" cbor:"entries"`
}

func (s Snapshot) Len() int {
	return len(s.Entries)
}

// Text renders the snapshot in the live-data pane format.
func (s Snapshot) Text() string {
	lines := make([]string, 0, len(s.Entries)*4)
	for _, e := range s.Entries {
		if e.Name != "" {
			lines = append(lines, fmt.Sprintf("=== 0x%X - %s ===", e.ID, e.Name))
		} else {
			lines = append(lines, fmt.Sprintf("=== 0x%X ===", e.ID))
		}
		lines = append(lines, fmt.Sprintf("  Count: %d | Last: %.2fs ago", e.Count, e.Age.Seconds()))
		for _, name := range e.Fields.Names() {
			lines = append(lines, fmt.Sprintf("  %s: %s", name, e.Fields[name]))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// Builder produces snapshots from a Selection and a Cache.
type Builder struct {
	selection *Selection
	cache     *Cache
	names     canbus.Decoder
	now       func() time.Time
}

// NewBuilder returns a Builder. names may be nil; it only supplies message
// names for entries.
func NewBuilder(selection *Selection, cache *Cache, names canbus.Decoder, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{selection: selection, cache: cache, names: names, now: now}
}

// Build reads the current selection and, for each selected identifier with
// decoded fields, copies its cache entry. Age is computed at build time.
func (b *Builder) Build() Snapshot {
	start := time.Now()
	ids := b.selection.IDs()
	now := b.now()
	snap := Snapshot{TakenAt: now, Entries: make([]Entry, 0, len(ids))}
	for _, id := range ids {
		st, ok := b.cache.Get(id)
		if !ok || st.Latest == nil {
			continue
		}
		entry := Entry{
			ID:       id,
			Count:    st.Count,
			LastSeen: st.LastSeen,
			Age:      now.Sub(st.LastSeen),
			Fields:   st.Latest,
		}
		if b.names != nil {
			if desc, ok := b.names.Lookup(id); ok {
				entry.Name = desc.Name
			}
		}
		snap.Entries = append(snap.Entries, entry)
	}
	observability.RecordSnapshot(len(snap.Entries), time.Since(start))
	return snap
}
