package monitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Failure kinds recorded by the reader.
const (
	KindReceive = "receive"
	KindDecode  = "decode"
	KindExit    = "exit"
)

// Failure is one recorded data-path failure.
type Failure struct {
	Kind string    `json:"kind"`
	ID   uint32    `json:"id,omitempty"`
	Err  string    `json:"error"`
	At   time.Time `json:"at"`
}

// Diagnostics keeps the most recent failures in a fixed-size ring.
type Diagnostics struct {
	mu    sync.Mutex
	ring  []Failure
	next  int
	full  bool
	total uint64
}

func NewDiagnostics(depth int) *Diagnostics {
	if depth <= 0 {
		depth = 1
	}
	return &Diagnostics{ring: make([]Failure, depth)}
}

func (d *Diagnostics) Record(kind string, id uint32, err error, at time.Time) {
	f := Failure{Kind: kind, ID: id, At: at}
	if err != nil {
		f.Err = err.Error()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ring[d.next] = f
	d.next = (d.next + 1) % len(d.ring)
	if d.next == 0 {
		d.full = true
	}
	d.total++
}

// Recent returns retained failures, oldest first.
func (d *Diagnostics) Recent() []Failure {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.full {
		return append([]Failure(nil), d.ring[:d.next]...)
	}
	out := make([]Failure, 0, len(d.ring))
	out = append(out, d.ring[d.next:]...)
	out = append(out, d.ring[:d.next]...)
	return out
}

// Last returns the most recent failure, if any.
func (d *Diagnostics) Last() (Failure, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.total == 0 {
		return Failure{}, false
	}
	idx := (d.next - 1 + len(d.ring)) % len(d.ring)
	return d.ring[idx], true
}

func (d *Diagnostics) Total() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Stats counts reader outcomes. Safe for concurrent use.
type Stats struct {
	received       atomic.Uint64
	accepted       atomic.Uint64
	filtered       atomic.Uint64
	decodeFailures atomic.Uint64
	receiveErrors  atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Received       uint64 `json:"received"`
	Accepted       uint64 `json:"accepted"`
	Filtered       uint64 `json:"filtered"`
	DecodeFailures uint64 `json:"decode_failures"`
	ReceiveErrors  uint64 `json:"receive_errors"`
}

// Handled counts frames and receive errors whose processing has finished.
func (s StatsSnapshot) Handled() uint64 {
	return s.Accepted + s.Filtered + s.DecodeFailures + s.ReceiveErrors
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:       s.received.Load(),
		Accepted:       s.accepted.Load(),
		Filtered:       s.filtered.Load(),
		DecodeFailures: s.decodeFailures.Load(),
		ReceiveErrors:  s.receiveErrors.Load(),
	}
}
