package monitor

import (
	"context"
	"sync"
	"time"
)

// Consumer receives every snapshot a Refresher produces. Consume must not
// block for long; it runs on the refresher goroutine.
type Consumer interface {
	Consume(Snapshot)
}

type ConsumerFunc func(Snapshot)

func (f ConsumerFunc) Consume(s Snapshot) { f(s) }

// Refresher builds a snapshot every interval and hands it to consumers.
type Refresher struct {
	builder  *Builder
	interval time.Duration

	mu        sync.RWMutex
	consumers map[int]Consumer
	nextID    int
	latest    Snapshot
}

func NewRefresher(builder *Builder, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultConfig().RefreshInterval
	}
	return &Refresher{
		builder:   builder,
		interval:  interval,
		consumers: make(map[int]Consumer),
	}
}

// Subscribe registers c and returns a func that removes it.
func (r *Refresher) Subscribe(c Consumer) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.consumers[id] = c
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.consumers, id)
		r.mu.Unlock()
	}
}

// Latest returns the most recently delivered snapshot.
func (r *Refresher) Latest() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Run ticks until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick builds and delivers one snapshot.
func (r *Refresher) Tick() Snapshot {
	snap := r.builder.Build()
	r.mu.Lock()
	r.latest = snap
	consumers := make([]Consumer, 0, len(r.consumers))
	for _, c := range r.consumers {
		consumers = append(consumers, c)
	}
	r.mu.Unlock()
	for _, c := range consumers {
		c.Consume(snap)
	}
	return snap
}
