package monitor

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/testutil/testlog"
)

func TestCacheUpsertAndObserve(t *testing.T) {
	testlog.Start(t)

	c := NewCache()
	t0 := time.Unix(100, 0)
	st := c.Upsert(0x100, canbus.Fields{"speed": {Number: 1}}, t0)
	if st.Count != 1 || !st.LastSeen.Equal(t0) {
		t.Fatalf("unexpected first upsert: %+v", st)
	}

	t1 := t0.Add(time.Second)
	st = c.Observe(0x100, t1)
	if st.Count != 2 || !st.LastSeen.Equal(t1) {
		t.Fatalf("unexpected observe: %+v", st)
	}
	if st.Latest["speed"].Number != 1 {
		t.Fatalf("observe replaced latest: %+v", st.Latest)
	}

	st = c.Observe(0x200, t1)
	if st.Count != 1 || st.Latest != nil {
		t.Fatalf("unexpected observe of new id: %+v", st)
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	testlog.Start(t)

	c := NewCache()
	fields := canbus.Fields{"speed": {Number: 1}}
	c.Upsert(0x100, fields, time.Now())
	fields["speed"] = canbus.Value{Number: 99}

	st, _ := c.Get(0x100)
	if st.Latest["speed"].Number != 1 {
		t.Fatalf("cache aliased caller fields")
	}
	st.Latest["speed"] = canbus.Value{Number: 42}

	again, _ := c.Get(0x100)
	if again.Latest["speed"].Number != 1 {
		t.Fatalf("cache aliased returned fields")
	}
}

func TestCacheCountSaturates(t *testing.T) {
	testlog.Start(t)

	c := NewCache()
	c.Upsert(0x100, nil, time.Now())
	c.slot(0x100).Store(&MessageState{ID: 0x100, Count: math.MaxUint64})
	if st := c.Observe(0x100, time.Now()); st.Count != math.MaxUint64 {
		t.Fatalf("count wrapped: %d", st.Count)
	}
}

func TestCacheReadAllOrderedAndReset(t *testing.T) {
	testlog.Start(t)

	c := NewCache()
	for _, id := range []uint32{0x300, 0x100, 0x200} {
		c.Upsert(id, canbus.Fields{}, time.Now())
	}
	all := c.ReadAll()
	if len(all) != 3 || all[0].ID != 0x100 || all[1].ID != 0x200 || all[2].ID != 0x300 {
		t.Fatalf("unexpected order: %+v", all)
	}
	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after reset")
	}
}

func TestCacheConcurrentUpdates(t *testing.T) {
	testlog.Start(t)

	c := NewCache()
	const writers, perWriter = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				c.Upsert(0x100, canbus.Fields{"w": {Number: float64(w)}}, time.Now())
				c.ReadAll()
			}
		}(w)
	}
	wg.Wait()

	st, _ := c.Get(0x100)
	if st.Count != writers*perWriter {
		t.Fatalf("lost updates: count=%d", st.Count)
	}
}
