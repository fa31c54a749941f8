package socketcan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brutella/can"
	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/testutil/testlog"
)

type fakeBus struct {
	mu        sync.Mutex
	handler   can.HandlerFunc
	published []can.Frame
	stop      chan error
}

func newFakeBus() *fakeBus {
	return &fakeBus{stop: make(chan error, 1)}
}

func (b *fakeBus) ConnectAndPublish() error { return <-b.stop }

func (b *fakeBus) Disconnect() error {
	select {
	case b.stop <- nil:
	default:
	}
	return nil
}

func (b *fakeBus) Publish(frm can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, frm)
	return nil
}

func (b *fakeBus) SubscribeFunc(fn can.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

func (b *fakeBus) deliver(frm can.Frame) {
	b.mu.Lock()
	fn := b.handler
	b.mu.Unlock()
	fn(frm)
}

func connected(t *testing.T, bus *fakeBus, depth int) *Transport {
	t.Helper()
	tr := New(Options{QueueDepth: depth, Open: func(iface string) (Bus, error) {
		if iface != "vcan0" {
			t.Fatalf("unexpected iface %q", iface)
		}
		return bus, nil
	}})
	if err := tr.Connect("vcan0", 500000); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return tr
}

func TestReceiveStandardAndExtended(t *testing.T) {
	testlog.Start(t)

	bus := newFakeBus()
	tr := connected(t, bus, 4)
	defer tr.Disconnect()

	bus.deliver(can.Frame{ID: 0x100, Length: 2, Data: [8]uint8{0x01, 0x02}})
	bus.deliver(can.Frame{ID: 0x18FEF100 | effFlag, Length: 1, Data: [8]uint8{0xFF}})
	bus.deliver(can.Frame{ID: 0x100 | rtrFlag})

	f, ok, err := tr.Receive(context.Background(), 50*time.Millisecond)
	if err != nil || !ok || f.ID != 0x100 || f.Extended || len(f.Data) != 2 {
		t.Fatalf("unexpected std frame: %+v ok=%v err=%v", f, ok, err)
	}
	f, ok, err = tr.Receive(context.Background(), 50*time.Millisecond)
	if err != nil || !ok || f.ID != 0x18FEF100 || !f.Extended || f.Data[0] != 0xFF {
		t.Fatalf("unexpected ext frame: %+v ok=%v err=%v", f, ok, err)
	}
	if _, ok, err := tr.Receive(context.Background(), 10*time.Millisecond); ok || err != nil {
		t.Fatalf("remote frame should be dropped: ok=%v err=%v", ok, err)
	}
}

func TestQueueOverflowDropsNewest(t *testing.T) {
	testlog.Start(t)

	bus := newFakeBus()
	tr := connected(t, bus, 2)
	defer tr.Disconnect()

	for i := 0; i < 5; i++ {
		bus.deliver(can.Frame{ID: uint32(0x100 + i), Length: 0})
	}
	if tr.Dropped() != 3 {
		t.Fatalf("expected 3 dropped, got %d", tr.Dropped())
	}
	f, _, _ := tr.Receive(context.Background(), 10*time.Millisecond)
	if f.ID != 0x100 {
		t.Fatalf("expected oldest frame kept, got 0x%X", f.ID)
	}
}

func TestPublishLoopEndIsDeviceGone(t *testing.T) {
	testlog.Start(t)

	bus := newFakeBus()
	tr := connected(t, bus, 4)
	bus.stop <- errors.New("network is down")

	_, _, err := tr.Receive(context.Background(), time.Second)
	if !errors.Is(err, canbus.ErrDeviceGone) {
		t.Fatalf("expected ErrDeviceGone, got %v", err)
	}
}

func TestReceiveHonorsContext(t *testing.T) {
	testlog.Start(t)

	tr := connected(t, newFakeBus(), 4)
	defer tr.Disconnect()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if _, ok, err := tr.Receive(ctx, time.Minute); ok || err != nil {
		t.Fatalf("unexpected receive result: ok=%v err=%v", ok, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("receive ignored cancelled context")
	}
}

func TestSendSetsExtendedFlag(t *testing.T) {
	testlog.Start(t)

	bus := newFakeBus()
	tr := connected(t, bus, 4)
	defer tr.Disconnect()

	ext, _ := canbus.NewFrame(0x18DAF110, []byte{0x02, 0x10})
	if err := tr.Send(ext); err != nil {
		t.Fatalf("send: %v", err)
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.published) != 1 {
		t.Fatalf("expected one published frame")
	}
	got := bus.published[0]
	if got.ID != 0x18DAF110|effFlag || got.Length != 2 || got.Data[1] != 0x10 {
		t.Fatalf("unexpected wire frame: %+v", got)
	}
}

func TestNotConnected(t *testing.T) {
	testlog.Start(t)

	tr := New(Options{})
	if _, _, err := tr.Receive(context.Background(), time.Millisecond); !errors.Is(err, canbus.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := tr.Send(canbus.Frame{ID: 1}); !errors.Is(err, canbus.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

type linkRunner struct {
	calls []string
	fail  bool
}

func (r *linkRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	if r.fail {
		return nil, []byte("Cannot find device \"vcan9\""), 1, errors.New("exit status 1")
	}
	return nil, nil, 0, nil
}

func TestConfigureLinkSetsBitrateBeforeOpen(t *testing.T) {
	testlog.Start(t)

	runner := &linkRunner{}
	bus := newFakeBus()
	tr := New(Options{ConfigureLink: true, Runner: runner, Open: func(string) (Bus, error) {
		if len(runner.calls) != 3 {
			t.Fatalf("link not configured before open: %v", runner.calls)
		}
		return bus, nil
	}})
	if err := tr.Connect("vcan0", 250000); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()

	want := []string{
		"ip link set vcan0 down",
		"ip link set vcan0 type can bitrate 250000",
		"ip link set vcan0 up",
	}
	for i, call := range want {
		if runner.calls[i] != call {
			t.Fatalf("call %d: got %q want %q", i, runner.calls[i], call)
		}
	}
}

func TestConfigureLinkFailureAbortsConnect(t *testing.T) {
	testlog.Start(t)

	runner := &linkRunner{fail: true}
	opened := false
	tr := New(Options{ConfigureLink: true, Runner: runner, Open: func(string) (Bus, error) {
		opened = true
		return newFakeBus(), nil
	}})
	err := tr.Connect("vcan9", 500000)
	if err == nil || !strings.Contains(err.Error(), "Cannot find device") {
		t.Fatalf("expected link error, got %v", err)
	}
	if opened || len(runner.calls) != 1 {
		t.Fatalf("connect continued after link failure: opened=%v calls=%v", opened, runner.calls)
	}
}
