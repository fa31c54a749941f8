// Package socketcan implements canbus.Transport over a Linux SocketCAN
// interface using github.com/brutella/can.
package socketcan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brutella/can"
	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/tools"
	"github.com/rs/zerolog/log"
)

// Linux can_id flag bits.
const (
	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000
)

const DefaultQueueDepth = 1024

var errClosed = errors.New("socketcan: bus closed")

// Bus is the subset of *can.Bus the transport drives.
type Bus interface {
	ConnectAndPublish() error
	Disconnect() error
	Publish(can.Frame) error
	SubscribeFunc(fn can.HandlerFunc)
}

// OpenFunc returns a bus bound to the named interface.
type OpenFunc func(iface string) (Bus, error)

func OpenInterface(iface string) (Bus, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, err
	}
	return bus, nil
}

type Options struct {
	QueueDepth int
	Open       OpenFunc
	// ConfigureLink brings the interface down, sets the bitrate and brings
	// it up again with ip(8) before opening it. Needs CAP_NET_ADMIN.
	ConfigureLink bool
	Runner        tools.CommandRunner
}

// Transport receives frames published by the bus into a bounded queue. When
// the queue is full the newest frame is dropped and counted.
type Transport struct {
	depth  int
	open   OpenFunc
	link   bool
	runner tools.CommandRunner

	mu      sync.Mutex
	bus     Bus
	frames  chan canbus.Frame
	done    chan struct{}
	loopErr error

	dropped atomic.Uint64
}

var _ canbus.Transport = (*Transport)(nil)

func New(opts Options) *Transport {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Open == nil {
		opts.Open = OpenInterface
	}
	if opts.Runner == nil {
		opts.Runner = tools.ExecRunner{}
	}
	return &Transport{
		depth:  opts.QueueDepth,
		open:   opts.Open,
		link:   opts.ConfigureLink,
		runner: opts.Runner,
	}
}

func (t *Transport) Connect(channel string, bitrate int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus != nil {
		return fmt.Errorf("socketcan: %s already open", channel)
	}
	if t.link && bitrate > 0 {
		if err := configureLink(t.runner, channel, bitrate); err != nil {
			return fmt.Errorf("socketcan: configure %s: %w", channel, err)
		}
	} else if bitrate > 0 {
		log.Debug().Str("iface", channel).Int("bitrate", bitrate).Msg("socketcan bitrate is set on the interface; ignoring")
	}
	bus, err := t.open(channel)
	if err != nil {
		return fmt.Errorf("socketcan: open %s: %w", channel, err)
	}

	frames := make(chan canbus.Frame, t.depth)
	done := make(chan struct{})
	bus.SubscribeFunc(func(frm can.Frame) {
		f, ok := fromWire(frm)
		if !ok {
			return
		}
		select {
		case frames <- f:
		default:
			t.dropped.Add(1)
		}
	})
	t.bus = bus
	t.frames = frames
	t.done = done
	t.loopErr = nil
	go t.publish(bus, done)
	return nil
}

func configureLink(r tools.CommandRunner, iface string, bitrate int) error {
	err := tools.RunAll(r,
		[]string{"ip", "link", "set", iface, "down"},
		[]string{"ip", "link", "set", iface, "type", "can", "bitrate", strconv.Itoa(bitrate)},
		[]string{"ip", "link", "set", iface, "up"},
	)
	if err != nil {
		return err
	}
	log.Info().Str("iface", iface).Int("bitrate", bitrate).Msg("socketcan link configured")
	return nil
}

func (t *Transport) publish(bus Bus, done chan struct{}) {
	err := bus.ConnectAndPublish()
	t.mu.Lock()
	if err == nil {
		err = errClosed
	}
	t.loopErr = err
	t.mu.Unlock()
	close(done)
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	bus := t.bus
	t.bus = nil
	t.frames = nil
	t.done = nil
	t.mu.Unlock()
	if bus == nil {
		return nil
	}
	if err := bus.Disconnect(); err != nil {
		return fmt.Errorf("socketcan: disconnect: %w", err)
	}
	return nil
}

// Receive waits for a queued frame. Once the publish loop has ended and the
// queue is drained it reports ErrDeviceGone.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (canbus.Frame, bool, error) {
	t.mu.Lock()
	frames, done := t.frames, t.done
	t.mu.Unlock()
	if frames == nil {
		return canbus.Frame{}, false, canbus.ErrNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-frames:
		return f, true, nil
	case <-done:
		select {
		case f := <-frames:
			return f, true, nil
		default:
		}
		t.mu.Lock()
		err := t.loopErr
		t.mu.Unlock()
		return canbus.Frame{}, false, fmt.Errorf("%w: %w", canbus.ErrDeviceGone, err)
	case <-timer.C:
		return canbus.Frame{}, false, nil
	case <-ctx.Done():
		return canbus.Frame{}, false, nil
	}
}

func (t *Transport) Send(frame canbus.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	bus := t.bus
	t.mu.Unlock()
	if bus == nil {
		return canbus.ErrNotConnected
	}
	if err := bus.Publish(toWire(frame)); err != nil {
		return fmt.Errorf("socketcan: publish: %w", err)
	}
	return nil
}

// Dropped counts frames discarded because the queue was full.
func (t *Transport) Dropped() uint64 {
	return t.dropped.Load()
}

func fromWire(frm can.Frame) (canbus.Frame, bool) {
	if frm.ID&(rtrFlag|errFlag) != 0 {
		return canbus.Frame{}, false
	}
	n := int(frm.Length)
	if n > canbus.MaxDataLength {
		n = canbus.MaxDataLength
	}
	f := canbus.Frame{
		ID:        frm.ID &^ effFlag,
		Extended:  frm.ID&effFlag != 0,
		Data:      append([]byte(nil), frm.Data[:n]...),
		Timestamp: time.Now(),
	}
	return f, true
}

func toWire(f canbus.Frame) can.Frame {
	frm := can.Frame{ID: f.ID, Length: uint8(len(f.Data))}
	if f.Extended {
		frm.ID |= effFlag
	}
	copy(frm.Data[:], f.Data)
	return frm
}
