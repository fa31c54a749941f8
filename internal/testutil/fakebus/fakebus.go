// Package fakebus provides a scripted in-memory canbus.Transport for tests.
package fakebus

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/canview/internal/canbus"
)

type event struct {
	frame canbus.Frame
	err   error
}

// Bus replays queued frames and errors in order. With an empty queue,
// Receive idles until its timeout like a quiet bus.
type Bus struct {
	mu          sync.Mutex
	queue       []event
	notify      chan struct{}
	connected   bool
	channel     string
	bitrate     int
	connectErr  error
	sendErr     error
	sent        []canbus.Frame
	connects    int
	disconnects int
	delivered   int
	stuck       chan struct{}
	inReceive   int
}

var _ canbus.Transport = (*Bus)(nil)

func New() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

// FailConnect makes subsequent Connect calls return err (nil clears it).
func (b *Bus) FailConnect(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
}

// FailSend makes subsequent Send calls return err (nil clears it).
func (b *Bus) FailSend(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

// Stick makes Receive block, ignoring its context and timeout, until Release.
func (b *Bus) Stick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stuck == nil {
		b.stuck = make(chan struct{})
	}
}

func (b *Bus) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stuck != nil {
		close(b.stuck)
		b.stuck = nil
	}
}

// Push queues frames for delivery.
func (b *Bus) Push(frames ...canbus.Frame) {
	b.mu.Lock()
	for _, f := range frames {
		b.queue = append(b.queue, event{frame: f})
	}
	b.mu.Unlock()
	b.wake()
}

// PushFrame queues a frame built from id and data.
func (b *Bus) PushFrame(id uint32, data ...byte) {
	f, err := canbus.NewFrame(id, data)
	if err != nil {
		panic(err)
	}
	b.Push(f)
}

// PushError queues a receive error.
func (b *Bus) PushError(err error) {
	b.mu.Lock()
	b.queue = append(b.queue, event{err: err})
	b.mu.Unlock()
	b.wake()
}

func (b *Bus) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bus) Connect(channel string, bitrate int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	b.channel = channel
	b.bitrate = bitrate
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	b.connected = false
	return nil
}

func (b *Bus) Receive(ctx context.Context, timeout time.Duration) (canbus.Frame, bool, error) {
	b.mu.Lock()
	stuck := b.stuck
	b.inReceive++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inReceive--
		b.mu.Unlock()
	}()
	if stuck != nil {
		<-stuck
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			ev := b.queue[0]
			b.queue = b.queue[1:]
			b.delivered++
			b.mu.Unlock()
			if ev.err != nil {
				return canbus.Frame{}, false, ev.err
			}
			return ev.frame, true, nil
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-timer.C:
			return canbus.Frame{}, false, nil
		case <-ctx.Done():
			return canbus.Frame{}, false, nil
		}
	}
}

func (b *Bus) Send(frame canbus.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	if !b.connected {
		return canbus.ErrNotConnected
	}
	b.sent = append(b.sent, frame)
	return nil
}

func (b *Bus) Sent() []canbus.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]canbus.Frame(nil), b.sent...)
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Counts reports connect and disconnect calls.
func (b *Bus) Counts() (connects, disconnects int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.disconnects
}

// Pending reports queued events not yet delivered.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Delivered reports events handed to a receiver.
func (b *Bus) Delivered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delivered
}

// Receivers reports callers currently inside Receive.
func (b *Bus) Receivers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inReceive
}

func (b *Bus) Channel() (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel, b.bitrate
}
