// Package replay implements canbus.Transport over a recorded candump log.
// The channel passed to Connect is the log file path.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// Rate scales recorded inter-frame gaps: 1 is real time, 2 twice as
	// fast. Zero or less replays without pacing.
	Rate float64
	// Loop restarts from the first frame at end of log.
	Loop bool
	// Iface names the interface in logged sent frames.
	Iface string
}

// maxSent bounds the frames kept for Sent.
const maxSent = 256

type Transport struct {
	opts Options

	mu      sync.Mutex
	frames  []canbus.Frame
	open    bool
	next    int
	started time.Time
	skipped int
	sent    []canbus.Frame
}

var _ canbus.Transport = (*Transport)(nil)

func New(opts Options) *Transport {
	if opts.Iface == "" {
		opts.Iface = "replay0"
	}
	return &Transport{opts: opts}
}

// Connect loads path. Malformed lines are skipped and counted; bitrate is
// ignored.
func (t *Transport) Connect(channel string, bitrate int) error {
	data, err := os.ReadFile(channel)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	frames, skipped := parseLog(data)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return fmt.Errorf("replay: %s already open", channel)
	}
	t.frames = frames
	t.skipped = skipped
	t.next = 0
	t.started = time.Time{}
	t.open = true
	log.Info().
		Str("file", channel).
		Int("frames", len(frames)).
		Int("skipped", skipped).
		Float64("rate", t.opts.Rate).
		Msg("replay loaded")
	return nil
}

func parseLog(data []byte) ([]canbus.Frame, int) {
	var frames []canbus.Frame
	skipped := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == ';' {
			continue
		}
		f, err := canbus.ParseCandump(string(line))
		if err != nil {
			skipped++
			log.Debug().Err(err).Str("line", string(line)).Msg("replay skipped line")
			continue
		}
		frames = append(frames, f)
	}
	return frames, skipped
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	t.frames = nil
	return nil
}

// Receive emits the next recorded frame once its paced due time arrives.
// At end of log it idles for timeout unless looping.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (canbus.Frame, bool, error) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return canbus.Frame{}, false, canbus.ErrNotConnected
	}
	if t.next >= len(t.frames) && t.opts.Loop && len(t.frames) > 0 {
		t.next = 0
		t.started = time.Time{}
	}
	if t.next >= len(t.frames) {
		t.mu.Unlock()
		wait(ctx, timeout)
		return canbus.Frame{}, false, nil
	}
	now := time.Now()
	if t.started.IsZero() {
		t.started = now
	}
	f := t.frames[t.next]
	due := t.due(f)
	t.mu.Unlock()

	if delay := due.Sub(now); delay > 0 {
		if delay > timeout {
			wait(ctx, timeout)
			return canbus.Frame{}, false, nil
		}
		if !wait(ctx, delay) {
			return canbus.Frame{}, false, nil
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open || t.next >= len(t.frames) {
		return canbus.Frame{}, false, nil
	}
	t.next++
	out := f
	out.Data = append([]byte(nil), f.Data...)
	out.Timestamp = time.Now()
	return out, true, nil
}

// due is the wall time frame f should be emitted. Caller holds mu.
func (t *Transport) due(f canbus.Frame) time.Time {
	if t.opts.Rate <= 0 {
		return t.started
	}
	first := t.frames[0].Timestamp
	if first.IsZero() || f.Timestamp.IsZero() {
		return t.started
	}
	offset := time.Duration(float64(f.Timestamp.Sub(first)) / t.opts.Rate)
	return t.started.Add(offset)
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Send records the frame and logs it in candump format.
func (t *Transport) Send(frame canbus.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return canbus.ErrNotConnected
	}
	frame.Data = append([]byte(nil), frame.Data...)
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	if len(t.sent) == maxSent {
		copy(t.sent, t.sent[1:])
		t.sent = t.sent[:maxSent-1]
	}
	t.sent = append(t.sent, frame)
	log.Info().Str("frame", canbus.FormatCandump(t.opts.Iface, frame)).Msg("replay send")
	return nil
}

// Sent returns the most recent sent frames, oldest first.
func (t *Transport) Sent() []canbus.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]canbus.Frame(nil), t.sent...)
}

// Skipped reports malformed lines dropped by the last Connect.
func (t *Transport) Skipped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped
}
