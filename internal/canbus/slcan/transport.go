// Package slcan implements canbus.Transport over a serial adapter speaking
// the Lawicel SLCAN ASCII protocol.
package slcan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const DefaultBaud = 115200

// Port is the subset of serial.Port the transport uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenFunc opens the serial device at path.
type OpenFunc func(path string, baud int) (Port, error)

// OpenSerial opens path with go.bug.st/serial at 8N1.
func OpenSerial(path string, baud int) (Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

type Options struct {
	Baud int
	Open OpenFunc
}

// Transport is an SLCAN adapter. The channel passed to Connect is the serial
// device path.
type Transport struct {
	baud int
	open OpenFunc

	mu      sync.Mutex
	port    Port
	writeMu sync.Mutex

	// owned by the single receiving goroutine
	pending []byte
	buf     [256]byte
}

var _ canbus.Transport = (*Transport)(nil)

func New(opts Options) *Transport {
	if opts.Baud <= 0 {
		opts.Baud = DefaultBaud
	}
	if opts.Open == nil {
		opts.Open = OpenSerial
	}
	return &Transport{baud: opts.Baud, open: opts.Open}
}

func (t *Transport) Connect(channel string, bitrate int) error {
	setBitrate, err := BitrateCommand(bitrate)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return fmt.Errorf("slcan: %s already open", channel)
	}
	port, err := t.open(channel, t.baud)
	if err != nil {
		return fmt.Errorf("slcan: open %s: %w", channel, err)
	}
	for _, cmd := range [][]byte{[]byte("C\r"), setBitrate, []byte("O\r")} {
		if _, err := port.Write(cmd); err != nil {
			_ = port.Close()
			return fmt.Errorf("slcan: init %s: %w", channel, err)
		}
	}
	t.port = port
	t.pending = t.pending[:0]
	log.Debug().Str("port", channel).Int("baud", t.baud).Int("bitrate", bitrate).Msg("slcan channel open")
	return nil
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()
	if port == nil {
		return nil
	}
	t.writeMu.Lock()
	_, werr := port.Write([]byte("C\r"))
	t.writeMu.Unlock()
	cerr := port.Close()
	if cerr != nil {
		return fmt.Errorf("slcan: close: %w", cerr)
	}
	if werr != nil {
		log.Debug().Err(werr).Msg("slcan close command failed")
	}
	return nil
}

// Receive returns the next data frame. Read failures mean the adapter is
// gone; a BEL from the adapter is reported as ErrAdapter.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (canbus.Frame, bool, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return canbus.Frame{}, false, canbus.ErrNotConnected
	}

	deadline := time.Now().Add(timeout)
	for {
		frame, ok, more, err := t.next()
		if err != nil || ok {
			return frame, ok, err
		}
		if more {
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return canbus.Frame{}, false, nil
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			return canbus.Frame{}, false, fmt.Errorf("%w: %w", canbus.ErrDeviceGone, err)
		}
		n, err := port.Read(t.buf[:])
		if err != nil {
			return canbus.Frame{}, false, fmt.Errorf("%w: %w", canbus.ErrDeviceGone, err)
		}
		t.pending = append(t.pending, t.buf[:n]...)
	}
}

// next consumes one complete unit from pending. more reports that pending
// still holds a complete unit.
func (t *Transport) next() (frame canbus.Frame, ok, more bool, err error) {
	if len(t.pending) == 0 {
		return canbus.Frame{}, false, false, nil
	}
	if t.pending[0] == bell {
		t.pending = t.pending[1:]
		return canbus.Frame{}, false, false, ErrAdapter
	}
	i := bytes.IndexByte(t.pending, '\r')
	if b := bytes.IndexByte(t.pending, bell); b >= 0 && (i < 0 || b < i) {
		// fragment before an error byte is unusable
		t.pending = t.pending[b:]
		return canbus.Frame{}, false, true, nil
	}
	if i < 0 {
		if len(t.pending) > maxLine {
			n := len(t.pending)
			t.pending = t.pending[:0]
			return canbus.Frame{}, false, false, fmt.Errorf("%w: dropped %d bytes", ErrLineOverflow, n)
		}
		return canbus.Frame{}, false, false, nil
	}
	frame, ok, err = DecodeLine(t.pending[:i])
	t.pending = t.pending[i+1:]
	if err != nil {
		return canbus.Frame{}, false, false, err
	}
	if ok {
		frame.Timestamp = time.Now()
		return frame, true, false, nil
	}
	return canbus.Frame{}, false, len(t.pending) > 0, nil
}

func (t *Transport) Send(frame canbus.Frame) error {
	line, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return canbus.ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := port.Write(line); err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	return nil
}
