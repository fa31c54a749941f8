package monitor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/testutil/fakebus"
)

var errBadPayload = errors.New("bad payload")

// stubDecoder decodes 0x100 and 0x200 as a single "speed" byte and rejects
// everything else.
type stubDecoder struct{}

func (stubDecoder) Lookup(id uint32) (canbus.Descriptor, bool) {
	switch id {
	case 0x100:
		return canbus.Descriptor{ID: id, Name: "VehicleSpeed", Length: 2, Signals: []string{"speed"}}, true
	case 0x200:
		return canbus.Descriptor{ID: id, Name: "Battery", Length: 1, Signals: []string{"speed"}}, true
	default:
		return canbus.Descriptor{}, false
	}
}

func (stubDecoder) Decode(id uint32, payload []byte) (canbus.Fields, error) {
	if id != 0x100 && id != 0x200 {
		return nil, fmt.Errorf("0x%X: %w", id, errBadPayload)
	}
	if len(payload) == 0 {
		return nil, errBadPayload
	}
	return canbus.Fields{"speed": {Number: float64(payload[0])}}, nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ReceiveTimeout = 5 * time.Millisecond
	cfg.ReceiveErrorPause = time.Millisecond
	cfg.RefreshInterval = 5 * time.Millisecond
	cfg.StopGrace = 500 * time.Millisecond
	return cfg
}

func newTestSession(t *testing.T, bus *fakebus.Bus, cfg Config, ids ...uint32) *Session {
	t.Helper()
	s, err := NewSession(SessionDeps{
		Transport: bus,
		Decoder:   stubDecoder{},
		Selection: NewSelection(ids...),
		Config:    cfg,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func startReceiving(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Connect("can0", 500000); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.StartReceiving(); err != nil {
		t.Fatalf("start receiving: %v", err)
	}
}

// drain waits until the reader has finished handling n events.
func drain(t *testing.T, s *Session, n uint64) {
	t.Helper()
	ok := waitForCondition(2*time.Second, time.Millisecond, func() bool {
		return s.Stats().Handled() >= n
	})
	if !ok {
		t.Fatalf("reader handled %d of %d events", s.Stats().Handled(), n)
	}
}

func waitForCondition(timeout time.Duration, interval time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(interval)
	}
	return fn()
}
