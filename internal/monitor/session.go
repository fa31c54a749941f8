package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is a Session lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReceiving
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReceiving:
		return "receiving"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionDeps holds the collaborators of a Session.
type SessionDeps struct {
	Transport canbus.Transport
	Decoder   canbus.Decoder
	Selection *Selection
	Cache     *Cache
	Config    Config
	Now       func() time.Time
	Logger    *zerolog.Logger
}

// Status is a point-in-time view of a Session for the controlling layer.
type Status struct {
	ID          string        `json:"id,omitempty"`
	State       State         `json:"state"`
	Channel     string        `json:"channel,omitempty"`
	Bitrate     int           `json:"bitrate,omitempty"`
	ConnectedAt time.Time     `json:"connected_at,omitempty"`
	Stats       StatsSnapshot `json:"stats"`
	LastFailure *Failure      `json:"last_failure,omitempty"`
	ReaderErr   string        `json:"reader_error,omitempty"`
}

// readerRun is one started reader goroutine.
type readerRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Session governs the transport and reader lifecycle. Control operations
// (Connect, StartReceiving, StopReceiving, Disconnect) are serialized.
// Selection and Cache are owned by the caller and survive reconnects.
type Session struct {
	opMu sync.Mutex

	mu          sync.RWMutex
	state       State
	id          string
	channel     string
	bitrate     int
	connectedAt time.Time
	run         *readerRun
	readerErr   error

	cfg       Config
	transport canbus.Transport
	selection *Selection
	cache     *Cache
	stats     *Stats
	diag      *Diagnostics
	reader    *Reader
	builder   *Builder
	now       func() time.Time
	logger    zerolog.Logger
}

func NewSession(deps SessionDeps) (*Session, error) {
	cfg := deps.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	selection := deps.Selection
	if selection == nil {
		selection = NewSelection()
	}
	cache := deps.Cache
	if cache == nil {
		cache = NewCache()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	s := &Session{
		state:     StateDisconnected,
		cfg:       cfg,
		transport: deps.Transport,
		selection: selection,
		cache:     cache,
		stats:     &Stats{},
		diag:      NewDiagnostics(cfg.DiagnosticsDepth),
		now:       now,
		logger:    logger,
	}
	s.reader = NewReader(ReaderDeps{
		Transport:   deps.Transport,
		Decoder:     deps.Decoder,
		Selection:   selection,
		Cache:       cache,
		Stats:       s.stats,
		Diagnostics: s.diag,
		Config:      cfg,
		Now:         now,
		Logger:      &logger,
	})
	s.builder = NewBuilder(selection, cache, deps.Decoder, now)
	return s, nil
}

// Connect opens the transport. Valid only while disconnected; on failure the
// session stays disconnected.
func (s *Session) Connect(channel string, bitrate int) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrPrecondition, state)
	}
	s.id = uuid.NewString()
	s.channel = channel
	s.bitrate = bitrate
	s.readerErr = nil
	s.setStateLocked(StateConnecting)
	id := s.id
	s.mu.Unlock()

	if err := s.transport.Connect(channel, bitrate); err != nil {
		s.mu.Lock()
		s.setStateLocked(StateDisconnected)
		s.mu.Unlock()
		s.logger.Error().
			Str("session", id).
			Str("channel", channel).
			Int("bitrate", bitrate).
			Err(err).
			Msg("connect failed")
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}

	s.mu.Lock()
	s.connectedAt = s.now()
	s.setStateLocked(StateConnected)
	s.mu.Unlock()
	s.logger.Info().
		Str("session", id).
		Str("channel", channel).
		Int("bitrate", bitrate).
		Msg("connected")
	return nil
}

// StartReceiving starts the reader. Valid only while connected; a second call
// while receiving is a no-op.
func (s *Session) StartReceiving() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReceiving:
		return nil
	case StateConnected:
	default:
		return fmt.Errorf("%w: start receiving while %s", ErrPrecondition, s.state)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &readerRun{cancel: cancel, done: make(chan struct{})}
	s.run = run
	s.readerErr = nil
	s.setStateLocked(StateReceiving)
	go s.runReader(ctx, run)
	s.logger.Info().Str("session", s.id).Msg("reader started")
	return nil
}

func (s *Session) runReader(ctx context.Context, run *readerRun) {
	err := s.reader.Run(ctx)
	run.err = err
	close(run.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != run {
		return
	}
	if err != nil {
		s.readerErr = err
		s.logger.Error().Str("session", s.id).Err(err).Msg("reader stopped on its own")
	}
	s.run = nil
	run.cancel()
	if s.state == StateReceiving {
		s.setStateLocked(StateConnected)
	}
}

// StopReceiving stops the reader and waits up to the stop grace period. On
// ErrShutdownTimeout the session stays receiving: the reader may still be
// using the transport, so nothing is released.
func (s *Session) StopReceiving() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	state := s.state
	run := s.run
	s.mu.RUnlock()
	if state != StateReceiving || run == nil {
		return fmt.Errorf("%w: stop receiving while %s", ErrPrecondition, state)
	}
	if err := s.stopReader(run); err != nil {
		return err
	}

	s.mu.Lock()
	if s.run == run {
		s.run = nil
	}
	if s.state == StateReceiving {
		s.setStateLocked(StateConnected)
	}
	s.mu.Unlock()
	s.logger.Info().Str("session", s.ID()).Msg("reader stopped")
	return nil
}

func (s *Session) stopReader(run *readerRun) error {
	run.cancel()
	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-run.done:
		return nil
	case <-timer.C:
		s.logger.Error().
			Str("session", s.ID()).
			Dur("grace", s.cfg.StopGrace).
			Msg("reader did not stop within grace period")
		return fmt.Errorf("%w: after %s", ErrShutdownTimeout, s.cfg.StopGrace)
	}
}

// Disconnect stops the reader if running, then releases the transport. If
// the reader does not stop in time the transport is kept and
// ErrShutdownTimeout is returned.
func (s *Session) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	prev := s.state
	if prev != StateConnected && prev != StateReceiving {
		s.mu.Unlock()
		return fmt.Errorf("%w: disconnect while %s", ErrPrecondition, prev)
	}
	run := s.run
	s.setStateLocked(StateDisconnecting)
	s.mu.Unlock()

	if run != nil {
		if err := s.stopReader(run); err != nil && s.restoreIfStillRunning(run) {
			return err
		}
	}

	err := s.transport.Disconnect()

	s.mu.Lock()
	s.run = nil
	s.connectedAt = time.Time{}
	s.setStateLocked(StateDisconnected)
	id := s.id
	s.mu.Unlock()

	if s.cfg.ResetOnDisconnect {
		s.cache.Reset()
	}
	if err != nil {
		s.logger.Warn().Str("session", id).Err(err).Msg("transport disconnect reported error")
		return fmt.Errorf("monitor: transport disconnect: %w", err)
	}
	s.logger.Info().Str("session", id).Msg("disconnected")
	return nil
}

// restoreIfStillRunning puts a timed-out Disconnect back to Receiving when
// run is still the live reader. It reports false when the reader exited
// after the grace period expired, in which case the transport is free.
func (s *Session) restoreIfStillRunning(run *readerRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-run.done:
		return false
	default:
	}
	if s.run != run {
		return false
	}
	s.setStateLocked(StateReceiving)
	return true
}

// Send transmits one frame. Identifiers above 0x7FF use extended framing.
// Failures are returned once; nothing is retried.
func (s *Session) Send(id uint32, payload []byte) error {
	frame, err := canbus.NewFrame(id, payload)
	if err != nil {
		return err
	}
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateConnected && state != StateReceiving {
		return fmt.Errorf("%w: send while %s: %w", ErrPrecondition, state, canbus.ErrNotConnected)
	}
	if err := s.transport.Send(frame); err != nil {
		return fmt.Errorf("monitor: send 0x%X: %w", id, err)
	}
	return nil
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	observability.RecordSessionTransition(prev.String(), next.String())
	s.logger.Debug().
		Str("session", s.id).
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("session transition")
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ID identifies the current connection attempt.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// ReaderErr returns the error that ended the last reader on its own, if any.
func (s *Session) ReaderErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readerErr
}

func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		ID:          s.id,
		State:       s.state,
		Channel:     s.channel,
		Bitrate:     s.bitrate,
		ConnectedAt: s.connectedAt,
	}
	if s.readerErr != nil {
		st.ReaderErr = s.readerErr.Error()
	}
	s.mu.RUnlock()
	st.Stats = s.stats.Snapshot()
	if f, ok := s.diag.Last(); ok {
		st.LastFailure = &f
	}
	return st
}

func (s *Session) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

func (s *Session) Diagnostics() *Diagnostics {
	return s.diag
}

func (s *Session) Selection() *Selection {
	return s.selection
}

func (s *Session) Cache() *Cache {
	return s.cache
}

// Builder returns the snapshot builder over this session's selection and cache.
func (s *Session) Builder() *Builder {
	return s.builder
}

func (s *Session) Config() Config {
	return s.cfg
}

// IsPrecondition reports whether err is an invalid-transition rejection.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}
