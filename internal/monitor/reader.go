package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reader drains a Transport into the Cache. Frames outside the Selection are
// dropped before decode.
type Reader struct {
	transport canbus.Transport
	decoder   canbus.Decoder
	selection *Selection
	cache     *Cache
	stats     *Stats
	diag      *Diagnostics
	cfg       Config
	now       func() time.Time
	logger    zerolog.Logger
}

// ReaderDeps holds the collaborators of a Reader.
type ReaderDeps struct {
	Transport   canbus.Transport
	Decoder     canbus.Decoder
	Selection   *Selection
	Cache       *Cache
	Stats       *Stats
	Diagnostics *Diagnostics
	Config      Config
	Now         func() time.Time
	Logger      *zerolog.Logger
}

func NewReader(deps ReaderDeps) *Reader {
	cfg := deps.Config.WithDefaults()
	r := &Reader{
		transport: deps.Transport,
		decoder:   deps.Decoder,
		selection: deps.Selection,
		cache:     deps.Cache,
		stats:     deps.Stats,
		diag:      deps.Diagnostics,
		cfg:       cfg,
		now:       deps.Now,
	}
	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	r.logger = observability.SampledLogger(logger, 5, time.Second)
	if r.now == nil {
		r.now = time.Now
	}
	if r.stats == nil {
		r.stats = &Stats{}
	}
	if r.diag == nil {
		r.diag = NewDiagnostics(cfg.DiagnosticsDepth)
	}
	return r
}

// Run loops until ctx is done or the transport reports ErrDeviceGone.
// Cancellation is observed at least once per receive timeout. A stop
// returns nil; a lost device returns the transport error.
func (r *Reader) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			observability.RecordReaderExit("stopped")
			return nil
		}

		frame, ok, err := r.transport.Receive(ctx, r.cfg.ReceiveTimeout)
		if err != nil {
			if errors.Is(err, canbus.ErrDeviceGone) {
				r.diag.Record(KindExit, 0, err, r.now())
				observability.RecordReaderExit("device_gone")
				r.logger.Error().Err(err).Msg("reader exiting: device gone")
				return err
			}
			r.receiveFailed(err)
			if !r.pause(ctx) {
				observability.RecordReaderExit("stopped")
				return nil
			}
			continue
		}
		if !ok {
			continue
		}
		r.handle(frame)
	}
}

func (r *Reader) receiveFailed(err error) {
	wrapped := fmt.Errorf("%w: %w", ErrTransientReceive, err)
	r.diag.Record(KindReceive, 0, wrapped, r.now())
	r.logger.Warn().Err(err).Msg("receive failed")
	observability.RecordReceiveError()
	r.stats.receiveErrors.Add(1)
}

func (r *Reader) pause(ctx context.Context) bool {
	if r.cfg.ReceiveErrorPause <= 0 {
		return true
	}
	timer := time.NewTimer(r.cfg.ReceiveErrorPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// handle applies one received frame: filter, decode, cache.
func (r *Reader) handle(frame canbus.Frame) {
	r.stats.received.Add(1)
	if !r.selection.Contains(frame.ID) {
		r.stats.filtered.Add(1)
		observability.RecordFrame(observability.OutcomeFiltered)
		return
	}

	at := r.now()
	fields, err := r.decode(frame)
	if err != nil {
		if r.cfg.DecodeFailure == DecodeFailureCount {
			r.cache.Observe(frame.ID, at)
		}
		r.diag.Record(KindDecode, frame.ID, err, at)
		r.logger.Debug().
			Str("id", fmt.Sprintf("0x%X", frame.ID)).
			Err(err).
			Msg("decode failed")
		observability.RecordFrame(observability.OutcomeDecodeFailed)
		r.stats.decodeFailures.Add(1)
		return
	}

	r.cache.Upsert(frame.ID, fields, at)
	r.stats.accepted.Add(1)
	observability.RecordFrame(observability.OutcomeAccepted)
}

func (r *Reader) decode(frame canbus.Frame) (canbus.Fields, error) {
	if r.decoder == nil {
		return nil, fmt.Errorf("%w: no decoder loaded", ErrDecodeFailure)
	}
	fields, err := r.decoder.Decode(frame.ID, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	return fields, nil
}

func (r *Reader) Stats() StatsSnapshot {
	return r.stats.Snapshot()
}
