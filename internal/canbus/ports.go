package canbus

import (
	"context"
	"time"
)

// Transport is the adapter driver contract.
//
// Receive blocks for at most timeout. A timeout with no frame is reported as
// ok=false with a nil error; that is the idle case, not a failure. Errors that
// wrap ErrDeviceGone mean the adapter is unusable until reconnected. Receive
// should also return early when ctx is done.
type Transport interface {
	Connect(channel string, bitrate int) error
	Disconnect() error
	Receive(ctx context.Context, timeout time.Duration) (Frame, bool, error)
	Send(frame Frame) error
}

// Descriptor describes one message known to a signal database.
type Descriptor struct {
	ID      uint32   `json:"id"`
	Name    string   `json:"name"`
	Length  int      `json:"length"`
	Signals []string `json:"signals"`
}

// Decoder turns a raw payload into named signal values.
type Decoder interface {
	Lookup(id uint32) (Descriptor, bool)
	Decode(id uint32, payload []byte) (Fields, error)
}
