package canbus

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	MaxStdID      uint32 = 0x7FF
	MaxExtID      uint32 = 0x1FFFFFFF
	MaxDataLength        = 8
)

var (
	ErrInvalidID     = errors.New("canbus: invalid identifier")
	ErrInvalidLength = errors.New("canbus: invalid data length")
	ErrNotConnected  = errors.New("canbus: transport not connected")
	ErrDeviceGone    = errors.New("canbus: device gone")
)

// Frame is one classic CAN data frame as received from or sent to the bus.
type Frame struct {
	ID        uint32
	Extended  bool
	Data      []byte
	Timestamp time.Time
}

// NewFrame validates id/data and returns a frame owning a copy of data.
// Identifiers above 0x7FF use extended framing.
func NewFrame(id uint32, data []byte) (Frame, error) {
	if id > MaxExtID {
		return Frame{}, fmt.Errorf("%w: 0x%X", ErrInvalidID, id)
	}
	if len(data) > MaxDataLength {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLength, len(data))
	}
	return Frame{
		ID:       id,
		Extended: id > MaxStdID,
		Data:     append([]byte(nil), data...),
	}, nil
}

// Validate checks identifier range against the frame format and payload size.
func (f Frame) Validate() error {
	if len(f.Data) > MaxDataLength {
		return fmt.Errorf("%w: %d", ErrInvalidLength, len(f.Data))
	}
	limit := MaxStdID
	if f.Extended {
		limit = MaxExtID
	}
	if f.ID > limit {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	return nil
}

func (f Frame) String() string {
	return fmt.Sprintf("0x%X [%d] % X", f.ID, len(f.Data), f.Data)
}

// ParseID accepts "0x1A0", "1A0h" style hex or plain decimal identifiers.
func ParseID(raw string) (uint32, error) {
	s := strings.TrimSpace(raw)
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
		base = 16
	case strings.HasSuffix(s, "h"), strings.HasSuffix(s, "H"):
		s = s[:len(s)-1]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	if uint32(v) > MaxExtID {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return uint32(v), nil
}

// Value is one decoded signal value. Label is set for enumerated signals.
type Value struct {
	Number float64 `json:"value" cbor:"value"`
	Label  string  `json:"label,omitempty" cbor:"label,omitempty"`
}

func (v Value) String() string {
	if v.Label != "" {
		return v.Label
	}
	return strconv.FormatFloat(v.Number, 'g', -1, 64)
}

// Fields maps signal name to its decoded value.
type Fields map[string]Value

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Names returns the signal names in lexical order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
