package slcan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/danmuck/canview/internal/canbus"
)

// ErrAdapter is an adapter-reported error (BEL in the stream).
var ErrAdapter = errors.New("slcan: adapter reported error")

// ErrLineOverflow reports bytes that ran past the longest valid line without
// a terminator. They are discarded.
var ErrLineOverflow = errors.New("slcan: line too long")

var errMalformed = errors.New("slcan: malformed frame line")

const bell = 0x07

// maxLine is the longest valid line without its terminator: T, 8 id digits,
// dlc, 16 data digits and a 4 digit timestamp.
const maxLine = 30

var bitrateCodes = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// BitrateCommand returns the Sn command selecting bitrate.
func BitrateCommand(bitrate int) ([]byte, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return nil, fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
	}
	return []byte{'S', code, '\r'}, nil
}

// EncodeFrame renders f as a t (standard) or T (extended) line.
func EncodeFrame(f canbus.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var line string
	if f.Extended {
		line = fmt.Sprintf("T%08X%d", f.ID, len(f.Data))
	} else {
		line = fmt.Sprintf("t%03X%d", f.ID, len(f.Data))
	}
	out := make([]byte, 0, len(line)+len(f.Data)*2+1)
	out = append(out, line...)
	for _, b := range f.Data {
		out = append(out, fmt.Sprintf("%02X", b)...)
	}
	return append(out, '\r'), nil
}

// DecodeLine parses one received line without its trailing CR. ok is false
// for lines that carry no data frame (acks, remote frames, status replies).
func DecodeLine(line []byte) (canbus.Frame, bool, error) {
	if len(line) == 0 {
		return canbus.Frame{}, false, nil
	}
	var idLen int
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
	default:
		return canbus.Frame{}, false, nil
	}
	if len(line) < 1+idLen+1 {
		return canbus.Frame{}, false, fmt.Errorf("%w: %q", errMalformed, line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return canbus.Frame{}, false, fmt.Errorf("%w: %q", errMalformed, line)
	}
	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > canbus.MaxDataLength {
		return canbus.Frame{}, false, fmt.Errorf("%w: dlc in %q", errMalformed, line)
	}
	start := 2 + idLen
	// adapters with timestamps enabled append 4 hex digits after the data
	if len(line) < start+dlc*2 {
		return canbus.Frame{}, false, fmt.Errorf("%w: short data in %q", errMalformed, line)
	}
	data := make([]byte, dlc)
	if _, err := hex.Decode(data, line[start:start+dlc*2]); err != nil {
		return canbus.Frame{}, false, fmt.Errorf("%w: %q", errMalformed, line)
	}
	f, err := canbus.NewFrame(uint32(id), data)
	if err != nil {
		return canbus.Frame{}, false, err
	}
	f.Extended = idLen == 8
	return f, true, nil
}
