package canbus

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseCandump parses one candump log line:
//
//	(1700000000.123456) can0 1A0#0102AABB
//
// The timestamp and interface are optional. An identifier written with more
// than three hex digits is extended.
func ParseCandump(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	idxHash := strings.Index(line, "#")
	if idxHash == -1 {
		return Frame{}, fmt.Errorf("canbus: candump line has no # separator")
	}

	head := strings.TrimSpace(line[:idxHash])
	var ts time.Time
	if strings.HasPrefix(head, "(") {
		end := strings.Index(head, ")")
		if end == -1 {
			return Frame{}, fmt.Errorf("canbus: unterminated candump timestamp")
		}
		parsed, err := parseCandumpTime(head[1:end])
		if err != nil {
			return Frame{}, err
		}
		ts = parsed
		head = strings.TrimSpace(head[end+1:])
	}
	if idx := strings.LastIndex(head, " "); idx != -1 {
		head = head[idx+1:]
	}
	if head == "" {
		return Frame{}, fmt.Errorf("%w: empty candump id", ErrInvalidID)
	}

	id, err := strconv.ParseUint(head, 16, 32)
	if err != nil || uint32(id) > MaxExtID {
		return Frame{}, fmt.Errorf("%w: %q", ErrInvalidID, head)
	}

	payloadHex := strings.ReplaceAll(line[idxHash+1:], ".", "")
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return Frame{}, fmt.Errorf("canbus: candump payload: %w", err)
	}
	if len(payload) > MaxDataLength {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLength, len(payload))
	}

	return Frame{
		ID:        uint32(id),
		Extended:  len(head) > 3,
		Data:      payload,
		Timestamp: ts,
	}, nil
}

// FormatCandump renders f in candump log format.
func FormatCandump(iface string, f Frame) string {
	id := fmt.Sprintf("%03X", f.ID)
	if f.Extended {
		id = fmt.Sprintf("%08X", f.ID)
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("(%d.%06d) %s %s#%X", ts.Unix(), ts.Nanosecond()/1000, iface, id, f.Data)
}

func parseCandumpTime(raw string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(raw, ".")
	secs, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("canbus: candump timestamp: %w", err)
	}
	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		fracPart += strings.Repeat("0", 9-len(fracPart))
		nanos, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("canbus: candump timestamp: %w", err)
		}
	}
	return time.Unix(secs, nanos), nil
}
