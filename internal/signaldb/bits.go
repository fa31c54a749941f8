package signaldb

import "github.com/danmuck/canview/internal/canbus"

// bitPositions lists payload bit indexes (byte*8 + bit) of sig from most to
// least significant. ok is false when a position falls outside frameLen bytes.
func bitPositions(sig Signal, frameLen int) ([]int, bool) {
	limit := frameLen * 8
	out := make([]int, sig.Length)
	if sig.ByteOrder == BigEndian {
		// Motorola: start bit is the MSB, walking down within a byte then
		// jumping to bit 7 of the next byte.
		pos := sig.StartBit
		for i := 0; i < sig.Length; i++ {
			if pos < 0 || pos >= limit {
				return nil, false
			}
			out[i] = pos
			if pos%8 == 0 {
				pos += 15
			} else {
				pos--
			}
		}
		return out, true
	}
	// Intel: start bit is the LSB, bits ascend linearly.
	for i := 0; i < sig.Length; i++ {
		pos := sig.StartBit + sig.Length - 1 - i
		if pos >= limit {
			return nil, false
		}
		out[i] = pos
	}
	return out, true
}

func bytesNeeded(sig Signal) int {
	positions, ok := bitPositions(sig, canbus.MaxDataLength)
	if !ok {
		return canbus.MaxDataLength + 1
	}
	maxPos := 0
	for _, p := range positions {
		if p > maxPos {
			maxPos = p
		}
	}
	return maxPos/8 + 1
}

func extractRaw(sig Signal, payload []byte) uint64 {
	positions, _ := bitPositions(sig, len(payload))
	var raw uint64
	for _, pos := range positions {
		bit := (payload[pos/8] >> uint(pos%8)) & 1
		raw = raw<<1 | uint64(bit)
	}
	return raw
}

func decodeSignal(sig Signal, payload []byte) canbus.Value {
	raw := extractRaw(sig, payload)
	key := int64(raw)
	number := float64(raw)
	if sig.Signed {
		if sig.Length < 64 && raw&(1<<uint(sig.Length-1)) != 0 {
			key = int64(raw | ^uint64(0)<<uint(sig.Length))
		}
		number = float64(key)
	}
	v := canbus.Value{Number: number*sig.Scale + sig.Offset}
	if label, ok := sig.Values[key]; ok {
		v.Label = label
	}
	return v
}
