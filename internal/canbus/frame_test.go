package canbus

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/canview/internal/testutil/testlog"
)

func TestNewFrameSelectsExtendedAboveStdRange(t *testing.T) {
	testlog.Start(t)
	std, err := NewFrame(0x7FF, []byte{1})
	if err != nil {
		t.Fatalf("std frame: %v", err)
	}
	if std.Extended {
		t.Fatalf("0x7FF should use standard framing")
	}
	ext, err := NewFrame(0x800, nil)
	if err != nil {
		t.Fatalf("ext frame: %v", err)
	}
	if !ext.Extended {
		t.Fatalf("0x800 should use extended framing")
	}
}

func TestNewFrameRejectsInvalidInput(t *testing.T) {
	testlog.Start(t)
	if _, err := NewFrame(MaxExtID+1, nil); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := NewFrame(0x100, make([]byte, 9)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestNewFrameCopiesPayload(t *testing.T) {
	testlog.Start(t)
	data := []byte{1, 2}
	f, err := NewFrame(0x10, data)
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	data[0] = 9
	if f.Data[0] != 1 {
		t.Fatalf("frame payload aliases caller slice")
	}
}

func TestFrameValidateStdRange(t *testing.T) {
	testlog.Start(t)
	f := Frame{ID: 0x800}
	if err := f.Validate(); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID for std frame 0x800, got %v", err)
	}
	f.Extended = true
	if err := f.Validate(); err != nil {
		t.Fatalf("extended 0x800 should validate: %v", err)
	}
}

func TestParseID(t *testing.T) {
	testlog.Start(t)
	cases := map[string]uint32{
		"0x100":   0x100,
		"1A0h":    0x1A0,
		"256":     256,
		" 0X7ff ": 0x7FF,
	}
	for raw, want := range cases {
		got, err := ParseID(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q got=0x%X want=0x%X", raw, got, want)
		}
	}
	if _, err := ParseID("zz"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := ParseID("0x20000000"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID for 30-bit id, got %v", err)
	}
}

func TestValueString(t *testing.T) {
	testlog.Start(t)
	if got := (Value{Number: 2}).String(); got != "2" {
		t.Fatalf("unexpected numeric string: %q", got)
	}
	if got := (Value{Number: 1, Label: "ON"}).String(); got != "ON" {
		t.Fatalf("unexpected label string: %q", got)
	}
}

func TestFieldsCloneIsIndependent(t *testing.T) {
	testlog.Start(t)
	orig := Fields{"speed": {Number: 1}}
	clone := orig.Clone()
	clone["speed"] = Value{Number: 2}
	if orig["speed"].Number != 1 {
		t.Fatalf("clone mutated original")
	}
	if Fields(nil).Clone() != nil {
		t.Fatalf("nil clone should stay nil")
	}
}

func TestParseCandump(t *testing.T) {
	testlog.Start(t)
	f, err := ParseCandump("(1700000000.123456) can0 1A0#0102AABB")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.ID != 0x1A0 || f.Extended {
		t.Fatalf("unexpected id: %+v", f)
	}
	if len(f.Data) != 4 || f.Data[3] != 0xBB {
		t.Fatalf("unexpected payload: % X", f.Data)
	}
	want := time.Unix(1700000000, 123456000)
	if !f.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp: %v", f.Timestamp)
	}

	ext, err := ParseCandump("vcan0 18FEF100#")
	if err != nil {
		t.Fatalf("parse ext: %v", err)
	}
	if !ext.Extended || ext.ID != 0x18FEF100 || len(ext.Data) != 0 {
		t.Fatalf("unexpected ext frame: %+v", ext)
	}
}

func TestParseCandumpRejectsGarbage(t *testing.T) {
	testlog.Start(t)
	if _, err := ParseCandump("no separator"); err == nil {
		t.Fatalf("expected error for missing separator")
	}
	if _, err := ParseCandump("can0 XYZ#00"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := ParseCandump("can0 100#0102030405060708090A"); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestFormatCandumpParses(t *testing.T) {
	testlog.Start(t)
	in := Frame{ID: 0x18DAF110, Extended: true, Data: []byte{0xDE, 0xAD}, Timestamp: time.Unix(10, 5000)}
	line := FormatCandump("can1", in)
	if line != "(10.000005) can1 18DAF110#DEAD" {
		t.Fatalf("unexpected line: %q", line)
	}
	out, err := ParseCandump(line)
	if err != nil {
		t.Fatalf("parse formatted: %v", err)
	}
	if out.ID != in.ID || !out.Extended || string(out.Data) != string(in.Data) {
		t.Fatalf("unexpected parsed frame: %+v", out)
	}
}
