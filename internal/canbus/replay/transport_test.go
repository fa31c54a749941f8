package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/testutil/testlog"
)

const sampleLog = `; recorded on the bench
(1700000000.000000) can0 100#0100
(1700000000.100000) can0 200#FF
garbage line
(1700000000.200000) can0 18FEF100#0011223344556677
`

func writeLog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.log")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestReplayEmitsFramesThenIdles(t *testing.T) {
	testlog.Start(t)

	tr := New(Options{})
	if err := tr.Connect(writeLog(t, sampleLog), 500000); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if tr.Skipped() != 1 {
		t.Fatalf("expected one skipped line, got %d", tr.Skipped())
	}

	var ids []uint32
	for i := 0; i < 3; i++ {
		f, ok, err := tr.Receive(context.Background(), 10*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("receive %d: ok=%v err=%v", i, ok, err)
		}
		ids = append(ids, f.ID)
	}
	if ids[0] != 0x100 || ids[1] != 0x200 || ids[2] != 0x18FEF100 {
		t.Fatalf("unexpected order: %X", ids)
	}

	if _, ok, err := tr.Receive(context.Background(), 5*time.Millisecond); ok || err != nil {
		t.Fatalf("expected idle at end of log: ok=%v err=%v", ok, err)
	}
}

func TestReplayLoop(t *testing.T) {
	testlog.Start(t)

	tr := New(Options{Loop: true})
	if err := tr.Connect(writeLog(t, "100#01\n"), 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for i := 0; i < 3; i++ {
		f, ok, err := tr.Receive(context.Background(), 10*time.Millisecond)
		if err != nil || !ok || f.ID != 0x100 {
			t.Fatalf("loop receive %d: %+v ok=%v err=%v", i, f, ok, err)
		}
	}
}

func TestReplayPacing(t *testing.T) {
	testlog.Start(t)

	body := "(10.000000) can0 100#01\n(10.050000) can0 100#02\n"
	tr := New(Options{Rate: 1})
	if err := tr.Connect(writeLog(t, body), 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, ok, _ := tr.Receive(context.Background(), 10*time.Millisecond); !ok {
		t.Fatalf("expected first frame immediately")
	}
	if _, ok, _ := tr.Receive(context.Background(), 5*time.Millisecond); ok {
		t.Fatalf("second frame delivered before its gap")
	}
	f, ok, _ := tr.Receive(context.Background(), 200*time.Millisecond)
	if !ok || f.Data[0] != 0x02 {
		t.Fatalf("expected paced second frame: %+v ok=%v", f, ok)
	}
}

func TestReplaySendRecords(t *testing.T) {
	testlog.Start(t)

	tr := New(Options{})
	f, _ := canbus.NewFrame(0x7DF, []byte{0x02, 0x01, 0x0D})
	if err := tr.Send(f); !errors.Is(err, canbus.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}
	if err := tr.Connect(writeLog(t, ""), 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := tr.Send(f); err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := tr.Sent()
	if len(sent) != 1 || sent[0].ID != 0x7DF {
		t.Fatalf("unexpected sent frames: %+v", sent)
	}
}

func TestReplaySentIsBounded(t *testing.T) {
	testlog.Start(t)

	tr := New(Options{})
	if err := tr.Connect(writeLog(t, ""), 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for i := 0; i < maxSent+10; i++ {
		f, _ := canbus.NewFrame(uint32(i), []byte{byte(i)})
		if err := tr.Send(f); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	sent := tr.Sent()
	if len(sent) != maxSent {
		t.Fatalf("expected %d kept frames, got %d", maxSent, len(sent))
	}
	if sent[0].ID != 10 || sent[len(sent)-1].ID != maxSent+9 {
		t.Fatalf("unexpected window: first=%d last=%d", sent[0].ID, sent[len(sent)-1].ID)
	}
}

func TestReplayMissingFile(t *testing.T) {
	testlog.Start(t)

	tr := New(Options{})
	if err := tr.Connect(filepath.Join(t.TempDir(), "nope.log"), 0); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, _, err := tr.Receive(context.Background(), time.Millisecond); !errors.Is(err, canbus.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
