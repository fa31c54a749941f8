package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/canview/internal/config"
	"github.com/danmuck/canview/internal/monitor"
	"github.com/danmuck/canview/internal/signaldb"
	"github.com/danmuck/canview/internal/testutil/testlog"
)

func TestReplayAutostartFillsCache(t *testing.T) {
	testlog.Start(t)

	cfg, err := config.Load("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.ReplayRate = 0
	cfg.ReplayLoop = false

	db, err := signaldb.Load(cfg.Database)
	if err != nil {
		t.Fatalf("load database: %v", err)
	}
	session, err := monitor.NewSession(monitor.SessionDeps{
		Transport: buildTransport(cfg),
		Decoder:   db,
		Selection: monitor.NewSelection(cfg.Select...),
		Config:    cfg.Monitor,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := autostart(session, cfg); err != nil {
		t.Fatalf("autostart: %v", err)
	}
	defer shutdown(session)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := session.Cache().Get(0x100); ok && st.Count == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, ok := session.Cache().Get(0x100)
	if !ok || st.Count != 2 || st.Latest["speed"].Number != 0x2B {
		t.Fatalf("unexpected 0x100 entry: ok=%v %+v", ok, st)
	}
	if _, ok := session.Cache().Get(0x200); ok {
		t.Fatalf("unselected 0x200 cached")
	}

	var out bytes.Buffer
	p := &printer{out: &out}
	p.Consume(session.Builder().Build())
	if !strings.Contains(out.String(), "=== 0x100 - VehicleSpeed ===") {
		t.Fatalf("unexpected printer output: %q", out.String())
	}
}
