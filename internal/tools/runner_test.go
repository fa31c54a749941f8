package tools

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/canview/internal/testutil/testlog"
)

func TestExecRunnerExitCodes(t *testing.T) {
	testlog.Start(t)

	stdout, _, code, err := ExecRunner{}.Run("sh", "-c", "echo hi")
	if err != nil || code != 0 || strings.TrimSpace(string(stdout)) != "hi" {
		t.Fatalf("unexpected success result: out=%q code=%d err=%v", stdout, code, err)
	}

	_, stderr, code, err := ExecRunner{}.Run("sh", "-c", "echo nope >&2; exit 3")
	if err == nil || code != 3 || strings.TrimSpace(string(stderr)) != "nope" {
		t.Fatalf("unexpected failure result: err=%q code=%d err=%v", stderr, code, err)
	}

	_, _, code, err = ExecRunner{}.Run("canview-no-such-command")
	if err == nil || code != 127 {
		t.Fatalf("expected 127 for missing command, got code=%d err=%v", code, err)
	}
}

type recordRunner struct {
	calls  []string
	failAt int
}

func (r *recordRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	if len(r.calls) == r.failAt {
		return nil, []byte("RTNETLINK answers: Operation not permitted\n"), 2, errors.New("exit status 2")
	}
	return nil, nil, 0, nil
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	testlog.Start(t)

	r := &recordRunner{failAt: 2}
	err := RunAll(r, []string{"ip", "link", "set", "can0", "down"}, nil, []string{"ip", "link", "set", "can0", "up"}, []string{"never"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(r.calls) != 2 {
		t.Fatalf("expected 2 calls, got %v", r.calls)
	}
	if !strings.Contains(err.Error(), "ip link set can0 up: exit 2: RTNETLINK answers: Operation not permitted") {
		t.Fatalf("unexpected error text: %v", err)
	}

	r = &recordRunner{}
	if err := RunAll(r, []string{"true"}); err != nil || len(r.calls) != 1 {
		t.Fatalf("unexpected result: calls=%v err=%v", r.calls, err)
	}
}
