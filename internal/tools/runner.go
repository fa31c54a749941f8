package tools

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner abstracts shell command execution for runtime adapters.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (r ExecRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.Command(name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}

// RunAll runs each command in order and stops at the first failure. The
// returned error carries the failing command line and its stderr.
func RunAll(r CommandRunner, cmds ...[]string) error {
	for _, argv := range cmds {
		if len(argv) == 0 {
			continue
		}
		_, stderr, code, err := r.Run(argv[0], argv[1:]...)
		if err != nil {
			msg := strings.TrimSpace(string(stderr))
			if msg == "" {
				msg = err.Error()
			}
			return fmt.Errorf("%s: exit %d: %s", strings.Join(argv, " "), code, msg)
		}
	}
	return nil
}
