package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"
)

// CommandRunner executes a command and returns its separated output streams.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec. The process is killed when ctx ends.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the process
	// is killed, in case a grandchild still holds them open.
	WaitDelay time.Duration
}

var _ CommandRunner = ExecRunner{}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	if name == "" {
		return nil, nil, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// FakeRunner records invocations and returns canned results. Hook, when set,
// runs before the canned result is returned and may write the snapshot.
type FakeRunner struct {
	Stdout string
	Stderr string
	Err    error
	Hook   func(ctx context.Context) error

	mu    sync.Mutex
	calls [][]string
}

var _ CommandRunner = (*FakeRunner)(nil)

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.Hook != nil {
		if err := f.Hook(ctx); err != nil {
			return []byte(f.Stdout), []byte(f.Stderr), err
		}
	}
	return []byte(f.Stdout), []byte(f.Stderr), f.Err
}

// Calls returns a copy of the recorded command lines.
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}
