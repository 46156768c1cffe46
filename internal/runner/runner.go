// Package runner spawns suite processes within a workspace boundary,
// captures their output up to a size cap, and reports each exit
// asynchronously, exactly once.
package runner

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultWaitDelay bounds how long Wait keeps reading output pipes after
// the process itself has exited.
const DefaultWaitDelay = 5 * time.Second

// Runner spawns commands within a workspace boundary.
type Runner struct {
	Workspace string
	MaxOutput int           // bytes per stream
	WaitDelay time.Duration // zero means DefaultWaitDelay
	Logger    zerolog.Logger
}

// Command describes a process to spawn.
type Command struct {
	Argv []string // argv[0] is resolved via PATH
	Dir  string   // relative to the workspace; empty means the workspace root
	Env  []string // KEY=VALUE entries appended to the inherited environment
}

// Exit describes how a spawned process ended.
type Exit struct {
	ExecID    string
	Err       error // launch failure, non-zero exit or termination by signal
	ExitCode  int   // -1 when the process never started or was signalled
	Stdout    []byte
	Stderr    []byte
	Truncated bool // true if either stream exceeded the size cap
}

// Process is a handle on a spawned command.
type Process struct {
	// ExecID identifies this execution in logs.
	ExecID string

	name     string
	cmd      *exec.Cmd
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	limit    int
	startErr error
	log      zerolog.Logger
	notified atomic.Bool

	mu     sync.Mutex
	exited bool
	killed bool
}

// Spawn starts c and returns its handle without waiting for it. A launch
// failure does not surface here: it is reported as the Exit delivered to
// Notify, like any other failure.
func (r *Runner) Spawn(c Command) *Process {
	p := &Process{
		ExecID: uuid.New().String(),
		limit:  r.MaxOutput,
	}
	p.log = r.Logger.With().Str("exec_id", p.ExecID).Logger()

	if len(c.Argv) == 0 {
		p.startErr = errors.New("empty argv")
		return p
	}
	p.name = c.Argv[0]

	dir, err := r.resolveDir(c.Dir)
	if err != nil {
		p.startErr = err
		return p
	}

	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Dir = dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = &limitWriter{buf: &p.stdout, limit: p.limit}
	cmd.Stderr = &limitWriter{buf: &p.stderr, limit: p.limit}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		p.startErr = fmt.Errorf("executing %s: %w", c.Argv[0], err)
		p.log.Warn().Err(err).Strs("argv", c.Argv).Msg("process failed to start")
		return p
	}
	p.cmd = cmd
	p.log.Debug().Int("pid", cmd.Process.Pid).Strs("argv", c.Argv).Str("dir", dir).Msg("process started")
	return p
}

// Notify arranges for onExit to be called, from its own goroutine, once the
// process has exited and its output has been fully captured. Only the first
// call has any effect.
func (p *Process) Notify(onExit func(Exit)) {
	if !p.notified.CompareAndSwap(false, true) {
		return
	}
	go func() {
		onExit(p.wait())
	}()
}

func (p *Process) wait() Exit {
	exit := Exit{ExecID: p.ExecID, ExitCode: -1}

	if p.startErr != nil {
		p.markExited()
		exit.Err = p.startErr
		return exit
	}

	err := p.cmd.Wait()
	p.markExited()

	exit.Stdout = p.stdout.Bytes()
	exit.Stderr = p.stderr.Bytes()
	exit.Truncated = p.limit > 0 && (p.stdout.Len() >= p.limit || p.stderr.Len() >= p.limit)

	if err == nil {
		exit.ExitCode = 0
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exit.ExitCode = exitErr.ExitCode()
		}
		exit.Err = fmt.Errorf("%s: %w", p.name, err)
	}

	p.log.Debug().Int("exit_code", exit.ExitCode).Bool("killed", p.Killed()).Msg("process exited")
	return exit
}

func (p *Process) markExited() {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
}

// Kill sends SIGKILL to the process group. It returns os.ErrProcessDone if
// the process never started or has already been reaped.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.exited {
		return os.ErrProcessDone
	}
	if err := killProcessGroup(p.cmd.Process); err != nil {
		return err
	}
	p.killed = true
	p.log.Debug().Msg("process killed")
	return nil
}

// Killed reports whether a Kill was delivered to the process.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Pid returns the OS process id, or 0 if the process never started.
func (p *Process) Pid() int {
	if p.cmd == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// resolveDir resolves cwd relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if cwd == "" {
		return r.Workspace, nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	rel, err := filepath.Rel(r.Workspace, dir)
	if err != nil {
		return "", fmt.Errorf("resolving cwd: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
	}
	return dir, nil
}

// limitWriter writes up to limit bytes to buf, then silently discards the
// rest. A non-positive limit disables the cap.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		// Report all bytes as consumed to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
