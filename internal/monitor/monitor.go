// Package monitor runs a single script to completion, relays its merged
// output line by line to a log sink, and renders a verdict from the
// failure marker seen in that output.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
)

// DefaultMarker is the substring that signals a logical failure in script output.
const DefaultMarker = "[ERR]"

const (
	initialLineBuffer = 64 * 1024
	maxLineSize       = 1024 * 1024 // longer lines are relayed in pieces
)

// Invocation describes the process to launch. Path should already be
// resolved and executable; the monitor does not check it.
type Invocation struct {
	Path string
	Args []string
	Dir  string
	// Env is the complete child environment. A nil map inherits the
	// environment of the current process.
	Env map[string]string
}

// environ renders Env as a sorted KEY=value list for exec.Cmd.
func (inv *Invocation) environ() []string {
	if inv.Env == nil {
		return nil
	}
	env := make([]string, 0, len(inv.Env))
	for k, v := range inv.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Monitor executes invocations. The zero value logs to slog.Default and
// looks for DefaultMarker.
type Monitor struct {
	Logger *slog.Logger
	Marker string
}

// Run spawns the invocation with stderr merged into stdout, relays every
// output line at info level, and returns the verdict once the stream has
// ended and the process has exited.
//
// A nonzero exit status is reported in the verdict, not as an error. The
// only errors are launch failures (*LaunchError) and, when ctx ends before
// the process does, an error wrapping ctx.Err().
func (m *Monitor) Run(ctx context.Context, inv Invocation) (*Verdict, error) {
	if inv.Path == "" {
		return nil, &LaunchError{Op: "start", Err: errors.New("no executable given")}
	}
	logger := m.logger()
	marker := m.marker()

	cmd := exec.CommandContext(ctx, inv.Path, append([]string(nil), inv.Args...)...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.environ()

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Path: inv.Path, Op: "start", Err: err}
	}
	defer pr.Close()
	cmd.Stdout = pw
	cmd.Stderr = pw

	err = cmd.Start()
	// The child owns its copy of the write end. Ours must go or EOF never comes.
	pw.Close()
	if err != nil {
		return nil, &LaunchError{Path: inv.Path, Op: "start", Err: err}
	}

	// A killed child may leave descendants holding the pipe open.
	stop := context.AfterFunc(ctx, func() { _ = pr.Close() })
	defer stop()

	v := &Verdict{Marker: marker}
	readErr := relay(ctx, newLineReader(pr, maxLineSize), logger, marker, v)
	if readErr != nil && ctx.Err() == nil {
		// Nobody drains the pipe any more; the child must not block on it.
		_ = pr.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, &LaunchError{Path: inv.Path, Op: "read", Err: readErr}
	}

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil && (waitErr != nil || readErr != nil) {
		return nil, fmt.Errorf("running %s: %w", inv.Path, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, &LaunchError{Path: inv.Path, Op: "wait", Err: waitErr}
		}
		v.ExitCode = exitErr.ExitCode()
	}

	if !v.MarkerSeen && v.ExitCode != 0 {
		logger.WarnContext(ctx, "script exited non-zero but no marker seen; treating as PASS",
			slog.Int("exit_code", v.ExitCode),
			slog.String("marker", marker),
		)
	}
	return v, nil
}

func (m *Monitor) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Monitor) marker() string {
	if m.Marker != "" {
		return m.Marker
	}
	return DefaultMarker
}

// LaunchError reports that a process could not be started or its output
// could not be read. No verdict exists when it is returned.
type LaunchError struct {
	Path string
	Op   string // resolve, start, read or wait
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("launch %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("launch %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
