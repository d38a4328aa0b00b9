// Package workflow ties script resolution, execution and run records
// together. It is consumed by both the MCP server and the CLI commands.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deixis/avlrun/internal/config"
	"github.com/deixis/avlrun/internal/monitor"
	"github.com/deixis/avlrun/internal/report"
	"github.com/deixis/avlrun/internal/script"
)

// Engine holds shared dependencies for harness runs.
type Engine struct {
	Config *config.Config
	Root   string       // repository root: base for relative scripts and working directory of runs
	Store  report.Store // optional
	Logger *slog.Logger // sink for relayed output; nil means slog.Default
}

// Result is the outcome of a run that produced a verdict.
type Result struct {
	Record  *report.RunRecord
	Verdict *monitor.Verdict
}

// Err returns the verdict's failure, if any.
func (r *Result) Err() error {
	return r.Verdict.Err()
}

// WithLogger returns a copy of the engine relaying output to logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	c := *e
	c.Logger = logger
	return &c
}

// Run resolves the script called name, runs it with args and records the
// outcome. Launch failures are returned as *monitor.LaunchError and are
// recorded with status error; no verdict exists for them.
func (e *Engine) Run(ctx context.Context, name string, args []string) (*Result, error) {
	runID := uuid.NewString()
	logger := e.logger().With(slog.String("run.id", runID))
	cfg := e.config()

	rec := &report.RunRecord{
		ID:        runID,
		Script:    name,
		Args:      append([]string(nil), args...),
		Dir:       e.Root,
		Marker:    cfg.MarkerText(),
		StartedAt: time.Now(),
	}

	path, err := script.Resolve(e.Root, name)
	if err != nil {
		lerr := &monitor.LaunchError{Path: name, Op: "resolve", Err: err}
		e.finish(ctx, logger, rec, nil, lerr)
		return nil, lerr
	}
	rec.Script = path

	argv := append([]string{path}, args...)
	logger.InfoContext(ctx, "Running: "+script.CommandLine(argv))

	if timeout := cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m := &monitor.Monitor{Logger: logger, Marker: cfg.MarkerText()}
	v, err := m.Run(ctx, monitor.Invocation{
		Path: path,
		Args: args,
		Dir:  e.Root,
		Env:  script.Environ(cfg.Env),
	})
	e.finish(ctx, logger, rec, v, err)
	if err != nil {
		return nil, err
	}
	return &Result{Record: rec, Verdict: v}, nil
}

// finish fills in the outcome and saves the record. Store failures are
// logged and do not change the outcome of the run.
func (e *Engine) finish(ctx context.Context, logger *slog.Logger, rec *report.RunRecord, v *monitor.Verdict, runErr error) {
	rec.DurationMs = time.Since(rec.StartedAt).Milliseconds()
	switch {
	case runErr != nil:
		rec.Status = report.Error
		rec.Error = runErr.Error()
	case v.MarkerSeen:
		rec.Status = report.Fail
	default:
		rec.Status = report.Pass
	}
	if v != nil {
		rec.MarkerSeen = v.MarkerSeen
		rec.ExitCode = v.ExitCode
		rec.Lines = v.Lines
		rec.MarkerLines = v.MarkerLines
	}

	if e.Store == nil {
		return
	}
	if err := e.Store.Save(rec); err != nil {
		logger.WarnContext(ctx, "saving run record failed", slog.Any("error", err))
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return &config.Config{}
}

// IsLaunchError reports whether err means the script never produced a verdict.
func IsLaunchError(err error) bool {
	var le *monitor.LaunchError
	return errors.As(err, &le)
}
