// Command avlrun runs test scripts and judges them by their output.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deixis/avlrun"
	"github.com/deixis/avlrun/internal/config"
	"github.com/deixis/avlrun/internal/logging"
	"github.com/deixis/avlrun/internal/report"
)

// Exit codes.
const (
	exitPass  = 0
	exitFail  = 1  // the script reported the marker
	exitError = 2  // no verdict: the script could not be launched or the run was aborted
	exitUsage = 64 // command line usage error (BSD convention)
)

// lruCapacity is the number of run records cached in memory.
const lruCapacity = 5

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		return handleError(stderr, err)
	}
	return exitPass
}

// cliError is an error carrying the exit code and an optional hint. An
// empty Message means the command already reported the outcome.
type cliError struct {
	Message string
	Hint    string
	Cause   error
	Code    int
}

func (e *cliError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *cliError) Unwrap() error { return e.Cause }

// handleError prints err and returns the exit code for it.
func handleError(w io.Writer, err error) int {
	red := color.New(color.FgRed)

	var ce *cliError
	if errors.As(err, &ce) {
		if ce.Message != "" {
			red.Fprintf(w, "avlrun: %s\n", ce.Error())
		}
		if ce.Hint != "" {
			fmt.Fprintln(w, ce.Hint)
		}
		return ce.Code
	}

	msg := err.Error()
	red.Fprintf(w, "avlrun: %s\n", msg)
	if isUsageError(msg) {
		fmt.Fprintln(w, "Run 'avlrun --help' for usage")
		return exitUsage
	}
	return exitError
}

func isUsageError(msg string) bool {
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "accepts ", "requires at least"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return strings.Contains(msg, "required flag")
}

// rootOptions holds the persistent flags.
type rootOptions struct {
	logLevel  string
	logFormat string
	noColor   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "avlrun",
		Short: "Run test scripts and judge them by their output",
		Long: `avlrun runs a test script, relays its merged stdout and stderr line by line,
and judges the run by the output: any line containing the failure marker
([ERR] by default) fails the run, whatever the exit status.

  avlrun run tests/smoke.sh --fast     Run one script
  AVL_SCRIPT=tests/smoke.sh avlrun run Same, designated by the environment
  avlrun show <run-id>                 Show a stored run
  avlrun mcp                           Serve the tools over MCP (stdio)`,
		Version:       avlrun.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: error, warn, info, debug (default from .avlrun, else info)")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: console, text, json (default from .avlrun, else console)")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &cliError{Message: err.Error(), Hint: "Run 'avlrun --help' for usage", Code: exitUsage}
	})

	root.AddCommand(
		newRunCmd(opts),
		newShowCmd(opts),
		newMCPCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), avlrun.Version)
		},
	}
}

// workspace is the loaded configuration shared by the subcommands.
type workspace struct {
	cfg    *config.Config
	root   string
	logger *slog.Logger
}

// loadWorkspace loads .avlrun from the current directory and builds the
// logger writing to logOut. Flags take precedence over the config file;
// defaultFormat applies when neither sets a format.
func (o *rootOptions) loadWorkspace(logOut io.Writer, defaultFormat string) (*workspace, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, &cliError{Message: "determining workspace", Cause: err, Code: exitError}
	}
	loaded, err := config.Load(dir)
	if err != nil {
		return nil, &cliError{Message: "loading config", Cause: err, Code: exitError}
	}
	cfg := loaded.Config

	level := pick(o.logLevel, cfg.Log.Level, "info")
	format := pick(o.logFormat, cfg.Log.Format, defaultFormat)
	logger, err := logging.NewLogger(logOut, format, level)
	if err != nil {
		return nil, &cliError{
			Message: "invalid logging configuration",
			Cause:   err,
			Hint:    "Use --log-level (error|warn|info|debug) and --log-format (console|text|json)",
			Code:    exitUsage,
		}
	}

	return &workspace{cfg: cfg, root: loaded.RepoRoot, logger: logger}, nil
}

// store returns the run store: an LRU cache in front of the runs directory.
func (w *workspace) store() *report.LRUStore {
	return report.NewLRUStore(lruCapacity, report.NewDiskStore(w.cfg.RunsDir(w.root)))
}

// pick returns the first non-empty value.
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
