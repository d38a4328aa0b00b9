package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deixis/avlrun/internal/logging"
	"github.com/deixis/avlrun/internal/script"
	"github.com/deixis/avlrun/internal/workflow"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "run [script [args...]]",
		Short: "Run a test script and print its verdict",
		Long: `Run a test script from the repository and print its verdict.

The script's stdout and stderr are merged and relayed line by line to stderr.
The run FAILS (exit 1) when any line contains the failure marker, whatever the
exit status. Otherwise it PASSES (exit 0), with a warning if the script exited
non-zero. A script that cannot be launched exits 2.

Without arguments the script is read from AVL_SCRIPT and its arguments from
AVL_ARGS (split with shell quoting rules). Flags must come before the script;
everything after it is passed to the script unchanged.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, scriptArgs, err := designation(args)
			if err != nil {
				return launchFailure(err)
			}

			ws, err := opts.loadWorkspace(cmd.ErrOrStderr(), logging.FormatConsole)
			if err != nil {
				return err
			}
			if timeout > 0 {
				ws.cfg.RawTimeout = timeout.String()
			}

			eng := &workflow.Engine{
				Config: ws.cfg,
				Root:   ws.root,
				Store:  ws.store(),
				Logger: ws.logger,
			}
			res, err := eng.Run(cmd.Context(), name, scriptArgs)
			if err != nil {
				if workflow.IsLaunchError(err) {
					return launchFailure(err)
				}
				return abortedRun(err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res.Record); err != nil {
					return err
				}
			} else {
				printVerdict(out, res)
			}

			if !res.Verdict.Passed() {
				return &cliError{Code: exitFail}
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (e.g. 5m); overrides .avlrun")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the run record as JSON")
	return cmd
}

// designation returns the script and its arguments from the command line,
// or from the environment when none are given.
func designation(args []string) (string, []string, error) {
	if len(args) > 0 {
		return args[0], args[1:], nil
	}
	return script.FromEnv(os.Getenv)
}

func launchFailure(err error) error {
	ce := &cliError{Message: "could not run script", Cause: err, Code: exitError}

	var nx *script.NotExecutableError
	switch {
	case errors.Is(err, script.ErrNoScript):
		ce.Message, ce.Cause = err.Error(), nil
		ce.Code = exitUsage
	case errors.As(err, &nx):
		ce.Hint = nx.Hint()
	}
	return ce
}

func abortedRun(err error) error {
	ce := &cliError{Message: "run aborted", Cause: err, Code: exitError}
	if errors.Is(err, context.DeadlineExceeded) {
		ce.Hint = "Raise --timeout or the timeout setting in .avlrun"
	}
	return ce
}

func printVerdict(w io.Writer, res *workflow.Result) {
	rec := res.Record
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	if err := res.Err(); err != nil {
		red.Fprint(w, "FAIL")
		fmt.Fprintf(w, " %s: %v\n", rec.Script, err)
	} else {
		green.Fprint(w, "PASS")
		fmt.Fprintf(w, " %s (exit status: %d)\n", rec.Script, rec.ExitCode)
	}
	fmt.Fprintf(w, "Run: %s\n", rec.ID)
}
