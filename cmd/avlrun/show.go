package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deixis/avlrun/internal/logging"
)

func newShowCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := opts.loadWorkspace(cmd.ErrOrStderr(), logging.FormatConsole)
			if err != nil {
				return err
			}

			rec, err := ws.store().Load(args[0])
			if err != nil {
				return &cliError{
					Message: "loading run",
					Cause:   err,
					Hint:    "Run IDs are printed by 'avlrun run'",
					Code:    exitError,
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			fmt.Fprint(out, rec.Summary())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the run record as JSON")
	return cmd
}
