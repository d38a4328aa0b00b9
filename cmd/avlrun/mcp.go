package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/deixis/avlrun/internal/logging"
	avlmcp "github.com/deixis/avlrun/internal/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var (
		httpAddr     string
		instructions bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server",
		Long: `Start the MCP server on stdio, or on HTTP with --http.

Relayed script output and server logs go to stderr (JSON by default).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if instructions {
				fmt.Fprint(cmd.OutOrStdout(), avlmcp.Instructions)
				return nil
			}

			// stdout carries the protocol on stdio.
			ws, err := opts.loadWorkspace(cmd.ErrOrStderr(), logging.FormatJSON)
			if err != nil {
				return err
			}

			server := avlmcp.NewServer(ws.cfg, ws.root, ws.store(), ws.logger)
			if httpAddr != "" {
				return serveHTTP(cmd.Context(), server, httpAddr, ws.logger)
			}
			return server.Run(cmd.Context(), &mcpsdk.StdioTransport{})
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "start HTTP server on address (e.g. :9090)")
	cmd.Flags().BoolVar(&instructions, "instructions", false, "print model instructions and exit")
	return cmd
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, logger *slog.Logger) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	logger.Info("listening", slog.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
