package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/projmem/internal/mcpserver"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory tools over stdio (MCP)",
		Long: `Serve memory_search and memory_recent to an MCP host over stdin/stdout.

By default the tools run in-process against the data directory. With
--remote they call a running "projmem serve" at PROJMEM_SERVER_URL instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			// stdout carries the protocol
			logger := newLogger(os.Stderr, cfg.LogLevel)
			slog.SetDefault(logger)

			if remote {
				logger.Info("mcp server proxying", "server_url", cfg.ServerURL)
				return mcpserver.Serve(mcpserver.New(mcpserver.NewRemote(cfg.ServerURL, cfg.APIKey), version))
			}

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return mcpserver.Serve(mcpserver.New(a.svc, version))
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Proxy tool calls to a running projmem server")
	return cmd
}
