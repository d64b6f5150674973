package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/projmem/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	dataDir  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "projmem",
		Short: "Per-project memory for coding sessions",
		Long: `projmem records prompts, responses, tool observations and session
summaries per project and searches them by keyword and by meaning.

Quick Start:
  projmem serve                         # Run the HTTP server
  projmem mcp                           # Serve memory tools over stdio
  projmem search "signing keys"         # Hybrid search across projects
  projmem status                        # Record counts per project`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Data directory (overrides PROJMEM_DATA_DIR)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newSearchCmd(opts),
		newProjectsCmd(opts),
		newStatusCmd(opts),
		newTypesCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// openCLI wires the service for a one-shot command. Logs go to stderr and
// stay quiet unless asked for.
func (o *rootOptions) openCLI(stderr io.Writer) (*app, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if o.logLevel == "" && os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	return openApp(cfg, newLogger(stderr, level))
}
