// ABOUTME: Root command for hikmaai-sentinel CLI
// ABOUTME: Sets up global flags, config loading and subcommands

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/config"
)

// Global flags.
var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hikmaai-sentinel",
		Short: "HikmaAI Sentinel - multi-engine file and URL analysis",
		Long: `HikmaAI Sentinel submits files and URLs to a multi-engine analysis
service, polls each analysis under a bounded policy, summarizes the engine
verdicts and records every outcome in a scan history.

Runs as a one-shot CLI scan or as a daemon exposing an HTTP API with
WebSocket progress streams and an optional NATS request/reply interface.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// loadConfig reads the config file and environment, then applies global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hikmaai-sentinel version %s\n", version)
			fmt.Fprintf(out, "  Git SHA:    %s\n", gitSHA)
			fmt.Fprintf(out, "  Build Time: %s\n", buildTime)
		},
	}
}
