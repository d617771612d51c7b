// Package main is the entry point of the mpesactl command line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexbotov/mpesa/internal/config"
	"github.com/alexbotov/mpesa/internal/logging"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

// cli holds the state shared by every subcommand
type cli struct {
	configPath string
	output     string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "mpesactl",
		Short:         "M-Pesa B2C client and sandbox tooling",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if c.logLevel != "" {
				level = c.logLevel
			}
			logger, err := logging.New(level, "text", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, logger
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default ./mpesa.yaml or ./configs/mpesa.yaml)")
	rootCmd.PersistentFlags().StringVar(&c.output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level override: debug, info, warn, error")

	rootCmd.AddCommand(c.b2cCmd())
	rootCmd.AddCommand(c.keygenCmd())
	rootCmd.AddCommand(c.tokenCmd())
	rootCmd.AddCommand(c.classifyCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// print writes v as JSON or as "key: value" lines
func (c *cli) print(w io.Writer, v map[string]interface{}, order ...string) error {
	if c.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	for _, key := range order {
		if value, ok := v[key]; ok {
			fmt.Fprintf(w, "%s: %v\n", key, value)
		}
	}
	return nil
}

// versionCmd prints version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mpesactl version %s\n", version)
		},
	}
}
