package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"e-router/config"
	"e-router/logger"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "erouter",
	Short: "e-router - round-robin request router for e-computers",
	Long: `erouter routes function-invocation requests across a pool of
registered e-computers.

Examples:
  # Route requests using a function table
  erouter serve --functions functions.yaml

  # Run an e-computer and announce it in etcd
  erouter computer --listen :7001 --speed 1000 --function sum --etcd 127.0.0.1:2379

  # Drive load against a router
  erouter load --router 127.0.0.1:7000 --function sum --clients 4 --count 25`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(computerCmd)
	rootCmd.AddCommand(loadCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json (overrides LOG_FORMAT)")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

// setup loads .env files and the environment config, applies the persistent
// log flags and builds the logger for service.
func setup(cmd *cobra.Command, service string) (*config.Config, zerolog.Logger, error) {
	loadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, logger.New(service, cfg.LogLevel, cfg.LogFormat), nil
}
