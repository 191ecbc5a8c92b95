package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"readapi/internal/config"
	"readapi/internal/instrument"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "readapi",
	Short: "Read-only HTTP API over declared entity types",
	Long: `readapi exposes the entity types declared in an entities file as a
read-only HTTP API with safe filtering, pagination and several output formats.

Commands:
  readapi serve     # Start the HTTP server
  readapi docs      # Print entity documentation or the OpenAPI document
  readapi check     # Validate configuration and entity definitions
  readapi migrate   # Create tables for the declared entities (development)
  readapi reindex   # Rebuild the full-text index of search entities`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file path (default: app.yaml in . or ../..)")
	flags.String("entities", "", "entities file path")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: json or console")

	for key, name := range map[string]string{
		"entities_file": "entities",
		"log.level":     "log-level",
		"log.format":    "log-format",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// loadConfig reads the configuration and builds the process logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, instrument.NewLogger(cfg.Log), nil
}
