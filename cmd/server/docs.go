package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"readapi/internal/engine"
	"readapi/internal/instrument"
)

var docsOpenAPI bool

var docsCmd = &cobra.Command{
	Use:   "docs [entity]",
	Short: "Print entity documentation or the OpenAPI document",
	Long: `Print the documentation of every entity type, or of one, as JSON.
Examples are produced by running the example query against the database.

Examples:
  readapi docs
  readapi docs polls
  readapi docs --openapi > openapi.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDocs,
}

func init() {
	rootCmd.AddCommand(docsCmd)

	docsCmd.Flags().BoolVar(&docsOpenAPI, "openapi", false, "print the OpenAPI document instead")
}

func runDocs(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	var out any
	switch {
	case docsOpenAPI:
		out, err = engine.OpenAPI(rt.registry, cfg.Server.BasePath, "readapi", version, rt.renderers.Formats())
	case len(args) == 1:
		docs := engine.NewDocs(rt.service(instrument.NoopRecorder{}), cfg.Server.BasePath, cfg.API.ExampleLimit)
		et, rerr := rt.registry.Resolve(args[0])
		if rerr != nil {
			return rerr
		}
		out, err = docs.Describe(ctx, et)
	default:
		docs := engine.NewDocs(rt.service(instrument.NoopRecorder{}), cfg.Server.BasePath, cfg.API.ExampleLimit)
		out, err = docs.DescribeAll(ctx)
	}
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode docs: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
