package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"readapi/internal/metadata"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex [entity...]",
	Short: "Rebuild the full-text index of search entities",
	Long: `Rebuild the full-text index of every search-backed entity type, or of
the named ones, from the relational store. Requires search.enabled.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Search.Enabled {
		return errors.New("search.enabled is false")
	}
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	var targets []*metadata.EntityType
	if len(args) == 0 {
		for _, et := range rt.registry.All() {
			if et.IsSearch() {
				targets = append(targets, et)
			}
		}
	}
	for _, name := range args {
		et, err := rt.registry.Resolve(name)
		if err != nil {
			return err
		}
		if !et.IsSearch() {
			return fmt.Errorf("entity %s is not search-backed", name)
		}
		targets = append(targets, et)
	}

	for _, et := range targets {
		n, err := rt.index.Reindex(ctx, et)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows indexed\n", et.Name, n)
	}
	return nil
}
