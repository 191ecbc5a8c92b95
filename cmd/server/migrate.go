package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"readapi/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables for the declared entities (development)",
	Long: `Create or extend the tables, join tables and indexes the entity
definitions describe. The API itself never writes; this command exists to
prepare development and test databases.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	s, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer s.Close()

	reg, err := loadRegistry(ctx, cfg, nil)
	if err != nil {
		return err
	}
	if err := store.NewMigrator(s, log).Migrate(ctx, reg.All()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrated %d entities\n", len(reg.All()))
	return nil
}
