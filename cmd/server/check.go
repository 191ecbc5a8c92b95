package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"readapi/internal/engine"
	"readapi/internal/instrument"
	"readapi/internal/metadata"
	"readapi/internal/store"
)

var checkConnect bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and entity definitions",
	Long: `Validate app.yaml and the entities file without serving.

Checks:
  - configuration values are valid
  - every entity definition registers (relations, recursion, filter guards)
  - example parameters pass request validation
  - with --connect: the database is reachable and every table exists

Examples:
  readapi check
  readapi check --connect --config /etc/readapi/app.yaml`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkConnect, "connect", false, "also connect to the database and verify tables")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	var s *store.Store
	if checkConnect {
		s, err = store.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer s.Close()
		fmt.Fprintf(w, "database %s reachable\n", cfg.Database.Driver)

		defs, err := metadata.LoadFile(cfg.EntitiesFile)
		if err != nil {
			return err
		}
		if err := store.Introspect(ctx, s, defs); err != nil {
			return err
		}
		fmt.Fprintf(w, "%d tables present\n", len(defs))
	}

	reg, err := loadRegistry(ctx, cfg, s)
	if err != nil {
		return err
	}
	for _, et := range reg.All() {
		fmt.Fprintf(w, "entity %s: %d fields, %s backend\n", et.Name, len(et.Fields), et.Backend)
	}

	rt := &runtime{cfg: cfg, log: log, store: s, registry: reg, renderers: renderersFor(cfg)}
	docs := engine.NewDocs(rt.service(instrument.NoopRecorder{}), cfg.Server.BasePath, cfg.API.ExampleLimit)
	if err := docs.Check(); err != nil {
		return err
	}
	fmt.Fprintln(w, "configuration valid")
	return nil
}
