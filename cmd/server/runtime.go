package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"readapi/internal/config"
	"readapi/internal/engine"
	"readapi/internal/instrument"
	"readapi/internal/metadata"
	"readapi/internal/render"
	"readapi/internal/search"
	"readapi/internal/store"
)

// runtime holds the long-lived dependencies shared by the commands.
type runtime struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     *store.Store
	index     *search.Index
	indexDB   *sql.DB
	registry  *metadata.Registry
	renderers *render.Registry
}

// loadRegistry reads the entities file and seals a registry from it. With a
// store and database.introspect set, index and unique-constraint facts are
// read from the live schema first.
func loadRegistry(ctx context.Context, cfg *config.Config, s *store.Store) (*metadata.Registry, error) {
	defs, err := metadata.LoadFile(cfg.EntitiesFile)
	if err != nil {
		return nil, err
	}
	if s != nil && cfg.Database.Introspect {
		if err := store.Introspect(ctx, s, defs); err != nil {
			return nil, err
		}
	}
	reg := metadata.NewRegistry()
	if err := metadata.Build(reg, defs); err != nil {
		return nil, err
	}
	return reg, nil
}

// openRuntime connects to the database and, when enabled, the search index,
// then builds the registry.
func openRuntime(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*runtime, error) {
	s, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt := &runtime{cfg: cfg, log: log, store: s, renderers: renderersFor(cfg)}

	rt.registry, err = loadRegistry(ctx, cfg, s)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Search.Enabled {
		rt.indexDB, err = search.Open(ctx, cfg.Search)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.index = search.New(rt.indexDB, store.NewRelational(s), log)
	} else {
		for _, et := range rt.registry.All() {
			if et.IsSearch() {
				rt.Close()
				return nil, fmt.Errorf("entity %s uses the search backend but search.enabled is false", et.Name)
			}
		}
	}

	log.Info().
		Str("driver", cfg.Database.Driver).
		Int("entities", len(rt.registry.All())).
		Bool("search", cfg.Search.Enabled).
		Msg("runtime ready")
	return rt, nil
}

func renderersFor(cfg *config.Config) *render.Registry {
	return render.Default(cfg.API.CSVAttachmentThreshold)
}

func (rt *runtime) sources() engine.Sources {
	sources := engine.Sources{metadata.BackendRelational: store.NewRelational(rt.store)}
	if rt.index != nil {
		sources[metadata.BackendSearch] = rt.index
	}
	return sources
}

func (rt *runtime) service(rec instrument.Recorder) *engine.Service {
	return engine.NewService(rt.registry, rt.sources(), engine.Options{
		Limits: engine.Limits{
			DefaultLimit: rt.cfg.API.DefaultLimit,
			MaxLimit:     rt.cfg.API.MaxLimit,
			MaxOffset:    rt.cfg.API.MaxOffset,
		},
		Formats:  rt.renderers.Formats(),
		Recorder: rec,
		Logger:   rt.log,
	})
}

func (rt *runtime) Close() error {
	var errs []error
	if rt.indexDB != nil {
		errs = append(errs, rt.indexDB.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}
