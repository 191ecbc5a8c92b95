package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"readapi/internal/engine"
	"readapi/internal/instrument"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the read-only API server.

The server loads app.yaml (or --config), connects to the database, seals the
entity registry and serves:
  GET {base}/{entity}            list query
  GET {base}/{entity}/{id}       single object
  GET {base}/_docs[/{entity}]    documentation
  GET {base}/_openapi.json       OpenAPI document
  GET /health, GET /metrics

Environment variables use the READAPI_ prefix, e.g. READAPI_SERVER_PORT.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "listen port")
	if err := v.BindPFlag("server.port", serveCmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	var metrics *instrument.Metrics
	if cfg.Metrics.Enabled {
		metrics = instrument.NewMetrics()
	}
	app, err := newServer(rt, metrics)
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- app.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
	}()
	log.Info().Int("port", cfg.Server.Port).Str("base_path", cfg.Server.BasePath).Msg("listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

// newServer assembles the fiber app. A nil metrics disables /metrics and
// request counting.
func newServer(rt *runtime, metrics *instrument.Metrics) (*fiber.App, error) {
	cfg := rt.cfg

	var rec instrument.Recorder = instrument.NoopRecorder{}
	if metrics != nil {
		rec = metrics
	}
	svc := rt.service(rec)
	docs := engine.NewDocs(svc, cfg.Server.BasePath, cfg.API.ExampleLimit)
	if err := docs.Check(); err != nil {
		return nil, err
	}
	spec, err := engine.OpenAPI(rt.registry, cfg.Server.BasePath, "readapi", version, rt.renderers.Formats())
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:               "readapi",
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler:          engine.ErrorHandler(rt.log),
		DisableStartupMessage: true,
	})
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(instrument.Middleware(rt.log, metrics))
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
	}))
	app.Use(engine.Timeout(cfg.Server.RequestTimeout))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := rt.store.DB.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if metrics != nil {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}

	engine.RegisterRoutes(app, cfg.Server.BasePath, engine.NewHandler(svc, rt.renderers, docs, spec))
	return app, nil
}
