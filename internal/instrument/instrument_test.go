package instrument

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readapi/internal/config"
)

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, config.LogConfig{Level: "warn"})
	log.Info().Msg("hidden")
	log.Warn().Str("entity", "polls").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "polls", line["entity"])
	assert.Equal(t, "shown", line["message"])
	assert.Contains(t, line, "time")

	assert.Equal(t, zerolog.InfoLevel, newLogger(&buf, config.LogConfig{Level: "loud"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(&buf, config.LogConfig{}).GetLevel())
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, config.LogConfig{Level: "debug", Format: "console"})
	log.Debug().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(buf.Bytes()))
}

func testApp(log zerolog.Logger, m *Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		},
	})
	app.Use(Middleware(log, m))
	app.Get("/polls", func(c *fiber.Ctx) error {
		c.Locals(LocalEntity, "polls")
		c.Locals(LocalFormat, "csv")
		return c.SendString("ok")
	})
	app.Get("/bad", func(c *fiber.Ctx) error {
		c.Locals(LocalEntity, "polls")
		c.Locals(LocalFormat, "json")
		return errors.New("rejected")
	})
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func TestMiddleware_RecordsRequests(t *testing.T) {
	m := NewMetrics()
	var buf bytes.Buffer
	app := testApp(zerolog.New(&buf), m)

	for _, path := range []string{"/polls", "/polls", "/bad", "/health"} {
		resp, err := app.Test(httptestRequest(t, path), -1)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("polls", "csv", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("polls", "json", "400")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.RequestsTotal)+testutil.CollectAndCount(m.RequestDuration))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	var bad map[string]any
	require.NoError(t, json.Unmarshal(lines[2], &bad))
	assert.Equal(t, 400.0, bad["status"])
	assert.Equal(t, "/bad", bad["path"])
}

func TestMiddleware_WithoutMetrics(t *testing.T) {
	app := testApp(zerolog.Nop(), nil)
	resp, err := app.Test(httptestRequest(t, "/polls"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestMetrics_Recorder(t *testing.T) {
	m := NewMetrics()
	var rec Recorder = m
	rec.FilterRejected("polls", "title")
	rec.FilterRejected("polls", "title")
	rec.SerializationFailed("polls", "status")
	rec.StoreFailed("polls", "relational")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilterRejections.WithLabelValues("polls", "title")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SerializationErrors.WithLabelValues("polls", "status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("polls", "relational")))

	var noop Recorder = NoopRecorder{}
	noop.StoreFailed("polls", "search")
}

func httptestRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	return req
}
