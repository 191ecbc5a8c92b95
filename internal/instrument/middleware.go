package instrument

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Locals keys set by handlers so the middleware can label requests.
const (
	LocalEntity = "readapi.entity"
	LocalFormat = "readapi.format"
)

// Middleware logs every request and, when m is non-nil, records request
// metrics. Errors are resolved through the app's error handler first so the
// final status is known.
func Middleware(logger zerolog.Logger, m *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		elapsed := time.Since(start)
		status := c.Response().StatusCode()
		entity, _ := c.Locals(LocalEntity).(string)
		format, _ := c.Locals(LocalFormat).(string)

		if m != nil && entity != "" {
			m.RequestsTotal.WithLabelValues(entity, format, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(entity).Observe(elapsed.Seconds())
		}

		event := logger.Info()
		if status >= fiber.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", elapsed).
			Str("request_id", requestID(c)).
			Str("entity", entity).
			Msg("request")
		return nil
	}
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
