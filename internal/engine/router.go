package engine

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the read-only API under basePath. Static routes are
// registered before the entity routes so they take precedence.
func RegisterRoutes(app *fiber.App, basePath string, h *Handler) {
	api := app.Group(basePath)

	api.Get("/_docs", h.DocsIndex)
	api.Get("/_docs/:entity", h.DocsEntity)
	api.Get("/_openapi.json", h.OpenAPI)
	api.Get("/:entity", h.List)
	api.Get("/:entity/:id", h.GetByID)
}

// Timeout bounds the data source work of each request. Handlers pass
// c.UserContext() down, so cancellation reaches the open cursor.
func Timeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if d <= 0 {
			return c.Next()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}
