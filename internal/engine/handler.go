package engine

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/swaggest/openapi-go/openapi3"

	"readapi/internal/instrument"
	"readapi/internal/metadata"
	"readapi/internal/node"
	"readapi/internal/query"
	"readapi/internal/render"
)

type Handler struct {
	svc       *Service
	renderers *render.Registry
	docs      *Docs
	openapi   *openapi3.Spec
}

func NewHandler(svc *Service, renderers *render.Registry, docs *Docs, spec *openapi3.Spec) *Handler {
	return &Handler{svc: svc, renderers: renderers, docs: docs, openapi: spec}
}

// List handles GET /:entity
func (h *Handler) List(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	raw, err := queryValues(c)
	if err != nil {
		return err
	}
	req, err := h.svc.Validate(entity, raw)
	if err != nil {
		return err
	}
	c.Locals(instrument.LocalFormat, req.Format)

	n, err := h.svc.List(c.UserContext(), entity, req)
	if err != nil {
		return err
	}
	return h.respond(c, entity, n, req)
}

// GetByID handles GET /:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	raw, err := queryValues(c)
	if err != nil {
		return err
	}
	req, err := h.svc.ValidateSingle(entity, raw)
	if err != nil {
		return err
	}
	c.Locals(instrument.LocalFormat, req.Format)

	id, err := url.PathUnescape(c.Params("id"))
	if err != nil {
		return &ParamError{Param: "id", Reason: "malformed identifier"}
	}
	n, err := h.svc.Get(c.UserContext(), entity, id, req)
	if err != nil {
		return err
	}
	return h.respond(c, entity, n, req)
}

// DocsIndex handles GET /_docs
func (h *Handler) DocsIndex(c *fiber.Ctx) error {
	docs, err := h.docs.DescribeAll(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"entities": docs})
}

// DocsEntity handles GET /_docs/:entity
func (h *Handler) DocsEntity(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	doc, err := h.docs.Describe(c.UserContext(), entity)
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

// OpenAPI handles GET /_openapi.json
func (h *Handler) OpenAPI(c *fiber.Ctx) error {
	return c.JSON(h.openapi)
}

func (h *Handler) respond(c *fiber.Ctx, entity *metadata.EntityType, n *node.Node, req *query.FilterRequest) error {
	out, err := h.renderers.Render(req.Format, n, render.Options{Callback: req.Callback})
	if err != nil {
		return fmt.Errorf("render %s: %w", req.Format, err)
	}
	c.Set(fiber.HeaderContentType, out.ContentType)
	if out.Attachment {
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.csv"`, entity.Name))
	}
	return c.Send(out.Body)
}

// resolveEntity looks up the entity from the route parameter.
// Returns an *AppError (as error) if the entity is not found.
func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.EntityType, error) {
	name := c.Params("entity")
	entity, err := h.svc.Resolve(name)
	if err != nil {
		return nil, UnknownEntityError(name)
	}
	c.Locals(instrument.LocalEntity, entity.Name)
	return entity, nil
}

// queryValues parses the raw query string so repeated parameters keep every
// value.
func queryValues(c *fiber.Ctx) (url.Values, error) {
	raw, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return nil, &ParamError{Param: "query", Reason: "malformed query string"}
	}
	return raw, nil
}

// ErrorHandler renders every error as the JSON error envelope.
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(ErrorResponse{Error: &AppError{
				Code:    httpErrorCode(fe.Code),
				Status:  fe.Code,
				Message: fe.Message,
			}})
		}

		appErr := toAppError(err)
		if appErr.Status >= fiber.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Path()).Str("code", appErr.Code).Msg("request failed")
		}
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}
}

func httpErrorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestTimeout:
		return "TIMEOUT"
	default:
		return "HTTP_ERROR"
	}
}
