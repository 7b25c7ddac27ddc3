package fiber

import (
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/lborres/gatekeep/core"
)

type Adapter struct {
	app      *fiber.App
	log      logrus.FieldLogger
	handlers *handlers
}

var _ core.HTTPAdapter = (*Adapter)(nil)

// New wraps app. A nil log discards adapter logs.
func New(app *fiber.App, log logrus.FieldLogger) *Adapter {
	if log == nil {
		discard := logrus.New()
		discard.Out = io.Discard
		log = discard
	}
	return &Adapter{app: app, log: log}
}

// RegisterRoutes mounts every endpoint of routes under routes.BasePath,
// binding handlers by operation ID.
func (a *Adapter) RegisterRoutes(handler core.AuthHandler, routes core.RouteConfig) error {
	if handler == nil {
		return fmt.Errorf("register routes: auth handler is nil")
	}

	h := &handlers{auth: handler, cookie: routes.Cookie, log: a.log}
	a.handlers = h
	api := a.app.Group(strings.TrimRight(routes.BasePath, "/"))

	for _, ep := range routes.Endpoints {
		fn, ok := h.byOperation(ep.Metadata.OperationID)
		if !ok {
			return fmt.Errorf("register routes: no handler for operation %q (%s %s)", ep.Metadata.OperationID, ep.Method, ep.Path)
		}

		if ep.Protected {
			api.Add([]string{ep.Method}, ep.Path, h.requireSession, fn)
			continue
		}
		api.Add([]string{ep.Method}, ep.Path, fn)
	}

	return nil
}

// Protected guards application routes with the session check used by the
// auth endpoints. It answers 500 until RegisterRoutes has run.
func (a *Adapter) Protected(c fiber.Ctx) error {
	if a.handlers == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{Error: internalErrorMessage})
	}
	return a.handlers.requireSession(c)
}
