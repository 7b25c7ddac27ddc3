package fiber

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lborres/gatekeep/core"
)

const (
	localsUser    = "user"
	localsSession = "session"
	localsToken   = "token"
)

// requireSession resolves the request credential and stores the user and
// session in the context for downstream handlers.
func (h *handlers) requireSession(c fiber.Ctx) error {
	token := h.extractToken(c)
	if token == "" {
		return h.handleAuthError(c, core.ErrMissingToken)
	}

	sessionData, err := h.auth.GetSession(c.Context(), token)
	if err != nil {
		return h.handleAuthError(c, err)
	}

	c.Locals(localsUser, sessionData.User)
	c.Locals(localsSession, sessionData.Session)
	c.Locals(localsToken, token)

	return c.Next()
}

// CurrentUser returns the user stored by the session middleware, or nil on
// unprotected routes.
func CurrentUser(c fiber.Ctx) *core.User {
	user, _ := c.Locals(localsUser).(*core.User)
	return user
}

// CurrentSession returns the session stored by the session middleware.
func CurrentSession(c fiber.Ctx) *core.Session {
	session, _ := c.Locals(localsSession).(*core.Session)
	return session
}
