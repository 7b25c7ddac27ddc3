package fiber

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/lborres/gatekeep/core"
)

const internalErrorMessage = "internal server error"

type handlers struct {
	auth   core.AuthHandler
	cookie core.CookieConfig
	log    logrus.FieldLogger
}

func (h *handlers) byOperation(operationID string) (fiber.Handler, bool) {
	switch operationID {
	case core.OpSignUp:
		return h.signUp, true
	case core.OpSignIn:
		return h.signIn, true
	case core.OpMe:
		return h.me, true
	case core.OpSignOut:
		return h.signOut, true
	case core.OpRefresh:
		return h.refresh, true
	default:
		return nil, false
	}
}

func (h *handlers) signUp(c fiber.Ctx) error {
	var input core.SignUpInput
	if err := c.Bind().Body(&input); err != nil {
		return h.handleAuthError(c, core.ErrInvalidRequestBody)
	}

	user, err := h.auth.SignUp(c.Context(), input)
	if err != nil {
		return h.handleAuthError(c, err)
	}

	return c.Status(http.StatusCreated).JSON(user)
}

func (h *handlers) signIn(c fiber.Ctx) error {
	var input core.SignInInput
	if err := c.Bind().Body(&input); err != nil {
		return h.handleAuthError(c, core.ErrInvalidRequestBody)
	}

	result, err := h.auth.SignIn(c.Context(), input, c.IP(), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return h.handleAuthError(c, err)
	}

	h.setSessionCookie(c, result.Token, result.Session.ExpiresAt)
	return c.Status(http.StatusOK).JSON(core.SuccessResponse{Success: true})
}

func (h *handlers) me(c fiber.Ctx) error {
	user := CurrentUser(c)
	if user == nil {
		return h.handleAuthError(c, core.ErrMissingToken)
	}
	return c.Status(http.StatusOK).JSON(user)
}

// signOut succeeds whether or not the request carried a live credential.
func (h *handlers) signOut(c fiber.Ctx) error {
	if err := h.auth.SignOut(c.Context(), h.extractToken(c)); err != nil {
		return h.handleAuthError(c, err)
	}

	h.clearSessionCookie(c)
	return c.Status(http.StatusOK).JSON(core.SuccessResponse{Success: true})
}

func (h *handlers) refresh(c fiber.Ctx) error {
	token, _ := c.Locals(localsToken).(string)
	if token == "" {
		token = h.extractToken(c)
	}

	result, err := h.auth.Refresh(c.Context(), token, c.IP(), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return h.handleAuthError(c, err)
	}

	h.setSessionCookie(c, result.Token, result.Session.ExpiresAt)
	return c.Status(http.StatusOK).JSON(core.SuccessResponse{Success: true})
}

// extractToken extracts the authentication token from the request.
// Checks Authorization header (Bearer token) first, then falls back to cookie.
func (h *handlers) extractToken(c fiber.Ctx) string {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && token != "" {
		return strings.TrimSpace(token)
	}

	return c.Cookies(h.cookie.Name)
}

func (h *handlers) setSessionCookie(c fiber.Ctx, token string, expiresAt time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		Expires:  expiresAt,
		Secure:   h.cookie.Secure,
		HTTPOnly: true,
		SameSite: h.cookie.SameSite,
	})
}

func (h *handlers) clearSessionCookie(c fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   h.cookie.Secure,
		HTTPOnly: true,
		SameSite: h.cookie.SameSite,
	})
}

// handleAuthError maps authentication errors to appropriate HTTP responses.
// Server-side failures are logged and answered without detail.
func (h *handlers) handleAuthError(c fiber.Ctx, err error) error {
	status := mapErrorToStatus(err)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
		}).Error("request failed")
		message = internalErrorMessage
	}

	return c.Status(status).JSON(core.ErrorResponse{Error: message})
}

// mapErrorToStatus maps core error types to HTTP status codes
func mapErrorToStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, core.ErrUserExists):
		return http.StatusConflict

	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrMissingToken),
		errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrSessionExpired):
		return http.StatusUnauthorized

	case errors.Is(err, core.ErrTooManyAttempts):
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}
