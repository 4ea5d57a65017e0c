package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"chapterfin/internal/services"
)

// ErrorHandler maps the engine's error taxonomy onto HTTP responses.
// Validation -> 400, authorization -> 403, not found -> 404, conflict ->
// 409, processor -> 502, consistency -> 500. Everything else is a plain
// internal error; internals never leak to the client.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	kind := "internal"
	message := "something went wrong"

	var (
		validationErr    *services.ValidationError
		authorizationErr *services.AuthorizationError
		notFoundErr      *services.NotFoundError
		conflictErr      *services.ConflictError
		processorErr     *services.ProcessorError
		consistencyErr   *services.ConsistencyError
		httpErr          *echo.HTTPError
	)

	switch {
	case errors.As(err, &validationErr):
		code, kind, message = http.StatusBadRequest, "validation", validationErr.Msg
	case errors.As(err, &authorizationErr):
		code, kind, message = http.StatusForbidden, "authorization", authorizationErr.Msg
	case errors.As(err, &notFoundErr):
		code, kind, message = http.StatusNotFound, "not_found", notFoundErr.Error()
	case errors.As(err, &conflictErr):
		code, kind, message = http.StatusConflict, "conflict", conflictErr.Msg
	case errors.As(err, &processorErr):
		code, kind, message = http.StatusBadGateway, "processor", "payment processor error; retry is safe"
	case errors.As(err, &consistencyErr):
		code, kind, message = http.StatusInternalServerError, "consistency", "payment state partially persisted; the authorization was canceled"
	case errors.As(err, &httpErr):
		code = httpErr.Code
		kind = "http"
		if msg, ok := httpErr.Message.(string); ok && msg != "" {
			message = msg
		} else {
			message = http.StatusText(code)
		}
	}

	c.Logger().Error(err)

	if writeErr := c.JSON(code, map[string]string{
		"error":   kind,
		"message": message,
	}); writeErr != nil {
		c.Logger().Error(writeErr)
	}
}
