package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Middleware converts errors returned by handlers into JSON responses.
// Echo HTTP errors pass through to echo's own handler. errorsTotal is
// incremented per error type and may be nil.
func Middleware(errorsTotal *prometheus.CounterVec) echo.MiddlewareFunc {
	record := func(t ErrorType) {
		if errorsTotal != nil {
			errorsTotal.WithLabelValues(string(t)).Inc()
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				record(WrapHTTPError(httpErr).Type)
				return err
			}

			structuredErr := AsStructuredError(err)
			record(structuredErr.Type)
			logError(c, structuredErr)

			if c.Response().Committed {
				return nil
			}
			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if err.Cause != nil {
		attrs = append(attrs, "cause", err.Cause)
	}

	ctx := c.Request().Context()
	switch err.Type {
	case TypeValidation, TypeNotFound:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case TypeUnavailable:
		slog.WarnContext(ctx, "Dependency unavailable", attrs...)
	default:
		slog.ErrorContext(ctx, "Internal error", attrs...)
	}
}

// WrapHTTPError converts echo's HTTPError to a structured error.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	var errType ErrorType
	switch {
	case httpErr.Code == http.StatusNotFound || httpErr.Code == http.StatusMethodNotAllowed:
		errType = TypeNotFound
	case httpErr.Code == http.StatusServiceUnavailable || httpErr.Code == http.StatusTooManyRequests:
		errType = TypeUnavailable
	case httpErr.Code >= 400 && httpErr.Code < 500:
		errType = TypeValidation
	default:
		errType = TypeInternal
	}

	return &Error{Type: errType, Message: message, Cause: httpErr.Internal, Context: make(map[string]any)}
}
