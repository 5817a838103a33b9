package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/orderfeed/internal/platform/correlation"
)

// correlationMiddleware adopts a well-formed inbound correlation id or
// mints one, and echoes it on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromRequest(c.Request())
		c.Response().Header().Set(correlation.Header, id)
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
