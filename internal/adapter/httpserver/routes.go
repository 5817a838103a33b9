package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/orderfeed/internal/adapter/metrics"
	"github.com/pscheid92/orderfeed/internal/adapter/websocket"
	apperrors "github.com/pscheid92/orderfeed/internal/platform/errors"
)

const landingText = "Realtime Orders WebSocket server"

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware())
		s.echo.Use(apperrors.Middleware(s.httpMetrics.ErrorsTotal))
	} else {
		s.echo.Use(apperrors.Middleware(nil))
	}
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	s.echo.Use(middleware.CORSWithConfig(s.corsConfig()))

	s.echo.GET("/", s.handleLanding)
	s.echo.GET("/ws", s.websocket.Handle)
	s.echo.GET("/orders", s.handleOrders, newRateLimiter(s.config.OrdersRate, s.config.OrdersBurst))

	s.registerHealthRoutes()

	if s.registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))
	}
}

// handleLanding answers plain GETs with a liveness string and hands
// upgrade requests to the WebSocket acceptor.
func (s *Server) handleLanding(c echo.Context) error {
	if websocket.IsUpgrade(c.Request()) {
		return s.websocket.Handle(c)
	}
	return c.String(http.StatusOK, landingText)
}

func (s *Server) corsConfig() middleware.CORSConfig {
	origins := s.config.Origins()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health/live"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
