package api

import (
	"log/slog"
	"time"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestLogger returns middleware that logs one line per completed request.
// The WebSocket endpoint is skipped; its connections live for hours and get
// their own lifecycle logging.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if c.Path() == "/ws" {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			// echo/v5 exposes the raw http.ResponseWriter, so the status
			// code is not readable here; failed requests carry the error.
			attrs := []any{
				"component", "api",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"duration", time.Since(start),
			}
			if err != nil {
				attrs = append(attrs, "error", err)
			}
			slog.Info("Request handled", attrs...)
			return err
		}
	}
}
