package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// quietPaths are polled often enough that logging them is noise
var quietPaths = map[string]bool{
	"/metrics":    true,
	"/health":     true,
	"/api/status": true,
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		path := c.Path()
		if quietPaths[path] {
			return err
		}

		level := slog.LevelInfo
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			level = slog.LevelWarn
		}

		logger.Log(c.Context(), level, "http request",
			"method", c.Method(),
			"path", path,
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
