// Package logger provides structured logging for telemock. It uses Go's
// slog package with configurable level and format.
package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// NewLogger creates a new slog Logger with the specified level and
// format ("json" or "text") and installs it as the default.
func NewLogger(levelStr, format string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// Middleware returns a gin middleware that logs every request with its
// outcome and duration. Webhook simulation traffic is chatty, so the
// happy path logs at debug.
func Middleware(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := log.With(
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
		if len(c.Errors) > 0 {
			entry.Error("request failed", "errors", c.Errors.String())
			return
		}
		if c.Writer.Status() >= 500 {
			entry.Error("request completed")
		} else {
			entry.Debug("request completed")
		}
	}
}
