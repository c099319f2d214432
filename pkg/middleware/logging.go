package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger logs one line per request, tagged with a request id that
// is echoed back in X-Request-ID. Paths with a quietPrefix are only logged
// when they fail.
func RequestLogger(quietPrefixes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDHeader, requestID)
		c.Locals("requestID", requestID)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if status < fiber.StatusBadRequest {
				status = fiber.StatusInternalServerError
			}
		}
		if status < fiber.StatusBadRequest && hasAnyPrefix(c.Path(), quietPrefixes) {
			return err
		}

		event := levelFor(status)
		event.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.IP())

		if userID, uerr := GetUserID(c); uerr == nil {
			event.Str("user_id", userID.String()).Str("role", string(GetRole(c)))
		}
		if err != nil {
			event.Err(err)
		}
		event.Msg("request")

		return err
	}
}

// LogPanic is a recover.Config StackTraceHandler
func LogPanic(c *fiber.Ctx, e interface{}) {
	requestID, _ := c.Locals("requestID").(string)
	log.Error().
		Str("request_id", requestID).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Interface("panic", e).
		Msg("panic recovered")
}

func levelFor(status int) *zerolog.Event {
	switch {
	case status >= fiber.StatusInternalServerError:
		return log.Error()
	case status >= fiber.StatusBadRequest:
		return log.Warn()
	default:
		return log.Info()
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
