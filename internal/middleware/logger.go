package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/auth"
)

// RequestID tags every request with X-Request-ID, keeping one the caller
// already sent.
func RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: uuid.NewString,
	})
}

// RequestLogger writes one line per request. The username is read after the
// handler chain ran, so it is only present on authenticated routes.
func RequestLogger(logger *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		fields := []interface{}{
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
			"method", c.Method(),
			"path", c.Path(),
			"ip", c.IP(),
			"status", status,
			"latency", time.Since(start),
		}
		if u := auth.Username(c); u != "" {
			fields = append(fields, "username", u)
		}

		switch {
		case err != nil:
			logger.Errorw("http request failed", append(fields, "error", err)...)
		case status >= fiber.StatusInternalServerError:
			logger.Errorw("http request", fields...)
		case status >= fiber.StatusBadRequest:
			logger.Warnw("http request", fields...)
		default:
			logger.Infow("http request", fields...)
		}
		return err
	}
}
