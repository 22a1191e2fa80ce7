package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/utils"
)

// LocalUsername is the fiber.Ctx local holding the authenticated username.
const LocalUsername = "username"

// Middleware authenticates with the session token and stores the username
// under LocalUsername. Browsers cannot set headers on websocket upgrades, so
// the token query parameter and the session cookie are accepted too.
func Middleware(v *JWTValidator, log *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractToken(c)
		if token == "" {
			return utils.JSONError(c, fiber.StatusUnauthorized, "missing token")
		}
		username, err := v.Validate(token)
		if err != nil {
			log.Debugw("rejected token", "ip", c.IP(), "path", c.Path(), "error", err)
			return utils.JSONError(c, fiber.StatusUnauthorized, "invalid token")
		}
		c.Locals(LocalUsername, username)
		return c.Next()
	}
}

// Username returns the authenticated username set by Middleware.
func Username(c *fiber.Ctx) string {
	u, _ := c.Locals(LocalUsername).(string)
	return u
}

func extractToken(c *fiber.Ctx) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Cookies("token")
}
