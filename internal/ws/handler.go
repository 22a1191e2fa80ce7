package ws

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// UpgradeRequired rejects plain HTTP requests on the websocket route.
func UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handler serves authenticated connections. It expects the auth middleware
// to have stored the username under the "username" local.
func Handler(hub *Hub, router *Router, eventsPerSec int) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		username, _ := conn.Locals("username").(string)
		if username == "" {
			_ = conn.Close()
			return
		}

		client := NewClient(conn, username, hub, eventsPerSec)
		hub.Register(client)
		hub.log.Infow("client connected", "client", client.id, "username", username)

		client.Run(hub.ctx, router)
		hub.log.Infow("client disconnected", "client", client.id, "username", username)
	})
}
