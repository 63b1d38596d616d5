// middleware/connection.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const (
	ConnectionHeader      = "X-Connection-ID"
	ConnectionIDLocalsKey = "connection_id"
)

// ConnectionRegistry reports whether a connection ID belongs to an open
// event stream.
type ConnectionRegistry interface {
	Connected(id string) bool
}

// ConnectionMiddleware binds a command to the event stream that issued the
// connection ID. Commands from unknown connections are rejected.
func ConnectionMiddleware(registry ConnectionRegistry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		connID := strings.TrimSpace(c.Get(ConnectionHeader))
		if connID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing " + ConnectionHeader + "; open the lobby stream first",
			})
		}
		if !registry.Connected(connID) {
			log.Debugf("❌ [CONN] unknown connection %s on %s", connID, c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unknown or closed connection",
			})
		}

		c.Locals(ConnectionIDLocalsKey, connID)
		return c.Next()
	}
}

// ConnectionID returns the identity bound by ConnectionMiddleware.
func ConnectionID(c *fiber.Ctx) string {
	id, _ := c.Locals(ConnectionIDLocalsKey).(string)
	return id
}
