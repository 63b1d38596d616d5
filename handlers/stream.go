package handlers

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"hexbattle-server/realtime"
	"hexbattle-server/services"
)

const keepAliveInterval = 15 * time.Second

// StreamEvents opens the server-sent event stream for a new connection. The
// first event carries the connection ID the client uses on every command.
// Closing the stream is the disconnect signal.
func StreamEvents(hub *realtime.Hub, matches *services.MatchService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conn := hub.Register()
		log.Infof("🔗 [STREAM] connection %s opened from %s", conn.ID, c.IP())

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer func() {
				hub.Unregister(conn.ID)
				matches.Disconnect(context.Background(), conn.ID)
				log.Infof("🔌 [STREAM] connection %s closed", conn.ID)
			}()

			fmt.Fprintf(w, "event: connected\ndata: {\"connectionId\":%q}\n\n", conn.ID)
			if err := w.Flush(); err != nil {
				return
			}

			ticker := time.NewTicker(keepAliveInterval)
			defer ticker.Stop()

			for {
				select {
				case e := <-conn.Events():
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, e.Data)
				case <-ticker.C:
					w.WriteString(":\n\n")
				case <-conn.Done():
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		})

		return nil
	}
}
