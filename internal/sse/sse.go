package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/events"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
)

var bus *events.Bus

func Init(b *events.Bus) {
	bus = b
}

// Stream pushes the instance's events to the client as server-sent events.
// A comment heartbeat goes out every 15 seconds so intermediaries keep the
// connection open; a failed write ends the subscription.
func Stream(c *fiber.Ctx) error {
	id := c.Locals("instance_id").(string)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	log.Print(c).Info("event stream opened")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := bus.SubscribeBuffered(ctx, id, 64)
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}
