package internal

import (
	"context"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/session"
)

// Startup relaunches the sessions that were connected before the last
// shutdown. The manager staggers the launches itself, so this runs in the
// background and the server starts taking requests immediately.
func Startup(manager *session.Manager) {
	log.Print(nil).Info("Running Startup Tasks")

	go manager.ReconnectAll(context.Background())
}
