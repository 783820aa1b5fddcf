package internal

import (
	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/auth"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/events"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/router"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/session"

	ctlChat "github.com/zapgate/go-whatsapp-browser-gateway/internal/chat"
	ctlGroup "github.com/zapgate/go-whatsapp-browser-gateway/internal/group"
	ctlIndex "github.com/zapgate/go-whatsapp-browser-gateway/internal/index"
	ctlInstance "github.com/zapgate/go-whatsapp-browser-gateway/internal/instance"
	ctlMessage "github.com/zapgate/go-whatsapp-browser-gateway/internal/message"
	ctlSSE "github.com/zapgate/go-whatsapp-browser-gateway/internal/sse"
	"github.com/zapgate/go-whatsapp-browser-gateway/internal/webhook"
)

// Deps carries the wired services into the route layer.
type Deps struct {
	Manager       *session.Manager
	Store         *session.PgStore
	Bus           *events.Bus
	WebhookEngine *webhook.Engine
	WebhookLog    *webhook.Store
}

func Routes(app *fiber.App, deps Deps) {
	ctlInstance.Init(deps.Manager, deps.Store, deps.WebhookEngine, deps.WebhookLog)
	ctlMessage.Init(deps.Manager)
	ctlGroup.Init(deps.Manager)
	ctlChat.Init(deps.Manager)
	ctlSSE.Init(deps.Bus)

	// Configure OpenAPI / Swagger
	specURL := router.BaseURL + "/docs/swagger.json"
	swaggerHandler := swagger.New(swagger.Config{
		URL: specURL,
	})

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	app.Get(router.BaseURL+"/docs/swagger.json", router.HttpCacheInMemory(router.CacheTTLSeconds), func(c *fiber.Ctx) error {
		return c.SendFile("docs/swagger.json")
	})
	app.Get(router.BaseURL+"/docs/*", swaggerHandler)

	// ============================================================
	// ADMIN ROUTES (X-Admin-Secret authentication)
	// ============================================================
	adminMiddleware := auth.AdminAuth()

	app.Post(router.BaseURL+"/admin/instances", adminMiddleware, ctlInstance.Create)
	app.Get(router.BaseURL+"/admin/instances", adminMiddleware, ctlInstance.List)
	app.Get(router.BaseURL+"/admin/instances/:instance_id", adminMiddleware, ctlInstance.Get)
	app.Delete(router.BaseURL+"/admin/instances/:instance_id", adminMiddleware, ctlInstance.Delete)
	app.Post(router.BaseURL+"/admin/instances/:instance_id/token", adminMiddleware, ctlInstance.Token)
	app.Post(router.BaseURL+"/admin/instances/reconnect", adminMiddleware, ctlInstance.ReconnectAll)
	app.Get(router.BaseURL+"/admin/stats", adminMiddleware, ctlInstance.Stats)

	// ============================================================
	// INSTANCE ROUTES (Bearer token authentication)
	// ============================================================
	instanceMiddleware := auth.InstanceAuth()

	// Lifecycle
	app.Post(router.BaseURL+"/instance/connect", instanceMiddleware, ctlInstance.Connect)
	app.Post(router.BaseURL+"/instance/disconnect", instanceMiddleware, ctlInstance.Disconnect)
	app.Post(router.BaseURL+"/instance/logout", instanceMiddleware, ctlInstance.Logout)
	app.Get(router.BaseURL+"/instance/status", instanceMiddleware, ctlInstance.Status)
	app.Get(router.BaseURL+"/instance/qr", instanceMiddleware, ctlInstance.QR)

	// Settings + webhook configuration
	app.Get(router.BaseURL+"/instance/settings", instanceMiddleware, ctlInstance.GetSettings)
	app.Patch(router.BaseURL+"/instance/settings", instanceMiddleware, ctlInstance.UpdateSettings)
	app.Put(router.BaseURL+"/instance/webhook", instanceMiddleware, ctlInstance.UpdateWebhook)
	app.Get(router.BaseURL+"/instance/webhook/deliveries", instanceMiddleware, ctlInstance.WebhookDeliveries)

	// Events
	app.Get(router.BaseURL+"/instance/events", instanceMiddleware, ctlSSE.Stream)

	// Messaging
	app.Post(router.BaseURL+"/message/text", instanceMiddleware, ctlMessage.SendText)
	app.Post(router.BaseURL+"/message/image", instanceMiddleware, ctlMessage.SendImage)
	app.Post(router.BaseURL+"/message/document", instanceMiddleware, ctlMessage.SendDocument)
	app.Post(router.BaseURL+"/message/location", instanceMiddleware, ctlMessage.SendLocation)
	app.Post(router.BaseURL+"/message/contact", instanceMiddleware, ctlMessage.SendContact)
	app.Post(router.BaseURL+"/message/poll", instanceMiddleware, ctlMessage.SendPoll)
	app.Put(router.BaseURL+"/message/:message_id", instanceMiddleware, ctlMessage.Edit)
	app.Post(router.BaseURL+"/message/:message_id/react", instanceMiddleware, ctlMessage.React)
	app.Post(router.BaseURL+"/message/:message_id/revoke", instanceMiddleware, ctlMessage.Revoke)
	app.Post(router.BaseURL+"/message/read", instanceMiddleware, ctlMessage.MarkRead)
	app.Post(router.BaseURL+"/message/typing", instanceMiddleware, ctlMessage.Typing)
	app.Post(router.BaseURL+"/message/presence", instanceMiddleware, ctlMessage.Presence)

	// Groups
	app.Get(router.BaseURL+"/group", instanceMiddleware, ctlGroup.List)
	app.Post(router.BaseURL+"/group", instanceMiddleware, ctlGroup.Create)
	app.Post(router.BaseURL+"/group/join", instanceMiddleware, ctlGroup.Join)
	app.Post(router.BaseURL+"/group/:group_id/leave", instanceMiddleware, ctlGroup.Leave)
	app.Put(router.BaseURL+"/group/:group_id/subject", instanceMiddleware, ctlGroup.SetSubject)
	app.Put(router.BaseURL+"/group/:group_id/description", instanceMiddleware, ctlGroup.SetDescription)
	app.Post(router.BaseURL+"/group/:group_id/participants", instanceMiddleware, ctlGroup.AddParticipants)
	app.Delete(router.BaseURL+"/group/:group_id/participants", instanceMiddleware, ctlGroup.RemoveParticipants)
	app.Post(router.BaseURL+"/group/:group_id/participants/promote", instanceMiddleware, ctlGroup.PromoteParticipants)
	app.Post(router.BaseURL+"/group/:group_id/participants/demote", instanceMiddleware, ctlGroup.DemoteParticipants)
	app.Get(router.BaseURL+"/group/:group_id/invite-link", instanceMiddleware, ctlGroup.InviteLink)

	// Chats
	app.Get(router.BaseURL+"/chat", instanceMiddleware, ctlChat.List)
	app.Put(router.BaseURL+"/chat/:chat_id/archive", instanceMiddleware, ctlChat.Archive)
	app.Put(router.BaseURL+"/chat/:chat_id/pin", instanceMiddleware, ctlChat.Pin)
	app.Put(router.BaseURL+"/chat/:chat_id/mute", instanceMiddleware, ctlChat.Mute)
	app.Delete(router.BaseURL+"/chat/:chat_id", instanceMiddleware, ctlChat.Delete)
	app.Post(router.BaseURL+"/chat/:chat_id/clear", instanceMiddleware, ctlChat.Clear)
}
