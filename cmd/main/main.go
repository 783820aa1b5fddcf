package main

// @title Go WhatsApp Browser Gateway
// @version 1.0.0
// @description Multi-tenant WhatsApp gateway driving browser-automated WhatsApp Web sessions

// @host localhost:7001
// @BasePath /

// @securityDefinitions.apikey AdminAuth
// @in header
// @name X-Admin-Secret
// @description Admin secret key for managing instances

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token for instance operations

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/env"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/events"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/router"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/session"

	"github.com/zapgate/go-whatsapp-browser-gateway/internal"
	"github.com/zapgate/go-whatsapp-browser-gateway/internal/webhook"
)

type Server struct {
	Address string
	Port    string
}

func main() {
	// Instance datastore
	store, err := session.OpenPgStore(env.MustGetEnvString("INSTANCE_DATASTORE_URI"))
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}
	defer store.Close()

	webhookLog, err := webhook.NewStore(store.DB())
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}

	// Event bus + webhook fan-out
	bus := events.NewBus()
	engine := webhook.NewEngine(webhook.InstanceSource{Store: store}, webhookLog)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	engine.Run(engineCtx, bus)

	// Shared browser process + lifecycle manager
	pool := session.NewPool(session.PoolConfigFromEnv())
	manager := session.NewManager(session.ConfigFromEnv(), pool, store, bus)

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler:   router.HttpErrorHandler,
		BodyLimit:      router.BodyLimitBytes(),
		ReadBufferSize: 8192,
	})

	// Request ID + panic recovery
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "docs") ||
				strings.Contains(c.Path(), "events")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router RealIP
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Load Internal Routes
	internal.Routes(app, internal.Deps{
		Manager:       manager,
		Store:         store,
		Bus:           bus,
		WebhookEngine: engine,
		WebhookLog:    webhookLog,
	})

	// Running Startup Tasks
	internal.Startup(manager)

	// Running Routines Tasks
	internal.Routines(c, manager, webhookLog)
	c.Start()

	// Get Server Configuration with defaults
	var serverConfig Server
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "7001")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	// Stop taking new requests first, then close sessions so their state is
	// persisted, then the browser and the delivery engine.
	if err := app.ShutdownWithContext(ctxShutdown); err != nil {
		log.Print(nil).Error(err.Error())
	}

	manager.Shutdown(ctxShutdown)
	pool.Shutdown()

	engineCancel()
	engine.Shutdown()

	c.Stop()
}
