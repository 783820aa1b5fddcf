package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zapgate/go-whatsapp-browser-gateway/internal/webhook"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/env"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/session"
)

// Routines registers the periodic maintenance jobs: a page health check, the
// garbage collection pass that keeps long-lived tabs from ballooning, and
// pruning of the webhook delivery log.
func Routines(c *cron.Cron, manager *session.Manager, webhookLog *webhook.Store) {
	log.Print(nil).Info("Running Routine Tasks")

	if env.GetEnvBoolOrDefault("HEALTH_CHECK_ENABLED", true) {
		_, err := c.AddFunc("0 */5 * * * *", func() {
			if manager.ActiveCount() == 0 {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			manager.HealthCheck(ctx)
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
		}
	}

	if env.GetEnvBoolOrDefault("BROWSER_GC_ENABLED", true) {
		spec := env.GetEnvStringOrDefault("BROWSER_GC_CRON", "0 */5 * * * *")
		_, err := c.AddFunc(spec, func() {
			if manager.ActiveCount() == 0 {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			manager.CollectGarbage(ctx)
			log.Print(nil).Info("Browser garbage collection pass complete")
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add browser gc cron job")
		}
	}

	retention := env.GetEnvDurationOrDefault("WEBHOOK_LOG_RETENTION", 7*24*time.Hour)
	_, err := c.AddFunc("0 0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		pruned, err := webhookLog.Prune(ctx, retention)
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to prune webhook delivery log")
			return
		}
		if pruned > 0 {
			log.Print(nil).WithField("pruned", pruned).Info("Webhook delivery log pruned")
		}
	})
	if err != nil {
		log.Print(nil).WithField("error", err.Error()).Error("Failed to add webhook log prune cron job")
	}
}
