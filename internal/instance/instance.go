package instance

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/zapgate/go-whatsapp-browser-gateway/internal/types"
	"github.com/zapgate/go-whatsapp-browser-gateway/internal/webhook"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/auth"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/router"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/session"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/validation"
)

var (
	manager  *session.Manager
	store    *session.PgStore
	engine   *webhook.Engine
	logStore *webhook.Store
)

// Init wires the controller's dependencies before routes are registered.
func Init(m *session.Manager, s *session.PgStore, e *webhook.Engine, ls *webhook.Store) {
	manager = m
	store = s
	engine = e
	logStore = ls
}

func instanceID(c *fiber.Ctx) string {
	return c.Locals("instance_id").(string)
}

// RespondError maps service errors onto the response envelope.
func RespondError(c *fiber.Ctx, err error) error {
	var opErr *session.OperationError
	switch {
	case errors.Is(err, session.ErrInstanceNotFound):
		return router.ResponseNotFound(c, "Instance not found")
	case errors.Is(err, session.ErrNotConnected):
		return router.ResponseBadRequest(c, "Instance is not connected")
	case errors.Is(err, session.ErrLimitExceeded):
		return router.ResponseTooManyRequests(c, "Maximum concurrent instance count reached")
	case errors.Is(err, session.ErrNotFound):
		return router.ResponseNotFound(c, "Not found")
	case errors.As(err, &opErr):
		return router.ResponseBadGateway(c, opErr.Error())
	default:
		return router.ResponseInternalError(c, err.Error())
	}
}

// Create registers a new instance and issues its API token.
func Create(c *fiber.Ctx) error {
	var req types.RequestCreateInstance
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.Name == "" {
		return router.ResponseBadRequest(c, "name is required")
	}
	if req.WebhookURL != "" {
		if err := validation.ValidateURL(req.WebhookURL); err != nil {
			return router.ResponseBadRequest(c, fmt.Sprintf("invalid webhook_url: %v", err))
		}
	}

	count, err := store.Count(c.UserContext())
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	if count >= manager.MaxInstances() {
		return RespondError(c, session.ErrLimitExceeded)
	}

	inst := &session.Instance{
		ID:            uuid.NewString(),
		Name:          req.Name,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		WebhookEvents: req.WebhookEvents,
		Proxy:         req.Proxy,
	}
	if err := store.Create(c.UserContext(), inst); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	token, err := auth.GenerateInstanceToken(inst.ID, inst.Name)
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	log.Print(c).Infof("instance %s created", inst.ID)
	return router.ResponseCreatedWithData(c, "Instance created", fiber.Map{
		"instance": inst,
		"token":    token,
	})
}

// List returns every stored instance with its live status overlaid.
func List(c *fiber.Ctx) error {
	instances, err := store.List(c.UserContext())
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	for _, inst := range instances {
		if status, err := manager.StatusOf(c.UserContext(), inst.ID); err == nil {
			inst.Status = status
		}
	}
	return router.ResponseSuccessWithData(c, "Success", instances)
}

// Get returns one instance.
func Get(c *fiber.Ctx) error {
	inst, err := store.Instance(c.UserContext(), c.Params("instance_id"))
	if err != nil {
		return RespondError(c, err)
	}
	if status, serr := manager.StatusOf(c.UserContext(), inst.ID); serr == nil {
		inst.Status = status
	}
	return router.ResponseSuccessWithData(c, "Success", inst)
}

// Delete logs the instance out and removes it.
func Delete(c *fiber.Ctx) error {
	id := c.Params("instance_id")
	if _, err := store.Instance(c.UserContext(), id); err != nil {
		return RespondError(c, err)
	}
	if err := manager.DeleteInstance(c.UserContext(), id); err != nil {
		return RespondError(c, err)
	}
	engine.InvalidateCache(id)
	log.Print(c).Infof("instance %s deleted", id)
	return router.ResponseSuccess(c, "Instance deleted")
}

// Token re-issues the API token for an instance.
func Token(c *fiber.Ctx) error {
	inst, err := store.Instance(c.UserContext(), c.Params("instance_id"))
	if err != nil {
		return RespondError(c, err)
	}
	token, err := auth.GenerateInstanceToken(inst.ID, inst.Name)
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseSuccessWithData(c, "Success", fiber.Map{"token": token})
}

// ReconnectAll relaunches every previously connected instance.
func ReconnectAll(c *fiber.Ctx) error {
	go manager.ReconnectAll(c.UserContext())
	return router.ResponseSuccess(c, "Reconnect started")
}

// Stats reports live session counts for the admin dashboard.
func Stats(c *fiber.Ctx) error {
	total, err := store.Count(c.UserContext())
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseSuccessWithData(c, "Success", fiber.Map{
		"instances": total,
		"active":    manager.ActiveCount(),
		"sessions":  manager.Sessions(),
	})
}

// Connect starts the instance's session. Safe to call repeatedly.
func Connect(c *fiber.Ctx) error {
	id := instanceID(c)
	sess, err := manager.Connect(c.UserContext(), id)
	if err != nil {
		return RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Connecting", fiber.Map{
		"status": sess.Status(),
	})
}

// Disconnect ends the session but keeps the stored login.
func Disconnect(c *fiber.Ctx) error {
	if err := manager.Disconnect(c.UserContext(), instanceID(c)); err != nil {
		return RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Disconnected")
}

// Logout signs out remotely and wipes the stored login.
func Logout(c *fiber.Ctx) error {
	if err := manager.Logout(c.UserContext(), instanceID(c)); err != nil {
		return RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Logged out")
}

// Status reports the instance's lifecycle state.
func Status(c *fiber.Ctx) error {
	id := instanceID(c)
	status, err := manager.StatusOf(c.UserContext(), id)
	if err != nil {
		return RespondError(c, err)
	}
	data := fiber.Map{"status": status}
	if inst, err := store.Instance(c.UserContext(), id); err == nil {
		data["phone"] = inst.Phone
		data["push_name"] = inst.PushName
	}
	return router.ResponseSuccessWithData(c, "Success", data)
}

// QR returns the pending pairing code, as JSON or as an inline HTML page
// when output=html is requested.
func QR(c *fiber.Ctx) error {
	id := instanceID(c)
	image, err := manager.QRCode(id)
	if errors.Is(err, session.ErrNotFound) {
		status, serr := manager.StatusOf(c.UserContext(), id)
		if serr != nil {
			return RespondError(c, serr)
		}
		if status == session.StatusConnected {
			return router.ResponseConflict(c, "Instance is already connected")
		}
		return router.ResponseNotFound(c, "No pairing code pending, connect first")
	}
	if err != nil {
		return RespondError(c, err)
	}

	if c.Query("output") == "html" {
		html := fmt.Sprintf(`<html><head><title>Scan QR Code</title></head><body>
			<img src="%s" alt="QR Code" />
			<p>Scan this code from WhatsApp on your phone.</p>
		</body></html>`, image)
		return router.ResponseSuccessWithHTML(c, html)
	}
	return router.ResponseSuccessWithData(c, "Success", fiber.Map{"qr": image})
}

// UpdateSettings merges a partial settings update into the instance.
func UpdateSettings(c *fiber.Ctx) error {
	var patch session.SettingsPatch
	if err := c.BodyParser(&patch); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	settings, err := manager.UpdateSettings(c.UserContext(), instanceID(c), patch)
	if err != nil {
		return RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Settings updated", settings)
}

// GetSettings returns the instance's current settings.
func GetSettings(c *fiber.Ctx) error {
	inst, err := store.Instance(c.UserContext(), instanceID(c))
	if err != nil {
		return RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Success", inst.Settings)
}

// UpdateWebhook replaces the instance's webhook target and subscriptions.
func UpdateWebhook(c *fiber.Ctx) error {
	var req types.RequestUpdateWebhook
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.URL != "" {
		if err := validation.ValidateURL(req.URL); err != nil {
			return router.ResponseBadRequest(c, fmt.Sprintf("invalid url: %v", err))
		}
	}

	id := instanceID(c)
	if err := store.SetWebhook(c.UserContext(), id, req.URL, req.Secret, req.Events); err != nil {
		return RespondError(c, err)
	}
	engine.InvalidateCache(id)
	return router.ResponseSuccess(c, "Webhook updated")
}

// WebhookDeliveries lists recent webhook delivery attempts.
func WebhookDeliveries(c *fiber.Ctx) error {
	records, err := logStore.RecentDeliveries(c.UserContext(), instanceID(c), c.QueryInt("limit", 50))
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseSuccessWithData(c, "Success", records)
}
