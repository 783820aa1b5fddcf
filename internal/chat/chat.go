package chat

import (
	"github.com/gofiber/fiber/v2"

	ctlInstance "github.com/zapgate/go-whatsapp-browser-gateway/internal/instance"
	"github.com/zapgate/go-whatsapp-browser-gateway/internal/types"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/router"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/session"
)

var manager *session.Manager

func Init(m *session.Manager) {
	manager = m
}

func instanceID(c *fiber.Ctx) string {
	return c.Locals("instance_id").(string)
}

func List(c *fiber.Ctx) error {
	chats, err := manager.ListChats(c.UserContext(), instanceID(c))
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Success", chats)
}

func Archive(c *fiber.Ctx) error {
	var req types.RequestChatToggle
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := manager.ArchiveChat(c.UserContext(), instanceID(c), c.Params("chat_id"), req.Enabled); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Chat archive updated")
}

func Pin(c *fiber.Ctx) error {
	var req types.RequestChatToggle
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := manager.PinChat(c.UserContext(), instanceID(c), c.Params("chat_id"), req.Enabled); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Chat pin updated")
}

func Mute(c *fiber.Ctx) error {
	var req types.RequestMuteChat
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := manager.MuteChat(c.UserContext(), instanceID(c), c.Params("chat_id"), req.Seconds); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Chat mute updated")
}

func Delete(c *fiber.Ctx) error {
	if err := manager.DeleteChat(c.UserContext(), instanceID(c), c.Params("chat_id")); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Chat deleted")
}

func Clear(c *fiber.Ctx) error {
	if err := manager.ClearChat(c.UserContext(), instanceID(c), c.Params("chat_id")); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Chat cleared")
}
