package message

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"

	ctlInstance "github.com/zapgate/go-whatsapp-browser-gateway/internal/instance"
	"github.com/zapgate/go-whatsapp-browser-gateway/internal/types"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/router"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/session"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/validation"
)

var manager *session.Manager

func Init(m *session.Manager) {
	manager = m
}

func instanceID(c *fiber.Ctx) string {
	return c.Locals("instance_id").(string)
}

// decodePayload accepts raw base64 or a full data URI.
func decodePayload(payload string) ([]byte, error) {
	if i := strings.Index(payload, ";base64,"); i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(payload)
}

func SendText(c *fiber.Ctx) error {
	var req types.RequestSendText
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.Message == "" {
		return router.ResponseBadRequest(c, "message is required")
	}
	if err := validation.ValidateChatID(req.Phone); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	res, err := manager.SendText(c.UserContext(), instanceID(c), req.Phone, req.Message)
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Message sent", res)
}

func SendImage(c *fiber.Ctx) error {
	var req types.RequestSendImage
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := validation.ValidateChatID(req.Phone); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	image, err := decodePayload(req.Image)
	if err != nil {
		return router.ResponseBadRequest(c, "image must be base64 encoded")
	}

	res, err := manager.SendImage(c.UserContext(), instanceID(c), req.Phone, image, req.Caption)
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Image sent", res)
}

func SendDocument(c *fiber.Ctx) error {
	var req types.RequestSendDocument
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := validation.ValidateChatID(req.Phone); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if req.Filename == "" {
		return router.ResponseBadRequest(c, "filename is required")
	}
	document, err := decodePayload(req.Document)
	if err != nil {
		return router.ResponseBadRequest(c, "document must be base64 encoded")
	}
	mime := req.Mime
	if mime == "" {
		mime = "application/octet-stream"
	}

	res, err := manager.SendDocument(c.UserContext(), instanceID(c), req.Phone, document, mime, req.Filename)
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Document sent", res)
}

func SendLocation(c *fiber.Ctx) error {
	var req types.RequestSendLocation
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := validation.ValidateChatID(req.Phone); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	res, err := manager.SendLocation(c.UserContext(), instanceID(c), req.Phone,
		req.Latitude, req.Longitude, req.Name, req.Address)
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Location sent", res)
}

func SendContact(c *fiber.Ctx) error {
	var req types.RequestSendContact
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := validation.ValidateChatID(req.Phone); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if err := validation.ValidatePhone(req.ContactPhone); err != nil {
		return router.ResponseBadRequest(c, "invalid contact_phone")
	}

	res, err := manager.SendContact(c.UserContext(), instanceID(c), req.Phone,
		req.ContactPhone, req.ContactName)
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Contact sent", res)
}

func SendPoll(c *fiber.Ctx) error {
	var req types.RequestSendPoll
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := validation.ValidateChatID(req.Phone); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if req.Question == "" || len(req.Choices) < 2 {
		return router.ResponseBadRequest(c, "question and at least two choices are required")
	}

	res, err := manager.SendPoll(c.UserContext(), instanceID(c), req.Phone, req.Question, req.Choices)
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Poll sent", res)
}

func Edit(c *fiber.Ctx) error {
	var req types.RequestEditMessage
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.Message == "" {
		return router.ResponseBadRequest(c, "message is required")
	}

	if err := manager.EditMessage(c.UserContext(), instanceID(c), c.Params("message_id"), req.Message); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Message edited")
}

func React(c *fiber.Ctx) error {
	var req types.RequestReact
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	if err := manager.ReactMessage(c.UserContext(), instanceID(c), c.Params("message_id"), req.Emoji); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Reaction sent")
}

func Revoke(c *fiber.Ctx) error {
	var req types.RequestRevoke
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := validation.ValidateChatID(req.Phone); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	if err := manager.RevokeMessage(c.UserContext(), instanceID(c), req.Phone, c.Params("message_id")); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Message revoked")
}

func MarkRead(c *fiber.Ctx) error {
	var req types.RequestMarkRead
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := validation.ValidateChatID(req.Phone); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	if err := manager.MarkRead(c.UserContext(), instanceID(c), req.Phone); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Chat marked as read")
}

func Typing(c *fiber.Ctx) error {
	var req types.RequestTyping
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := validation.ValidateChatID(req.Phone); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	state := session.TypingState(req.State)
	switch state {
	case session.TypingComposing, session.TypingRecording, session.TypingPaused:
	default:
		return router.ResponseBadRequest(c, "state must be composing, recording or paused")
	}

	if err := manager.SetTyping(c.UserContext(), instanceID(c), req.Phone, state); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Typing state updated")
}

func Presence(c *fiber.Ctx) error {
	var req types.RequestPresence
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	if err := manager.SetPresence(c.UserContext(), instanceID(c), req.Available); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Presence updated")
}
