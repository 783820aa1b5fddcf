package group

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
	groups, err := manager.ListGroups(c.UserContext(), instanceID(c))
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Success", groups)
}

func Create(c *fiber.Ctx) error {
	var req types.RequestCreateGroup
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.Subject == "" || len(req.Participants) == 0 {
		return router.ResponseBadRequest(c, "subject and participants are required")
	}

	groupID, err := manager.CreateGroup(c.UserContext(), instanceID(c), req.Subject, req.Participants)
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseCreatedWithData(c, "Group created", fiber.Map{"group_id": groupID})
}

func Join(c *fiber.Ctx) error {
	var req types.RequestJoinGroup
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.Link == "" {
		return router.ResponseBadRequest(c, "link is required")
	}

	groupID, err := manager.JoinGroupViaLink(c.UserContext(), instanceID(c), req.Link)
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Group joined", fiber.Map{"group_id": groupID})
}

func Leave(c *fiber.Ctx) error {
	if err := manager.LeaveGroup(c.UserContext(), instanceID(c), c.Params("group_id")); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Group left")
}

func SetSubject(c *fiber.Ctx) error {
	var req types.RequestGroupSubject
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if req.Subject == "" {
		return router.ResponseBadRequest(c, "subject is required")
	}

	if err := manager.SetGroupSubject(c.UserContext(), instanceID(c), c.Params("group_id"), req.Subject); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Group subject updated")
}

func SetDescription(c *fiber.Ctx) error {
	var req types.RequestGroupDescription
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	if err := manager.SetGroupDescription(c.UserContext(), instanceID(c), c.Params("group_id"), req.Description); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Group description updated")
}

func participantsRequest(c *fiber.Ctx) ([]string, error) {
	var req types.RequestGroupParticipants
	if err := c.BodyParser(&req); err != nil {
		return nil, err
	}
	return req.Participants, nil
}

func AddParticipants(c *fiber.Ctx) error {
	participants, err := participantsRequest(c)
	if err != nil || len(participants) == 0 {
		return router.ResponseBadRequest(c, "participants are required")
	}
	if err := manager.AddParticipants(c.UserContext(), instanceID(c), c.Params("group_id"), participants); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Participants added")
}

func RemoveParticipants(c *fiber.Ctx) error {
	participants, err := participantsRequest(c)
	if err != nil || len(participants) == 0 {
		return router.ResponseBadRequest(c, "participants are required")
	}
	if err := manager.RemoveParticipants(c.UserContext(), instanceID(c), c.Params("group_id"), participants); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Participants removed")
}

func PromoteParticipants(c *fiber.Ctx) error {
	participants, err := participantsRequest(c)
	if err != nil || len(participants) == 0 {
		return router.ResponseBadRequest(c, "participants are required")
	}
	if err := manager.PromoteParticipants(c.UserContext(), instanceID(c), c.Params("group_id"), participants); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Participants promoted")
}

func DemoteParticipants(c *fiber.Ctx) error {
	participants, err := participantsRequest(c)
	if err != nil || len(participants) == 0 {
		return router.ResponseBadRequest(c, "participants are required")
	}
	if err := manager.DemoteParticipants(c.UserContext(), instanceID(c), c.Params("group_id"), participants); err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccess(c, "Participants demoted")
}

func InviteLink(c *fiber.Ctx) error {
	link, err := manager.GroupInviteLink(c.UserContext(), instanceID(c), c.Params("group_id"))
	if err != nil {
		return ctlInstance.RespondError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Success", fiber.Map{"link": link})
}
