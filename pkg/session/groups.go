package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// GroupInfo is one group the account participates in.
type GroupInfo struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Description  string `json:"description"`
	Participants int    `json:"participants"`
	IsAdmin      bool   `json:"is_admin"`
}

const jsCreateGroup = `(subject, participants) => WPP.group.create(subject, participants)
	.then((r) => ({ id: String(r.gid && r.gid._serialized || r.gid || r.id) }))`

// CreateGroup creates a group with the given subject and initial members.
func (m *Manager) CreateGroup(ctx context.Context, id, subject string, participants []string) (string, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return "", err
	}
	if len(participants) == 0 {
		return "", operationFailed("create group", errors.New("a group needs at least one participant"))
	}
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = ComposeChatID(p)
	}
	raw, err := sess.page.Eval(ctx, jsCreateGroup, subject, ids)
	if err != nil {
		return "", operationFailed("create group", err)
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", operationFailed("create group", err)
	}
	return res.ID, nil
}

const jsJoinGroup = `(code) => WPP.group.join(code)
	.then((r) => ({ id: String(r && r._serialized || r || '') }))`

// JoinGroupViaLink joins a group from an invite link or bare invite code.
func (m *Manager) JoinGroupViaLink(ctx context.Context, id, link string) (string, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return "", err
	}
	raw, err := sess.page.Eval(ctx, jsJoinGroup, inviteCode(link))
	if err != nil {
		return "", operationFailed("join group", err)
	}
	var res struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", operationFailed("join group", err)
	}
	return res.ID, nil
}

// inviteCode strips the invite URL down to its code.
func inviteCode(link string) string {
	const prefix = "chat.whatsapp.com/"
	if i := strings.Index(link, prefix); i >= 0 {
		return link[i+len(prefix):]
	}
	return link
}

// LeaveGroup leaves the group.
func (m *Manager) LeaveGroup(ctx context.Context, id, groupID string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	return m.evalOp(ctx, sess, "leave group", `(groupId) => WPP.group.leave(groupId)`, ComposeChatID(groupID))
}

// SetGroupSubject renames the group.
func (m *Manager) SetGroupSubject(ctx context.Context, id, groupID, subject string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	return m.evalOp(ctx, sess, "set group subject",
		`(groupId, subject) => WPP.group.setSubject(groupId, subject)`, ComposeChatID(groupID), subject)
}

// SetGroupDescription replaces the group description.
func (m *Manager) SetGroupDescription(ctx context.Context, id, groupID, description string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	return m.evalOp(ctx, sess, "set group description",
		`(groupId, description) => WPP.group.setDescription(groupId, description)`, ComposeChatID(groupID), description)
}

func (m *Manager) groupParticipantsOp(ctx context.Context, id, groupID, op, js string, participants []string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = ComposeChatID(p)
	}
	return m.evalOp(ctx, sess, op, js, ComposeChatID(groupID), ids)
}

// AddParticipants invites members into the group.
func (m *Manager) AddParticipants(ctx context.Context, id, groupID string, participants []string) error {
	return m.groupParticipantsOp(ctx, id, groupID, "add participants",
		`(groupId, ids) => WPP.group.addParticipants(groupId, ids)`, participants)
}

// RemoveParticipants removes members from the group.
func (m *Manager) RemoveParticipants(ctx context.Context, id, groupID string, participants []string) error {
	return m.groupParticipantsOp(ctx, id, groupID, "remove participants",
		`(groupId, ids) => WPP.group.removeParticipants(groupId, ids)`, participants)
}

// PromoteParticipants grants admin to members.
func (m *Manager) PromoteParticipants(ctx context.Context, id, groupID string, participants []string) error {
	return m.groupParticipantsOp(ctx, id, groupID, "promote participants",
		`(groupId, ids) => WPP.group.promoteParticipants(groupId, ids)`, participants)
}

// DemoteParticipants revokes admin from members.
func (m *Manager) DemoteParticipants(ctx context.Context, id, groupID string, participants []string) error {
	return m.groupParticipantsOp(ctx, id, groupID, "demote participants",
		`(groupId, ids) => WPP.group.demoteParticipants(groupId, ids)`, participants)
}

const jsGroupInviteLink = `(groupId) => WPP.group.getInviteCode(groupId)
	.then((code) => ({ link: 'https://chat.whatsapp.com/' + code }))`

// GroupInviteLink returns the group's current invite link.
func (m *Manager) GroupInviteLink(ctx context.Context, id, groupID string) (string, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return "", err
	}
	raw, err := sess.page.Eval(ctx, jsGroupInviteLink, ComposeChatID(groupID))
	if err != nil {
		return "", operationFailed("group invite link", err)
	}
	var res struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", operationFailed("group invite link", err)
	}
	return res.Link, nil
}

const jsListGroups = `() => WPP.group.getAllGroups().then((groups) => groups.map((g) => ({
	id: String(g.id && g.id._serialized || g.id),
	subject: g.subject || (g.groupMetadata && g.groupMetadata.subject) || '',
	description: (g.groupMetadata && g.groupMetadata.desc) || '',
	participants: (g.groupMetadata && g.groupMetadata.participants && g.groupMetadata.participants.length) || 0,
	is_admin: !!(g.groupMetadata && g.groupMetadata.participants &&
		g.groupMetadata.participants.some((p) => p.isAdmin && p.id && p.id.isMe)),
})))`

// ListGroups returns every group the account participates in.
func (m *Manager) ListGroups(ctx context.Context, id string) ([]GroupInfo, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return nil, err
	}
	raw, err := sess.page.Eval(ctx, jsListGroups)
	if err != nil {
		return nil, operationFailed("list groups", err)
	}
	var groups []GroupInfo
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, operationFailed("list groups", err)
	}
	return groups, nil
}
