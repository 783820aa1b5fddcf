package session

import (
	"context"
	"encoding/json"
)

// ChatInfo is one conversation in the account's chat list.
type ChatInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsGroup     bool   `json:"is_group"`
	UnreadCount int    `json:"unread_count"`
	Archived    bool   `json:"archived"`
	Pinned      bool   `json:"pinned"`
	Muted       bool   `json:"muted"`
	LastMessage string `json:"last_message,omitempty"`
}

const jsListChats = `() => WPP.chat.list().then((chats) => chats.map((c) => ({
	id: String(c.id && c.id._serialized || c.id),
	name: c.name || c.formattedTitle || '',
	is_group: !!c.isGroup,
	unread_count: c.unreadCount || 0,
	archived: !!c.archive,
	pinned: !!c.pin,
	muted: !!(c.mute && c.mute.expiration),
	last_message: (c.lastMessage && c.lastMessage.body) || '',
})))`

// ListChats returns the account's chat list.
func (m *Manager) ListChats(ctx context.Context, id string) ([]ChatInfo, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return nil, err
	}
	raw, err := sess.page.Eval(ctx, jsListChats)
	if err != nil {
		return nil, operationFailed("list chats", err)
	}
	var chats []ChatInfo
	if err := json.Unmarshal(raw, &chats); err != nil {
		return nil, operationFailed("list chats", err)
	}
	return chats, nil
}

// ArchiveChat archives or unarchives the chat.
func (m *Manager) ArchiveChat(ctx context.Context, id, to string, archive bool) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	return m.evalOp(ctx, sess, "archive chat",
		`(chatId, archive) => WPP.chat.archive(chatId, archive)`, ComposeChatID(to), archive)
}

// PinChat pins or unpins the chat.
func (m *Manager) PinChat(ctx context.Context, id, to string, pin bool) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	return m.evalOp(ctx, sess, "pin chat",
		`(chatId, pin) => WPP.chat.pin(chatId, pin)`, ComposeChatID(to), pin)
}

// MuteChat mutes the chat for the given number of seconds; zero unmutes.
func (m *Manager) MuteChat(ctx context.Context, id, to string, seconds int) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	if seconds <= 0 {
		return m.evalOp(ctx, sess, "unmute chat",
			`(chatId) => WPP.chat.unmute(chatId)`, ComposeChatID(to))
	}
	return m.evalOp(ctx, sess, "mute chat",
		`(chatId, seconds) => WPP.chat.mute(chatId, { expiration: Math.floor(Date.now() / 1000) + seconds })`,
		ComposeChatID(to), seconds)
}

// DeleteChat removes the chat from the list entirely.
func (m *Manager) DeleteChat(ctx context.Context, id, to string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	return m.evalOp(ctx, sess, "delete chat",
		`(chatId) => WPP.chat.delete(chatId)`, ComposeChatID(to))
}

// ClearChat deletes every message in the chat but keeps the chat itself.
func (m *Manager) ClearChat(ctx context.Context, id, to string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	return m.evalOp(ctx, sess, "clear chat",
		`(chatId) => WPP.chat.clear(chatId)`, ComposeChatID(to))
}
