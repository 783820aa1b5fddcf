package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
)

// SendResult identifies a message accepted by the page for delivery.
type SendResult struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
	Timestamp int64  `json:"timestamp"`
}

// connectedSession returns the live session if, and only if, it is in the
// connected state.
func (m *Manager) connectedSession(id string) (*Session, error) {
	sess, ok := m.session(id)
	if !ok || sess.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	return sess, nil
}

// evalSend pushes one outbound operation through the session's rate limiter
// and the bridge, normalizing the bridge's response into a SendResult.
func (m *Manager) evalSend(ctx context.Context, sess *Session, op, js string, args ...interface{}) (*SendResult, error) {
	if err := sess.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := sess.page.Eval(ctx, js, args...)
	if err != nil {
		return nil, operationFailed(op, err)
	}
	var res struct {
		ID     string `json:"id"`
		ChatID string `json:"chat_id"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, operationFailed(op, err)
	}
	return &SendResult{
		MessageID: res.ID,
		ChatID:    res.ChatID,
		Timestamp: time.Now().Unix(),
	}, nil
}

// evalOp runs one bridge operation with no interesting return value.
func (m *Manager) evalOp(ctx context.Context, sess *Session, op, js string, args ...interface{}) error {
	if _, err := sess.page.Eval(ctx, js, args...); err != nil {
		return operationFailed(op, err)
	}
	return nil
}

const jsSendText = `(chatId, text) => WPP.chat.sendTextMessage(chatId, text)
	.then((r) => ({ id: String(r.id && r.id._serialized || r.id), chat_id: chatId }))`

// SendText delivers a plain text message.
func (m *Manager) SendText(ctx context.Context, id, to, text string) (*SendResult, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return nil, err
	}
	chatID := ComposeChatID(to)
	return m.evalSend(ctx, sess, "send text", jsSendText, chatID, text)
}

const jsSendFile = `(chatId, content, options) => WPP.chat.sendFileMessage(chatId, content, options)
	.then((r) => ({ id: String(r.id && r.id._serialized || r.id), chat_id: chatId }))`

// SendImage normalizes the image and sends it with an optional caption.
func (m *Manager) SendImage(ctx context.Context, id, to string, image []byte, caption string) (*SendResult, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return nil, err
	}
	prepared, err := prepareImage(image)
	if err != nil {
		return nil, operationFailed("send image", err)
	}
	chatID := ComposeChatID(to)
	options := map[string]interface{}{
		"type":    "image",
		"caption": caption,
	}
	return m.evalSend(ctx, sess, "send image", jsSendFile,
		chatID, dataURI("image/jpeg", prepared), options)
}

// SendDocument sends an arbitrary file with its original name and mime type.
func (m *Manager) SendDocument(ctx context.Context, id, to string, document []byte, mime, filename string) (*SendResult, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return nil, err
	}
	chatID := ComposeChatID(to)
	options := map[string]interface{}{
		"type":     "document",
		"filename": filename,
	}
	return m.evalSend(ctx, sess, "send document", jsSendFile,
		chatID, dataURI(mime, document), options)
}

const jsSendLocation = `(chatId, options) => WPP.chat.sendLocationMessage(chatId, options)
	.then((r) => ({ id: String(r.id && r.id._serialized || r.id), chat_id: chatId }))`

// SendLocation shares coordinates with an optional place name and address.
func (m *Manager) SendLocation(ctx context.Context, id, to string, lat, lng float64, name, address string) (*SendResult, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return nil, err
	}
	chatID := ComposeChatID(to)
	options := map[string]interface{}{
		"lat":     lat,
		"lng":     lng,
		"name":    name,
		"address": address,
	}
	return m.evalSend(ctx, sess, "send location", jsSendLocation, chatID, options)
}

const jsSendContact = `(chatId, contactId, name) => WPP.chat.sendVCardContactMessage(chatId, { id: contactId, name: name })
	.then((r) => ({ id: String(r.id && r.id._serialized || r.id), chat_id: chatId }))`

// SendContact shares another account as a vcard.
func (m *Manager) SendContact(ctx context.Context, id, to, contactPhone, contactName string) (*SendResult, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return nil, err
	}
	chatID := ComposeChatID(to)
	contactID := ComposeChatID(contactPhone)
	return m.evalSend(ctx, sess, "send contact", jsSendContact, chatID, contactID, contactName)
}

const jsSendPoll = `(chatId, name, choices) => WPP.chat.sendCreatePollMessage(chatId, name, choices)
	.then((r) => ({ id: String(r.id && r.id._serialized || r.id), chat_id: chatId }))`

// SendPoll creates a poll with the given question and choices.
func (m *Manager) SendPoll(ctx context.Context, id, to, question string, choices []string) (*SendResult, error) {
	sess, err := m.connectedSession(id)
	if err != nil {
		return nil, err
	}
	if len(choices) < 2 {
		return nil, operationFailed("send poll", errors.New("a poll needs at least two choices"))
	}
	chatID := ComposeChatID(to)
	return m.evalSend(ctx, sess, "send poll", jsSendPoll, chatID, question, choices)
}

const jsEditMessage = `(msgId, text) => WPP.chat.editMessage(msgId, text)
	.then((r) => ({ id: String(r.id && r.id._serialized || r.id) }))`

// EditMessage replaces the text of an already sent message.
func (m *Manager) EditMessage(ctx context.Context, id, messageID, text string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	return m.evalOp(ctx, sess, "edit message", jsEditMessage, messageID, text)
}

const jsReactMessage = `(msgId, reaction) => WPP.chat.sendReactionToMessage(msgId, reaction)`

// ReactMessage attaches an emoji reaction to a message. An empty or "-"
// reaction removes an existing one. Anything that is not a single emoji or
// grapheme is rejected before touching the page.
func (m *Manager) ReactMessage(ctx context.Context, id, messageID, emoji string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	if emoji == "-" {
		emoji = ""
	}
	if emoji != "" {
		if !gomoji.ContainsEmoji(emoji) && uniseg.GraphemeClusterCount(emoji) != 1 {
			return operationFailed("react message", errors.New("reaction must be a single emoji"))
		}
	}
	return m.evalOp(ctx, sess, "react message", jsReactMessage, messageID, emoji)
}

const jsRevokeMessage = `(chatId, msgId) => WPP.chat.deleteMessage(chatId, msgId, false, true)`

// RevokeMessage deletes a sent message for everyone in the chat.
func (m *Manager) RevokeMessage(ctx context.Context, id, to, messageID string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	chatID := ComposeChatID(to)
	return m.evalOp(ctx, sess, "revoke message", jsRevokeMessage, chatID, messageID)
}

const jsMarkRead = `(chatId) => WPP.chat.markIsRead(chatId)`

// MarkRead marks every message in the chat as read.
func (m *Manager) MarkRead(ctx context.Context, id, to string) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	return m.evalOp(ctx, sess, "mark read", jsMarkRead, ComposeChatID(to))
}

// TypingState is an ephemeral chat indicator.
type TypingState string

const (
	TypingComposing TypingState = "composing"
	TypingRecording TypingState = "recording"
	TypingPaused    TypingState = "paused"
)

// SetTyping shows or clears a typing or recording indicator in the chat.
func (m *Manager) SetTyping(ctx context.Context, id, to string, state TypingState) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	chatID := ComposeChatID(to)
	switch state {
	case TypingComposing:
		return m.evalOp(ctx, sess, "set typing", `(chatId) => WPP.chat.markIsComposing(chatId)`, chatID)
	case TypingRecording:
		return m.evalOp(ctx, sess, "set typing", `(chatId) => WPP.chat.markIsRecording(chatId)`, chatID)
	case TypingPaused:
		return m.evalOp(ctx, sess, "set typing", `(chatId) => WPP.chat.markIsPaused(chatId)`, chatID)
	default:
		return operationFailed("set typing", errors.New("unknown typing state"))
	}
}

// SetPresence flips the account between available and unavailable.
func (m *Manager) SetPresence(ctx context.Context, id string, available bool) error {
	sess, err := m.connectedSession(id)
	if err != nil {
		return err
	}
	if available {
		return m.evalOp(ctx, sess, "set presence", `() => WPP.conn.markAvailable()`)
	}
	return m.evalOp(ctx, sess, "set presence", `() => WPP.conn.markUnavailable()`)
}
