package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/events"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
)

// jsInstallHook registers bridge listeners that buffer events in the page.
// The page cannot call back into the service, so events queue in a window
// array and the pump drains it. Installation is idempotent.
const jsInstallHook = `() => {
	if (window.__wgHooked) return true;
	if (!window.WPP) return false;
	window.__wgHooked = true;
	window.__wgEvents = [];
	const push = (kind, data) => {
		try {
			window.__wgEvents.push({ kind: kind, data: data, ts: Date.now() });
			if (window.__wgEvents.length > 500) window.__wgEvents.shift();
		} catch (e) {}
	};
	const chatInfo = (msg) => ({
		id: msg && msg.id ? String(msg.id._serialized || msg.id) : '',
		chat_id: msg && msg.from ? String(msg.from._serialized || msg.from) : '',
		body: msg && msg.body ? String(msg.body) : '',
		type: msg && msg.type ? String(msg.type) : '',
		from_me: !!(msg && msg.id && msg.id.fromMe),
		is_group: !!(msg && msg.from && String(msg.from._serialized || msg.from).endsWith('@g.us')),
	});
	WPP.on('chat.new_message', (msg) => {
		const info = chatInfo(msg);
		push(info.from_me ? 'message_create' : 'message', info);
	});
	WPP.on('chat.msg_ack_change', (ev) => push('message_ack', {
		ids: (ev.ids || []).map((id) => String(id._serialized || id)),
		ack: ev.ack,
	}));
	WPP.on('chat.msg_revoke', (ev) => push('message_revoke_everyone', {
		id: ev && ev.id ? String(ev.id._serialized || ev.id) : '',
		chat_id: ev && ev.from ? String(ev.from._serialized || ev.from) : '',
	}));
	WPP.on('group.participant_changed', (ev) => {
		const data = {
			group_id: ev && ev.groupId ? String(ev.groupId._serialized || ev.groupId) : '',
			participant: ev && ev.participantId ? String(ev.participantId._serialized || ev.participantId) : '',
			action: ev && ev.action ? String(ev.action) : '',
		};
		if (data.action === 'add') push('group_join', data);
		else if (data.action === 'remove' || data.action === 'leave') push('group_leave', data);
		else push('group_update', data);
	});
	WPP.on('call.incoming_call', (call) => push('call', {
		id: call && call.id ? String(call.id) : '',
		from: call && call.peerJid ? String(call.peerJid._serialized || call.peerJid) : '',
		is_video: !!(call && call.isVideo),
	}));
	return true;
}`

const jsDrainEvents = `() => {
	const buf = Array.isArray(window.__wgEvents) ? window.__wgEvents : [];
	window.__wgEvents = [];
	return buf;
}`

// pumpedEvent is one buffered bridge event as drained from the page.
type pumpedEvent struct {
	Kind string                 `json:"kind"`
	Data map[string]interface{} `json:"data"`
	TS   int64                  `json:"ts"`
}

// startPump installs the bridge hook and drains buffered events once per
// second until the session ends.
func (m *Manager) startPump(ctx context.Context, sess *Session) {
	hookCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	raw, err := sess.page.Eval(hookCtx, jsInstallHook)
	cancel()
	if err != nil {
		log.Session(sess.InstanceID).Warnf("install event hook failed: %v", err)
		return
	}
	var hooked bool
	if json.Unmarshal(raw, &hooked) != nil || !hooked {
		log.Session(sess.InstanceID).Warn("event hook not installed, bridge unavailable")
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.drainEvents(ctx, sess)
			}
		}
	}()
}

func (m *Manager) drainEvents(ctx context.Context, sess *Session) {
	evalCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	raw, err := sess.page.Eval(evalCtx, jsDrainEvents)
	cancel()
	if err != nil {
		return
	}

	var buffered []pumpedEvent
	if err := json.Unmarshal(raw, &buffered); err != nil || len(buffered) == 0 {
		return
	}

	settings := sess.Settings()
	for _, ev := range buffered {
		kind := events.Kind(ev.Kind)

		if settings.IgnoreGroups && isGroupEvent(kind, ev.Data) {
			continue
		}

		switch kind {
		case events.KindMessage:
			if settings.AutoRead {
				if chatID, _ := ev.Data["chat_id"].(string); chatID != "" {
					m.autoRead(ctx, sess, chatID)
				}
			}
		case events.KindCall:
			if settings.RejectCalls {
				if callID, _ := ev.Data["id"].(string); callID != "" {
					m.rejectCall(ctx, sess, callID)
				}
			}
		}

		m.bus.Publish(events.New(kind, sess.InstanceID, ev.Data))
	}
}

func isGroupEvent(kind events.Kind, data map[string]interface{}) bool {
	switch kind {
	case events.KindGroupJoin, events.KindGroupLeave, events.KindGroupUpdate:
		return true
	}
	isGroup, _ := data["is_group"].(bool)
	return isGroup
}

func (m *Manager) autoRead(ctx context.Context, sess *Session, chatID string) {
	evalCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := sess.page.Eval(evalCtx, `(chatId) => WPP.chat.markIsRead(chatId)`, chatID); err != nil {
		log.Session(sess.InstanceID).Warnf("auto-read failed: %v", err)
	}
}

func (m *Manager) rejectCall(ctx context.Context, sess *Session, callID string) {
	evalCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := sess.page.Eval(evalCtx, `(callId) => WPP.call.rejectCall(callId)`, callID); err != nil {
		log.Session(sess.InstanceID).Warnf("reject call failed: %v", err)
	}
}
