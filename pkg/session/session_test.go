package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettingsPatchApply(t *testing.T) {
	on := true
	off := false

	settings := Settings{AutoRead: true}
	changed := SettingsPatch{AlwaysOnline: &on, AutoRead: &off}.Apply(&settings)
	assert.True(t, changed)
	assert.True(t, settings.AlwaysOnline)
	assert.False(t, settings.AutoRead)

	// Same values again changes nothing.
	changed = SettingsPatch{AlwaysOnline: &on}.Apply(&settings)
	assert.False(t, changed)

	// Empty patch changes nothing.
	changed = SettingsPatch{}.Apply(&settings)
	assert.False(t, changed)
}

func TestMarkClosedWinsOnce(t *testing.T) {
	sess := &Session{InstanceID: "x", status: StatusConnected}
	assert.True(t, sess.markClosed())
	assert.False(t, sess.markClosed())
	assert.Equal(t, StatusDisconnected, sess.Status())
}

func TestStatusTransitionsClearQR(t *testing.T) {
	sess := &Session{InstanceID: "x"}
	sess.setQR("raw", "data:image/png;base64,AAAA")
	assert.Equal(t, StatusQR, sess.Status())
	assert.NotEmpty(t, sess.QR())

	sess.setStatus(StatusConnected)
	assert.Empty(t, sess.QR())

	sess.setQR("raw2", "img2")
	sess.setStatus(StatusDisconnected)
	assert.Empty(t, sess.QR())
}

func TestClosedSessionIgnoresStateChanges(t *testing.T) {
	sess := &Session{InstanceID: "x", status: StatusConnected}
	assert.True(t, sess.markClosed())

	sess.setStatus(StatusConnected)
	assert.Equal(t, StatusDisconnected, sess.Status())

	sess.setQR("raw", "img")
	assert.Equal(t, StatusDisconnected, sess.Status())
	assert.Empty(t, sess.QR())

	// A presence loop handed to a closed session is cancelled on the spot.
	ctx, cancel := context.WithCancel(context.Background())
	sess.swapPresence(cancel)
	select {
	case <-ctx.Done():
	default:
		t.Fatal("closed session must cancel an incoming presence loop")
	}
}

func TestSwapPresenceCancelsPrevious(t *testing.T) {
	sess := &Session{InstanceID: "x"}

	first, firstCancel := context.WithCancel(context.Background())
	_ = firstCancel
	sess.swapPresence(firstCancel)

	_, secondCancel := context.WithCancel(context.Background())
	sess.swapPresence(secondCancel)

	select {
	case <-first.Done():
	default:
		t.Fatal("previous presence loop must be cancelled when a new one starts")
	}

	// Clearing cancels the current loop too.
	sess.swapPresence(nil)
}
