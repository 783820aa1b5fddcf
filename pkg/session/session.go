package session

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/time/rate"
)

// Status is the lifecycle state of a WhatsApp instance.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusQR           Status = "qr"
	StatusConnected    Status = "connected"
)

// Settings are the per-instance behaviour toggles applied to a live session.
type Settings struct {
	AlwaysOnline    bool `json:"always_online"`
	IgnoreGroups    bool `json:"ignore_groups"`
	AutoRead        bool `json:"auto_read"`
	RejectCalls     bool `json:"reject_calls"`
	FullHistorySync bool `json:"full_history_sync"`
}

// SettingsPatch carries a partial settings update; nil fields keep their
// current value.
type SettingsPatch struct {
	AlwaysOnline    *bool `json:"always_online"`
	IgnoreGroups    *bool `json:"ignore_groups"`
	AutoRead        *bool `json:"auto_read"`
	RejectCalls     *bool `json:"reject_calls"`
	FullHistorySync *bool `json:"full_history_sync"`
}

// Apply merges the patch into s and reports whether anything changed.
func (p SettingsPatch) Apply(s *Settings) bool {
	changed := false
	if p.AlwaysOnline != nil && *p.AlwaysOnline != s.AlwaysOnline {
		s.AlwaysOnline = *p.AlwaysOnline
		changed = true
	}
	if p.IgnoreGroups != nil && *p.IgnoreGroups != s.IgnoreGroups {
		s.IgnoreGroups = *p.IgnoreGroups
		changed = true
	}
	if p.AutoRead != nil && *p.AutoRead != s.AutoRead {
		s.AutoRead = *p.AutoRead
		changed = true
	}
	if p.RejectCalls != nil && *p.RejectCalls != s.RejectCalls {
		s.RejectCalls = *p.RejectCalls
		changed = true
	}
	if p.FullHistorySync != nil && *p.FullHistorySync != s.FullHistorySync {
		s.FullHistorySync = *p.FullHistorySync
		changed = true
	}
	return changed
}

// PageContext is a single live browsing context hosting one WhatsApp Web
// session. The rod implementation lives in this package; tests substitute
// scripted fakes.
type PageContext interface {
	Navigate(ctx context.Context, url string) error
	Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error)

	// OnClose registers fn to run exactly once when the context dies for any
	// reason, including the shared browser process going away. Teardown on
	// this path is authoritative: whoever observes the close cleans up.
	OnClose(fn func())

	// PersistState snapshots cookies and local storage to disk so the
	// session survives a process restart without a new QR scan.
	PersistState() error

	CollectGarbage(ctx context.Context) error
	Close() error
}

// ContextFactory creates browsing contexts. The browser pool implements it;
// tests provide in-memory factories.
type ContextFactory interface {
	Create(ctx context.Context, instanceID string, proxy *ProxyConfig) (PageContext, error)
}

// Session tracks one instance's live state. All mutable fields are guarded
// by mu; the page handle itself is set once at creation and never replaced.
type Session struct {
	InstanceID string

	page    PageContext
	limiter *rate.Limiter

	mu        sync.Mutex
	status    Status
	qrRaw     string
	qrImage   string
	phone     string
	pushName  string
	settings  Settings
	closed    bool
	cancelAll context.CancelFunc
	presence  context.CancelFunc
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	// A closed session never changes state again; teardown set the final
	// status and late monitor ticks must not override it.
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = st
	if st == StatusConnected || st == StatusDisconnected {
		s.qrRaw = ""
		s.qrImage = ""
	}
	s.mu.Unlock()
}

// QR returns the latest rendered QR code as a base64 PNG, or empty when no
// code is pending.
func (s *Session) QR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qrImage
}

func (s *Session) setQR(raw, image string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = StatusQR
	s.qrRaw = raw
	s.qrImage = image
	s.mu.Unlock()
}

// Profile returns the phone number and push name captured at authentication.
func (s *Session) Profile() (phone, pushName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phone, s.pushName
}

func (s *Session) setProfile(phone, pushName string) {
	s.mu.Lock()
	s.phone = phone
	s.pushName = pushName
	s.mu.Unlock()
}

// Settings returns a copy of the session's current behaviour toggles.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Session) setSettings(set Settings) {
	s.mu.Lock()
	s.settings = set
	s.mu.Unlock()
}

// markClosed flips the session to closed and reports whether this call was
// the one that did it. Close-wins: only the first caller proceeds with
// teardown, everyone else backs off.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.status = StatusDisconnected
	s.qrRaw = ""
	s.qrImage = ""
	return true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// swapPresence replaces the presence keepalive cancel func, stopping any
// previous loop so at most one runs per session. A closed session refuses
// new loops: the incoming cancel fires immediately so the caller's goroutine
// exits instead of outliving the session.
func (s *Session) swapPresence(cancel context.CancelFunc) {
	s.mu.Lock()
	prev := s.presence
	closed := s.closed
	if closed {
		s.presence = nil
	} else {
		s.presence = cancel
	}
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
	if closed && cancel != nil {
		cancel()
	}
}
