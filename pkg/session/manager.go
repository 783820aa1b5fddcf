package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/env"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/events"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
)

// Config tunes the lifecycle manager. Zero values are not usable; build it
// with ConfigFromEnv or fill every field in tests.
type Config struct {
	WebURL           string
	DataDir          string
	MaxInstances     int
	MonitorInterval  time.Duration
	MonitorMaxTicks  int
	ReconnectStagger time.Duration
	PersistInterval  time.Duration
	PresenceInterval time.Duration
	MessagesPerMin   int
	MessageBurst     int
	BridgePath       string
}

func ConfigFromEnv() Config {
	return Config{
		WebURL:           env.GetEnvStringOrDefault("WA_WEB_URL", "https://web.whatsapp.com"),
		DataDir:          env.GetEnvStringOrDefault("WA_SESSION_DATA_DIR", "data/sessions"),
		MaxInstances:     env.GetEnvIntOrDefault("WA_MAX_INSTANCES", 10),
		MonitorInterval:  env.GetEnvDurationOrDefault("WA_MONITOR_INTERVAL", 1*time.Second),
		MonitorMaxTicks:  env.GetEnvIntOrDefault("WA_MONITOR_MAX_TICKS", 120),
		ReconnectStagger: env.GetEnvDurationOrDefault("WA_RECONNECT_STAGGER", 1500*time.Millisecond),
		PersistInterval:  env.GetEnvDurationOrDefault("WA_STATE_PERSIST_INTERVAL", 1*time.Minute),
		PresenceInterval: env.GetEnvDurationOrDefault("WA_PRESENCE_INTERVAL", 30*time.Second),
		MessagesPerMin:   env.GetEnvIntOrDefault("WA_MESSAGES_PER_MINUTE", 20),
		MessageBurst:     env.GetEnvIntOrDefault("WA_MESSAGE_BURST", 3),
		BridgePath:       env.GetEnvStringOrDefault("WA_BRIDGE_SCRIPT_PATH", "assets/wa-js.bundle.js"),
	}
}

// Store is the manager's view of instance persistence.
type Store interface {
	Instance(ctx context.Context, id string) (*Instance, error)
	SetStatus(ctx context.Context, id string, status Status) error
	SetProfile(ctx context.Context, id, phone, pushName string) error
	SaveSettings(ctx context.Context, id string, settings Settings) error
	ConnectedIDs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// SessionInfo is a read-only snapshot of one live session for stats output.
type SessionInfo struct {
	InstanceID string `json:"instance_id"`
	Status     Status `json:"status"`
	Phone      string `json:"phone,omitempty"`
	PushName   string `json:"push_name,omitempty"`
}

// Manager owns every live session: creation, login monitoring, settings,
// teardown. All paths that end a session funnel through teardown, and the
// first one to get there wins.
type Manager struct {
	cfg     Config
	factory ContextFactory
	store   Store
	bus     *events.Bus
	bridge  *injector

	// newProbe is swappable so tests can script login state.
	newProbe func(PageContext) StateProbe

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg Config, factory ContextFactory, store Store, bus *events.Bus) *Manager {
	return &Manager{
		cfg:      cfg,
		factory:  factory,
		store:    store,
		bus:      bus,
		bridge:   newInjector(cfg.BridgePath),
		newProbe: func(p PageContext) StateProbe { return bridgeProbe{page: p} },
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) session(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Connect starts a session for the instance. Calling it again while a
// session is live returns that session unchanged. The browser work happens
// asynchronously; callers observe progress through Status and the event bus.
func (m *Manager) Connect(ctx context.Context, id string) (*Session, error) {
	inst, err := m.store.Instance(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	if m.cfg.MaxInstances > 0 && len(m.sessions) >= m.cfg.MaxInstances {
		m.mu.Unlock()
		return nil, ErrLimitExceeded
	}

	perSec := rate.Limit(float64(m.cfg.MessagesPerMin) / 60.0)
	sess := &Session{
		InstanceID: id,
		status:     StatusConnecting,
		settings:   inst.Settings,
		limiter:    rate.NewLimiter(perSec, m.cfg.MessageBurst),
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	if err := m.store.SetStatus(ctx, id, StatusConnecting); err != nil {
		log.Session(id).Warnf("persist status failed: %v", err)
	}
	m.bus.Publish(events.New(events.KindStatusChange, id, map[string]interface{}{
		"status": string(StatusConnecting),
	}))

	go m.initialize(sess, inst.Proxy)
	return sess, nil
}

// initialize runs the browser side of Connect off the request path. Any
// failure here tears the session down; the instance ends up disconnected
// instead of wedged in connecting.
func (m *Manager) initialize(sess *Session, proxy *ProxyConfig) {
	initCtx, cancel := context.WithCancel(context.Background())
	sess.mu.Lock()
	sess.cancelAll = cancel
	sess.mu.Unlock()

	page, err := m.factory.Create(initCtx, sess.InstanceID, proxy)
	if err != nil {
		log.Session(sess.InstanceID).Errorf("session initialization failed: %v", err)
		m.teardown(sess, "initialization failed")
		return
	}

	// Teardown may have run while the context was being created. It saw no
	// page to close, so the fresh context is closed here instead.
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		_ = page.Close()
		return
	}
	sess.page = page
	sess.mu.Unlock()

	page.OnClose(func() {
		m.teardown(sess, "browser context closed")
	})

	navCtx, navCancel := context.WithTimeout(initCtx, 60*time.Second)
	err = page.Navigate(navCtx, m.cfg.WebURL)
	navCancel()
	if err != nil {
		log.Session(sess.InstanceID).Errorf("open whatsapp web failed: %v", err)
		m.teardown(sess, "initialization failed")
		return
	}

	if err := m.bridge.Inject(initCtx, page); err != nil {
		// QR pairing still works off the DOM; messaging will surface errors.
		log.Session(sess.InstanceID).Warnf("bridge injection failed: %v", err)
	}

	go m.runMonitor(initCtx, sess, m.newProbe(page))
	go m.persistLoop(initCtx, sess)
}

// persistLoop snapshots browser state periodically so a crash costs at most
// one interval of session freshness.
func (m *Manager) persistLoop(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(m.cfg.PersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sess.Status() != StatusConnected {
				continue
			}
			if err := sess.page.PersistState(); err != nil {
				log.Session(sess.InstanceID).Warnf("periodic state persist failed: %v", err)
			}
		}
	}
}

// teardown is the single close path. The first caller flips the session to
// closed and does the work; later callers, including the page's own close
// watcher, find it already closed and return.
func (m *Manager) teardown(sess *Session, reason string) {
	if !sess.markClosed() {
		return
	}

	sess.mu.Lock()
	cancel := sess.cancelAll
	presence := sess.presence
	page := sess.page
	sess.mu.Unlock()
	if presence != nil {
		presence()
	}
	if cancel != nil {
		cancel()
	}

	m.mu.Lock()
	if m.sessions[sess.InstanceID] == sess {
		delete(m.sessions, sess.InstanceID)
	}
	m.mu.Unlock()

	if page != nil {
		_ = page.Close()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()
	if err := m.store.SetStatus(ctx, sess.InstanceID, StatusDisconnected); err != nil {
		log.Session(sess.InstanceID).Warnf("persist status failed: %v", err)
	}

	m.bus.Publish(events.New(events.KindDisconnected, sess.InstanceID, map[string]interface{}{
		"reason": reason,
	}))
	log.Session(sess.InstanceID).Infof("session closed: %s", reason)
}

// Disconnect ends the live session but keeps the persisted browser state, so
// the next Connect resumes without a QR scan. No live session is a no-op.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	sess, ok := m.session(id)
	if !ok {
		return nil
	}
	if sess.Status() == StatusConnected && sess.page != nil {
		if err := sess.page.PersistState(); err != nil {
			log.Session(id).Warnf("final state persist failed: %v", err)
		}
	}
	m.teardown(sess, "disconnect requested")
	return nil
}

// Logout signs the account out remotely, ends the session, and deletes the
// stored browser state. The next Connect starts from a fresh QR code.
func (m *Manager) Logout(ctx context.Context, id string) error {
	if sess, ok := m.session(id); ok {
		if sess.Status() == StatusConnected && sess.page != nil {
			evalCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, err := sess.page.Eval(evalCtx, `() => WPP.conn.logout()`)
			cancel()
			if err != nil {
				log.Session(id).Warnf("remote logout failed: %v", err)
			}
		}
		m.teardown(sess, "logout requested")
	}

	if err := os.Remove(m.statePath(id)); err != nil && !os.IsNotExist(err) {
		log.Session(id).Warnf("remove state snapshot failed: %v", err)
	}
	if err := m.store.SetProfile(ctx, id, "", ""); err != nil {
		log.Session(id).Warnf("clear profile failed: %v", err)
	}
	return nil
}

// DeleteInstance logs the instance out and removes its stored record.
func (m *Manager) DeleteInstance(ctx context.Context, id string) error {
	if err := m.Logout(ctx, id); err != nil {
		return err
	}
	return m.store.Delete(ctx, id)
}

func (m *Manager) statePath(id string) string {
	return filepath.Join(m.cfg.DataDir, id+".json")
}

// StatusOf reports the live session status, falling back to the persisted
// record when nothing is running.
func (m *Manager) StatusOf(ctx context.Context, id string) (Status, error) {
	if sess, ok := m.session(id); ok {
		return sess.Status(), nil
	}
	inst, err := m.store.Instance(ctx, id)
	if err != nil {
		return "", err
	}
	// A record can say connected after a crash; no live session means it is not.
	if inst.Status == StatusConnected || inst.Status == StatusConnecting || inst.Status == StatusQR {
		return StatusDisconnected, nil
	}
	return inst.Status, nil
}

// QRCode returns the pending pairing code as a base64 PNG data URI, or
// ErrNotFound when no session is live or no code is waiting.
func (m *Manager) QRCode(id string) (string, error) {
	if sess, ok := m.session(id); ok {
		if qr := sess.QR(); qr != "" {
			return qr, nil
		}
	}
	return "", ErrNotFound
}

// UpdateSettings merges the patch, persists the result, and applies it to
// the live session if one is connected.
func (m *Manager) UpdateSettings(ctx context.Context, id string, patch SettingsPatch) (Settings, error) {
	inst, err := m.store.Instance(ctx, id)
	if err != nil {
		return Settings{}, err
	}

	settings := inst.Settings
	patch.Apply(&settings)
	if err := m.store.SaveSettings(ctx, id, settings); err != nil {
		return Settings{}, err
	}

	if sess, ok := m.session(id); ok {
		sess.setSettings(settings)
		if sess.Status() == StatusConnected {
			m.applySettings(ctx, sess, settings)
		}
	}
	return settings, nil
}

// applySettings pushes behaviour toggles into a connected session.
func (m *Manager) applySettings(ctx context.Context, sess *Session, settings Settings) {
	if settings.AlwaysOnline {
		m.startPresenceKeepalive(sess)
	} else {
		sess.swapPresence(nil)
	}

	if settings.FullHistorySync {
		evalCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := sess.page.Eval(evalCtx, `() => {
			try {
				WPP.conn.setKeepAlive(true);
				return true;
			} catch (e) {
				return false;
			}
		}`)
		cancel()
		if err != nil {
			log.Session(sess.InstanceID).Warnf("apply history sync failed: %v", err)
		}
	}
}

// startPresenceKeepalive runs exactly one availability loop per session.
// Restarting replaces the previous loop instead of stacking a second one.
func (m *Manager) startPresenceKeepalive(sess *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	sess.swapPresence(cancel)

	go func() {
		ticker := time.NewTicker(m.cfg.PresenceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evalCtx, evalCancel := context.WithTimeout(ctx, 10*time.Second)
				_, err := sess.page.Eval(evalCtx, `() => WPP.conn.markAvailable()`)
				evalCancel()
				if err != nil {
					log.Session(sess.InstanceID).Warnf("presence keepalive failed: %v", err)
				}
			}
		}
	}()
}

// ReconnectAll relaunches every instance that was connected before the last
// shutdown, spacing launches out so the browser is not hit with a stampede.
func (m *Manager) ReconnectAll(ctx context.Context) {
	ids, err := m.store.ConnectedIDs(ctx)
	if err != nil {
		log.Session("").Errorf("load reconnect set failed: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	log.Session("").Infof("reconnecting %d instance(s)", len(ids))
	for i, id := range ids {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.ReconnectStagger):
			}
		}
		if _, err := m.Connect(ctx, id); err != nil {
			log.Session(id).Errorf("reconnect failed: %v", err)
		}
	}
}

// Shutdown disconnects every live session, persisting state first.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		if sess.Status() == StatusConnected && sess.page != nil {
			_ = sess.page.PersistState()
		}
		m.teardown(sess, "service shutdown")
	}
}

// MaxInstances reports the configured concurrent instance cap.
func (m *Manager) MaxInstances() int {
	return m.cfg.MaxInstances
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions snapshots every live session for stats output.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		phone, pushName := s.Profile()
		out = append(out, SessionInfo{
			InstanceID: s.InstanceID,
			Status:     s.Status(),
			Phone:      phone,
			PushName:   pushName,
		})
	}
	return out
}

// CollectGarbage asks every live page to release heap and cache. Wired to a
// scheduled routine; failures are logged and skipped.
func (m *Manager) CollectGarbage(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		if sess.page == nil {
			continue
		}
		if err := sess.page.CollectGarbage(ctx); err != nil {
			log.Session(sess.InstanceID).Warnf("gc hint failed: %v", err)
		}
	}
}

// HealthCheck probes every live page with a trivial eval and tears down the
// ones that no longer answer.
func (m *Manager) HealthCheck(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		if sess.page == nil || sess.isClosed() {
			continue
		}
		evalCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := sess.page.Eval(evalCtx, `() => true`)
		cancel()
		if err != nil {
			log.Session(sess.InstanceID).Warnf("health check failed, closing: %v", err)
			m.teardown(sess, "health check failed")
		}
	}
}
