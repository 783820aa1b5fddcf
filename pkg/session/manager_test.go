package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/events"
)

type fakeStore struct {
	mu        sync.Mutex
	instances map[string]*Instance
	statuses  map[string][]Status
	deleted   []string
}

func newFakeStore(instances ...*Instance) *fakeStore {
	s := &fakeStore{
		instances: make(map[string]*Instance),
		statuses:  make(map[string][]Status),
	}
	for _, inst := range instances {
		s.instances[inst.ID] = inst
	}
	return s
}

func (s *fakeStore) Instance(ctx context.Context, id string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	copied := *inst
	return &copied, nil
}

func (s *fakeStore) SetStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = append(s.statuses[id], status)
	if inst, ok := s.instances[id]; ok {
		inst.Status = status
	}
	return nil
}

func (s *fakeStore) SetProfile(ctx context.Context, id, phone, pushName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[id]; ok {
		inst.Phone = phone
		inst.PushName = pushName
	}
	return nil
}

func (s *fakeStore) SaveSettings(ctx context.Context, id string, settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[id]; ok {
		inst.Settings = settings
	}
	return nil
}

func (s *fakeStore) ConnectedIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, inst := range s.instances {
		switch inst.Status {
		case StatusConnected, StatusConnecting, StatusQR:
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) statusHistory(id string) []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.statuses[id]...)
}

type fakePage struct {
	mu       sync.Mutex
	evals    []string
	evalFn   func(js string, args ...interface{}) (json.RawMessage, error)
	closeFns []func()
	closed   bool
	persists int
}

func (p *fakePage) Navigate(ctx context.Context, url string) error { return nil }

func (p *fakePage) Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error) {
	p.mu.Lock()
	p.evals = append(p.evals, js)
	fn := p.evalFn
	p.mu.Unlock()
	if fn != nil {
		return fn(js, args...)
	}
	return json.RawMessage(`null`), nil
}

func (p *fakePage) OnClose(fn func()) {
	p.mu.Lock()
	p.closeFns = append(p.closeFns, fn)
	p.mu.Unlock()
}

func (p *fakePage) PersistState() error {
	p.mu.Lock()
	p.persists++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) CollectGarbage(ctx context.Context) error { return nil }

func (p *fakePage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	fns := append([]func(){}, p.closeFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

func (p *fakePage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) evalCount(js string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.evals {
		if strings.Contains(e, js) {
			n++
		}
	}
	return n
}

type fakeFactory struct {
	mu      sync.Mutex
	pages   map[string]*fakePage
	created []time.Time
	err     error

	// gate, when set, blocks Create until the channel is closed.
	gate chan struct{}
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{pages: make(map[string]*fakePage)}
}

func (f *fakeFactory) Create(ctx context.Context, instanceID string, proxy *ProxyConfig) (PageContext, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	page := &fakePage{}
	f.pages[instanceID] = page
	f.created = append(f.created, time.Now())
	return page, nil
}

func (f *fakeFactory) page(instanceID string) *fakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[instanceID]
}

type scriptedProbe struct {
	mu      sync.Mutex
	results []ProbeResult
	profile Profile

	// hold, when set, blocks every state check until the channel is closed;
	// entered gets a token each time a check starts waiting.
	hold    chan struct{}
	entered chan struct{}
}

func (p *scriptedProbe) Probe(ctx context.Context) (ProbeResult, error) {
	p.mu.Lock()
	hold := p.hold
	entered := p.entered
	p.mu.Unlock()
	if hold != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		<-hold
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return ProbeResult{}, nil
	}
	res := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return res, nil
}

func (p *scriptedProbe) Profile(ctx context.Context) (Profile, error) {
	return p.profile, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		WebURL:           "https://web.whatsapp.com",
		DataDir:          t.TempDir(),
		MaxInstances:     10,
		MonitorInterval:  5 * time.Millisecond,
		MonitorMaxTicks:  40,
		ReconnectStagger: 10 * time.Millisecond,
		PersistInterval:  time.Hour,
		PresenceInterval: 5 * time.Millisecond,
		MessagesPerMin:   6000,
		MessageBurst:     100,
		BridgePath:       filepath.Join(t.TempDir(), "missing.js"),
	}
}

func newTestManager(t *testing.T, store Store, factory ContextFactory, probe StateProbe) (*Manager, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	m := NewManager(testConfig(t), factory, store, bus)
	if probe != nil {
		m.newProbe = func(PageContext) StateProbe { return probe }
	}
	return m, bus
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess, ok := m.session(id)
		return ok && sess.Status() == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectIsIdempotent(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1", Name: "first"})
	m, _ := newTestManager(t, store, newFakeFactory(), &scriptedProbe{})

	first, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)
	second, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestConnectUnknownInstance(t *testing.T) {
	m, _ := newTestManager(t, newFakeStore(), newFakeFactory(), &scriptedProbe{})
	_, err := m.Connect(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestConnectEnforcesInstanceLimit(t *testing.T) {
	store := newFakeStore(
		&Instance{ID: "a"}, &Instance{ID: "b"}, &Instance{ID: "c"},
	)
	m, _ := newTestManager(t, store, newFakeFactory(), &scriptedProbe{})
	m.cfg.MaxInstances = 2

	_, err := m.Connect(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), "b")
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), "c")
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestInitializationFailureTearsDown(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	factory := newFakeFactory()
	factory.err = errors.New("browser refused")
	m, bus := newTestManager(t, store, factory, &scriptedProbe{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Subscribe(ctx, "inst-1")

	_, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	var sawDisconnected bool
	deadline := time.After(2 * time.Second)
	for !sawDisconnected {
		select {
		case evt := <-ch:
			if evt.Kind == events.KindDisconnected {
				sawDisconnected = true
			}
		case <-deadline:
			t.Fatal("no disconnected event published")
		}
	}
	assert.Contains(t, store.statusHistory("inst-1"), StatusDisconnected)
}

func TestMonitorPublishesQRThenConnects(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	factory := newFakeFactory()
	probe := &scriptedProbe{
		results: []ProbeResult{
			{QR: "ref-token-1"},
			{Authenticated: true},
		},
		profile: Profile{Phone: "628111", PushName: "Gateway"},
	}
	m, bus := newTestManager(t, store, factory, probe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.SubscribeBuffered(ctx, "inst-1", 64)

	_, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)

	waitForStatus(t, m, "inst-1", StatusConnected)

	sess, ok := m.session("inst-1")
	require.True(t, ok)
	phone, pushName := sess.Profile()
	assert.Equal(t, "628111", phone)
	assert.Equal(t, "Gateway", pushName)
	assert.Empty(t, sess.QR(), "qr must be cleared once connected")

	var kinds []events.Kind
	timeout := time.After(2 * time.Second)
	for len(kinds) < 4 {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
		case <-timeout:
			t.Fatalf("only saw %v", kinds)
		}
	}
	assert.Contains(t, kinds, events.KindQR)
	assert.Contains(t, kinds, events.KindAuthenticated)
	assert.Contains(t, kinds, events.KindReady)

	history := store.statusHistory("inst-1")
	assert.Contains(t, history, StatusQR)
	assert.Equal(t, StatusConnected, history[len(history)-1])
}

func TestMonitorTimeoutDisconnects(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	m, _ := newTestManager(t, store, newFakeFactory(), &scriptedProbe{})
	m.cfg.MonitorMaxTicks = 3

	_, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	history := store.statusHistory("inst-1")
	require.NotEmpty(t, history)
	assert.Equal(t, StatusDisconnected, history[len(history)-1])
}

func TestTeardownRunsOnce(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	factory := newFakeFactory()
	probe := &scriptedProbe{results: []ProbeResult{{Authenticated: true}}}
	m, bus := newTestManager(t, store, factory, probe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.SubscribeBuffered(ctx, "inst-1", 64)

	_, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)
	waitForStatus(t, m, "inst-1", StatusConnected)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Disconnect(context.Background(), "inst-1")
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return m.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Drain briefly; exactly one teardown means exactly one disconnected event.
	disconnected := 0
	drain := time.After(100 * time.Millisecond)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == events.KindDisconnected {
				disconnected++
			}
			continue
		case <-drain:
		}
		break
	}
	assert.Equal(t, 1, disconnected)
}

func TestPageCloseTriggersTeardown(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	factory := newFakeFactory()
	probe := &scriptedProbe{results: []ProbeResult{{Authenticated: true}}}
	m, _ := newTestManager(t, store, factory, probe)

	_, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)
	waitForStatus(t, m, "inst-1", StatusConnected)

	// The browser context dying must clean the session up without any API call.
	require.NoError(t, factory.page("inst-1").Close())

	require.Eventually(t, func() bool { return m.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	history := store.statusHistory("inst-1")
	assert.Equal(t, StatusDisconnected, history[len(history)-1])
}

func TestCloseWinsOverLateLoginResult(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1", Settings: Settings{AlwaysOnline: true}})
	factory := newFakeFactory()
	hold := make(chan struct{})
	probe := &scriptedProbe{
		results: []ProbeResult{{Authenticated: true}},
		profile: Profile{Phone: "628111", PushName: "Gateway"},
		hold:    hold,
		entered: make(chan struct{}, 1),
	}
	m, bus := newTestManager(t, store, factory, probe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.SubscribeBuffered(ctx, "inst-1", 64)

	sess, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)

	// Wait for a state check to be in flight, then tear down underneath it.
	select {
	case <-probe.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never checked login state")
	}
	require.NoError(t, m.Disconnect(context.Background(), "inst-1"))
	require.Eventually(t, func() bool { return m.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Release the stale result. It claims authenticated but the close wins.
	close(hold)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, StatusDisconnected, sess.Status())

	sess.mu.Lock()
	presence := sess.presence
	sess.mu.Unlock()
	assert.Nil(t, presence, "no keepalive loop may start after teardown")

	var sawDisconnected bool
	drain := time.After(100 * time.Millisecond)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == events.KindDisconnected {
				sawDisconnected = true
			} else if sawDisconnected && (evt.Kind == events.KindAuthenticated || evt.Kind == events.KindReady) {
				t.Fatalf("%s published after disconnected", evt.Kind)
			}
			continue
		case <-drain:
		}
		break
	}
	assert.True(t, sawDisconnected)

	history := store.statusHistory("inst-1")
	require.NotEmpty(t, history)
	assert.Equal(t, StatusDisconnected, history[len(history)-1])
}

func TestDisconnectDuringLaunchClosesFreshContext(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	factory := newFakeFactory()
	factory.gate = make(chan struct{})
	m, _ := newTestManager(t, store, factory, &scriptedProbe{})

	_, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)

	// Teardown runs while the browsing context is still being created; it has
	// no page to close yet.
	require.NoError(t, m.Disconnect(context.Background(), "inst-1"))
	require.Eventually(t, func() bool { return m.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	close(factory.gate)

	require.Eventually(t, func() bool {
		page := factory.page("inst-1")
		return page != nil && page.isClosed()
	}, 2*time.Second, 5*time.Millisecond, "the late-created context must be closed, not leaked")
}

func TestQRCodeRequiresPendingCode(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	probe := &scriptedProbe{results: []ProbeResult{{QR: "ref-token-1"}}}
	m, _ := newTestManager(t, store, newFakeFactory(), probe)

	// No live session yet.
	_, err := m.QRCode("inst-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)
	waitForStatus(t, m, "inst-1", StatusQR)

	qr, err := m.QRCode("inst-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))
}

func TestSessionFailureDoesNotAffectOthers(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"}, &Instance{ID: "inst-2"})
	factory := newFakeFactory()
	probe := &scriptedProbe{results: []ProbeResult{{Authenticated: true}}}
	m, _ := newTestManager(t, store, factory, probe)

	for _, id := range []string{"inst-1", "inst-2"} {
		_, err := m.Connect(context.Background(), id)
		require.NoError(t, err)
		waitForStatus(t, m, id, StatusConnected)
	}

	require.NoError(t, factory.page("inst-1").Close())
	require.Eventually(t, func() bool { return m.ActiveCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	sess, ok := m.session("inst-2")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, sess.Status())
}

func TestMessagingRequiresConnectedSession(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	m, _ := newTestManager(t, store, newFakeFactory(), &scriptedProbe{})

	_, err := m.SendText(context.Background(), "inst-1", "628111", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	// Still connecting, still rejected.
	_, err = m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)
	_, err = m.SendText(context.Background(), "inst-1", "628111", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendTextThroughBridge(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	factory := newFakeFactory()
	probe := &scriptedProbe{results: []ProbeResult{{Authenticated: true}}}
	m, _ := newTestManager(t, store, factory, probe)

	_, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)
	waitForStatus(t, m, "inst-1", StatusConnected)

	page := factory.page("inst-1")
	page.mu.Lock()
	page.evalFn = func(js string, args ...interface{}) (json.RawMessage, error) {
		if strings.Contains(js, "sendTextMessage") {
			require.Equal(t, "628111@c.us", args[0])
			return json.RawMessage(`{"id":"true_628111@c.us_AAA","chat_id":"628111@c.us"}`), nil
		}
		return json.RawMessage(`null`), nil
	}
	page.mu.Unlock()

	res, err := m.SendText(context.Background(), "inst-1", "+628111", "hello")
	require.NoError(t, err)
	assert.Equal(t, "true_628111@c.us_AAA", res.MessageID)
	assert.Equal(t, "628111@c.us", res.ChatID)
}

func TestReactMessageRejectsNonEmoji(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1"})
	factory := newFakeFactory()
	probe := &scriptedProbe{results: []ProbeResult{{Authenticated: true}}}
	m, _ := newTestManager(t, store, factory, probe)

	_, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)
	waitForStatus(t, m, "inst-1", StatusConnected)

	err = m.ReactMessage(context.Background(), "inst-1", "msg-1", "not an emoji")
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Zero(t, factory.page("inst-1").evalCount("sendReactionToMessage"))

	require.NoError(t, m.ReactMessage(context.Background(), "inst-1", "msg-1", "👍"))
	require.NoError(t, m.ReactMessage(context.Background(), "inst-1", "msg-1", "-"))
}

func TestLogoutRemovesStateSnapshot(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1", Phone: "628111"})
	factory := newFakeFactory()
	probe := &scriptedProbe{results: []ProbeResult{{Authenticated: true}}}
	m, _ := newTestManager(t, store, factory, probe)

	statePath := m.statePath("inst-1")
	require.NoError(t, os.MkdirAll(filepath.Dir(statePath), 0o755))
	require.NoError(t, os.WriteFile(statePath, []byte(`{}`), 0o600))

	_, err := m.Connect(context.Background(), "inst-1")
	require.NoError(t, err)
	waitForStatus(t, m, "inst-1", StatusConnected)

	require.NoError(t, m.Logout(context.Background(), "inst-1"))

	_, err = os.Stat(statePath)
	assert.True(t, os.IsNotExist(err), "state snapshot must be removed on logout")
	inst, err := store.Instance(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Empty(t, inst.Phone)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestUpdateSettingsMergesPatch(t *testing.T) {
	store := newFakeStore(&Instance{ID: "inst-1", Settings: Settings{AutoRead: true}})
	m, _ := newTestManager(t, store, newFakeFactory(), &scriptedProbe{})

	online := true
	settings, err := m.UpdateSettings(context.Background(), "inst-1", SettingsPatch{AlwaysOnline: &online})
	require.NoError(t, err)
	assert.True(t, settings.AlwaysOnline)
	assert.True(t, settings.AutoRead, "untouched fields keep their value")
}

func TestReconnectAllStaggersLaunches(t *testing.T) {
	store := newFakeStore(
		&Instance{ID: "a", Status: StatusConnected},
		&Instance{ID: "b", Status: StatusConnected},
		&Instance{ID: "c", Status: StatusConnected},
	)
	factory := newFakeFactory()
	m, _ := newTestManager(t, store, factory, &scriptedProbe{})

	m.ReconnectAll(context.Background())

	require.Eventually(t, func() bool {
		factory.mu.Lock()
		defer factory.mu.Unlock()
		return len(factory.created) == 3
	}, 2*time.Second, 5*time.Millisecond)

	factory.mu.Lock()
	defer factory.mu.Unlock()
	for i := 1; i < len(factory.created); i++ {
		gap := factory.created[i].Sub(factory.created[i-1])
		assert.GreaterOrEqual(t, gap, m.cfg.ReconnectStagger/2,
			"launches must be spaced out, not simultaneous")
	}
}

func TestStatusOfFallsBackToStore(t *testing.T) {
	store := newFakeStore(
		&Instance{ID: "stale", Status: StatusConnected},
		&Instance{ID: "idle", Status: StatusDisconnected},
	)
	m, _ := newTestManager(t, store, newFakeFactory(), &scriptedProbe{})

	// A record claiming connected without a live session is stale.
	status, err := m.StatusOf(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, status)

	status, err = m.StatusOf(context.Background(), "idle")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, status)

	_, err = m.StatusOf(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}
