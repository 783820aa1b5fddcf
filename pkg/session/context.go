package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
)

// stateSnapshot is the on-disk form of one instance's browser state. A
// restored snapshot lets the session resume without a new QR scan.
type stateSnapshot struct {
	Cookies      []*proto.NetworkCookie `json:"cookies"`
	LocalStorage map[string]string      `json:"local_storage"`
	SavedAt      time.Time              `json:"saved_at"`
}

// rodContext is the production PageContext backed by an isolated browser
// context inside the shared process.
type rodContext struct {
	instanceID string
	browser    *rod.Browser
	contextID  proto.BrowserBrowserContextID
	page       *rod.Page
	statePath  string

	closeOnce sync.Once
	mu        sync.Mutex
	closeFns  []func()

	stopWatch context.CancelFunc
}

func newRodContext(ctx context.Context, browser *rod.Browser, cfg PoolConfig, instanceID string, proxy *ProxyConfig) (*rodContext, error) {
	create := proto.TargetCreateBrowserContext{}
	if url := proxy.ServerURL(); url != "" {
		create.ProxyServer = url
	}
	bc, err := create.Call(browser)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	target, err := proto.TargetCreateTarget{
		URL:              "about:blank",
		BrowserContextID: bc.BrowserContextID,
	}.Call(browser)
	if err != nil {
		_ = proto.TargetDisposeBrowserContext{BrowserContextID: bc.BrowserContextID}.Call(browser)
		return nil, fmt.Errorf("create target: %w", err)
	}

	page, err := browser.PageFromTarget(target.TargetID)
	if err != nil {
		_ = proto.TargetDisposeBrowserContext{BrowserContextID: bc.BrowserContextID}.Call(browser)
		return nil, fmt.Errorf("attach target: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Session(instanceID).Warnf("set viewport failed: %v", err)
	}

	c := &rodContext{
		instanceID: instanceID,
		browser:    browser,
		contextID:  bc.BrowserContextID,
		page:       page,
		statePath:  filepath.Join(cfg.DataDir, instanceID+".json"),
	}

	if proxy.HasAuth() {
		go c.answerProxyAuth(proxy.Username, proxy.Password)
	}

	if err := c.installBlocker(); err != nil {
		log.Session(instanceID).Warnf("resource blocker not installed: %v", err)
	}

	c.restoreState()
	c.watchClose(ctx)
	return c, nil
}

// answerProxyAuth answers DevTools auth challenges with the instance's proxy
// credentials for as long as the context lives.
func (c *rodContext) answerProxyAuth(username, password string) {
	for {
		wait := c.browser.HandleAuth(username, password)
		if err := wait(); err != nil {
			return
		}
	}
}

// watchClose fires the registered close handlers once, whether the target is
// destroyed, the whole browser process dies, or Close is called locally.
func (c *rodContext) watchClose(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.stopWatch = cancel
	go func() {
		wait := c.browser.Context(ctx).EachEvent(func(e *proto.TargetTargetDestroyed) bool {
			return e.TargetID == c.page.TargetID
		})
		wait()
		c.fireClose()
	}()
}

func (c *rodContext) fireClose() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		fns := c.closeFns
		c.closeFns = nil
		c.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
}

func (c *rodContext) OnClose(fn func()) {
	c.mu.Lock()
	c.closeFns = append(c.closeFns, fn)
	c.mu.Unlock()
}

func (c *rodContext) Navigate(ctx context.Context, url string) error {
	return c.page.Context(ctx).Navigate(url)
}

// Eval runs js as a function in the page, awaiting any returned promise, and
// hands back the raw JSON value.
func (c *rodContext) Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error) {
	res, err := c.page.Context(ctx).Evaluate(rod.Eval(js, args...).ByPromise())
	if err != nil {
		return nil, err
	}
	if res == nil || res.Value.Nil() {
		return json.RawMessage("null"), nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// PersistState snapshots cookies and local storage to the instance's state
// file. Failures are surfaced so the caller can log them; the session keeps
// running either way.
func (c *rodContext) PersistState() error {
	cookies, err := proto.NetworkGetCookies{}.Call(c.page)
	if err != nil {
		return fmt.Errorf("get cookies: %w", err)
	}

	local := map[string]string{}
	res, err := c.page.Evaluate(rod.Eval(`() => {
		try {
			const out = {};
			for (const key of Object.keys(localStorage)) {
				out[key] = localStorage.getItem(key);
			}
			return out;
		} catch (e) {
			return {};
		}
	}`))
	if err == nil && res != nil && !res.Value.Nil() {
		if raw, err := res.Value.MarshalJSON(); err == nil {
			_ = json.Unmarshal(raw, &local)
		}
	}

	snap := stateSnapshot{
		Cookies:      cookies.Cookies,
		LocalStorage: local,
		SavedAt:      time.Now(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.statePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.statePath, data, 0o600)
}

// restoreState loads a prior snapshot, if any, into the fresh context. Runs
// before the first navigation so WhatsApp Web sees the stored identity.
func (c *rodContext) restoreState() {
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		return
	}
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Session(c.instanceID).Warnf("corrupt state snapshot, starting fresh: %v", err)
		return
	}

	params := make([]*proto.NetworkCookieParam, 0, len(snap.Cookies))
	for _, ck := range snap.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: ck.SameSite,
			Priority: ck.Priority,
		})
	}
	if len(params) > 0 {
		if err := c.page.SetCookies(params); err != nil {
			log.Session(c.instanceID).Warnf("restore cookies failed: %v", err)
		}
	}

	// localStorage is origin-scoped and the page still sits on about:blank
	// here, so the values are seeded through an on-new-document script that
	// runs once the page reaches the WhatsApp origin.
	if len(snap.LocalStorage) > 0 {
		script := localStorageSeedScript(snap.LocalStorage)
		if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{Source: script}).Call(c.page); err != nil {
			log.Session(c.instanceID).Warnf("restore local storage failed: %v", err)
		}
	}

	log.Session(c.instanceID).Info("restored session state from snapshot")
}

// localStorageSeedScript builds a script that writes the snapshot's
// localStorage entries on the WhatsApp origin only, without clobbering keys
// the page has already written.
func localStorageSeedScript(items map[string]string) string {
	stored, _ := json.Marshal(items)
	return fmt.Sprintf(`(() => {
	if (!location.hostname.endsWith('whatsapp.com')) return;
	try {
		const items = %s;
		for (const [key, value] of Object.entries(items)) {
			if (localStorage.getItem(key) === null) {
				localStorage.setItem(key, value);
			}
		}
	} catch (e) {}
})();`, stored)
}

// CollectGarbage asks the page to release heap and cached network data.
// WhatsApp Web leaks steadily in long-lived tabs without this.
func (c *rodContext) CollectGarbage(ctx context.Context) error {
	page := c.page.Context(ctx)
	if err := (proto.HeapProfilerCollectGarbage{}).Call(page); err != nil {
		return err
	}
	return proto.NetworkClearBrowserCache{}.Call(page)
}

func (c *rodContext) Close() error {
	if c.stopWatch != nil {
		c.stopWatch()
	}
	err := c.page.Close()
	if derr := (proto.TargetDisposeBrowserContext{BrowserContextID: c.contextID}).Call(c.browser); derr != nil && err == nil {
		err = derr
	}
	c.fireClose()
	return err
}
