package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"golang.org/x/sync/singleflight"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/env"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
)

// PoolConfig controls the shared browser process behind all sessions.
type PoolConfig struct {
	BinPath        string
	Headless       bool
	DataDir        string
	ViewportWidth  int
	ViewportHeight int
	BridgePath     string
}

// PoolConfigFromEnv reads the browser settings the same way the rest of the
// service reads its environment.
func PoolConfigFromEnv() PoolConfig {
	return PoolConfig{
		BinPath:        env.GetEnvStringOrDefault("WA_BROWSER_PATH", ""),
		Headless:       env.GetEnvBoolOrDefault("WA_BROWSER_HEADLESS", true),
		DataDir:        env.GetEnvStringOrDefault("WA_SESSION_DATA_DIR", "data/sessions"),
		ViewportWidth:  env.GetEnvIntOrDefault("WA_BROWSER_VIEWPORT_WIDTH", 800),
		ViewportHeight: env.GetEnvIntOrDefault("WA_BROWSER_VIEWPORT_HEIGHT", 600),
		BridgePath:     env.GetEnvStringOrDefault("WA_BRIDGE_SCRIPT_PATH", "assets/wa-js.bundle.js"),
	}
}

// leanFlags trims the browser down for long-lived headless automation.
// Rendering is still needed for the QR canvas, so the GPU stays software.
var leanFlags = []struct {
	name  flags.Flag
	value string
}{
	{"disable-gpu", ""},
	{"disable-dev-shm-usage", ""},
	{"disable-extensions", ""},
	{"disable-background-networking", ""},
	{"disable-default-apps", ""},
	{"disable-sync", ""},
	{"disable-translate", ""},
	{"mute-audio", ""},
	{"no-first-run", ""},
	{"disk-cache-size", "1"},
	{"media-cache-size", "1"},
}

// Pool owns the single shared browser process and hands out isolated
// browsing contexts, one per instance. The process is launched lazily on
// first use and re-created lazily after it dies.
type Pool struct {
	cfg PoolConfig

	mu      sync.Mutex
	browser *rod.Browser

	launch singleflight.Group
}

func NewPool(cfg PoolConfig) *Pool {
	return &Pool{cfg: cfg}
}

// handle returns a live browser, launching one if needed. Concurrent callers
// racing for a dead browser collapse into a single launch.
func (p *Pool) handle() (*rod.Browser, error) {
	p.mu.Lock()
	b := p.browser
	p.mu.Unlock()
	if b != nil {
		if _, err := b.Version(); err == nil {
			return b, nil
		}
		log.Session("").Warn("browser process is gone, relaunching")
	}

	v, err, _ := p.launch.Do("launch", func() (interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.browser != nil {
			if _, err := p.browser.Version(); err == nil {
				return p.browser, nil
			}
			_ = p.browser.Close()
			p.browser = nil
		}

		l := launcher.New().Headless(p.cfg.Headless)
		if p.cfg.BinPath != "" {
			l = l.Bin(p.cfg.BinPath)
		}
		for _, f := range leanFlags {
			if f.value != "" {
				l = l.Set(f.name, f.value)
			} else {
				l = l.Set(f.name)
			}
		}

		controlURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}

		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			return nil, fmt.Errorf("connect browser: %w", err)
		}

		p.browser = browser
		log.Session("").Info("browser process launched")
		return browser, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rod.Browser), nil
}

// Create opens an isolated browsing context for one instance, optionally
// routed through the instance's proxy. Implements ContextFactory.
func (p *Pool) Create(ctx context.Context, instanceID string, proxy *ProxyConfig) (PageContext, error) {
	browser, err := p.handle()
	if err != nil {
		return nil, err
	}
	return newRodContext(ctx, browser, p.cfg, instanceID, proxy)
}

// Shutdown closes the shared browser process. Live contexts observe the
// death through their close watchers and tear themselves down.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		_ = p.browser.Close()
		p.browser = nil
	}
}
