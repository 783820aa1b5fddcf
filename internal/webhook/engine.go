package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/env"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/events"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
)

// Target is one instance's webhook configuration.
type Target struct {
	URL    string
	Secret string
	Events []string
}

// ConfigSource resolves the webhook target for an instance. The instance
// store implements it; tests use a map.
type ConfigSource interface {
	WebhookTarget(ctx context.Context, instanceID string) (*Target, error)
}

type deliveryTask struct {
	target Target
	event  events.Event
}

// Engine fans instance events out to their webhook targets through a fixed
// worker pool. A full queue drops deliveries rather than backing up the
// event bus.
type Engine struct {
	source     ConfigSource
	logStore   *Store
	httpClient *http.Client
	queue      chan *deliveryTask
	workers    int
	retryLimit int
	enabled    bool

	cacheMu  sync.RWMutex
	cache    map[string]cachedTarget
	cacheTTL time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type cachedTarget struct {
	target    *Target
	expiresAt time.Time
}

func NewEngine(source ConfigSource, logStore *Store) *Engine {
	workers := env.GetEnvIntOrDefault("WEBHOOK_WORKERS", 4)
	retryLimit := env.GetEnvIntOrDefault("WEBHOOK_RETRY_LIMIT", 3)
	enabled := env.GetEnvBoolOrDefault("WEBHOOKS_ENABLED", true)

	ctx, cancel := context.WithCancel(context.Background())
	engine := &Engine{
		source:     source,
		logStore:   logStore,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan *deliveryTask, 1000),
		workers:    workers,
		retryLimit: retryLimit,
		enabled:    enabled,
		cache:      make(map[string]cachedTarget),
		cacheTTL:   time.Minute,
		ctx:        ctx,
		cancel:     cancel,
	}

	if enabled {
		for i := 0; i < workers; i++ {
			engine.wg.Add(1)
			go engine.worker()
		}
	}
	return engine
}

// Run consumes the event bus until ctx ends. Every instance event flows
// through here; unsubscribed kinds are filtered per target.
func (e *Engine) Run(ctx context.Context, bus *events.Bus) {
	if !e.enabled {
		return
	}
	ch := bus.SubscribeBuffered(ctx, "", 256)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for evt := range ch {
			e.dispatch(evt)
		}
	}()
}

// Shutdown stops the workers and waits for the bus consumer to drain. The
// queue channel is never closed; enqueue and worker loops both observe the
// engine context instead, so a dispatch racing shutdown just drops its task.
func (e *Engine) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

// InvalidateCache drops the cached target for an instance after its webhook
// configuration changes.
func (e *Engine) InvalidateCache(instanceID string) {
	e.cacheMu.Lock()
	delete(e.cache, instanceID)
	e.cacheMu.Unlock()
}

func (e *Engine) resolveTarget(instanceID string) *Target {
	e.cacheMu.RLock()
	entry, ok := e.cache[instanceID]
	e.cacheMu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.target
	}

	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()
	target, err := e.source.WebhookTarget(ctx, instanceID)
	if err != nil {
		log.Session(instanceID).Warnf("resolve webhook target failed: %v", err)
		return nil
	}

	e.cacheMu.Lock()
	e.cache[instanceID] = cachedTarget{target: target, expiresAt: time.Now().Add(e.cacheTTL)}
	e.cacheMu.Unlock()
	return target
}

func (e *Engine) dispatch(evt events.Event) {
	target := e.resolveTarget(evt.InstanceID)
	if target == nil || target.URL == "" {
		return
	}
	if !subscribed(target.Events, evt.Kind) {
		return
	}

	select {
	case <-e.ctx.Done():
	case e.queue <- &deliveryTask{target: *target, event: evt}:
	default:
		log.Session(evt.InstanceID).Warnf("webhook queue full, dropping %s", evt.Kind)
	}
}

// subscribed treats an empty subscription list as all events.
func subscribed(subscriptions []string, kind events.Kind) bool {
	if len(subscriptions) == 0 {
		return true
	}
	for _, s := range subscriptions {
		if s == string(kind) {
			return true
		}
	}
	return false
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case task := <-e.queue:
			e.deliver(task)
		}
	}
}

func (e *Engine) deliver(task *deliveryTask) {
	instanceID := task.event.InstanceID
	kind := string(task.event.Kind)

	if err := validateURL(task.target.URL); err != nil {
		e.logDelivery(instanceID, kind, DeliveryFailed, 0, err.Error())
		return
	}

	payload, err := json.Marshal(task.event)
	if err != nil {
		log.Session(instanceID).Errorf("marshal webhook payload: %v", err)
		return
	}

	signature := signPayload(payload, task.target.Secret)

	var lastErr error
	for attempt := 1; attempt <= e.retryLimit; attempt++ {
		req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, task.target.URL, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", signature)
		req.Header.Set("X-Hub-Signature-256", signature)
		req.Header.Set("X-Webhook-Event", kind)
		req.Header.Set("User-Agent", "WhatsApp-Browser-Gateway/1.0")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			lastErr = err
			e.backoff(attempt)
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			e.logDelivery(instanceID, kind, DeliverySuccess, attempt, "")
			return
		}

		lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		e.backoff(attempt)
	}

	errorMsg := ""
	if lastErr != nil {
		errorMsg = lastErr.Error()
	}
	e.logDelivery(instanceID, kind, DeliveryFailed, e.retryLimit, errorMsg)
	log.Session(instanceID).Warnf("webhook delivery failed after %d attempts: %v", e.retryLimit, lastErr)
}

func (e *Engine) backoff(attempt int) {
	if attempt >= e.retryLimit {
		return
	}
	select {
	case <-e.ctx.Done():
	case <-time.After(time.Duration(attempt*2) * time.Second):
	}
}

func (e *Engine) logDelivery(instanceID, kind string, status DeliveryStatus, attempts int, errMsg string) {
	if e.logStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.logStore.LogDelivery(ctx, instanceID, kind, status, attempts, errMsg); err != nil {
		log.Session(instanceID).Warnf("log webhook delivery failed: %v", err)
	}
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported webhook scheme %q", u.Scheme)
	}
	if u.Scheme == "http" && !env.GetEnvBoolOrDefault("WEBHOOK_ALLOW_HTTP", false) {
		return fmt.Errorf("plain HTTP webhook URLs are disabled")
	}
	host := strings.ToLower(u.Hostname())
	if host == "0.0.0.0" {
		return fmt.Errorf("invalid webhook host")
	}
	return nil
}
