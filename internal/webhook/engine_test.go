package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/events"
)

type mapSource struct {
	mu      sync.Mutex
	targets map[string]*Target
}

func (s *mapSource) WebhookTarget(ctx context.Context, instanceID string) (*Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[instanceID], nil
}

func newTestEngine(t *testing.T, source ConfigSource) *Engine {
	t.Helper()
	t.Setenv("WEBHOOK_ALLOW_HTTP", "true")
	engine := NewEngine(source, nil)
	t.Cleanup(engine.Shutdown)
	return engine
}

func TestDeliverySignsPayload(t *testing.T) {
	type received struct {
		body      []byte
		signature string
		eventKind string
	}
	got := make(chan received, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{
			body:      body,
			signature: r.Header.Get("X-Webhook-Signature"),
			eventKind: r.Header.Get("X-Webhook-Event"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := &mapSource{targets: map[string]*Target{
		"inst-1": {URL: server.URL, Secret: "topsecret"},
	}}
	engine := newTestEngine(t, source)

	evt := events.New(events.KindMessage, "inst-1", map[string]interface{}{"body": "hi"})
	engine.dispatch(evt)

	select {
	case rec := <-got:
		assert.Equal(t, "message", rec.eventKind)

		mac := hmac.New(sha256.New, []byte("topsecret"))
		mac.Write(rec.body)
		want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		assert.Equal(t, want, rec.signature)

		var delivered events.Event
		require.NoError(t, json.Unmarshal(rec.body, &delivered))
		assert.Equal(t, "inst-1", delivered.InstanceID)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestSubscriptionFiltering(t *testing.T) {
	hits := make(chan string, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := &mapSource{targets: map[string]*Target{
		"inst-1": {URL: server.URL, Events: []string{"message", "disconnected"}},
	}}
	engine := newTestEngine(t, source)

	engine.dispatch(events.New(events.KindQR, "inst-1", nil))
	engine.dispatch(events.New(events.KindMessage, "inst-1", nil))

	select {
	case kind := <-hits:
		assert.Equal(t, "message", kind, "qr is not subscribed and must be filtered")
	case <-time.After(2 * time.Second):
		t.Fatal("subscribed event never delivered")
	}

	select {
	case kind := <-hits:
		t.Fatalf("unexpected delivery of %q", kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNoTargetMeansNoDelivery(t *testing.T) {
	source := &mapSource{targets: map[string]*Target{}}
	engine := newTestEngine(t, source)

	// Nothing configured for this instance; dispatch must be a silent no-op.
	engine.dispatch(events.New(events.KindMessage, "inst-unknown", nil))
	time.Sleep(50 * time.Millisecond)
}

func TestEngineConsumesBus(t *testing.T) {
	hits := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := &mapSource{targets: map[string]*Target{
		"inst-1": {URL: server.URL},
	}}
	engine := newTestEngine(t, source)

	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Run(ctx, bus)

	bus.Publish(events.New(events.KindReady, "inst-1", nil))

	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatal("bus event never reached the webhook")
	}
}

func TestShutdownDuringDispatchDoesNotPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := &mapSource{targets: map[string]*Target{
		"inst-1": {URL: server.URL},
	}}
	engine := newTestEngine(t, source)

	// Keep dispatching while shutdown runs; a dispatch that loses the race
	// drops its task instead of panicking on the queue.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					engine.dispatch(events.New(events.KindMessage, "inst-1", nil))
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	engine.Shutdown()
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestSubscribedHelper(t *testing.T) {
	assert.True(t, subscribed(nil, events.KindMessage), "empty list subscribes to everything")
	assert.True(t, subscribed([]string{"message"}, events.KindMessage))
	assert.False(t, subscribed([]string{"message"}, events.KindCall))
}

func TestValidateURL(t *testing.T) {
	t.Setenv("WEBHOOK_ALLOW_HTTP", "false")
	assert.Error(t, validateURL("http://example.com/hook"))
	assert.NoError(t, validateURL("https://example.com/hook"))
	assert.Error(t, validateURL("ftp://example.com/hook"))
	assert.Error(t, validateURL("https://0.0.0.0/hook"))
}
