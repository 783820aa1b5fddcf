package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// injector loads the wa-js bundle from disk once and injects it into pages.
// The bundle publishes its API on window.WPP; injection is best effort since
// the page stays usable for QR pairing without it.
type injector struct {
	path string

	once   sync.Once
	script string
	err    error
}

func newInjector(path string) *injector {
	return &injector{path: path}
}

func (in *injector) load() (string, error) {
	in.once.Do(func() {
		data, err := os.ReadFile(in.path)
		if err != nil {
			in.err = fmt.Errorf("read bridge bundle: %w", err)
			return
		}
		in.script = string(data)
	})
	return in.script, in.err
}

// Inject runs the bundle in the page and waits for window.WPP to come up.
func (in *injector) Inject(ctx context.Context, page PageContext) error {
	script, err := in.load()
	if err != nil {
		return err
	}

	wrapped := fmt.Sprintf("() => { %s\nreturn true; }", script)
	if _, err := page.Eval(ctx, wrapped); err != nil {
		return fmt.Errorf("inject bridge: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
		raw, err := page.Eval(ctx, `() => !!(window.WPP && window.WPP.isReady)`)
		if err != nil {
			continue
		}
		var ready bool
		if json.Unmarshal(raw, &ready) == nil && ready {
			return nil
		}
	}
	return fmt.Errorf("bridge did not become ready")
}
