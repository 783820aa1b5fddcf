package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/events"
	"github.com/zapgate/go-whatsapp-browser-gateway/pkg/log"
)

// ProbeResult is one observation of the page's login state.
type ProbeResult struct {
	Authenticated bool   `json:"authenticated"`
	QR            string `json:"qr"`
}

// Profile is the account identity read after authentication.
type Profile struct {
	Phone    string `json:"phone"`
	PushName string `json:"push_name"`
}

// StateProbe reads login state out of a page. The production probe evaluates
// in-page javascript; tests script their own.
type StateProbe interface {
	Probe(ctx context.Context) (ProbeResult, error)
	Profile(ctx context.Context) (Profile, error)
}

const jsProbeState = `() => {
	const out = { authenticated: false, qr: '' };
	try {
		if (window.WPP && WPP.conn && WPP.conn.isAuthenticated()) {
			out.authenticated = true;
			return out;
		}
	} catch (e) {}
	const ref = document.querySelector('div[data-ref]');
	if (ref) {
		out.qr = ref.getAttribute('data-ref') || '';
	}
	return out;
}`

const jsProfile = `() => {
	const out = { phone: '', push_name: '' };
	try {
		const id = window.WPP && WPP.conn ? WPP.conn.getMyUserId() : null;
		if (id && id.user) out.phone = String(id.user);
	} catch (e) {}
	try {
		out.push_name = WPP.conn.getMyPushname() || '';
	} catch (e) {}
	return out;
}`

// bridgeProbe reads state through the page itself.
type bridgeProbe struct {
	page PageContext
}

func (p bridgeProbe) Probe(ctx context.Context) (ProbeResult, error) {
	raw, err := p.page.Eval(ctx, jsProbeState)
	if err != nil {
		return ProbeResult{}, err
	}
	var res ProbeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return ProbeResult{}, err
	}
	return res, nil
}

func (p bridgeProbe) Profile(ctx context.Context) (Profile, error) {
	raw, err := p.page.Eval(ctx, jsProfile)
	if err != nil {
		return Profile{}, err
	}
	var prof Profile
	if err := json.Unmarshal(raw, &prof); err != nil {
		return Profile{}, err
	}
	return prof, nil
}

// runMonitor polls the page once per tick until it authenticates or the
// login window runs out. Transient probe errors are skipped; the page is
// often mid-navigation early in the window. On expiry the session is torn
// down rather than left sitting in connecting.
func (m *Manager) runMonitor(ctx context.Context, sess *Session, probe StateProbe) {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	lastQR := ""
	for tick := 0; tick < m.cfg.MonitorMaxTicks; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := probe.Probe(ctx)
		if err != nil {
			continue
		}
		// A probe that was in flight when teardown ran still returns a
		// result; the close always wins over it.
		if sess.isClosed() {
			return
		}

		if res.Authenticated {
			m.markConnected(ctx, sess, probe)
			return
		}

		if res.QR != "" && res.QR != lastQR {
			lastQR = res.QR
			png, err := qrcode.Encode(res.QR, qrcode.Medium, 256)
			if err != nil {
				log.Session(sess.InstanceID).Warnf("render qr failed: %v", err)
				continue
			}
			image := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
			sess.setQR(res.QR, image)
			if err := m.store.SetStatus(ctx, sess.InstanceID, StatusQR); err != nil {
				log.Session(sess.InstanceID).Warnf("persist qr status failed: %v", err)
			}
			m.bus.Publish(events.New(events.KindQR, sess.InstanceID, map[string]interface{}{
				"qr": image,
			}))
			log.Session(sess.InstanceID).Info("new pairing code displayed")
		}
	}

	log.Session(sess.InstanceID).Warn("login window expired without authentication")
	m.teardown(sess, "login window expired")
}

// markConnected finalizes a successful login: capture the profile, persist,
// announce, and start the connected-state loops. A session closed in the
// meantime is left alone; its teardown already published the final state.
func (m *Manager) markConnected(ctx context.Context, sess *Session, probe StateProbe) {
	if sess.isClosed() {
		return
	}

	prof, err := probe.Profile(ctx)
	if err != nil {
		log.Session(sess.InstanceID).Warnf("read profile failed: %v", err)
	}

	sess.setProfile(prof.Phone, prof.PushName)
	sess.setStatus(StatusConnected)
	if sess.isClosed() {
		return
	}

	if err := m.store.SetProfile(ctx, sess.InstanceID, prof.Phone, prof.PushName); err != nil {
		log.Session(sess.InstanceID).Warnf("persist profile failed: %v", err)
	}
	if err := m.store.SetStatus(ctx, sess.InstanceID, StatusConnected); err != nil {
		log.Session(sess.InstanceID).Warnf("persist status failed: %v", err)
	}

	if err := sess.page.PersistState(); err != nil {
		log.Session(sess.InstanceID).Warnf("persist browser state failed: %v", err)
	}

	m.bus.Publish(events.New(events.KindAuthenticated, sess.InstanceID, map[string]interface{}{
		"phone":     prof.Phone,
		"push_name": prof.PushName,
	}))
	m.bus.Publish(events.New(events.KindReady, sess.InstanceID, nil))

	m.applySettings(ctx, sess, sess.Settings())
	m.startPump(ctx, sess)

	log.Session(sess.InstanceID).Infof("authenticated as %s (%s)", prof.PushName, prof.Phone)
}
