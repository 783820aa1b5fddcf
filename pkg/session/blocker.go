package session

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Resource classes WhatsApp Web does not need to function headless. The QR
// code is drawn into a canvas, so images and fonts can go.
var blockedResourceTypes = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeImage: true,
	proto.NetworkResourceTypeMedia: true,
	proto.NetworkResourceTypeFont:  true,
}

// Telemetry and ad endpoints the page calls out to. None of them carry
// session traffic.
var blockedHosts = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"facebook.com/tr",
	"connect.facebook.net",
	"sentry.io",
}

// whatsappOrigin limits stylesheets to first-party ones; everything the app
// shell needs comes from these hosts.
func whatsappOrigin(url string) bool {
	return strings.Contains(url, "whatsapp.com") || strings.Contains(url, "whatsapp.net")
}

func shouldBlock(resType proto.NetworkResourceType, url string) bool {
	if blockedResourceTypes[resType] {
		return true
	}
	if resType == proto.NetworkResourceTypeStylesheet && !whatsappOrigin(url) {
		return true
	}
	for _, host := range blockedHosts {
		if strings.Contains(url, host) {
			return true
		}
	}
	return false
}

// installBlocker hijacks the context's requests and drops everything the
// session does not need, keeping memory and bandwidth flat across many
// concurrent instances. WebSocket traffic is never intercepted.
func (c *rodContext) installBlocker() error {
	router := c.page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if shouldBlock(h.Request.Type(), h.Request.URL().String()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return err
	}
	go router.Run()
	return nil
}
