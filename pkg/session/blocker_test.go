package session

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
)

func TestShouldBlock(t *testing.T) {
	cases := []struct {
		name    string
		resType proto.NetworkResourceType
		url     string
		want    bool
	}{
		{"document", proto.NetworkResourceTypeDocument, "https://web.whatsapp.com/", false},
		{"app script", proto.NetworkResourceTypeScript, "https://web.whatsapp.com/app.js", false},
		{"xhr", proto.NetworkResourceTypeXHR, "https://web.whatsapp.com/api", false},
		{"websocket", proto.NetworkResourceTypeWebSocket, "wss://web.whatsapp.com/ws/chat", false},
		{"image", proto.NetworkResourceTypeImage, "https://web.whatsapp.com/img/logo.png", true},
		{"media", proto.NetworkResourceTypeMedia, "https://mmg.whatsapp.net/v.mp4", true},
		{"font", proto.NetworkResourceTypeFont, "https://web.whatsapp.com/font.woff2", true},
		{"first-party css", proto.NetworkResourceTypeStylesheet, "https://web.whatsapp.com/app.css", false},
		{"third-party css", proto.NetworkResourceTypeStylesheet, "https://cdn.example.com/app.css", true},
		{"analytics script", proto.NetworkResourceTypeScript, "https://www.google-analytics.com/analytics.js", true},
		{"error tracker", proto.NetworkResourceTypeXHR, "https://o123.ingest.sentry.io/api", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, shouldBlock(tc.resType, tc.url))
		})
	}
}
