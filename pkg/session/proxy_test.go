package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProxyServerURL(t *testing.T) {
	cases := []struct {
		name  string
		proxy *ProxyConfig
		want  string
	}{
		{"nil proxy", nil, ""},
		{"no host", &ProxyConfig{Protocol: "http"}, ""},
		{"http default", &ProxyConfig{Host: "10.0.0.1", Port: 8080}, "http://10.0.0.1:8080"},
		{"socks5", &ProxyConfig{Protocol: "socks5", Host: "proxy.local", Port: 1080}, "socks5://proxy.local:1080"},
		{"no port", &ProxyConfig{Protocol: "http", Host: "proxy.local"}, "http://proxy.local"},
		{"ipv6 bracketed", &ProxyConfig{Protocol: "http", Host: "2001:db8::1", Port: 3128}, "http://[2001:db8::1]:3128"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.proxy.ServerURL())
		})
	}
}

func TestProxyHasAuth(t *testing.T) {
	assert.False(t, (*ProxyConfig)(nil).HasAuth())
	assert.False(t, (&ProxyConfig{Host: "p"}).HasAuth())
	assert.True(t, (&ProxyConfig{Host: "p", Username: "u", Password: "s"}).HasAuth())
}
