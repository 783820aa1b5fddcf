package session

import (
	"fmt"
	"strings"
)

// ProxyConfig is an optional upstream proxy for one instance's browsing
// context. Credentials are answered over the DevTools auth challenge, not
// embedded in the server URL.
type ProxyConfig struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ServerURL builds the proxy server argument for the browsing context.
// IPv6 literals are bracketed so the port survives parsing.
func (p *ProxyConfig) ServerURL() string {
	if p == nil || p.Host == "" {
		return ""
	}
	scheme := p.Protocol
	if scheme == "" {
		scheme = "http"
	}
	host := p.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	if p.Port > 0 {
		return fmt.Sprintf("%s://%s:%d", scheme, host, p.Port)
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

// HasAuth reports whether the proxy requires credentials.
func (p *ProxyConfig) HasAuth() bool {
	return p != nil && p.Username != ""
}
