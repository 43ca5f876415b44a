// Package providers carries the transport plumbing shared by all provider
// client packages: proxy-aware HTTP client construction and HTTP error
// mapping onto the module's error taxonomy.
package providers

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// ProxyConfig routes provider traffic through an HTTP, HTTPS, or SOCKS5
// proxy when enabled.
type ProxyConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	URL     string        `yaml:"url" env:"URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DefaultTimeout applies when neither the model record nor the proxy
// config specifies one.
const DefaultTimeout = 60 * time.Second

// NewHTTPClient builds an HTTP client honoring the proxy configuration.
// The timeout applies per call; retries made above this client each get a
// fresh budget.
func NewHTTPClient(proxy ProxyConfig, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = proxy.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	if proxy.Enabled && proxy.URL != "" {
		u, err := url.Parse(proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", proxy.URL, err)
		}
		switch u.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			dialer, err := xproxy.FromURL(u, &net.Dialer{Timeout: 30 * time.Second})
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy setup failed: %w", err)
			}
			contextDialer, ok := dialer.(xproxy.ContextDialer)
			if !ok {
				return nil, fmt.Errorf("socks5 dialer does not support context dialing")
			}
			transport.DialContext = contextDialer.DialContext
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
