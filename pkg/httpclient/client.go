// Package httpclient provides a configurable HTTP client with proxy routing
// and browser TLS impersonation.
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"media-fetch-go/pkg/config"
	"media-fetch-go/pkg/logging"

	"golang.org/x/net/proxy"
)

// DefaultUserAgent is sent when a request does not carry its own.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Client wraps http.Client with proxy routing and connection pooling.
type Client struct {
	defaultClient      *http.Client
	impersonateClient  *http.Client
	proxyClients       map[string]*http.Client
	routes             []config.TransportRoute
	globalProxies      []string
	impersonateDomains []string
	timeout            time.Duration
	mu                 sync.RWMutex
	log                *logging.Logger
}

// ipv4DialContext forces IPv4-only connections.
func ipv4DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 60 * time.Second}
	return d.DialContext(ctx, network, addr)
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext:           ipv4DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *config.Config, log *logging.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		proxyClients:       make(map[string]*http.Client),
		routes:             cfg.TransportRoutes,
		globalProxies:      cfg.GlobalProxies,
		impersonateDomains: cfg.ImpersonateDomains,
		timeout:            timeout,
		log:                log.WithComponent("httpclient"),
	}

	c.defaultClient = &http.Client{Transport: newTransport(), Timeout: timeout}
	c.impersonateClient = &http.Client{Transport: newChromeRoundTripper(), Timeout: timeout}

	return c
}

// needsImpersonation returns true if the URL's host is configured for a
// browser TLS fingerprint.
func (c *Client) needsImpersonation(targetURL string) bool {
	lower := strings.ToLower(targetURL)
	for _, domain := range c.impersonateDomains {
		if domain != "" && strings.Contains(lower, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// Do executes an HTTP request, routing through proxies as configured.
// Requests are bounded by the configured request timeout.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.clientForURL(req.URL.String()).Do(req)
}

// DoNoRedirect executes req and returns the first response without following
// redirects, so callers can inspect the Location header.
func (c *Client) DoNoRedirect(req *http.Request) (*http.Response, error) {
	base := *c.clientForURL(req.URL.String())
	base.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return base.Do(req)
}

// DoStream executes req without the client-level timeout. The body may be
// read for as long as the request context allows.
func (c *Client) DoStream(req *http.Request) (*http.Response, error) {
	base := *c.clientForURL(req.URL.String())
	base.Timeout = 0
	return base.Do(req)
}

// clientForURL returns the appropriate HTTP client based on URL routing rules.
func (c *Client) clientForURL(targetURL string) *http.Client {
	if c.needsImpersonation(targetURL) {
		c.log.Debug("using impersonating client", "url", targetURL)
		return c.impersonateClient
	}

	// Transport routes are most specific and win over global proxies.
	for _, route := range c.routes {
		if !strings.Contains(targetURL, route.URLPattern) {
			continue
		}
		c.log.Debug("matched transport route", "url", targetURL, "pattern", route.URLPattern, "proxy", route.Proxy, "direct", route.Direct)

		switch {
		case route.Direct && route.DisableSSL:
			return c.insecureClient()
		case route.Direct:
			return c.defaultClient
		case route.Proxy != "":
			return c.proxyClient(route.Proxy, route.DisableSSL)
		case route.DisableSSL:
			return c.insecureClient()
		}
	}

	if len(c.globalProxies) > 0 {
		proxyURL := c.globalProxies[0]
		c.log.Debug("using global proxy", "url", targetURL, "proxy", proxyURL)
		return c.proxyClient(proxyURL, false)
	}

	return c.defaultClient
}

// proxyClient returns a cached proxy client or creates a new one.
func (c *Client) proxyClient(proxyURL string, disableSSL bool) *http.Client {
	cacheKey := proxyURL
	if disableSSL {
		cacheKey += ":insecure"
	}

	c.mu.RLock()
	client, ok := c.proxyClients[cacheKey]
	c.mu.RUnlock()
	if ok {
		return client
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.proxyClients[cacheKey]; ok {
		return client
	}

	client, err := c.newProxyClient(proxyURL, disableSSL)
	if err != nil {
		c.log.Error("failed to create proxy client, using direct connection", "proxy", proxyURL, "error", err)
		return c.defaultClient
	}
	c.proxyClients[cacheKey] = client
	c.log.Debug("created proxy client", "proxy", proxyURL, "disable_ssl", disableSSL)

	return client
}

var errUnsupportedProxy = errors.New("unsupported proxy scheme")

// newProxyClient builds a client for an http(s) or socks5 proxy. An empty
// proxyURL yields a direct client.
func (c *Client) newProxyClient(proxyURL string, disableSSL bool) (*http.Client, error) {
	transport := newTransport()
	if disableSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if proxyURL != "" {
		parsedURL, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}

		switch parsedURL.Scheme {
		case "socks5", "socks5h":
			dialer, err := proxy.FromURL(parsedURL, proxy.Direct)
			if err != nil {
				return nil, err
			}
			if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = contextDialer.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		case "http", "https":
			transport.Proxy = http.ProxyURL(parsedURL)
		default:
			return nil, errUnsupportedProxy
		}
	}

	return &http.Client{Transport: transport, Timeout: c.timeout}, nil
}

// insecureClient returns a client that skips SSL verification.
func (c *Client) insecureClient() *http.Client {
	return c.proxyClient("", true)
}

// ApplyHeaders sets headers on req and fills in a browser User-Agent when
// none was given.
func ApplyHeaders(req *http.Request, headers map[string]string) {
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
}
