package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"media-fetch-go/pkg/config"
	"media-fetch-go/pkg/logging"
)

func TestClientForURL(t *testing.T) {
	log := logging.Nop()

	tests := []struct {
		name          string
		cfg           *config.Config
		targetURL     string
		expectDefault bool
		expectChrome  bool
	}{
		{
			name:      "uses global proxy when no transport routes match",
			cfg:       &config.Config{GlobalProxies: []string{"socks5://proxy.example.com:1080"}},
			targetURL: "https://cdn.example.com/video.m3u8",
		},
		{
			name: "uses transport route when URL matches",
			cfg: &config.Config{
				GlobalProxies: []string{"socks5://global-proxy.example.com:1080"},
				TransportRoutes: []config.TransportRoute{
					{URLPattern: "kuaishou.com", Proxy: "socks5://specific-proxy.example.com:1080"},
				},
			},
			targetURL: "https://www.kuaishou.com/graphql",
		},
		{
			name:          "direct route bypasses global proxy",
			cfg:           &config.Config{GlobalProxies: []string{"http://proxy:3128"}, TransportRoutes: []config.TransportRoute{{URLPattern: "douyin.com", Direct: true}}},
			targetURL:     "https://www.douyin.com/video/1",
			expectDefault: true,
		},
		{
			name:          "uses default client when no proxy configured",
			cfg:           &config.Config{},
			targetURL:     "https://cdn.example.com/video.m3u8",
			expectDefault: true,
		},
		{
			name:         "impersonate domain wins over routes",
			cfg:          &config.Config{ImpersonateDomains: []string{"missav."}, TransportRoutes: []config.TransportRoute{{URLPattern: "missav", Direct: true}}},
			targetURL:    "https://MISSAV.ws/dm1/abc-123",
			expectChrome: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.cfg, log)
			httpClient := client.clientForURL(tt.targetURL)

			if tt.expectChrome {
				if httpClient != client.impersonateClient {
					t.Error("expected impersonating client")
				}
				return
			}
			if isDefault := httpClient == client.defaultClient; isDefault != tt.expectDefault {
				t.Errorf("default client = %v, want %v", isDefault, tt.expectDefault)
			}
		})
	}
}

func TestProxyClientCached(t *testing.T) {
	client := New(&config.Config{}, logging.Nop())

	a := client.proxyClient("http://proxy:3128", false)
	b := client.proxyClient("http://proxy:3128", false)
	if a != b {
		t.Error("expected cached proxy client")
	}
	if client.proxyClient("ftp://proxy:21", false) != client.defaultClient {
		t.Error("unsupported scheme should fall back to default client")
	}
}

func TestDoNoRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/f/abc" {
			http.Redirect(w, r, "/short-video/3x9", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(&config.Config{}, logging.Nop())
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/f/abc", nil)

	resp, err := client.DoNoRedirect(req)
	if err != nil {
		t.Fatalf("DoNoRedirect() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if got := resp.Header.Get("Location"); got != "/short-video/3x9" {
		t.Errorf("Location = %q", got)
	}
}

func TestApplyHeaders(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	ApplyHeaders(req, map[string]string{"Referer": "https://example.com/page"})

	if req.Header.Get("Referer") != "https://example.com/page" {
		t.Error("Referer not applied")
	}
	if req.Header.Get("User-Agent") != DefaultUserAgent {
		t.Error("default User-Agent not applied")
	}

	req, _ = http.NewRequest(http.MethodGet, "https://example.com", nil)
	ApplyHeaders(req, map[string]string{"User-Agent": "custom"})
	if req.Header.Get("User-Agent") != "custom" {
		t.Error("explicit User-Agent overwritten")
	}
}
