// Package extractors provides the site-specific media extractors.
// Each extractor resolves a page URL of one hosting site into a list of
// directly fetchable formats.
//
// To add a new extractor:
// 1. Create a new file (e.g., mysite.go)
// 2. Implement the interfaces.Extractor interface
// 3. Register it in the registry (see internal/app)
package extractors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"media-fetch-go/pkg/flaresolverr"
	"media-fetch-go/pkg/httpclient"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

const maxPageSize = 16 << 20

// HTTPDoer is the transport used by extractors. *httpclient.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
	DoNoRedirect(req *http.Request) (*http.Response, error)
}

// BaseExtractor provides common functionality for extractors.
type BaseExtractor struct {
	name   string
	client HTTPDoer
	solver *flaresolverr.Client
	log    *logging.Logger
}

// NewBaseExtractor creates a new base extractor. solver may be nil.
func NewBaseExtractor(name string, client HTTPDoer, solver *flaresolverr.Client, log *logging.Logger) *BaseExtractor {
	return &BaseExtractor{
		name:   name,
		client: client,
		solver: solver,
		log:    log,
	}
}

// Name returns the extractor name.
func (b *BaseExtractor) Name() string {
	return b.name
}

// Close releases resources.
func (b *BaseExtractor) Close() error {
	return nil
}

// fail builds an extraction error for this extractor.
func (b *BaseExtractor) fail(reason string) error {
	return types.NewExtractionError(b.name, reason)
}

// failWith builds an extraction error around a more specific sentinel.
func (b *BaseExtractor) failWith(sentinel error, reason string) error {
	return &types.ExtractionError{Extractor: b.name, Reason: reason, Err: sentinel}
}

// wrap builds an extraction error that also wraps cause.
func (b *BaseExtractor) wrap(cause error, reason string) error {
	return fmt.Errorf("%w: %w", types.NewExtractionError(b.name, reason), cause)
}

func browserHeaders(headers map[string]string) map[string]string {
	out := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	}
	for k, v := range headers {
		out[k] = v
	}
	return out
}

// newRequest builds a request with browser defaults plus headers.
func (b *BaseExtractor) newRequest(ctx context.Context, method, urlStr string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpclient.ApplyHeaders(req, headers)
	return req, nil
}

// FetchPage returns the body of urlStr. When the site answers with a
// Cloudflare style 403/503 and FlareSolverr is configured, the page is
// fetched through it instead.
func (b *BaseExtractor) FetchPage(ctx context.Context, urlStr string, headers map[string]string) (string, error) {
	b.log.Debug("fetching page", "url", urlStr)

	req, err := b.newRequest(ctx, http.MethodGet, urlStr, nil, browserHeaders(headers))
	if err != nil {
		return "", err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", urlStr, err)
	}
	defer resp.Body.Close()

	if (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable) && b.solver.IsConfigured() {
		b.log.Info("page is challenge protected, retrying via FlareSolverr", "url", urlStr, "status", resp.StatusCode)
		sol, err := b.solver.Solve(ctx, urlStr)
		if err != nil {
			return "", fmt.Errorf("flaresolverr fallback failed: %w", err)
		}
		return sol.Response, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: unexpected status %d", urlStr, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", urlStr, err)
	}
	return string(body), nil
}

// FetchJSON GETs urlStr and decodes the JSON body into v.
func (b *BaseExtractor) FetchJSON(ctx context.Context, urlStr string, headers map[string]string, v any) error {
	b.log.Debug("fetching json", "url", urlStr)

	req, err := b.newRequest(ctx, http.MethodGet, urlStr, nil, headers)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	return b.doJSON(req, v)
}

// PostJSON POSTs payload as JSON and decodes the JSON answer into v.
func (b *BaseExtractor) PostJSON(ctx context.Context, urlStr string, headers map[string]string, payload, v any) error {
	b.log.Debug("posting json", "url", urlStr)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := b.newRequest(ctx, http.MethodPost, urlStr, bytes.NewReader(data), headers)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	return b.doJSON(req, v)
}

func (b *BaseExtractor) doJSON(req *http.Request, v any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetching %s: unexpected status %d", req.URL, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageSize)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", req.URL, err)
	}
	return nil
}

// FetchRedirect requests urlStr without following redirects and returns the
// Location header, or "" when the response is not a redirect.
func (b *BaseExtractor) FetchRedirect(ctx context.Context, urlStr string, headers map[string]string) (string, error) {
	req, err := b.newRequest(ctx, http.MethodGet, urlStr, nil, browserHeaders(headers))
	if err != nil {
		return "", err
	}
	resp, err := b.client.DoNoRedirect(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", urlStr, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return "", nil
	}
	return strings.TrimSpace(resp.Header.Get("Location")), nil
}

// siteHeaders returns the Referer/Origin pair most sites require on their
// API and media requests.
func siteHeaders(referer, origin string) map[string]string {
	return map[string]string{
		"Referer": referer,
		"Origin":  origin,
	}
}
