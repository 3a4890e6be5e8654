package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-fetch-go/pkg/appctx"
	"media-fetch-go/pkg/config"
	"media-fetch-go/pkg/gpu"
	"media-fetch-go/pkg/jobs"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/media"
	"media-fetch-go/pkg/registry"
	"media-fetch-go/pkg/transfer"
	"media-fetch-go/pkg/types"
)

type blockingDownloader struct{}

func (blockingDownloader) Download(ctx context.Context, req *types.DownloadRequest) (*types.DownloadOutcome, error) {
	for !req.Cancelled() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil, types.ErrCancelled
}

type namedExtractor string

func (n namedExtractor) Name() string { return string(n) }
func (n namedExtractor) CanExtract(string) bool { return false }
func (n namedExtractor) ExtractID(string) string { return "" }
func (n namedExtractor) Close() error { return nil }
func (n namedExtractor) Extract(context.Context, string) (*types.ExtractionResult, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *appctx.Context) {
	log := logging.Nop()
	cfg := &config.Config{
		DownloadDir:            t.TempDir(),
		MaxConcurrentDownloads: 1,
		GPUForceCPU:            true,
		GPULayers:              999,
	}

	extractors := registry.NewExtractorRegistry()
	extractors.Register(namedExtractor("douyin"))
	extractors.Register(namedExtractor("threads"))

	manager := jobs.NewManager(cfg, blockingDownloader{}, log)
	t.Cleanup(func() { manager.Close() })

	ctx := appctx.New(cfg, log).
		WithJobs(manager).
		WithExtractors(extractors).
		WithGPU(gpu.NewDetector(cfg.GPUForceCPU, nil, log)).
		WithTools(transfer.NewGeneric("/nonexistent/yt-dlp", "", log), media.NewTool(os.Args[0], log))

	mux := http.NewServeMux()
	NewHandlers(ctx).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, ctx
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var body healthResponse
	decode(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Dependencies["ffmpeg"])
	assert.Contains(t, body.Dependencies["yt-dlp"], "required dependency is missing")
}

func TestDefaults(t *testing.T) {
	srv, ctx := newTestServer(t)

	resp, err := http.Get(srv.URL + "/import/url/defaults")
	require.NoError(t, err)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, ctx.Config.DownloadDir, body["download_dir"])
}

func TestStartStatusCancel(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/import/url/start", "application/json",
		strings.NewReader(`{"url":"https://example.com/watch/1","download_dir":"/tmp/media"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started jobs.Job
	decode(t, resp, &started)
	require.NotEmpty(t, started.ID)
	assert.Equal(t, jobs.StatusQueued, started.Status)
	assert.Equal(t, "/tmp/media", started.DownloadDir)

	resp, err = http.Get(srv.URL + "/import/url/" + started.ID)
	require.NoError(t, err)
	var status jobs.Job
	decode(t, resp, &status)
	assert.Equal(t, started.ID, status.ID)

	resp, err = http.Post(srv.URL+"/import/url/"+started.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/import/url/" + started.ID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var j jobs.Job
		if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
			return false
		}
		return j.Status == jobs.StatusCancelled
	}, 5*time.Second, 10*time.Millisecond)

	resp, err = http.Post(srv.URL+"/import/url/"+started.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/import/url")
	require.NoError(t, err)
	var list []jobs.Job
	decode(t, resp, &list)
	assert.Len(t, list, 1)
}

func TestStart_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"url":`},
		{"missing url", `{}`},
		{"unsupported scheme", `{"url":"file:///etc/passwd"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/import/url/start", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			var body map[string]string
			decode(t, resp, &body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/import/url/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/import/url/unknown/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExtractors(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/extractors")
	require.NoError(t, err)
	var body []extractorInfo
	decode(t, resp, &body)
	assert.Equal(t, []extractorInfo{{Name: "douyin", Priority: 0}, {Name: "threads", Priority: 1}}, body)
}

func TestGPU(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/gpu")
	require.NoError(t, err)
	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "cpu", body["backend"])
	assert.Equal(t, false, body["available"])
	assert.Equal(t, []any{}, body["flags"])
}
