// Package interfaces defines the core abstractions of the media fetcher.
// Extractors, transfer engines and media tools implement these interfaces
// so the orchestrator can be assembled and tested from parts.
package interfaces

import (
	"context"
	"net/http"

	"media-fetch-go/pkg/types"
)

// Extractor resolves a page URL of one hosting site into formats.
//
// To add a new extractor:
// 1. Create a new file in pkg/extractors/
// 2. Implement this interface
// 3. Register it in the ExtractorRegistry (internal/app)
type Extractor interface {
	// Name returns a unique identifier for this extractor.
	Name() string

	// CanExtract returns true if this extractor can handle the given URL.
	CanExtract(url string) bool

	// ExtractID returns the media id embedded in the URL, or "".
	ExtractID(url string) string

	// Extract resolves the page into an ExtractionResult.
	Extract(ctx context.Context, url string) (*types.ExtractionResult, error)

	// Close releases any resources held by the extractor.
	Close() error
}

// TransferEngine writes one format to disk.
type TransferEngine interface {
	// Name returns a unique identifier for this engine.
	Name() string

	// CanTransfer returns true if the engine handles the format's protocol.
	CanTransfer(f types.Format) bool

	// Transfer downloads f to target. hook is called for every progress
	// update; a hook error aborts the transfer and is returned as is.
	Transfer(ctx context.Context, f types.Format, target types.TransferTarget, hook types.ProgressHook) error
}

// GenericDownloader resolves and downloads URLs no bespoke extractor claims.
type GenericDownloader interface {
	// Available returns an error wrapping types.ErrDependencyMissing when
	// the engine cannot run.
	Available(ctx context.Context) error

	// Download resolves req.URL and writes the first playable entry under
	// req.Target. A hook error aborts the download and is returned.
	Download(ctx context.Context, req types.GenericRequest, hook types.ProgressHook) (*types.GenericResult, error)
}

// MediaTool inspects and converts downloaded files.
type MediaTool interface {
	// ProbeVideoCodec returns the lower-cased codec name of the first video
	// stream, or "" when none is reported.
	ProbeVideoCodec(ctx context.Context, path string) (string, error)

	// TranscodeH264AAC converts in to an H.264/AAC MP4 at out.
	TranscodeH264AAC(ctx context.Context, in, out string) error
}

// ManifestExpander turns an HLS manifest URL into concrete formats.
type ManifestExpander interface {
	ExpandHLS(ctx context.Context, manifestURL string, headers map[string]string) ([]types.Format, error)
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Logger defines the logging interface used throughout the application.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
