// Package transfer provides the engines that write a resolved format to disk.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"media-fetch-go/pkg/httpclient"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

const (
	partSuffix       = ".part"
	progressInterval = 500 * time.Millisecond
	copyBufferSize   = 256 << 10
)

// Streamer performs requests without a client timeout. *httpclient.Client
// satisfies it.
type Streamer interface {
	DoStream(req *http.Request) (*http.Response, error)
}

// HTTP downloads progressive formats with a single GET.
type HTTP struct {
	client Streamer
	log    *logging.Logger
}

// NewHTTP creates a direct HTTP transfer engine.
func NewHTTP(client Streamer, log *logging.Logger) *HTTP {
	return &HTTP{
		client: client,
		log:    log.WithComponent("http-transfer"),
	}
}

// Name returns the engine name.
func (e *HTTP) Name() string {
	return "http"
}

// CanTransfer returns true for every non-HLS format.
func (e *HTTP) CanTransfer(f types.Format) bool {
	return !f.IsHLS()
}

// Transfer streams f.URL into target. The body is written to a .part file
// that is renamed once complete.
func (e *HTTP) Transfer(ctx context.Context, f types.Format, target types.TransferTarget, hook types.ProgressHook) error {
	finalPath := target.Path(extOrDefault(f.Ext))
	partPath := finalPath + partSuffix

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpclient.ApplyHeaders(req, f.HTTPHeaders)

	e.log.Debug("starting transfer", "url", f.URL, "path", finalPath)
	resp, err := e.client.DoStream(req)
	if err != nil {
		return fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetching media: unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partPath, err)
	}

	total := resp.ContentLength
	if total < 0 {
		total = f.Filesize
	}
	pw := &progressWriter{
		hook:     hook,
		filename: finalPath,
		total:    total,
		started:  time.Now(),
	}

	_, err = io.CopyBuffer(io.MultiWriter(out, pw), resp.Body, make([]byte, copyBufferSize))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(partPath)
		if pw.hookErr != nil {
			return pw.hookErr
		}
		return fmt.Errorf("failed to download media: %w", err)
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		_ = os.Remove(partPath)
		return fmt.Errorf("failed to finalize %s: %w", finalPath, err)
	}

	e.log.Info("transfer completed", "path", finalPath, "size", humanize.Bytes(uint64(pw.written)))
	return pw.finish()
}

// progressWriter counts bytes and reports them to hook at most every
// progressInterval. A hook error is returned from Write to stop the copy.
type progressWriter struct {
	hook     types.ProgressHook
	filename string
	total    int64
	written  int64
	started  time.Time
	last     time.Time
	hookErr  error
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.hook == nil || time.Since(w.last) < progressInterval {
		return len(p), nil
	}
	w.last = time.Now()
	if err := w.hook(w.progress(types.ProgressDownloading)); err != nil {
		w.hookErr = err
		return 0, err
	}
	return len(p), nil
}

func (w *progressWriter) finish() error {
	if w.hook == nil {
		return nil
	}
	// Chunked responses without a size hint learn their total only at the end.
	if w.total <= 0 {
		w.total = w.written
	}
	return w.hook(w.progress(types.ProgressFinished))
}

func (w *progressWriter) progress(status types.ProgressStatus) types.Progress {
	p := types.Progress{
		Status:          status,
		DownloadedBytes: w.written,
		TotalBytes:      w.total,
		Filename:        w.filename,
	}
	if p.TotalBytes < 0 {
		p.TotalBytes = 0
	}
	if elapsed := time.Since(w.started).Seconds(); elapsed > 0 {
		p.Speed = float64(w.written) / elapsed
	}
	return p
}

func extOrDefault(ext string) string {
	if ext == "" {
		return "mp4"
	}
	return ext
}

var _ interfaces.TransferEngine = (*HTTP)(nil)
