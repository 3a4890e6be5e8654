package transfer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"media-fetch-go/pkg/httpclient"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

// HLS remuxes HLS playlists into MP4 with ffmpeg.
type HLS struct {
	ffmpegPath string
	log        *logging.Logger
}

// NewHLS creates an ffmpeg backed HLS transfer engine.
func NewHLS(ffmpegPath string, log *logging.Logger) *HLS {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &HLS{
		ffmpegPath: ffmpegPath,
		log:        log.WithComponent("hls-transfer"),
	}
}

// Name returns the engine name.
func (e *HLS) Name() string {
	return "hls"
}

// CanTransfer returns true for m3u8 formats.
func (e *HLS) CanTransfer(f types.Format) bool {
	return f.IsHLS()
}

// HLSArgs builds the ffmpeg arguments copying the playlist at f.URL into out.
func HLSArgs(f types.Format, out string) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-progress", "pipe:1",
	}

	ua := httpclient.DefaultUserAgent
	keys := make([]string, 0, len(f.HTTPHeaders))
	for k, v := range f.HTTPHeaders {
		if strings.EqualFold(k, "User-Agent") {
			ua = v
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args = append(args, "-user_agent", ua)
	if len(keys) > 0 {
		var headers strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&headers, "%s: %s\r\n", k, f.HTTPHeaders[k])
		}
		args = append(args, "-headers", headers.String())
	}

	return append(args,
		"-i", f.URL,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-f", "mp4",
		out,
	)
}

// Transfer runs ffmpeg and reports its -progress output through hook.
func (e *HLS) Transfer(ctx context.Context, f types.Format, target types.TransferTarget, hook types.ProgressHook) error {
	finalPath := target.Path("mp4")
	partPath := finalPath + partSuffix

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffmpegPath, HLSArgs(f, partPath)...)
	cmd.Stderr = e.log.LineWriter("ffmpeg output")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to attach ffmpeg output: %w", err)
	}

	e.log.Debug("starting ffmpeg", "url", f.URL, "path", finalPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start ffmpeg: %v", types.ErrDependencyMissing, err)
	}

	hookErr := readProgress(stdout, finalPath, func(p types.Progress) error {
		if hook == nil {
			return nil
		}
		return hook(p)
	})
	if hookErr != nil {
		cancel()
	}
	waitErr := cmd.Wait()

	switch {
	case hookErr != nil:
		_ = os.Remove(partPath)
		return hookErr
	case waitErr != nil:
		_ = os.Remove(partPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg failed: %w", waitErr)
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", finalPath, err)
	}
	e.log.Info("transfer completed", "path", finalPath)
	return nil
}

// readProgress parses ffmpeg "-progress" key=value blocks. Every block ends
// with a progress=continue|end line and produces one update. It returns the
// first hook error without reading further.
func readProgress(r io.Reader, filename string, hook types.ProgressHook) error {
	current := types.Progress{Status: types.ProgressDownloading, Filename: filename}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "total_size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				current.DownloadedBytes = n
			}
		case "progress":
			if value == "end" {
				current.Status = types.ProgressFinished
			}
			if err := hook(current); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ interfaces.TransferEngine = (*HLS)(nil)
