// Package media inspects and converts downloaded files with ffmpeg.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

var videoCodecRe = regexp.MustCompile(`Video:\s*([^,\s]+)`)

// commandRunner runs name with args and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Tool runs ffmpeg probe and transcode commands.
type Tool struct {
	ffmpegPath string
	run        commandRunner
	log        *logging.Logger
}

// NewTool creates a media tool using the given ffmpeg executable.
func NewTool(ffmpegPath string, log *logging.Logger) *Tool {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Tool{
		ffmpegPath: ffmpegPath,
		run:        execRunner,
		log:        log.WithComponent("ffmpeg"),
	}
}

// Path returns the ffmpeg executable path.
func (t *Tool) Path() string {
	return t.ffmpegPath
}

// Available returns an error wrapping types.ErrDependencyMissing when ffmpeg
// cannot be found.
func (t *Tool) Available() error {
	if _, err := exec.LookPath(t.ffmpegPath); err != nil {
		return fmt.Errorf("%w: ffmpeg (%s): %v", types.ErrDependencyMissing, t.ffmpegPath, err)
	}
	return nil
}

// ProbeVideoCodec reads the stream summary ffmpeg prints for path and returns
// the codec of the first video stream. ffmpeg exits non-zero when run
// without an output, so only the printed summary is considered.
func (t *Tool) ProbeVideoCodec(ctx context.Context, path string) (string, error) {
	out, err := t.run(ctx, t.ffmpegPath, "-hide_banner", "-i", path)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return "", fmt.Errorf("failed to run ffmpeg: %w", err)
	}

	m := videoCodecRe.FindSubmatch(out)
	if m == nil {
		return "", nil
	}
	codec := strings.ToLower(strings.TrimSpace(string(m[1])))
	t.log.Debug("probed video codec", "path", path, "codec", codec)
	return codec, nil
}

// TranscodeArgs returns the ffmpeg arguments converting in to an H.264/AAC MP4.
func TranscodeArgs(in, out string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-i", in,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "160k",
		"-movflags", "+faststart",
		out,
	}
}

// TranscodeH264AAC converts in to out. A partial out is removed on failure.
func (t *Tool) TranscodeH264AAC(ctx context.Context, in, out string) error {
	start := time.Now()
	t.log.Info("transcoding to h264/aac", "input", in, "output", out)

	output, err := t.run(ctx, t.ffmpegPath, TranscodeArgs(in, out)...)
	if err != nil {
		_ = os.Remove(out)
		return fmt.Errorf("ffmpeg transcode failed: %w: %s", err, lastLine(output))
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("ffmpeg transcode produced no output: %w", err)
	}

	t.log.WithDuration(time.Since(start)).Info("transcode completed", "output", out)
	return nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

var _ interfaces.MediaTool = (*Tool)(nil)
