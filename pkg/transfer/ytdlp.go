package transfer

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

// Generic resolves and downloads any URL yt-dlp supports.
type Generic struct {
	executable string
	ffmpegPath string
	log        *logging.Logger

	impersonateOnce   sync.Once
	impersonateTarget string
	listTargets       func(ctx context.Context) (string, error)
}

// NewGeneric creates the yt-dlp engine. An empty executable means "yt-dlp"
// from PATH.
func NewGeneric(executable, ffmpegPath string, log *logging.Logger) *Generic {
	g := &Generic{
		executable: executable,
		ffmpegPath: ffmpegPath,
		log:        log.WithComponent("ytdlp"),
	}
	g.listTargets = g.runListTargets
	return g
}

func (g *Generic) binary() string {
	if g.executable != "" {
		return g.executable
	}
	return "yt-dlp"
}

func (g *Generic) command() *ytdlp.Command {
	cmd := ytdlp.New()
	if g.executable != "" {
		cmd.SetExecutable(g.executable)
	}
	return cmd
}

// Available returns an error wrapping types.ErrDependencyMissing when the
// yt-dlp executable cannot be found.
func (g *Generic) Available(ctx context.Context) error {
	if _, err := exec.LookPath(g.binary()); err != nil {
		return fmt.Errorf("%w: yt-dlp (%s): %v", types.ErrDependencyMissing, g.binary(), err)
	}
	return ctx.Err()
}

// ImpersonateTarget returns the browser target yt-dlp should impersonate,
// preferring chrome, or "" when impersonation is unsupported. The probe runs
// once per engine.
func (g *Generic) ImpersonateTarget(ctx context.Context) string {
	g.impersonateOnce.Do(func() {
		// The result is cached for the process, so one caller's cancellation
		// must not decide it.
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		out, err := g.listTargets(probeCtx)
		if err != nil {
			g.log.Debug("impersonation probe failed", "error", err)
			return
		}
		g.impersonateTarget = parseImpersonateTargets(out)
		g.log.Debug("impersonation probe finished", "target", g.impersonateTarget)
	})
	return g.impersonateTarget
}

func (g *Generic) runListTargets(ctx context.Context) (string, error) {
	res, err := g.command().ListImpersonateTargets().Run(ctx)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", fmt.Errorf("yt-dlp returned no output")
	}
	return res.Stdout, nil
}

// parseImpersonateTargets reads the --list-impersonate-targets table and
// returns the first available chrome client, else the first available one.
func parseImpersonateTargets(out string) string {
	var first string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.HasPrefix(line, "[") || strings.HasPrefix(fields[0], "-") {
			continue
		}
		if strings.EqualFold(fields[0], "client") || strings.Contains(strings.ToLower(line), "unavailable") {
			continue
		}
		client := strings.ToLower(fields[0])
		if strings.HasPrefix(client, "chrome") {
			return client
		}
		if first == "" {
			first = client
		}
	}
	return first
}

// buildCommand assembles the yt-dlp invocation for req.
func (g *Generic) buildCommand(req types.GenericRequest, impersonate string) *ytdlp.Command {
	cmd := g.command().
		Format(req.FormatSelector).
		Output(filepath.Join(req.Target.Dir, req.Target.Stem+".%(ext)s")).
		NoPlaylist().
		NoWarnings().
		PrintJSON().
		NoSimulate().
		Retries("2").
		MergeOutputFormat("mp4")

	if g.ffmpegPath != "" {
		cmd.FFmpegLocation(g.ffmpegPath)
	}

	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.AddHeaders(k + ":" + req.Headers[k])
	}

	if impersonate != "" {
		cmd.Impersonate(impersonate).ExtractorArgs("generic:impersonate")
	}
	return cmd
}

// Download runs yt-dlp for req.URL. A hook error cancels the process and is
// returned unchanged.
func (g *Generic) Download(ctx context.Context, req types.GenericRequest, hook types.ProgressHook) (*types.GenericResult, error) {
	impersonate := g.ImpersonateTarget(ctx)
	cmd := g.buildCommand(req, impersonate)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		hookErr error
	)
	cmd.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		mu.Lock()
		defer mu.Unlock()
		if hookErr != nil || hook == nil {
			return
		}
		if err := hook(progressFromYtdlp(update)); err != nil {
			hookErr = err
			cancel()
		}
	})

	g.log.Info("starting generic download", "url", req.URL, "impersonate", impersonate)
	res, err := cmd.Run(runCtx, req.URL)

	mu.Lock()
	abort := hookErr
	mu.Unlock()
	if abort != nil {
		return nil, abort
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("yt-dlp failed: %w", err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to read yt-dlp metadata: %w", err)
	}
	return firstEntry(infos)
}

// firstEntry returns the metadata of the first non-empty entry.
func firstEntry(infos []*ytdlp.ExtractedInfo) (*types.GenericResult, error) {
	for _, info := range infos {
		if info == nil || (info.ID == "" && info.Filename == nil) {
			continue
		}
		result := &types.GenericResult{ID: info.ID}
		if info.Title != nil {
			result.Title = *info.Title
		}
		if info.Duration != nil {
			result.Duration = *info.Duration
		}
		if info.Filename != nil {
			result.Filename = *info.Filename
		}
		return result, nil
	}
	return nil, types.ErrNoEntries
}

func progressFromYtdlp(update ytdlp.ProgressUpdate) types.Progress {
	p := types.Progress{
		Status:          types.ProgressDownloading,
		DownloadedBytes: int64(update.DownloadedBytes),
		TotalBytes:      int64(update.TotalBytes),
		FragmentIndex:   int(update.FragmentIndex),
		FragmentCount:   int(update.FragmentCount),
		Filename:        update.Filename,
	}
	if update.Status == ytdlp.ProgressStatusFinished {
		p.Status = types.ProgressFinished
	}
	if !update.Started.IsZero() {
		if elapsed := time.Since(update.Started).Seconds(); elapsed > 0 {
			p.Speed = float64(update.DownloadedBytes) / elapsed
		}
	}
	return p
}

var _ interfaces.GenericDownloader = (*Generic)(nil)
