// Package download orchestrates one media download: dispatch to a site
// extractor or the generic resolver, transfer, codec check, optional
// transcode and final naming.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"media-fetch-go/pkg/format"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/registry"
	"media-fetch-go/pkg/types"
	"media-fetch-go/pkg/urlutil"
)

// Service runs downloads. It holds no per-download state and is safe for
// concurrent use.
type Service struct {
	extractors *registry.ExtractorRegistry
	transfers  *registry.TransferRegistry
	generic    interfaces.GenericDownloader
	media      interfaces.MediaTool
	log        *logging.Logger
}

// NewService creates a download service.
func NewService(
	extractors *registry.ExtractorRegistry,
	transfers *registry.TransferRegistry,
	generic interfaces.GenericDownloader,
	media interfaces.MediaTool,
	log *logging.Logger,
) *Service {
	return &Service{
		extractors: extractors,
		transfers:  transfers,
		generic:    generic,
		media:      media,
		log:        log.WithComponent("download"),
	}
}

// NewDownloadID returns a fresh 32 character hex id.
func NewDownloadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// source is what the fetch step learned about the media.
type source struct {
	title    string
	id       string
	duration *float64
}

// run carries one invocation through the stages.
type run struct {
	req *types.DownloadRequest
	id  string
	log *logging.Logger
}

func (r *run) stage(s types.Stage) {
	r.log.Info("download stage", "stage", s)
	if r.req.OnStage != nil {
		r.req.OnStage(s)
	}
}

// hook forwards engine progress to the caller. It is the only place
// cancellation is observed while bytes are moving.
func (r *run) hook(p types.Progress) error {
	if r.req.Cancelled() {
		return types.ErrCancelled
	}
	if r.req.Progress != nil {
		r.req.Progress(p)
	}
	return nil
}

// Download fetches req.URL into req.Dir and returns the final file.
func (s *Service) Download(ctx context.Context, req *types.DownloadRequest) (*types.DownloadOutcome, error) {
	if err := s.generic.Available(ctx); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	id := req.DownloadID
	if id == "" {
		id = NewDownloadID()
	}
	r := &run{req: req, id: id, log: s.log.WithDownloadID(id).WithURL(req.URL)}
	start := time.Now()

	outcome, err := s.download(ctx, r)
	switch {
	case err == nil:
		r.stage(types.StageDone)
		r.log.WithDuration(time.Since(start)).Info("download finished", "path", outcome.File.Path)
		return outcome, nil
	case errors.Is(err, types.ErrCancelled) || req.Cancelled():
		r.stage(types.StageCancelled)
		return nil, types.ErrCancelled
	default:
		r.stage(types.StageFailed)
		r.log.WithError(err).Warn("download failed")
		return nil, err
	}
}

func (s *Service) download(ctx context.Context, r *run) (*types.DownloadOutcome, error) {
	req := r.req
	if req.Cancelled() {
		return nil, types.ErrCancelled
	}

	r.stage(types.StageDispatch)
	target := types.TransferTarget{Dir: req.Dir, Stem: r.id}

	var (
		src source
		err error
	)
	if ext, ok := s.extractors.Match(req.URL); ok {
		src, err = s.fetchBespoke(ctx, r, ext, target)
	} else {
		src, err = s.fetchGeneric(ctx, r, target)
	}
	if err != nil {
		return nil, err
	}
	if req.Cancelled() {
		return nil, types.ErrCancelled
	}

	r.stage(types.StageResolve)
	path, err := ResolveFile(req.Dir, r.id, req.AllowedExtensions)
	if err != nil {
		return nil, err
	}

	if format.IsYouTubeHost(format.Host(req.URL)) {
		path = s.ensureCompatible(ctx, r, path)
	}

	r.stage(types.StageRename)
	base := SafeBaseName(src.title, req.PreferredStem)
	final, err := Finalize(path, req.Dir, base, r.id)
	if err != nil {
		r.log.WithError(err).Warn("rename failed, keeping download name", "path", path)
	}

	return buildOutcome(final, req.URL, src), nil
}

func (s *Service) fetchBespoke(ctx context.Context, r *run, ext interfaces.Extractor, target types.TransferTarget) (source, error) {
	r.stage(types.StageExtract)
	r.log.Info("using site extractor", "extractor", ext.Name())

	res, err := ext.Extract(ctx, r.req.URL)
	if err != nil {
		return source{}, err
	}
	best, ok := format.Best(res.Formats)
	if !ok {
		return source{}, &types.ExtractionError{Extractor: ext.Name(), Reason: "no formats", Err: types.ErrNoFormats}
	}

	engine := s.transfers.Get(best)
	if engine == nil {
		return source{}, fmt.Errorf("no transfer engine for protocol %q", best.Protocol)
	}
	if r.req.Cancelled() {
		return source{}, types.ErrCancelled
	}

	r.stage(types.StageTransfer)
	r.log.Debug("selected format", "format_id", best.FormatID, "engine", engine.Name(), "height", best.Height)
	if err := engine.Transfer(ctx, best, target, r.hook); err != nil {
		return source{}, err
	}

	src := source{title: strings.TrimSpace(res.Title), id: res.ID}
	if res.Duration > 0 {
		d := res.Duration
		src.duration = &d
	}
	if src.title == "" {
		src.title = defaultBaseName
	}
	return src, nil
}

func (s *Service) fetchGeneric(ctx context.Context, r *run, target types.TransferTarget) (source, error) {
	r.stage(types.StageTransfer)
	r.log.Info("using generic resolver")

	headers := map[string]string{"Referer": r.req.URL}
	if origin := urlutil.BuildOrigin(r.req.URL); origin != "" {
		headers["Origin"] = origin
	}

	res, err := s.generic.Download(ctx, types.GenericRequest{
		URL:            r.req.URL,
		Target:         target,
		FormatSelector: format.SelectPreference(r.req.URL),
		Headers:        headers,
	}, r.hook)
	if err != nil {
		return source{}, err
	}

	src := source{title: strings.TrimSpace(res.Title), id: res.ID}
	if res.Duration > 0 {
		d := res.Duration
		src.duration = &d
	}
	if src.title == "" {
		src.title = defaultBaseName
	}
	return src, nil
}

// ensureCompatible transcodes path to H.264/AAC when its video codec is
// something else. Any failure keeps path.
func (s *Service) ensureCompatible(ctx context.Context, r *run, path string) string {
	r.stage(types.StageVerify)
	codec, err := s.media.ProbeVideoCodec(ctx, path)
	if err != nil {
		r.log.WithError(err).Warn("codec probe failed", "path", path)
		return path
	}
	if codec == "" || strings.HasPrefix(codec, "h264") || strings.Contains(codec, "avc1") {
		return path
	}

	r.stage(types.StageTranscode)
	compat := filepath.Join(r.req.Dir, r.id+"_compat.mp4")
	if err := s.media.TranscodeH264AAC(ctx, path, compat); err != nil {
		r.log.WithError(err).Warn("transcode failed, keeping original", "codec", codec)
		return path
	}
	if err := os.Remove(path); err != nil {
		r.log.WithError(err).Warn("failed to remove original after transcode", "path", path)
	}
	return compat
}

func buildOutcome(path, url string, src source) *types.DownloadOutcome {
	out := &types.DownloadOutcome{
		File: types.OutcomeFile{
			Path: path,
			Name: filepath.Base(path),
			MIME: DetectMIME(path),
		},
		Source: types.OutcomeSource{
			URL:   url,
			Title: src.title,
			ID:    src.id,
		},
		DurationSec: src.duration,
	}
	if info, err := os.Stat(path); err == nil {
		size := info.Size()
		out.File.Size = &size
	}
	return out
}
