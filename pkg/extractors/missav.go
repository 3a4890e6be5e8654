package extractors

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"media-fetch-go/pkg/flaresolverr"
	"media-fetch-go/pkg/htmlmeta"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
	"media-fetch-go/pkg/urlutil"
)

var (
	missavURLRe        = regexp.MustCompile(`^https?://(?:www\.)?missav\.ws/(?:[^/?#]+/)*([\w-]+)/?(?:[?#].*)?$`)
	missavDescriptorRe = regexp.MustCompile(`m3u8\|([A-Za-z0-9_|-]+)`)
)

// preferredCDN marks the host the player normally streams from.
const preferredCDN = "surrit"

// MissAVExtractor resolves missav.ws pages. The stream URL is not present in
// the page; it is rebuilt from the packer dictionary left in an inline script.
type MissAVExtractor struct {
	*BaseExtractor
	hls interfaces.ManifestExpander
}

// NewMissAVExtractor creates a new missav extractor.
func NewMissAVExtractor(client HTTPDoer, hls interfaces.ManifestExpander, solver *flaresolverr.Client, log *logging.Logger) *MissAVExtractor {
	return &MissAVExtractor{
		BaseExtractor: NewBaseExtractor("missav", client, solver, log.WithComponent("missav-extractor")),
		hls:           hls,
	}
}

// CanExtract returns true for missav.ws video pages.
func (e *MissAVExtractor) CanExtract(url string) bool {
	return missavURLRe.MatchString(url)
}

// ExtractID returns the last path segment.
func (e *MissAVExtractor) ExtractID(url string) string {
	if m := missavURLRe.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// Extract resolves the page into HLS formats.
func (e *MissAVExtractor) Extract(ctx context.Context, url string) (*types.ExtractionResult, error) {
	videoID := e.ExtractID(url)
	e.log.Debug("extracting missav video", "url", url, "id", videoID)

	webpage, err := e.FetchPage(ctx, url, nil)
	if err != nil {
		return nil, e.wrap(err, "unable to download webpage")
	}

	manifestURL, err := e.manifestURL(webpage)
	if err != nil {
		return nil, err
	}
	e.log.Debug("rebuilt manifest url", "manifest", manifestURL)

	headers := siteHeaders(url, urlutil.BuildOrigin(url))
	formats, err := e.hls.ExpandHLS(ctx, manifestURL, headers)
	if err != nil {
		return nil, e.wrap(err, "unable to load stream manifest")
	}

	page := htmlmeta.MustParse(webpage)
	return &types.ExtractionResult{
		ID:          videoID,
		Title:       page.OGTitle(videoID),
		Description: page.OGDescription(""),
		Thumbnail:   page.OGImage(""),
		Formats:     formats,
		AgeLimit:    18,
		Extractor:   e.Name(),
		WebpageURL:  url,
	}, nil
}

// manifestURL picks a descriptor and rebuilds the manifest URL from it.
func (e *MissAVExtractor) manifestURL(webpage string) (string, error) {
	matches := missavDescriptorRe.FindAllStringSubmatch(webpage, -1)
	if len(matches) == 0 {
		return "", e.fail("unable to locate stream URL data")
	}

	var chosen []string
	for _, m := range matches {
		words := strings.Split(m[1], "|")
		if len(words) > 0 && words[0] == "m3u8" {
			words = words[1:]
		}
		proto := protocolIndex(words)
		if proto <= 5 {
			continue
		}
		if containsWord(words[5:proto], preferredCDN) {
			chosen = words
			break
		}
		if chosen == nil {
			chosen = words
		}
	}
	if chosen == nil {
		return "", e.fail("unable to resolve stream protocol")
	}

	return buildMissAVURL(chosen), nil
}

// buildMissAVURL assembles the manifest URL from descriptor words. The first
// five words are the reversed path id, words up to the protocol are the
// reversed host labels.
func buildMissAVURL(words []string) string {
	proto := protocolIndex(words)
	path := strings.Join(reversed(words[0:5]), "-")
	host := strings.Join(reversed(words[5:proto]), ".")

	for i, w := range words {
		if w != "video" {
			continue
		}
		quality := "1080p"
		if i+1 < len(words) {
			quality = words[i+1]
		}
		return fmt.Sprintf("%s://%s/%s/%s/video.m3u8", words[proto], host, path, quality)
	}
	return fmt.Sprintf("%s://%s/%s/playlist.m3u8", words[proto], host, path)
}

func protocolIndex(words []string) int {
	for i, w := range words {
		if w == "http" || w == "https" {
			return i
		}
	}
	return -1
}

func containsWord(words []string, substr string) bool {
	for _, w := range words {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

var _ interfaces.Extractor = (*MissAVExtractor)(nil)
