package extractors

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"media-fetch-go/pkg/flaresolverr"
	"media-fetch-go/pkg/htmlmeta"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/sign"
	"media-fetch-go/pkg/types"
	"media-fetch-go/pkg/urlutil"
)

var avglURLRe = regexp.MustCompile(`^https?://(?:www\.)?av\.gl/(?:[a-z]{2}/)?videos/([^/?#]+)`)

const avglOrigin = "https://av.gl"

// AVGLExtractor resolves av.gl pages through the embedded player iframe.
type AVGLExtractor struct {
	*BaseExtractor
	hls interfaces.ManifestExpander
	now func() time.Time
}

// NewAVGLExtractor creates a new av.gl extractor.
func NewAVGLExtractor(client HTTPDoer, hls interfaces.ManifestExpander, solver *flaresolverr.Client, log *logging.Logger) *AVGLExtractor {
	return &AVGLExtractor{
		BaseExtractor: NewBaseExtractor("avgl", client, solver, log.WithComponent("avgl-extractor")),
		hls:           hls,
		now:           time.Now,
	}
}

// CanExtract returns true for av.gl video pages.
func (e *AVGLExtractor) CanExtract(url string) bool {
	return avglURLRe.MatchString(url)
}

// ExtractID returns the path segment after /videos/.
func (e *AVGLExtractor) ExtractID(url string) string {
	if m := avglURLRe.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// Extract resolves the page into HLS formats.
func (e *AVGLExtractor) Extract(ctx context.Context, pageURL string) (*types.ExtractionResult, error) {
	videoID := e.ExtractID(pageURL)
	e.log.Debug("extracting av.gl video", "url", pageURL, "id", videoID)

	webpage, err := e.FetchPage(ctx, pageURL, nil)
	if err != nil {
		return nil, e.wrap(err, "unable to download webpage")
	}
	page := htmlmeta.MustParse(webpage)

	iframeSrc := page.IframeSrc("/player/?")
	if iframeSrc == "" {
		return nil, e.fail("unable to locate player iframe")
	}
	iframeURL, err := url.Parse(urlutil.ResolveURL(iframeSrc, pageURL))
	if err != nil {
		return nil, e.wrap(err, "unable to parse player iframe")
	}
	fileToken := iframeURL.Query().Get("src")
	if fileToken == "" {
		return nil, e.fail("unable to locate stream token")
	}

	origin := urlutil.BuildOrigin(pageURL)
	if origin == "" {
		origin = avglOrigin
	}
	headers := siteHeaders(pageURL, origin)

	var tok tokenResponse
	if err := e.FetchJSON(ctx, fmt.Sprintf("%s/player/token.php?file=%s", origin, quote(fileToken)), headers, &tok); err != nil {
		return nil, e.wrap(err, "unable to fetch stream token")
	}
	token, ts, ok := tok.values()
	if !ok {
		return nil, e.fail("unable to fetch stream token")
	}

	signature := sign.Sign(fileToken + "@" + strconv.FormatInt(e.now().Unix(), 10))
	manifestURL := fmt.Sprintf("%s/save_m3u8_cache.php?file=%s&token=%s&ts=%s&sign=%s",
		origin, quote(fileToken), quote(token), quote(ts), quote(signature))

	formats, err := e.hls.ExpandHLS(ctx, manifestURL, headers)
	if err != nil {
		return nil, e.wrap(err, "unable to load stream manifest")
	}

	thumbnail := page.ItemProp("thumbnailUrl")
	if thumbnail == "" {
		thumbnail = page.OGImage("")
	}

	return &types.ExtractionResult{
		ID:          videoID,
		Title:       page.OGTitle(videoID),
		Description: page.OGDescription(""),
		Thumbnail:   thumbnail,
		Formats:     formats,
		AgeLimit:    18,
		Extractor:   e.Name(),
		WebpageURL:  pageURL,
	}, nil
}

// quote percent-encodes everything but unreserved characters and '/'.
func quote(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~', c == '/':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&15])
		}
	}
	return b.String()
}

var _ interfaces.Extractor = (*AVGLExtractor)(nil)
