package extractors

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"media-fetch-go/pkg/flaresolverr"
	"media-fetch-go/pkg/htmlmeta"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

var (
	threadsURLRe        = regexp.MustCompile(`^https?://(?:www\.)?threads\.com/@[^/]+/post/([A-Za-z0-9_-]+)(?:/media)?`)
	threadsVideoBlockRe = regexp.MustCompile(`(?s)"video_versions"\s*:\s*\[(.*?)\]`)
	threadsImageBlockRe = regexp.MustCompile(`(?s)"image_versions2"\s*:\s*\{.*?"candidates"\s*:\s*\[(.*?)\]`)
	threadsObjectRe     = regexp.MustCompile(`\{[^{}]*"url"\s*:\s*"([^"]+)"[^{}]*\}`)
	threadsURLFieldRe   = regexp.MustCompile(`"url"\s*:\s*"([^"]+)"`)
	threadsWidthRe      = regexp.MustCompile(`"width"\s*:\s*(\d+)`)
	threadsHeightRe     = regexp.MustCompile(`"height"\s*:\s*(\d+)`)
)

const threadsOrigin = "https://www.threads.com"

// ThreadsExtractor scrapes the media version lists embedded in a post page.
type ThreadsExtractor struct {
	*BaseExtractor
}

// NewThreadsExtractor creates a new threads extractor.
func NewThreadsExtractor(client HTTPDoer, solver *flaresolverr.Client, log *logging.Logger) *ThreadsExtractor {
	return &ThreadsExtractor{
		BaseExtractor: NewBaseExtractor("threads", client, solver, log.WithComponent("threads-extractor")),
	}
}

// CanExtract returns true for threads.com post URLs.
func (e *ThreadsExtractor) CanExtract(url string) bool {
	return threadsURLRe.MatchString(url)
}

// ExtractID returns the post code.
func (e *ThreadsExtractor) ExtractID(url string) string {
	if m := threadsURLRe.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// Extract returns the post videos, or its first image when it has none.
func (e *ThreadsExtractor) Extract(ctx context.Context, pageURL string) (*types.ExtractionResult, error) {
	postID := e.ExtractID(pageURL)
	e.log.Debug("extracting threads post", "url", pageURL, "id", postID)

	webpage, err := e.FetchPage(ctx, pageURL, nil)
	if err != nil {
		return nil, e.wrap(err, "unable to download webpage")
	}

	formats := threadsVideoFormats(webpage)
	if len(formats) == 0 {
		image := threadsImageURL(webpage)
		if image == "" {
			return nil, e.failWith(types.ErrNoFormats, "no media URLs found")
		}
		formats = []types.Format{{URL: image, Ext: "jpg", Protocol: types.ProtocolHTTPS}}
	}

	headers := siteHeaders(pageURL, threadsOrigin)
	for i := range formats {
		formats[i].HTTPHeaders = headers
	}

	page := htmlmeta.MustParse(webpage)
	return &types.ExtractionResult{
		ID:          postID,
		Title:       page.OGTitle(postID),
		Description: page.OGDescription(""),
		Thumbnail:   page.OGImage(""),
		Formats:     formats,
		Extractor:   e.Name(),
		WebpageURL:  pageURL,
	}, nil
}

func threadsVideoFormats(webpage string) []types.Format {
	var formats []types.Format
	for _, block := range threadsVideoBlockRe.FindAllStringSubmatch(webpage, -1) {
		for _, obj := range threadsObjectRe.FindAllString(block[1], -1) {
			m := threadsURLFieldRe.FindStringSubmatch(obj)
			if m == nil {
				continue
			}
			formats = append(formats, types.Format{
				URL:      cleanEscapedURL(m[1]),
				Ext:      "mp4",
				Protocol: types.ProtocolHTTPS,
				Width:    firstInt(threadsWidthRe, obj),
				Height:   firstInt(threadsHeightRe, obj),
			})
		}
	}
	return formats
}

func threadsImageURL(webpage string) string {
	block := threadsImageBlockRe.FindStringSubmatch(webpage)
	if block == nil {
		return ""
	}
	m := threadsURLFieldRe.FindStringSubmatch(block[1])
	if m == nil {
		return ""
	}
	return cleanEscapedURL(m[1])
}

// cleanEscapedURL undoes the JSON escapes left in URLs scraped from inline data.
func cleanEscapedURL(s string) string {
	return strings.NewReplacer(`\u0026`, "&", `\/`, "/").Replace(s)
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

var _ interfaces.Extractor = (*ThreadsExtractor)(nil)
