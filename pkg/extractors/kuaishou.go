package extractors

import (
	"context"
	"encoding/json"
	"regexp"

	"media-fetch-go/pkg/flaresolverr"
	"media-fetch-go/pkg/htmlmeta"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
	"media-fetch-go/pkg/urlutil"
)

var (
	kuaishouURLRe      = regexp.MustCompile(`^https?://(?:www\.)?kuaishou\.com/(?:(?:short-video|fw/short-video)/([\w-]+)|f/([\w-]+))`)
	kuaishouRedirectRe = regexp.MustCompile(`/short-video/([\w-]+)`)
)

const (
	kuaishouOrigin     = "https://www.kuaishou.com"
	kuaishouGraphQLURL = kuaishouOrigin + "/graphql"
)

const kuaishouQuery = `query visionVideoDetail($photoId: String, $type: String, $page: String, $webPageArea: String) {
  visionVideoDetail(photoId: $photoId, type: $type, page: $page, webPageArea: $webPageArea) {
    status
    type
    author { id name }
    photo {
      id
      duration
      caption
      likeCount
      realLikeCount
      coverUrl
      photoUrl
      photoH265Url
      manifest {
        adaptationSet {
          representation {
            id
            url
            backupUrl
            height
            width
            avgBitrate
            maxBitrate
            qualityType
            qualityLabel
            frameRate
          }
        }
      }
      videoResource
    }
  }
}`

type kuaishouRequest struct {
	OperationName string            `json:"operationName"`
	Variables     map[string]string `json:"variables"`
	Query         string            `json:"query"`
}

type kuaishouResponse struct {
	Data *struct {
		// Present only when the request was challenged.
		Result            json.RawMessage `json:"result"`
		VisionVideoDetail *struct {
			Photo kuaishouPhoto `json:"photo"`
		} `json:"visionVideoDetail"`
	} `json:"data"`
}

type kuaishouPhoto struct {
	ID           string  `json:"id"`
	Duration     float64 `json:"duration"` // milliseconds
	Caption      string  `json:"caption"`
	CoverURL     string  `json:"coverUrl"`
	PhotoURL     string  `json:"photoUrl"`
	PhotoH265URL string  `json:"photoH265Url"`
	Manifest     struct {
		AdaptationSet []struct {
			Representation []kuaishouRepresentation `json:"representation"`
		} `json:"adaptationSet"`
	} `json:"manifest"`
}

type kuaishouRepresentation struct {
	URL          string   `json:"url"`
	BackupURL    []string `json:"backupUrl"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	AvgBitrate   float64  `json:"avgBitrate"`
	QualityType  any      `json:"qualityType"`
	QualityLabel any      `json:"qualityLabel"`
}

// KuaishouExtractor resolves short videos through the site's GraphQL API.
type KuaishouExtractor struct {
	*BaseExtractor
	apiURL string
}

// NewKuaishouExtractor creates a new kuaishou extractor.
func NewKuaishouExtractor(client HTTPDoer, solver *flaresolverr.Client, log *logging.Logger) *KuaishouExtractor {
	return &KuaishouExtractor{
		BaseExtractor: NewBaseExtractor("kuaishou", client, solver, log.WithComponent("kuaishou-extractor")),
		apiURL:        kuaishouGraphQLURL,
	}
}

// CanExtract returns true for short-video pages and /f/ share links.
func (e *KuaishouExtractor) CanExtract(url string) bool {
	return kuaishouURLRe.MatchString(url)
}

// ExtractID returns the photo id, or the share token for share links.
func (e *KuaishouExtractor) ExtractID(url string) string {
	m := kuaishouURLRe.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// Extract resolves share links, queries the photo detail and returns every
// progressive stream the API reports.
func (e *KuaishouExtractor) Extract(ctx context.Context, pageURL string) (*types.ExtractionResult, error) {
	m := kuaishouURLRe.FindStringSubmatch(pageURL)
	if m == nil {
		return nil, e.fail("unsupported URL")
	}
	videoID := m[1]

	if videoID == "" {
		e.log.Debug("resolving share link", "url", pageURL, "token", m[2])
		location, err := e.FetchRedirect(ctx, pageURL, nil)
		if err != nil {
			e.log.Warn("share link request failed", "url", pageURL, "error", err)
		}
		if id := kuaishouRedirectRe.FindStringSubmatch(location); id != nil {
			videoID = id[1]
			pageURL = urlutil.ResolveURL(location, pageURL)
		}
	}
	if videoID == "" {
		return nil, e.fail("unable to resolve share link")
	}
	e.log.Debug("extracting kuaishou video", "url", pageURL, "id", videoID)

	webpage, err := e.FetchPage(ctx, pageURL, nil)
	if err != nil {
		return nil, e.wrap(err, "unable to download webpage")
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Referer":      pageURL,
		"Origin":       kuaishouOrigin,
	}
	payload := kuaishouRequest{
		OperationName: "visionVideoDetail",
		Variables:     map[string]string{"photoId": videoID, "page": "detail"},
		Query:         kuaishouQuery,
	}

	var resp kuaishouResponse
	if err := e.PostJSON(ctx, e.apiURL, headers, payload, &resp); err != nil {
		return nil, e.wrap(err, "unable to load media metadata")
	}
	if resp.Data == nil {
		return nil, e.fail("unable to load media metadata")
	}
	if len(resp.Data.Result) > 0 {
		return nil, e.failWith(types.ErrVerificationRequired, "site verification required")
	}

	var photo kuaishouPhoto
	if resp.Data.VisionVideoDetail != nil {
		photo = resp.Data.VisionVideoDetail.Photo
	}

	formats := kuaishouFormats(photo)
	if len(formats) == 0 {
		return nil, e.failWith(types.ErrNoFormats, "no playable media sources found")
	}
	for i := range formats {
		formats[i].HTTPHeaders = headers
	}

	title := photo.Caption
	if title == "" {
		title = htmlmeta.MustParse(webpage).OGTitle(videoID)
	}
	id := photo.ID
	if id == "" {
		id = videoID
	}

	return &types.ExtractionResult{
		ID:          id,
		Title:       title,
		Description: photo.Caption,
		Thumbnail:   photo.CoverURL,
		Formats:     formats,
		Duration:    photo.Duration / 1000,
		Extractor:   e.Name(),
		WebpageURL:  pageURL,
	}, nil
}

func kuaishouFormats(photo kuaishouPhoto) []types.Format {
	var formats []types.Format
	if photo.PhotoURL != "" {
		formats = append(formats, types.Format{URL: photo.PhotoURL, Ext: "mp4", Protocol: types.ProtocolHTTPS, FormatID: "h264"})
	}
	if photo.PhotoH265URL != "" {
		formats = append(formats, types.Format{URL: photo.PhotoH265URL, Ext: "mp4", Protocol: types.ProtocolHTTPS, FormatID: "hevc"})
	}

	for _, set := range photo.Manifest.AdaptationSet {
		for _, rep := range set.Representation {
			variant := types.Format{
				Ext:      "mp4",
				Protocol: types.ProtocolHTTPS,
				Width:    rep.Width,
				Height:   rep.Height,
				TBR:      rep.AvgBitrate / 1000,
			}
			if rep.URL != "" {
				main := variant
				main.URL = rep.URL
				main.FormatID = firstNonEmptyString(jsonScalar(rep.QualityType), jsonScalar(rep.QualityLabel), "main")
				formats = append(formats, main)
			}
			for _, backup := range rep.BackupURL {
				if backup == "" {
					continue
				}
				alt := variant
				alt.URL = backup
				alt.FormatID = "backup"
				formats = append(formats, alt)
			}
		}
	}
	return formats
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ interfaces.Extractor = (*KuaishouExtractor)(nil)
