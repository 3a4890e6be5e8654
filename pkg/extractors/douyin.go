package extractors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"media-fetch-go/pkg/flaresolverr"
	"media-fetch-go/pkg/htmlmeta"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
)

var douyinURLRe = regexp.MustCompile(`^https?://(?:www\.)?douyin\.com/(?:(?:video|share/video)/(\d+)|jingxuan|discover)(?:[/?#].*)?$`)

const douyinVideoURL = "https://www.douyin.com/video/"

type douyinRenderData struct {
	App struct {
		VideoDetail *douyinVideoDetail `json:"videoDetail"`
	} `json:"app"`
}

type douyinVideoDetail struct {
	AwemeID   string `json:"awemeId"`
	Desc      string `json:"desc"`
	ItemTitle string `json:"itemTitle"`
	Video     struct {
		BitRateList  []douyinBitRate `json:"bitRateList"`
		PlayAddr     []douyinAddr    `json:"playAddr"`
		CoverURLList []string        `json:"coverUrlList"`
	} `json:"video"`
}

type douyinBitRate struct {
	PlayAddr    []douyinAddr `json:"playAddr"`
	GearName    string       `json:"gearName"`
	QualityType any          `json:"qualityType"`
	BitRate     float64      `json:"bitRate"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	DataSize    int64        `json:"dataSize"`
	Format      string       `json:"format"`
}

type douyinAddr struct {
	Src string `json:"src"`
}

// DouyinExtractor reads the server rendered state embedded in douyin pages.
type DouyinExtractor struct {
	*BaseExtractor
}

// NewDouyinExtractor creates a new douyin extractor.
func NewDouyinExtractor(client HTTPDoer, solver *flaresolverr.Client, log *logging.Logger) *DouyinExtractor {
	return &DouyinExtractor{
		BaseExtractor: NewBaseExtractor("douyin", client, solver, log.WithComponent("douyin-extractor")),
	}
}

// CanExtract returns true for douyin video, jingxuan and discover pages.
func (e *DouyinExtractor) CanExtract(url string) bool {
	return douyinURLRe.MatchString(url)
}

// ExtractID returns the numeric video id, the modal_id query value, or "douyin".
func (e *DouyinExtractor) ExtractID(rawURL string) string {
	if m := douyinURLRe.FindStringSubmatch(rawURL); m != nil && m[1] != "" {
		return m[1]
	}
	if id := modalID(rawURL); id != "" {
		return id
	}
	return "douyin"
}

func modalID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("modal_id")
}

// Extract resolves the page into progressive formats.
func (e *DouyinExtractor) Extract(ctx context.Context, pageURL string) (*types.ExtractionResult, error) {
	videoID := e.ExtractID(pageURL)
	e.log.Debug("extracting douyin video", "url", pageURL, "id", videoID)

	webpage, err := e.FetchPage(ctx, pageURL, nil)
	if err != nil {
		return nil, e.wrap(err, "unable to download webpage")
	}
	page := htmlmeta.MustParse(webpage)
	detail := renderedVideoDetail(page)

	if modal := modalID(pageURL); detail == nil && modal != "" {
		e.log.Debug("video detail missing, loading fallback page", "modal_id", modal)
		webpage, err = e.FetchPage(ctx, douyinVideoURL+modal, nil)
		if err != nil {
			return nil, e.wrap(err, "unable to download fallback video page")
		}
		page = htmlmeta.MustParse(webpage)
		if detail = renderedVideoDetail(page); detail != nil {
			videoID = modal
		}
	}
	if detail == nil {
		return nil, e.fail("unable to locate video metadata")
	}

	formats := douyinFormats(detail)
	if len(formats) == 0 {
		return nil, e.failWith(types.ErrNoFormats, "no playable video sources found")
	}

	desc := detail.Desc
	if desc == "" {
		desc = detail.ItemTitle
	}
	title := desc
	if title == "" {
		title = videoID
	}

	thumbnail := ""
	if len(detail.Video.CoverURLList) > 0 {
		thumbnail = detail.Video.CoverURLList[0]
	}
	if thumbnail == "" {
		thumbnail = page.OGImage("")
	}

	id := detail.AwemeID
	if id == "" {
		id = videoID
	}

	return &types.ExtractionResult{
		ID:          id,
		Title:       strings.TrimSpace(title),
		Description: desc,
		Thumbnail:   thumbnail,
		Formats:     formats,
		Extractor:   e.Name(),
		WebpageURL:  pageURL,
	}, nil
}

// renderedVideoDetail decodes the percent-encoded RENDER_DATA script.
func renderedVideoDetail(page *htmlmeta.Page) *douyinVideoDetail {
	raw, ok := page.ScriptByID("RENDER_DATA")
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var data douyinRenderData
	if err := json.Unmarshal([]byte(unquote(raw)), &data); err != nil {
		return nil
	}
	return data.App.VideoDetail
}

func douyinFormats(detail *douyinVideoDetail) []types.Format {
	var formats []types.Format
	for _, item := range detail.Video.BitRateList {
		if len(item.PlayAddr) == 0 || item.PlayAddr[0].Src == "" {
			continue
		}
		formatID := item.GearName
		if formatID == "" {
			formatID = fmt.Sprintf("q%s", jsonScalar(item.QualityType))
		}
		ext := item.Format
		if ext == "" {
			ext = "mp4"
		}
		formats = append(formats, types.Format{
			URL:      item.PlayAddr[0].Src,
			Ext:      ext,
			Protocol: types.ProtocolHTTPS,
			FormatID: formatID,
			TBR:      item.BitRate / 1000,
			Width:    item.Width,
			Height:   item.Height,
			Filesize: item.DataSize,
		})
	}
	if len(formats) > 0 {
		return formats
	}

	for _, addr := range detail.Video.PlayAddr {
		if addr.Src == "" {
			continue
		}
		formats = append(formats, types.Format{URL: addr.Src, Ext: "mp4", Protocol: types.ProtocolHTTPS})
	}
	return formats
}

var _ interfaces.Extractor = (*DouyinExtractor)(nil)
