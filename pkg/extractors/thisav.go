package extractors

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"media-fetch-go/pkg/flaresolverr"
	"media-fetch-go/pkg/htmlmeta"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/packer"
	"media-fetch-go/pkg/scan"
	"media-fetch-go/pkg/sign"
	"media-fetch-go/pkg/types"
	"media-fetch-go/pkg/urlutil"
)

var (
	thisavURLRe    = regexp.MustCompile(`^https?://(?:www\.)?thisav\.biz/(?:[a-z]{2}/)?thisav/([^/?#]+?)(?:\.html)?(?:[?#].*)?$`)
	playerObjectRe = regexp.MustCompile(`player_aaaa\s*=`)
)

const thisavOrigin = "https://thisav.biz"

// tokenResponse is returned by the player token endpoints.
type tokenResponse struct {
	Token any `json:"token"`
	TS    any `json:"ts"`
}

func (t tokenResponse) values() (token, ts string, ok bool) {
	token = jsonScalar(t.Token)
	ts = jsonScalar(t.TS)
	return token, ts, token != "" && t.TS != nil
}

// ThisAVExtractor resolves thisav.biz pages through the signed token flow.
type ThisAVExtractor struct {
	*BaseExtractor
	hls    interfaces.ManifestExpander
	origin string
}

// NewThisAVExtractor creates a new thisav extractor.
func NewThisAVExtractor(client HTTPDoer, hls interfaces.ManifestExpander, solver *flaresolverr.Client, log *logging.Logger) *ThisAVExtractor {
	return &ThisAVExtractor{
		BaseExtractor: NewBaseExtractor("thisav", client, solver, log.WithComponent("thisav-extractor")),
		hls:           hls,
		origin:        thisavOrigin,
	}
}

// CanExtract returns true for thisav.biz video pages.
func (e *ThisAVExtractor) CanExtract(url string) bool {
	return thisavURLRe.MatchString(url)
}

// ExtractID returns the slug after /thisav/ without the .html suffix.
func (e *ThisAVExtractor) ExtractID(url string) string {
	if m := thisavURLRe.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// Extract resolves the page into HLS formats.
func (e *ThisAVExtractor) Extract(ctx context.Context, pageURL string) (*types.ExtractionResult, error) {
	videoID := e.ExtractID(pageURL)
	e.log.Debug("extracting thisav video", "url", pageURL, "id", videoID)

	webpage, err := e.FetchPage(ctx, pageURL, nil)
	if err != nil {
		return nil, e.wrap(err, "unable to download webpage")
	}

	player, err := e.playerData(webpage)
	if err != nil {
		return nil, err
	}

	fileKey := scan.StringField(player, "url")
	if fileKey == "" {
		return nil, e.fail("missing stream key for playback")
	}

	headers := siteHeaders(pageURL, e.origin)

	var tok tokenResponse
	if err := e.FetchJSON(ctx, fmt.Sprintf("%s/token.php?file=%s", e.origin, fileKey), headers, &tok); err != nil {
		return nil, e.wrap(err, "unable to fetch stream token")
	}
	token, ts, ok := tok.values()
	if !ok {
		return nil, e.fail("unable to fetch stream token")
	}

	signature := sign.Sign(fileKey + "@" + ts)

	var cache struct {
		M3U8File string `json:"m3u8_file"`
	}
	cacheURL := fmt.Sprintf("%s/save_m3u8_cache.php?file=%s&token=%s&ts=%s&sign=%s", e.origin, fileKey, token, ts, signature)
	if err := e.FetchJSON(ctx, cacheURL, headers, &cache); err != nil {
		return nil, e.wrap(err, "unable to resolve stream URL")
	}
	if cache.M3U8File == "" {
		return nil, e.fail("unable to resolve stream URL")
	}

	manifestURL := urlutil.JoinOrigin(e.origin, cache.M3U8File)
	if !strings.Contains(manifestURL, "sign=") {
		manifestURL = urlutil.AppendQuery(manifestURL, "sign", signature)
	}

	encryptFlag := scan.StringField(player, "encrypt")
	if encryptFlag == "" {
		encryptFlag = "0"
	}
	manifestURL = decodeIfNeeded(manifestURL, encryptFlag)

	formats, err := e.hls.ExpandHLS(ctx, manifestURL, headers)
	if err != nil {
		return nil, e.wrap(err, "unable to load stream manifest")
	}

	page := htmlmeta.MustParse(webpage)
	thumbnail := scan.StringField(player, "poster")
	if thumbnail != "" {
		thumbnail = urlutil.JoinOrigin(e.origin, thumbnail)
	} else {
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

// playerData unpacks the page script when packed and parses the
// player_aaaa object literal.
func (e *ThisAVExtractor) playerData(webpage string) (map[string]any, error) {
	search := webpage
	if idx := packer.Detect(webpage); idx != -1 {
		unpacked, err := packer.Unpack(webpage[idx:])
		if err != nil {
			e.log.Debug("packed script could not be decoded", "error", err)
		} else {
			search = unpacked
		}
	}

	literal, ok := scan.ExtractObject(search, playerObjectRe)
	if !ok {
		return nil, e.fail("unable to locate player metadata")
	}
	player, err := scan.LooseJSON(literal)
	if err != nil {
		return nil, e.wrap(err, "unable to parse player metadata")
	}
	return player, nil
}

// decodeIfNeeded decodes value by the player's encrypt flag: "1" percent
// decoding, "2" base64 then percent decoding, anything else unchanged.
// A base64 failure keeps value as is.
func decodeIfNeeded(value, encryptFlag string) string {
	switch encryptFlag {
	case "1":
		return unquote(value)
	case "2":
		raw, err := base64.StdEncoding.DecodeString(base64Alphabet(value))
		if err != nil {
			return value
		}
		return unquote(strings.ToValidUTF8(string(raw), ""))
	default:
		return value
	}
}

// base64Alphabet drops characters outside the standard base64 alphabet,
// matching the non-validating decoders the players are written against.
func base64Alphabet(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+', r == '/', r == '=':
			return r
		}
		return -1
	}, s)
}

// unquote percent-decodes s leniently: malformed escapes are kept literally
// and '+' is not treated as a space.
func unquote(s string) string {
	if out, err := url.PathUnescape(s); err == nil {
		return out
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := url.PathUnescape(s[i : i+3]); err == nil {
				b.WriteString(v)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// jsonScalar renders a decoded JSON scalar the way it would appear in a URL.
func jsonScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

var _ interfaces.Extractor = (*ThisAVExtractor)(nil)
