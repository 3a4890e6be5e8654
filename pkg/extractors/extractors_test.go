package extractors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/sign"
	"media-fetch-go/pkg/types"
)

// fakeSite sends every request to a local server regardless of the
// requested host, so extractors can keep their real URLs.
type fakeSite struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []string
}

func newFakeSite(t *testing.T, handler http.Handler) *fakeSite {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &fakeSite{srv: srv}
}

func (f *fakeSite) rewrite(req *http.Request) *http.Request {
	f.mu.Lock()
	f.requests = append(f.requests, req.URL.String())
	f.mu.Unlock()

	target, _ := url.Parse(f.srv.URL)
	out := req.Clone(req.Context())
	out.URL.Scheme = target.Scheme
	out.URL.Host = target.Host
	out.Host = ""
	return out
}

func (f *fakeSite) Do(req *http.Request) (*http.Response, error) {
	return http.DefaultTransport.RoundTrip(f.rewrite(req))
}

func (f *fakeSite) DoNoRedirect(req *http.Request) (*http.Response, error) {
	return http.DefaultTransport.RoundTrip(f.rewrite(req))
}

// fakeExpander records the manifest request and returns a single variant.
type fakeExpander struct {
	url     string
	headers map[string]string
}

func (f *fakeExpander) ExpandHLS(_ context.Context, manifestURL string, headers map[string]string) ([]types.Format, error) {
	f.url = manifestURL
	f.headers = headers
	return []types.Format{{URL: manifestURL, Ext: "mp4", Protocol: types.ProtocolHLS, FormatID: "hls-720p", Height: 720}}, nil
}

func serveHTML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, body)
	}
}

func serveJSON(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
}

func TestExtractorsMatchAndID(t *testing.T) {
	log := logging.Nop()
	site := &fakeSite{}
	exp := &fakeExpander{}

	douyin := NewDouyinExtractor(site, nil, log)
	threads := NewThreadsExtractor(site, nil, log)
	kuaishou := NewKuaishouExtractor(site, nil, log)
	thisav := NewThisAVExtractor(site, exp, nil, log)
	missav := NewMissAVExtractor(site, exp, nil, log)
	avgl := NewAVGLExtractor(site, exp, nil, log)

	tests := []struct {
		name      string
		match     func(string) bool
		id        func(string) string
		url       string
		wantMatch bool
		wantID    string
	}{
		{"douyin video", douyin.CanExtract, douyin.ExtractID, "https://www.douyin.com/video/7301234567890", true, "7301234567890"},
		{"douyin share", douyin.CanExtract, douyin.ExtractID, "https://douyin.com/share/video/42?x=1", true, "42"},
		{"douyin modal", douyin.CanExtract, douyin.ExtractID, "https://www.douyin.com/jingxuan?modal_id=555", true, "555"},
		{"douyin discover", douyin.CanExtract, douyin.ExtractID, "https://www.douyin.com/discover", true, "douyin"},
		{"douyin user", douyin.CanExtract, douyin.ExtractID, "https://www.douyin.com/user/abc", false, "douyin"},
		{"threads post", threads.CanExtract, threads.ExtractID, "https://www.threads.com/@someone/post/C1a_b-2", true, "C1a_b-2"},
		{"threads media", threads.CanExtract, threads.ExtractID, "https://threads.com/@someone/post/Xyz/media", true, "Xyz"},
		{"threads profile", threads.CanExtract, threads.ExtractID, "https://www.threads.com/@someone", false, ""},
		{"kuaishou video", kuaishou.CanExtract, kuaishou.ExtractID, "https://www.kuaishou.com/short-video/3xabc123", true, "3xabc123"},
		{"kuaishou fw", kuaishou.CanExtract, kuaishou.ExtractID, "https://www.kuaishou.com/fw/short-video/3xdef", true, "3xdef"},
		{"kuaishou share", kuaishou.CanExtract, kuaishou.ExtractID, "https://kuaishou.com/f/X-5abc", true, "X-5abc"},
		{"thisav", thisav.CanExtract, thisav.ExtractID, "https://thisav.biz/thisav/abc-123.html", true, "abc-123"},
		{"thisav lang", thisav.CanExtract, thisav.ExtractID, "https://www.thisav.biz/en/thisav/xyz", true, "xyz"},
		{"missav", missav.CanExtract, missav.ExtractID, "https://missav.ws/en/abc-123", true, "abc-123"},
		{"missav nested", missav.CanExtract, missav.ExtractID, "https://missav.ws/dm1/en/abc-123/", true, "abc-123"},
		{"avgl", avgl.CanExtract, avgl.ExtractID, "https://av.gl/videos/v1?ref=x", true, "v1"},
		{"avgl lang", avgl.CanExtract, avgl.ExtractID, "https://www.av.gl/ja/videos/v2", true, "v2"},
		{"avgl home", avgl.CanExtract, avgl.ExtractID, "https://av.gl/", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMatch, tt.match(tt.url))
			assert.Equal(t, tt.wantID, tt.id(tt.url))
		})
	}
}

func renderData(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return url.PathEscape(string(raw))
}

func TestDouyinExtract(t *testing.T) {
	data := map[string]any{"app": map[string]any{"videoDetail": map[string]any{
		"awemeId": "7300000000001",
		"desc":    "  dancing cat  ",
		"video": map[string]any{
			"bitRateList": []any{
				map[string]any{"playAddr": []any{map[string]any{"src": "https://v.douyin.test/1080.mp4"}}, "gearName": "normal_1080_0", "bitRate": 2048000, "width": 1080, "height": 1920, "dataSize": 1234567},
				map[string]any{"playAddr": []any{map[string]any{"src": "https://v.douyin.test/720.mp4"}}, "qualityType": 10, "bitRate": 1024000, "format": "mp4"},
				map[string]any{"playAddr": []any{}},
			},
			"coverUrlList": []any{"https://p.douyin.test/cover.jpg"},
		},
	}}}

	mux := http.NewServeMux()
	mux.HandleFunc("/video/7300000000001", serveHTML(`<html><head></head><body><script id="RENDER_DATA" type="application/json">`+renderData(t, data)+`</script></body></html>`))
	site := newFakeSite(t, mux)

	e := NewDouyinExtractor(site, nil, logging.Nop())
	res, err := e.Extract(context.Background(), "https://www.douyin.com/video/7300000000001")
	require.NoError(t, err)

	assert.Equal(t, "7300000000001", res.ID)
	assert.Equal(t, "dancing cat", res.Title)
	assert.Equal(t, "https://p.douyin.test/cover.jpg", res.Thumbnail)
	require.Len(t, res.Formats, 2)
	assert.Equal(t, types.Format{
		URL: "https://v.douyin.test/1080.mp4", Ext: "mp4", Protocol: types.ProtocolHTTPS,
		Width: 1080, Height: 1920, TBR: 2048, Filesize: 1234567, FormatID: "normal_1080_0",
	}, res.Formats[0])
	assert.Equal(t, "q10", res.Formats[1].FormatID)
}

func TestDouyinExtract_ModalFallback(t *testing.T) {
	data := map[string]any{"app": map[string]any{"videoDetail": map[string]any{
		"itemTitle": "fallback title",
		"video": map[string]any{
			"playAddr": []any{map[string]any{"src": "https://v.douyin.test/a.mp4"}, map[string]any{"src": ""}},
		},
	}}}

	mux := http.NewServeMux()
	mux.HandleFunc("/jingxuan", serveHTML(`<html><head><meta property="og:image" content="https://og.test/i.jpg"></head></html>`))
	mux.HandleFunc("/video/555", serveHTML(`<html><head><meta property="og:image" content="https://og.test/i.jpg"></head><body><script id="RENDER_DATA">`+renderData(t, data)+`</script></body></html>`))
	site := newFakeSite(t, mux)

	e := NewDouyinExtractor(site, nil, logging.Nop())
	res, err := e.Extract(context.Background(), "https://www.douyin.com/jingxuan?modal_id=555")
	require.NoError(t, err)

	assert.Equal(t, "555", res.ID)
	assert.Equal(t, "fallback title", res.Title)
	assert.Equal(t, "https://og.test/i.jpg", res.Thumbnail)
	require.Len(t, res.Formats, 1)
	assert.Equal(t, "https://v.douyin.test/a.mp4", res.Formats[0].URL)
	assert.Equal(t, "mp4", res.Formats[0].Ext)
}

func TestDouyinExtract_Failures(t *testing.T) {
	empty := map[string]any{"app": map[string]any{"videoDetail": map[string]any{"desc": "x", "video": map[string]any{}}}}

	mux := http.NewServeMux()
	mux.HandleFunc("/video/1", serveHTML(`<html><body>nothing here</body></html>`))
	mux.HandleFunc("/video/2", serveHTML(`<script id="RENDER_DATA">`+renderData(t, empty)+`</script>`))
	site := newFakeSite(t, mux)
	e := NewDouyinExtractor(site, nil, logging.Nop())

	_, err := e.Extract(context.Background(), "https://www.douyin.com/video/1")
	assert.ErrorIs(t, err, types.ErrExtraction)

	_, err = e.Extract(context.Background(), "https://www.douyin.com/video/2")
	assert.ErrorIs(t, err, types.ErrNoFormats)
	var extErr *types.ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "douyin", extErr.Extractor)
}

func TestThreadsExtract_Videos(t *testing.T) {
	page := `<html><head>
<meta property="og:title" content="A post">
<meta property="og:image" content="https://cdn.threads.test/thumb.jpg">
</head><body><script>
{"video_versions":[{"type":101,"url":"https:\/\/cdn.threads.test\/hd.mp4?a=1\u0026b=2","width":1080,"height":1920},{"type":102,"url":"https:\/\/cdn.threads.test\/sd.mp4"}]}
</script></body></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("/@someone/post/ABC", serveHTML(page))
	site := newFakeSite(t, mux)

	pageURL := "https://www.threads.com/@someone/post/ABC"
	res, err := NewThreadsExtractor(site, nil, logging.Nop()).Extract(context.Background(), pageURL)
	require.NoError(t, err)

	assert.Equal(t, "ABC", res.ID)
	assert.Equal(t, "A post", res.Title)
	assert.Equal(t, "https://cdn.threads.test/thumb.jpg", res.Thumbnail)
	require.Len(t, res.Formats, 2)
	assert.Equal(t, "https://cdn.threads.test/hd.mp4?a=1&b=2", res.Formats[0].URL)
	assert.Equal(t, 1080, res.Formats[0].Width)
	assert.Equal(t, 1920, res.Formats[0].Height)
	assert.Equal(t, "https://cdn.threads.test/sd.mp4", res.Formats[1].URL)
	assert.Zero(t, res.Formats[1].Width)
	for _, f := range res.Formats {
		assert.Equal(t, "mp4", f.Ext)
		assert.Equal(t, map[string]string{"Referer": pageURL, "Origin": "https://www.threads.com"}, f.HTTPHeaders)
	}
}

func TestThreadsExtract_ImageFallback(t *testing.T) {
	page := `<script>{"image_versions2":{"candidates":[{"width":640,"url":"https:\/\/cdn.threads.test\/img.jpg"},{"url":"https:\/\/cdn.threads.test\/small.jpg"}]}}</script>`

	mux := http.NewServeMux()
	mux.HandleFunc("/@someone/post/IMG", serveHTML(page))
	mux.HandleFunc("/@someone/post/NONE", serveHTML(`<html></html>`))
	site := newFakeSite(t, mux)
	e := NewThreadsExtractor(site, nil, logging.Nop())

	res, err := e.Extract(context.Background(), "https://www.threads.com/@someone/post/IMG")
	require.NoError(t, err)
	require.Len(t, res.Formats, 1)
	assert.Equal(t, "https://cdn.threads.test/img.jpg", res.Formats[0].URL)
	assert.Equal(t, "jpg", res.Formats[0].Ext)
	assert.Equal(t, "IMG", res.Title)

	_, err = e.Extract(context.Background(), "https://www.threads.com/@someone/post/NONE")
	assert.ErrorIs(t, err, types.ErrNoFormats)
}

func kuaishouMux(t *testing.T, graphql http.HandlerFunc) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/f/share1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://www.kuaishou.com/short-video/3xvid?from=share", http.StatusFound)
	})
	mux.HandleFunc("/short-video/3xvid", serveHTML(`<html><head><meta property="og:title" content="Page title"></head></html>`))
	mux.HandleFunc("/graphql", graphql)
	return mux
}

func TestKuaishouExtract_ShareLink(t *testing.T) {
	var gotPayload kuaishouRequest
	var gotOrigin string
	mux := kuaishouMux(t, func(w http.ResponseWriter, r *http.Request) {
		gotOrigin = r.Header.Get("Origin")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		serveJSON(map[string]any{"data": map[string]any{"visionVideoDetail": map[string]any{"photo": map[string]any{
			"id":           "3xvid",
			"duration":     15500,
			"caption":      "",
			"coverUrl":     "https://cover.test/c.jpg",
			"photoUrl":     "https://v.test/h264.mp4",
			"photoH265Url": "https://v.test/hevc.mp4",
			"manifest": map[string]any{"adaptationSet": []any{map[string]any{"representation": []any{
				map[string]any{"url": "https://v.test/720.mp4", "backupUrl": []any{"https://b.test/720.mp4", ""}, "width": 720, "height": 1280, "avgBitrate": 1500, "qualityType": "720p"},
				map[string]any{"url": "https://v.test/x.mp4", "qualityLabel": "HD"},
				map[string]any{"url": "https://v.test/y.mp4"},
			}}}},
		}}}})(w, r)
	})
	site := newFakeSite(t, mux)

	res, err := NewKuaishouExtractor(site, nil, logging.Nop()).Extract(context.Background(), "https://www.kuaishou.com/f/share1")
	require.NoError(t, err)

	assert.Equal(t, "visionVideoDetail", gotPayload.OperationName)
	assert.Equal(t, map[string]string{"photoId": "3xvid", "page": "detail"}, gotPayload.Variables)
	assert.Contains(t, gotPayload.Query, "photoH265Url")
	assert.Equal(t, "https://www.kuaishou.com", gotOrigin)

	assert.Equal(t, "3xvid", res.ID)
	assert.Equal(t, "Page title", res.Title)
	assert.Equal(t, 15.5, res.Duration)
	assert.Equal(t, "https://cover.test/c.jpg", res.Thumbnail)
	assert.Equal(t, "https://www.kuaishou.com/short-video/3xvid?from=share", res.WebpageURL)

	ids := make([]string, 0, len(res.Formats))
	for _, f := range res.Formats {
		ids = append(ids, f.FormatID)
		assert.Equal(t, "https://www.kuaishou.com/short-video/3xvid?from=share", f.HTTPHeaders["Referer"])
	}
	assert.Equal(t, []string{"h264", "hevc", "720p", "backup", "HD", "main"}, ids)
	assert.Equal(t, 1.5, res.Formats[2].TBR)
	assert.Equal(t, 720, res.Formats[3].Width)
}

func TestKuaishouExtract_Verification(t *testing.T) {
	mux := kuaishouMux(t, serveJSON(map[string]any{"data": map[string]any{"result": 2}}))
	site := newFakeSite(t, mux)

	_, err := NewKuaishouExtractor(site, nil, logging.Nop()).Extract(context.Background(), "https://www.kuaishou.com/short-video/3xvid")
	assert.ErrorIs(t, err, types.ErrVerificationRequired)
}

func TestKuaishouExtract_NoFormats(t *testing.T) {
	mux := kuaishouMux(t, serveJSON(map[string]any{"data": map[string]any{"visionVideoDetail": map[string]any{"photo": map[string]any{"id": "3xvid"}}}}))
	site := newFakeSite(t, mux)

	_, err := NewKuaishouExtractor(site, nil, logging.Nop()).Extract(context.Background(), "https://www.kuaishou.com/short-video/3xvid")
	assert.ErrorIs(t, err, types.ErrNoFormats)
}

func TestKuaishouExtract_UnresolvedShare(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/f/dead", serveHTML("gone"))
	site := newFakeSite(t, mux)

	_, err := NewKuaishouExtractor(site, nil, logging.Nop()).Extract(context.Background(), "https://www.kuaishou.com/f/dead")
	assert.ErrorIs(t, err, types.ErrExtraction)
}

func TestThisAVExtract(t *testing.T) {
	page := `<html><head><meta property="og:title" content="Some title"></head><body>
<script>var player_aaaa={"url":"abc123","encrypt":0,"poster":"/img/p.jpg"};</script></body></html>`

	var gotTokenFile string
	mux := http.NewServeMux()
	mux.HandleFunc("/thisav/abc-123.html", serveHTML(page))
	mux.HandleFunc("/token.php", func(w http.ResponseWriter, r *http.Request) {
		gotTokenFile = r.URL.Query().Get("file")
		serveJSON(map[string]any{"token": "tok", "ts": 1700000000})(w, r)
	})
	mux.HandleFunc("/save_m3u8_cache.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		assert.Equal(t, "1700000000", r.URL.Query().Get("ts"))
		assert.Equal(t, sign.Sign("abc123@1700000000"), r.URL.Query().Get("sign"))
		serveJSON(map[string]any{"m3u8_file": "/hls/abc123/index.m3u8"})(w, r)
	})
	site := newFakeSite(t, mux)
	exp := &fakeExpander{}

	pageURL := "https://thisav.biz/thisav/abc-123.html"
	res, err := NewThisAVExtractor(site, exp, nil, logging.Nop()).Extract(context.Background(), pageURL)
	require.NoError(t, err)

	assert.Equal(t, "abc123", gotTokenFile)
	assert.Equal(t, "https://thisav.biz/hls/abc123/index.m3u8?sign="+sign.Sign("abc123@1700000000"), exp.url)
	assert.Equal(t, map[string]string{"Referer": pageURL, "Origin": "https://thisav.biz"}, exp.headers)
	assert.Equal(t, "abc-123", res.ID)
	assert.Equal(t, "Some title", res.Title)
	assert.Equal(t, "https://thisav.biz/img/p.jpg", res.Thumbnail)
	assert.Equal(t, 18, res.AgeLimit)
	require.Len(t, res.Formats, 1)
}

func TestThisAVExtract_PackedPlayer(t *testing.T) {
	// Unpacks to: var player_aaaa={url:"abc123",encrypt:1,poster:"/img/abc123.jpg"};
	page := `<html><head><meta property="og:title" content="Packed title"></head><body>
<script>eval(function(p,a,c,k,e,d){}('var 1={2:"3",4:0,5:"/6/3.jpg"};',62,7,'1|player_aaaa|url|abc123|encrypt|poster|img'.split('|'),0,{}))</script>
</body></html>`

	signature := sign.Sign("abc123@1700000000")
	var gotTokenFile string
	mux := http.NewServeMux()
	mux.HandleFunc("/thisav/abc-123.html", serveHTML(page))
	mux.HandleFunc("/token.php", func(w http.ResponseWriter, r *http.Request) {
		gotTokenFile = r.URL.Query().Get("file")
		serveJSON(map[string]any{"token": "tok", "ts": "1700000000"})(w, r)
	})
	mux.HandleFunc("/save_m3u8_cache.php", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(map[string]any{"m3u8_file": "/hls/abc123/index%2Em3u8"})(w, r)
	})
	site := newFakeSite(t, mux)
	exp := &fakeExpander{}

	pageURL := "https://thisav.biz/thisav/abc-123.html"
	res, err := NewThisAVExtractor(site, exp, nil, logging.Nop()).Extract(context.Background(), pageURL)
	require.NoError(t, err)

	assert.Equal(t, "abc123", gotTokenFile)
	assert.Equal(t, "https://thisav.biz/hls/abc123/index.m3u8?sign="+signature, exp.url)
	assert.Equal(t, "https://thisav.biz/img/abc123.jpg", res.Thumbnail)
	assert.Equal(t, "Packed title", res.Title)
}

func TestThisAVExtract_MissingPlayer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/thisav/none", serveHTML(`<html></html>`))
	site := newFakeSite(t, mux)

	_, err := NewThisAVExtractor(site, &fakeExpander{}, nil, logging.Nop()).Extract(context.Background(), "https://thisav.biz/thisav/none")
	assert.ErrorIs(t, err, types.ErrExtraction)
}

func TestDecodeIfNeeded(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("https%3A%2F%2Fcdn.test%2Fa.m3u8"))
	tests := []struct {
		name, value, flag, expected string
	}{
		{"plain", "https%3A%2F%2Fcdn.test", "0", "https%3A%2F%2Fcdn.test"},
		{"percent", "https%3A%2F%2Fcdn.test%2Fa%20b", "1", "https://cdn.test/a b"},
		{"percent malformed", "a%zz%41", "1", "a%zzA"},
		{"base64", encoded, "2", "https://cdn.test/a.m3u8"},
		{"base64 with junk", encoded[:8] + "$" + encoded[8:], "2", "https://cdn.test/a.m3u8"},
		{"base64 invalid", "abc", "2", "abc"},
		{"unknown flag", "x%20y", "9", "x%20y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, decodeIfNeeded(tt.value, tt.flag))
		})
	}
}

func TestMissAVExtract(t *testing.T) {
	page := `<html><head><meta property="og:title" content="MissAV title"></head><body>
<script>eval(function(p,a,c,k,e,d){}('0',2,2,'m3u8|aaaa|bbbb|cccc|dddd|eeee|net|fastcdn|https|playlist'.split('|'),0,{}))</script>
<script>eval(function(p,a,c,k,e,d){}('0',2,2,'m3u8|e5f6|c3d4|a1b2|7890|1234|com|surrit|https|video|720p|source'.split('|'),0,{}))</script>
</body></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("/en/abc-123", serveHTML(page))
	site := newFakeSite(t, mux)
	exp := &fakeExpander{}

	pageURL := "https://missav.ws/en/abc-123"
	res, err := NewMissAVExtractor(site, exp, nil, logging.Nop()).Extract(context.Background(), pageURL)
	require.NoError(t, err)

	assert.Equal(t, "https://surrit.com/1234-7890-a1b2-c3d4-e5f6/720p/video.m3u8", exp.url)
	assert.Equal(t, map[string]string{"Referer": pageURL, "Origin": "https://missav.ws"}, exp.headers)
	assert.Equal(t, "abc-123", res.ID)
	assert.Equal(t, "MissAV title", res.Title)
	assert.Equal(t, 18, res.AgeLimit)
}

func TestBuildMissAVURL(t *testing.T) {
	tests := []struct {
		name     string
		words    []string
		expected string
	}{
		{"playlist", []string{"e", "d", "c", "b", "a", "net", "cdn", "https", "playlist"}, "https://cdn.net/a-b-c-d-e/playlist.m3u8"},
		{"video default quality", []string{"e", "d", "c", "b", "a", "com", "surrit", "http", "video"}, "http://surrit.com/a-b-c-d-e/1080p/video.m3u8"},
		{"video quality", []string{"e", "d", "c", "b", "a", "com", "surrit", "https", "video", "480p"}, "https://surrit.com/a-b-c-d-e/480p/video.m3u8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildMissAVURL(tt.words))
		})
	}
}

func TestMissAVExtract_NoDescriptor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/en/abc-123", serveHTML(`<html></html>`))
	site := newFakeSite(t, mux)

	_, err := NewMissAVExtractor(site, &fakeExpander{}, nil, logging.Nop()).Extract(context.Background(), "https://missav.ws/en/abc-123")
	assert.ErrorIs(t, err, types.ErrExtraction)
}

func TestAVGLExtract(t *testing.T) {
	page := `<html><head><meta property="og:title" content="AVGL title">
<meta itemprop="thumbnailUrl" content="https://img.test/t.jpg"></head>
<body><iframe width="100%" src="/player/?src=file%2F1&amp;autoplay=1"></iframe></body></html>`

	now := time.Unix(1700000000, 0)
	var gotCache url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/videos/v1", serveHTML(page))
	mux.HandleFunc("/player/token.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "file=file/1", r.URL.RawQuery)
		serveJSON(map[string]any{"token": "t k", "ts": "99"})(w, r)
	})
	site := newFakeSite(t, mux)
	exp := &fakeExpander{}

	e := NewAVGLExtractor(site, exp, nil, logging.Nop())
	e.now = func() time.Time { return now }

	pageURL := "https://av.gl/videos/v1"
	res, err := e.Extract(context.Background(), pageURL)
	require.NoError(t, err)

	manifest, err := url.Parse(exp.url)
	require.NoError(t, err)
	gotCache = manifest.Query()
	assert.Equal(t, "/save_m3u8_cache.php", manifest.Path)
	assert.Equal(t, "av.gl", manifest.Host)
	assert.Equal(t, "file/1", gotCache.Get("file"))
	assert.Equal(t, "t k", gotCache.Get("token"))
	assert.Equal(t, "99", gotCache.Get("ts"))
	assert.Equal(t, sign.Sign(fmt.Sprintf("file/1@%d", now.Unix())), gotCache.Get("sign"))
	assert.True(t, strings.Contains(exp.url, "token=t%20k"))

	assert.Equal(t, "v1", res.ID)
	assert.Equal(t, "AVGL title", res.Title)
	assert.Equal(t, "https://img.test/t.jpg", res.Thumbnail)
	assert.Equal(t, 18, res.AgeLimit)
}

func TestAVGLExtract_NoIframe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/videos/v1", serveHTML(`<html><iframe src="/ads/"></iframe></html>`))
	site := newFakeSite(t, mux)

	_, err := NewAVGLExtractor(site, &fakeExpander{}, nil, logging.Nop()).Extract(context.Background(), "https://av.gl/videos/v1")
	assert.ErrorIs(t, err, types.ErrExtraction)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "a/b%20c%2Bd%3D%26~_.-", quote("a/b c+d=&~_.-"))
}

func TestFetchPage_Status(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	site := newFakeSite(t, mux)

	b := NewBaseExtractor("test", site, nil, logging.Nop())
	_, err := b.FetchPage(context.Background(), "https://example.test/blocked", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
