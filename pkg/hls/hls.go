// Package hls expands HLS manifests into concrete formats.
package hls

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"media-fetch-go/pkg/httpclient"
	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/logging"
	"media-fetch-go/pkg/types"
	"media-fetch-go/pkg/urlutil"
)

// ErrNotPlaylist is returned when the body is not an M3U8 playlist.
var ErrNotPlaylist = errors.New("response is not an HLS playlist")

const maxManifestSize = 4 << 20

// Expander fetches master playlists and lists their variants.
type Expander struct {
	client interfaces.HTTPClient
	log    *logging.Logger
}

// NewExpander creates an HLS expander.
func NewExpander(client interfaces.HTTPClient, log *logging.Logger) *Expander {
	return &Expander{
		client: client,
		log:    log.WithComponent("hls"),
	}
}

// ExpandHLS fetches manifestURL with headers and returns one format per
// variant stream, ordered from lowest to highest quality. A media playlist
// yields a single format pointing at manifestURL. headers are attached to
// every returned format.
func (e *Expander) ExpandHLS(ctx context.Context, manifestURL string, headers map[string]string) ([]types.Format, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpclient.ApplyHeaders(req, headers)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	formats, err := Parse(body, manifestURL, headers)
	if err != nil {
		return nil, err
	}
	e.log.Debug("expanded manifest", "url", manifestURL, "formats", len(formats))
	return formats, nil
}

// Parse lists the formats described by manifest, resolving variant URIs
// against manifestURL.
func Parse(manifest []byte, manifestURL string, headers map[string]string) ([]types.Format, error) {
	trimmed := bytes.TrimLeft(manifest, "\ufeff \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("#EXTM3U")) {
		return nil, ErrNotPlaylist
	}

	var (
		formats []types.Format
		pending map[string]string
	)
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 64*1024), maxManifestSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pending = ParseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
		case strings.HasPrefix(line, "#"):
			continue
		case pending != nil:
			formats = append(formats, variantFormat(pending, urlutil.ResolveURL(line, manifestURL), headers))
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan manifest: %w", err)
	}

	if len(formats) == 0 {
		return []types.Format{{
			URL:         manifestURL,
			Ext:         "mp4",
			Protocol:    types.ProtocolHLS,
			FormatID:    "hls",
			HTTPHeaders: headers,
		}}, nil
	}

	sort.SliceStable(formats, func(i, j int) bool {
		if formats[i].Height != formats[j].Height {
			return formats[i].Height < formats[j].Height
		}
		return formats[i].TBR < formats[j].TBR
	})
	uniqueFormatIDs(formats)
	return formats, nil
}

func variantFormat(attrs map[string]string, uri string, headers map[string]string) types.Format {
	f := types.Format{
		URL:         uri,
		Ext:         "mp4",
		Protocol:    types.ProtocolHLS,
		HTTPHeaders: headers,
	}

	bandwidth := attrs["AVERAGE-BANDWIDTH"]
	if bandwidth == "" {
		bandwidth = attrs["BANDWIDTH"]
	}
	if bw, err := strconv.ParseFloat(bandwidth, 64); err == nil && bw > 0 {
		f.TBR = bw / 1000
	}

	if w, h, ok := strings.Cut(attrs["RESOLUTION"], "x"); ok {
		f.Width, _ = strconv.Atoi(w)
		f.Height, _ = strconv.Atoi(h)
	}

	switch {
	case f.TBR > 0:
		f.FormatID = fmt.Sprintf("hls-%d", int(f.TBR+0.5))
	case f.Height > 0:
		f.FormatID = fmt.Sprintf("hls-%dp", f.Height)
	default:
		f.FormatID = "hls"
	}
	return f
}

// uniqueFormatIDs suffixes repeated format ids with their occurrence.
func uniqueFormatIDs(formats []types.Format) {
	seen := make(map[string]int, len(formats))
	for i := range formats {
		id := formats[i].FormatID
		seen[id]++
		if n := seen[id]; n > 1 {
			formats[i].FormatID = fmt.Sprintf("%s-%d", id, n-1)
		}
	}
}

// ParseAttributes parses an M3U8 attribute list (KEY=VALUE,KEY="quoted,value").
// Quotes are removed from quoted values.
func ParseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for len(s) > 0 {
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			break
		}
		key = strings.TrimSpace(key)

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end == -1 {
				value, s = rest[1:], ""
			} else {
				value = rest[1 : end+1]
				s = strings.TrimPrefix(rest[end+2:], ",")
			}
		} else {
			value, s, _ = strings.Cut(rest, ",")
		}
		attrs[strings.ToUpper(key)] = strings.TrimSpace(value)
	}
	return attrs
}
