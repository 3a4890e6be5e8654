// Package format chooses what to download: the selector handed to the
// generic resolver and the best entry of a bespoke format list.
package format

import (
	"net/url"
	"strings"

	"media-fetch-go/pkg/types"
)

const (
	// YouTube prefers H.264 + AAC in MP4 so the file plays everywhere.
	youtubeSelector = "bestvideo[ext=mp4][vcodec^=avc1]+bestaudio[ext=m4a][acodec^=mp4a]/" +
		"bestvideo[ext=mp4][vcodec^=avc1]+bestaudio[ext=m4a]/" +
		"best[ext=mp4][acodec!=none][vcodec^=avc1]/" +
		"best[ext=mp4][acodec!=none]/best[ext=mp4]/best"

	bilibiliSelector = "bestvideo[ext=mp4][vcodec^=avc1]+bestaudio[ext=m4a]/" +
		"bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

	defaultSelector = "bestvideo*+bestaudio/best"
)

var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true, "gif": true, "heic": true,
}

// Host returns the lowercased hostname of rawURL, or "" if it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsYouTubeHost reports whether host belongs to the YouTube family.
func IsYouTubeHost(host string) bool {
	return strings.HasSuffix(host, "youtube.com") ||
		strings.HasSuffix(host, "youtu.be") ||
		strings.HasSuffix(host, "music.youtube.com")
}

func isBilibiliHost(host string) bool {
	return strings.Contains(host, "bilibili.com") ||
		strings.HasSuffix(host, ".bilibili.com") ||
		host == "b23.tv"
}

// SelectPreference returns the generic resolver's format selector for rawURL.
func SelectPreference(rawURL string) string {
	host := Host(rawURL)
	switch {
	case IsYouTubeHost(host):
		return youtubeSelector
	case isBilibiliHost(host):
		return bilibiliSelector
	default:
		return defaultSelector
	}
}

// Best picks the preferred entry of a bespoke format list: video before
// image, then highest height, bitrate and file size. Ties keep the earlier
// entry.
func Best(formats []types.Format) (types.Format, bool) {
	if len(formats) == 0 {
		return types.Format{}, false
	}
	best := formats[0]
	for _, f := range formats[1:] {
		if better(f, best) {
			best = f
		}
	}
	return best, true
}

func better(a, b types.Format) bool {
	if ai, bi := IsImage(a), IsImage(b); ai != bi {
		return bi
	}
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	if a.TBR != b.TBR {
		return a.TBR > b.TBR
	}
	return a.Filesize > b.Filesize
}

// IsImage reports whether f is a still image rather than a stream.
func IsImage(f types.Format) bool {
	return imageExts[strings.ToLower(f.Ext)]
}
