// Package urlutil provides URL manipulation utilities that preserve original encoding.
package urlutil

import (
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative URL against a base URL.
// Uses string manipulation to preserve original URL encoding: url.ResolveReference
// re-encodes characters that some CDNs sign verbatim.
func ResolveURL(urlStr string, baseURL string) string {
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr
	}

	if strings.HasPrefix(urlStr, "//") {
		scheme := "https"
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Scheme != "" {
			scheme = parsed.Scheme
		}
		return scheme + ":" + urlStr
	}

	if strings.HasPrefix(urlStr, "/") {
		if origin := BuildOrigin(baseURL); origin != "" {
			return origin + urlStr
		}
	}

	base := baseURL
	if idx := strings.IndexAny(base, "?#"); idx > 0 {
		base = base[:idx]
	}
	if lastSlash := strings.LastIndex(base, "/"); lastSlash > 0 {
		base = base[:lastSlash+1]
	}

	remaining := urlStr
	for strings.HasPrefix(remaining, "../") {
		remaining = remaining[3:]
		trimmed := strings.TrimSuffix(base, "/")
		// Never climb above scheme://host/.
		if lastSlash := strings.LastIndex(trimmed, "/"); lastSlash >= len(BuildOrigin(baseURL)) {
			base = trimmed[:lastSlash+1]
		}
	}
	remaining = strings.TrimPrefix(remaining, "./")

	return base + remaining
}

// BuildOrigin returns scheme://host for rawURL, or "" when either is missing.
func BuildOrigin(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// Hostname returns the lower-cased host of rawURL without port.
func Hostname(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// JoinOrigin makes path absolute on origin unless it already is an http(s) URL.
func JoinOrigin(origin, path string) string {
	if strings.HasPrefix(path, "http") {
		return path
	}
	return strings.TrimRight(origin, "/") + "/" + strings.TrimLeft(path, "/")
}

// AppendQuery appends key=value to rawURL verbatim, choosing ? or & as needed.
func AppendQuery(rawURL, key, value string) string {
	joiner := "?"
	if strings.Contains(rawURL, "?") {
		joiner = "&"
	}
	return rawURL + joiner + key + "=" + value
}
