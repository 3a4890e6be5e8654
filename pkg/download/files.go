package download

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/unicode/norm"

	"media-fetch-go/pkg/types"
)

const (
	maxBaseNameLen  = 80
	defaultBaseName = "download"
	octetStream     = "application/octet-stream"
)

// ResolveFile returns the newest regular file named {id}.* in dir. Files with
// an allowed extension win over any other file, however new.
func ResolveFile(dir, id string, allowedExtensions []string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", types.ErrNoFile
		}
		return "", fmt.Errorf("failed to read %s: %w", dir, err)
	}

	allowed := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	type candidate struct {
		path string
		info os.FileInfo
	}
	var all, preferred []candidate
	prefix := id + "."
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		c := candidate{path: path, info: info}
		all = append(all, c)
		if allowed[strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))] {
			preferred = append(preferred, c)
		}
	}
	if len(preferred) > 0 {
		all = preferred
	}
	if len(all) == 0 {
		return "", types.ErrNoFile
	}

	newest := all[0]
	for _, c := range all[1:] {
		if c.info.ModTime().After(newest.info.ModTime()) {
			newest = c
		}
	}
	return newest.path, nil
}

// SecureFilename reduces name to a portable ASCII file name: compatibility
// decomposed, non-ASCII dropped, '/' and whitespace runs turned
// into "_", anything outside [A-Za-z0-9_.-] removed and "._" trimmed.
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)
	name = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		if r == '/' {
			return ' '
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), "_")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		}
		return -1
	}, name)
	return strings.Trim(name, "._")
}

func cleanBaseName(name string) string {
	name = SecureFilename(name)
	if name == "" {
		return defaultBaseName
	}
	if len(name) > maxBaseNameLen {
		name = name[:maxBaseNameLen]
	}
	if name = strings.Trim(name, "-_"); name == "" {
		return defaultBaseName
	}
	return name
}

// SafeBaseName returns the final file stem: preferredStem when set, else the
// title, both sanitized and capped at 80 characters.
func SafeBaseName(title, preferredStem string) string {
	base := preferredStem
	if base == "" {
		base = cleanBaseName(title)
	}
	return cleanBaseName(base)
}

// Finalize renames path to dir/{base}{ext}. When another file already has
// that name, the first 8 characters of id are appended to the stem. A failed
// rename keeps path. Calling it again on its own result is a no-op.
func Finalize(path, dir, base, id string) (string, error) {
	ext := filepath.Ext(path)
	final := filepath.Join(dir, base+ext)
	if sameFile(path, final) {
		return path, nil
	}
	if _, err := os.Stat(final); err == nil {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		final = filepath.Join(dir, base+"-"+short+ext)
		if sameFile(path, final) {
			return path, nil
		}
	}
	if err := os.Rename(path, final); err != nil {
		return path, err
	}
	return final, nil
}

func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// DetectMIME guesses the type from the extension, then from the content.
func DetectMIME(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	if m, err := mimetype.DetectFile(path); err == nil && m.String() != octetStream {
		return m.String()
	}
	return octetStream
}
