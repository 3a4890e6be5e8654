package download

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-fetch-go/pkg/types"
)

func writeFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestResolveFile_PrefersAllowedOverNewerPart(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, filepath.Join(dir, "abc.mp4"), now.Add(-time.Hour))
	writeFile(t, filepath.Join(dir, "abc.mp4.part"), now)

	path, err := ResolveFile(dir, "abc", []string{"mp4", "webm"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc.mp4"), path)
}

func TestResolveFile_NewestAllowed(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFile(t, filepath.Join(dir, "abc.webm"), now.Add(-time.Hour))
	writeFile(t, filepath.Join(dir, "abc.MKV"), now)
	writeFile(t, filepath.Join(dir, "other.mp4"), now.Add(time.Hour))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "abc.mp4"), 0o755))

	path, err := ResolveFile(dir, "abc", []string{".webm", "mkv", "mp4"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc.MKV"), path)
}

func TestResolveFile_FallsBackToAnyFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "abc.flv"), time.Now())

	path, err := ResolveFile(dir, "abc", []string{"mp4"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc.flv"), path)
}

func TestResolveFile_LiteralDirectoryName(t *testing.T) {
	for _, name := range []string{"Videos [2024]", "clips*", "what?"} {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.Mkdir(dir, 0o755))
			writeFile(t, filepath.Join(dir, "abc.mp4"), time.Now())

			path, err := ResolveFile(dir, "abc", []string{"mp4"})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "abc.mp4"), path)
		})
	}
}

func TestResolveFile_IgnoresOtherStems(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "abcd.mp4"), time.Now())
	writeFile(t, filepath.Join(dir, "abc"), time.Now())

	_, err := ResolveFile(dir, "abc", []string{"mp4"})
	assert.ErrorIs(t, err, types.ErrNoFile)
}

func TestResolveFile_MissingDir(t *testing.T) {
	_, err := ResolveFile(filepath.Join(t.TempDir(), "gone"), "abc", []string{"mp4"})
	assert.ErrorIs(t, err, types.ErrNoFile)
}

func TestResolveFile_None(t *testing.T) {
	_, err := ResolveFile(t.TempDir(), "abc", []string{"mp4"})
	assert.ErrorIs(t, err, types.ErrNoFile)
}

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in, expected string
	}{
		{"My cool movie.mov", "My_cool_movie.mov"},
		{"../../../etc/passwd", "etc_passwd"},
		{"i contain cool ümläuts.txt", "i_contain_cool_umlauts.txt"},
		{"  leading and trailing  ", "leading_and_trailing"},
		{"日本語", ""},
		{"a:b*c?d", "abcd"},
		{"ＡＢＣ", "ABC"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, SecureFilename(tt.in))
		})
	}
}

func TestSafeBaseName(t *testing.T) {
	long := strings.Repeat("a", 100)

	tests := []struct {
		name, title, preferred, expected string
	}{
		{"title", "Hello World", "", "Hello_World"},
		{"preferred wins", "Hello World", "my clip", "my_clip"},
		{"empty", "", "", "download"},
		{"unicode only", "日本語", "", "download"},
		{"trim dashes", "__-x-__", "", "x"},
		{"truncated", long, "", long[:80]},
		{"truncate then trim", strings.Repeat("b", 79) + "-c", "", strings.Repeat("b", 79)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SafeBaseName(tt.title, tt.preferred))
		})
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "0123456789abcdef.mp4")
	writeFile(t, src, time.Now())

	final, err := Finalize(src, dir, "Title", "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Title.mp4"), final)
	assert.NoFileExists(t, src)

	again, err := Finalize(final, dir, "Title", "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, final, again)
	assert.FileExists(t, final)
}

func TestFinalize_Collision(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Title.mp4"), time.Now())
	src := filepath.Join(dir, "0123456789abcdef.mp4")
	writeFile(t, src, time.Now())

	final, err := Finalize(src, dir, "Title", "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Title-01234567.mp4"), final)
	assert.FileExists(t, filepath.Join(dir, "Title.mp4"))

	again, err := Finalize(final, dir, "Title", "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, final, again)
}

func TestFinalize_RenameFailureKeepsPath(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "gone.mp4")

	final, err := Finalize(missing, dir, "Title", "abc")
	assert.Error(t, err)
	assert.Equal(t, missing, final)
}

func TestDetectMIME(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "x.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n"), 0o644))
	assert.Equal(t, "image/png", DetectMIME(png))

	unknown := filepath.Join(dir, "blob.zzunknown")
	require.NoError(t, os.WriteFile(unknown, []byte{0x00, 0x01, 0x02, 0x03}, 0o644))
	assert.Equal(t, "application/octet-stream", DetectMIME(unknown))

	assert.Equal(t, "application/octet-stream", DetectMIME(filepath.Join(dir, "missing")))
}
