package sign

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode inverts SignWithKey. Leading bytes equal to key are lost in the
// integer form, so round-trips only hold for values that do not start with one.
func decode(t *testing.T, signed string, key byte) string {
	t.Helper()
	num := new(big.Int)
	for _, ch := range signed {
		idx := strings.IndexRune(alphabet, ch)
		require.GreaterOrEqual(t, idx, 0, "unexpected symbol %q", ch)
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(idx)))
	}
	data := num.Bytes()
	for i := range data {
		data[i] ^= key
	}
	return string(data)
}

func TestSign_RoundTrip(t *testing.T) {
	values := []string{
		"a",
		"abc",
		"file-key@1700000000",
		"c2c5f9e1-93b8-4e0d@1712345678",
		"ünïcödé@42",
		strings.Repeat("x", 200),
	}

	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			signed := Sign(v)
			assert.NotEmpty(t, signed)
			assert.Equal(t, v, decode(t, signed, DefaultKey))
		})
	}
}

func TestSign_Zero(t *testing.T) {
	assert.Equal(t, "0", Sign(""))
	// Every byte XORs to zero.
	assert.Equal(t, "0", Sign("{{{"))
}

func TestSignWithKey_KnownValues(t *testing.T) {
	// 'a' ^ 0x7B = 0x1A = 26 -> "q"
	assert.Equal(t, "q", Sign("a"))
	// 0x01 with key 0 is 1 -> "1"; 0x3E (62) -> "10"
	assert.Equal(t, "1", SignWithKey("\x01", 0))
	assert.Equal(t, "10", SignWithKey(">", 0))
}

func TestSignWithKey_OnlyAlphabet(t *testing.T) {
	signed := SignWithKey("some/stream/key@1699999999", 0x55)
	for _, ch := range signed {
		assert.Contains(t, alphabet, string(ch))
	}
	assert.Equal(t, "some/stream/key@1699999999", decode(t, signed, 0x55))
}
