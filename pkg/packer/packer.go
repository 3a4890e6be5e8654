// Package packer inverts the Dean Edwards style P.A.C.K.E.R. JavaScript
// packing scheme: eval(function(p,a,c,k,e,d){...}('payload',base,count,'w0|w1|...'.split('|'),0,{})).
package packer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"media-fetch-go/pkg/scan"
)

// Alphabet is the 62-symbol digit set used for packed tokens.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	ErrNotPacked     = errors.New("packer invocation not found")
	ErrMalformedArgs = errors.New("malformed packer argument list")
	ErrNoDictionary  = errors.New("packer dictionary not found")
	ErrBadBase       = errors.New("invalid packer base")
)

var (
	headerRe       = regexp.MustCompile(`eval\(function\(p,a,c,k,e,[dr]\)`)
	trailingCallRe = regexp.MustCompile(`\)\)\s*;?\s*$`)
)

// Detect returns the index of the first packer invocation in text, or -1.
func Detect(text string) int {
	loc := headerRe.FindStringIndex(text)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// Unpack decodes a packed script. packed must start at (or before) the
// packer invocation marker; anything after the first </script> is ignored.
func Unpack(packed string) (string, error) {
	if end := strings.Index(packed, "</script>"); end != -1 {
		packed = packed[:end]
	}

	argsText, err := invocationArgs(packed)
	if err != nil {
		return "", err
	}

	args := scan.SplitTopLevelArgs(argsText)
	if len(args) < 4 {
		return "", fmt.Errorf("%w: expected at least 4 arguments, got %d", ErrMalformedArgs, len(args))
	}

	payload := args[0]
	if len(payload) >= 2 && (payload[0] == '\'' || payload[0] == '"') {
		payload = unescapeJS(payload[1 : len(payload)-1])
	}

	base, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadBase, args[1])
	}
	if base < 2 || base > len(Alphabet) {
		return "", fmt.Errorf("%w: %d", ErrBadBase, base)
	}

	words, ok := dictionary(args[3])
	if !ok {
		return "", ErrNoDictionary
	}

	return substitute(payload, base, words), nil
}

// invocationArgs returns the text between the parentheses of the call that
// immediately follows the packer function body.
func invocationArgs(packed string) (string, error) {
	loc := headerRe.FindStringIndex(packed)
	if loc != nil {
		body, ok := scan.ExtractBalanced(packed, loc[1], '{', '}')
		if ok {
			bodyEnd := loc[1] + strings.IndexByte(packed[loc[1]:], '{') + len(body)
			if bodyEnd < len(packed) && packed[bodyEnd] == '(' {
				if call, ok := scan.ExtractBalanced(packed, bodyEnd, '(', ')'); ok {
					return call[1 : len(call)-1], nil
				}
			}
		}
	}

	// Fall back to the last "}(" when the body could not be balanced.
	start := strings.LastIndex(packed, "}(")
	if start == -1 {
		return "", ErrNotPacked
	}
	return trailingCallRe.ReplaceAllString(packed[start+2:], ""), nil
}

// dictionary parses 'w0|w1|...'.split('|').
func dictionary(arg string) ([]string, bool) {
	arg = strings.TrimSpace(arg)
	if len(arg) < 2 {
		return nil, false
	}
	quote := arg[0]
	if quote != '\'' && quote != '"' {
		return nil, false
	}
	end := -1
	for _, suffix := range []string{".split('|')", `.split("|")`} {
		if idx := strings.LastIndex(arg, string(quote)+suffix); idx > 0 {
			end = idx
			break
		}
	}
	if end == -1 {
		return nil, false
	}
	return strings.Split(arg[1:end], "|"), true
}

// substitute replaces whole-word tokens with dictionary words.
//
// Indices are processed from highest to lowest. A token for a small index can
// be the prefix of a token for a larger one (e.g. "1" and "1a"); substituting
// the longer tokens first keeps them from being split by an earlier pass.
func substitute(payload string, base int, words []string) string {
	out := payload
	for idx := len(words) - 1; idx >= 0; idx-- {
		word := words[idx]
		if word == "" {
			continue
		}
		token := Encode(idx, base)
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(token) + `\b`)
		out = re.ReplaceAllLiteralString(out, word)
	}
	return out
}

// Encode renders n in the given base using Alphabet, most significant digit first.
func Encode(n, base int) string {
	if n == 0 {
		return Alphabet[:1]
	}
	var buf []byte
	for n > 0 {
		buf = append(buf, Alphabet[n%base])
		n /= base
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// unescapeJS decodes backslash escapes of a JavaScript string literal body.
func unescapeJS(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '\\' || i+1 >= len(s) {
			b.WriteByte(ch)
			continue
		}
		i++
		switch esc := s[i]; esc {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case 'x':
			if r, ok := parseHex(s, i+1, 2); ok {
				b.WriteRune(r)
				i += 2
			} else {
				b.WriteByte(esc)
			}
		case 'u':
			if r, ok := parseHex(s, i+1, 4); ok {
				b.WriteRune(r)
				i += 4
			} else {
				b.WriteByte(esc)
			}
		default:
			b.WriteByte(esc)
		}
	}
	return b.String()
}

func parseHex(s string, start, n int) (rune, bool) {
	if start+n > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[start:start+n], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}
