// Package scan provides delimiter-aware scanning over unstructured HTML and
// JavaScript text: balanced object extraction and top-level argument splitting.
package scan

import (
	"regexp"
	"strings"
)

// quoteState tracks whether the scanner is inside a string literal.
type quoteState struct {
	quote  byte
	escape bool
}

// step advances the state over ch and reports whether ch is part of a string
// literal (including its opening and closing quote).
func (q *quoteState) step(ch byte) bool {
	if q.quote != 0 {
		switch {
		case q.escape:
			q.escape = false
		case ch == '\\':
			q.escape = true
		case ch == q.quote:
			q.quote = 0
		}
		return true
	}
	if ch == '"' || ch == '\'' {
		q.quote = ch
		return true
	}
	return false
}

// ExtractBalanced returns the substring from the first open delimiter at or
// after start through its matching close delimiter. Delimiters inside single
// or double quoted strings are ignored. The second return value is false if
// no open delimiter follows start or the text ends before depth returns to zero.
func ExtractBalanced(text string, start int, open, close byte) (string, bool) {
	if start < 0 {
		start = 0
	}
	if start >= len(text) {
		return "", false
	}
	first := strings.IndexByte(text[start:], open)
	if first == -1 {
		return "", false
	}
	first += start

	var q quoteState
	depth := 0
	for i := first; i < len(text); i++ {
		ch := text[i]
		if q.step(ch) {
			continue
		}
		switch ch {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[first : i+1], true
			}
		}
	}
	return "", false
}

// ExtractObject finds marker in text and returns the balanced {...} object
// that follows it.
func ExtractObject(text string, marker *regexp.Regexp) (string, bool) {
	loc := marker.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return ExtractBalanced(text, loc[1], '{', '}')
}

// SplitTopLevelArgs splits a comma separated argument list at commas that are
// not nested in (), [] or {} and not inside a quoted string. Parts are trimmed.
func SplitTopLevelArgs(text string) []string {
	var (
		parts []string
		buf   strings.Builder
		q     quoteState
		depth int
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if q.step(ch) {
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(buf.String()))
				buf.Reset()
				continue
			}
		}
		buf.WriteByte(ch)
	}
	if rest := strings.TrimSpace(buf.String()); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
