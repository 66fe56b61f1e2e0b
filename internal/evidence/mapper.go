// Package evidence resolves free-text quotes back to exact character
// offsets inside chunk text. Every claim, issue and scene fact the
// pipeline persists must pass through here first: evidence that cannot
// be traced to literal chunk text is never stored.
package evidence

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Span is a resolved [Start,End) offset range into the chunk text the
// quote was matched against.
type Span struct {
	Start int
	End   int
}

// Resolve maps a quote to offsets in chunkText using three passes:
// exact substring, case-insensitive substring, then a tolerant pass that
// collapses internal whitespace runs in the quote (survives reflowed
// multi-line quotes). Returns nil when no pass matches.
//
// The folded passes walk the original text rune by rune, so the offsets
// they return always slice chunkText itself. Lowercasing a copy would
// not: runes like U+212A (Kelvin sign) change byte length under
// ToLower and shift every offset after them.
func Resolve(chunkText, quote string) *Span {
	if quote == "" || chunkText == "" {
		return nil
	}

	if i := strings.Index(chunkText, quote); i >= 0 {
		return &Span{Start: i, End: i + len(quote)}
	}

	if sp := scan(chunkText, quote, false); sp != nil {
		return sp
	}
	return scan(chunkText, strings.TrimSpace(quote), true)
}

// scan tries a case-folded match of quote at every rune boundary of text.
func scan(text, quote string, collapseSpace bool) *Span {
	if quote == "" {
		return nil
	}
	for start := 0; start < len(text); {
		if end, ok := matchAt(text, start, quote, collapseSpace); ok {
			return &Span{Start: start, End: end}
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		start += size
	}
	return nil
}

// matchAt matches quote against text at byte offset start under simple
// case folding. With collapseSpace, any whitespace run in the quote
// matches any whitespace run in the text. Returns the end offset into
// text on success.
func matchAt(text string, start int, quote string, collapseSpace bool) (int, bool) {
	ti := start
	qi := 0
	for qi < len(quote) {
		qr, qsize := utf8.DecodeRuneInString(quote[qi:])

		if collapseSpace && unicode.IsSpace(qr) {
			for qi < len(quote) {
				r, size := utf8.DecodeRuneInString(quote[qi:])
				if !unicode.IsSpace(r) {
					break
				}
				qi += size
			}
			wsStart := ti
			for ti < len(text) {
				r, size := utf8.DecodeRuneInString(text[ti:])
				if !unicode.IsSpace(r) {
					break
				}
				ti += size
			}
			if ti == wsStart {
				return 0, false
			}
			continue
		}

		if ti >= len(text) {
			return 0, false
		}
		tr, tsize := utf8.DecodeRuneInString(text[ti:])
		if !foldEqual(tr, qr) {
			return 0, false
		}
		ti += tsize
		qi += qsize
	}
	return ti, true
}

// foldEqual reports whether two runes are equal under Unicode simple
// case folding.
func foldEqual(a, b rune) bool {
	if a == b {
		return true
	}
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}
