// Package chunker splits normalized manuscript text into ordered,
// bounded-size chunks with stable content hashes, and diffs chunk
// sequences across ingests so unchanged chunks keep their identity.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/jackzampolin/quill/internal/types"
)

// Limits bounds chunk sizes in characters.
type Limits struct {
	MinChunk    int // close a chunk only once it reaches this size
	MaxChunk    int // target upper bound; overshoot allowed for tiny chunks
	LongBlock   int // blocks longer than this are force-split
	SplitWindow int // whitespace search window around a forced split point
}

// DefaultLimits are tuned for prose paragraphs.
func DefaultLimits() Limits {
	return Limits{MinChunk: 400, MaxChunk: 1600, LongBlock: 2400, SplitWindow: 120}
}

// block is a half-open [start,end) range into the source text.
type block struct {
	start int
	end   int
}

// Split chunks normalized text (line endings already collapsed to \n).
// Output is deterministic for identical input: same boundaries, same hashes.
// Chunk text is the literal document slice doc[StartChar:EndChar], so
// evidence offsets into chunk text translate directly to document offsets.
func Split(docID, text string, lim Limits) []types.Chunk {
	blocks := splitBlocks(text, lim)
	merged := mergeBlocks(text, blocks, lim)

	chunks := make([]types.Chunk, 0, len(merged))
	for i, b := range merged {
		slice := text[b.start:b.end]
		chunks = append(chunks, types.Chunk{
			DocumentID: docID,
			Ordinal:    i,
			Text:       slice,
			TextHash:   HashText(slice),
			StartChar:  b.start,
			EndChar:    b.end,
		})
	}
	return chunks
}

// HashText returns the content hash used for chunk identity matching.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// splitBlocks walks the text line by line. A heading line or a blank line
// flushes the current block; headings start a fresh block of their own so a
// scene heading always leads its chunk.
func splitBlocks(text string, lim Limits) []block {
	var blocks []block
	cur := block{start: -1}

	flush := func() {
		if cur.start >= 0 && cur.end > cur.start {
			blocks = append(blocks, splitLongBlock(text, cur, lim)...)
		}
		cur = block{start: -1}
	}

	pos := 0
	for pos <= len(text) {
		nl := strings.IndexByte(text[pos:], '\n')
		lineEnd := len(text)
		if nl >= 0 {
			lineEnd = pos + nl
		}
		line := text[pos:lineEnd]

		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case isHeadingLine(line):
			flush()
			cur = block{start: pos, end: lineEnd}
			flush()
		default:
			if cur.start < 0 {
				cur = block{start: pos}
			}
			cur.end = lineEnd
		}

		if nl < 0 {
			break
		}
		pos = lineEnd + 1
	}
	flush()
	return blocks
}

// isHeadingLine reports whether a line is a markdown-style heading.
func isHeadingLine(line string) bool {
	trimmed := strings.TrimLeft(line, "#")
	if trimmed == line || len(line)-len(trimmed) > 6 {
		return false
	}
	return strings.HasPrefix(trimmed, " ") && strings.TrimSpace(trimmed) != ""
}

// splitLongBlock force-splits oversized blocks at a whitespace boundary near
// the max-chunk offset, so we never sever a word mid-token.
func splitLongBlock(text string, b block, lim Limits) []block {
	if b.end-b.start <= lim.LongBlock {
		return []block{b}
	}
	var out []block
	start := b.start
	for b.end-start > lim.LongBlock {
		target := start + lim.MaxChunk
		if target >= b.end {
			break
		}
		cut := nearestWhitespace(text, target, start, b.end, lim.SplitWindow)
		if cut <= start {
			cut = target
		}
		out = append(out, block{start: start, end: cut})
		// skip the whitespace we cut at
		for cut < b.end && (text[cut] == ' ' || text[cut] == '\t') {
			cut++
		}
		start = cut
	}
	if start < b.end {
		out = append(out, block{start: start, end: b.end})
	}
	return out
}

// nearestWhitespace finds a space/tab closest to target within the window,
// preferring earlier cuts, bounded to (lo, hi).
func nearestWhitespace(text string, target, lo, hi, window int) int {
	for d := 0; d <= window; d++ {
		if p := target - d; p > lo && p < hi && isSpaceByte(text[p]) {
			return p
		}
		if p := target + d; p > lo && p < hi && isSpaceByte(text[p]) {
			return p
		}
	}
	return target
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t'
}

// mergeBlocks greedily packs blocks into chunks bounded by [MinChunk,MaxChunk].
// A block joins the current chunk when the result stays within MaxChunk, or
// when the current chunk is still under MinChunk (overshoot beats tiny chunks).
// The merged range spans from the first block's start to the last block's end,
// so interior blank lines stay inside the chunk text.
func mergeBlocks(text string, blocks []block, lim Limits) []block {
	var out []block
	cur := block{start: -1}
	for _, b := range blocks {
		if cur.start < 0 {
			cur = b
			continue
		}
		curLen := cur.end - cur.start
		joinedLen := b.end - cur.start
		if joinedLen <= lim.MaxChunk || curLen < lim.MinChunk {
			cur.end = b.end
			continue
		}
		out = append(out, cur)
		cur = b
	}
	if cur.start >= 0 && cur.end > cur.start {
		out = append(out, cur)
	}
	return out
}
