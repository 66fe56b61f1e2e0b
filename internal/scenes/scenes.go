// Package scenes segments a document's chunk sequence into scenes and
// derives point-of-view and setting metadata per scene. Scene boundaries
// are headings and scene-break lines; everything else is heuristic.
package scenes

import (
	"regexp"
	"strings"

	"github.com/jackzampolin/quill/internal/types"
)

// Result is one detected scene before ids are assigned. ChunkRange indexes
// into the input chunk slice (inclusive on both ends).
type Result struct {
	Scene        types.Scene
	FirstChunk   int
	LastChunk    int
	OpeningQuote string // first sentence of the scene, for issue evidence
}

var settingPattern = regexp.MustCompile(`\b(?:at|in|on) the ([A-Z][a-z]+(?:['-]?[A-Za-z]+)?(?: [A-Z][a-z]+(?:['-]?[A-Za-z]+)?){0,3})`)

// Analyze walks the ordered chunk sequence and produces scenes. A heading
// chunk or a scene-break line starts a new scene; consecutive break markers
// do not produce empty scenes.
func Analyze(chunks []types.Chunk) []Result {
	if len(chunks) == 0 {
		return nil
	}

	var results []Result
	start := 0
	for i := 0; i <= len(chunks); i++ {
		boundary := i == len(chunks) || (i > start && startsScene(chunks[i].Text))
		if !boundary {
			continue
		}
		if i > start {
			results = append(results, buildScene(chunks, start, i-1, len(results)))
		}
		start = i
	}
	return results
}

// startsScene reports whether a chunk opens a new scene.
func startsScene(text string) bool {
	trimmed := strings.TrimLeft(text, "\n ")
	if strings.HasPrefix(trimmed, "#") {
		return true
	}
	firstLine := trimmed
	if nl := strings.IndexByte(firstLine, '\n'); nl >= 0 {
		firstLine = firstLine[:nl]
	}
	return isSceneBreak(firstLine)
}

// isSceneBreak matches common typographic scene separators.
func isSceneBreak(line string) bool {
	stripped := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(line))
	switch stripped {
	case "***", "---", "___", "• • •", "•••":
		return true
	}
	return false
}

func buildScene(chunks []types.Chunk, first, last, ordinal int) Result {
	scene := types.Scene{
		DocumentID:   chunks[first].DocumentID,
		Ordinal:      ordinal,
		StartChunkID: chunks[first].ID,
		EndChunkID:   chunks[last].ID,
		Title:        headingTitle(chunks[first].Text),
	}

	var body strings.Builder
	for i := first; i <= last; i++ {
		body.WriteString(chunks[i].Text)
		body.WriteByte('\n')
	}
	text := body.String()

	mode, conf := detectPOV(text)
	scene.POVMode = mode
	scene.POVConfidence = conf

	if m := settingPattern.FindStringSubmatch(chunks[first].Text); m != nil {
		scene.SettingText = m[1]
		scene.SettingConf = 0.6
	}

	return Result{
		Scene:        scene,
		FirstChunk:   first,
		LastChunk:    last,
		OpeningQuote: firstSentence(chunks[first].Text),
	}
}

// headingTitle extracts a title from a leading markdown heading, if any.
func headingTitle(text string) string {
	trimmed := strings.TrimLeft(text, "\n ")
	if !strings.HasPrefix(trimmed, "#") {
		return ""
	}
	line := trimmed
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	return strings.TrimSpace(strings.TrimLeft(line, "#"))
}

// firstSentence returns the scene's opening sentence, skipping a heading
// line, truncated to keep evidence quotes short.
func firstSentence(text string) string {
	trimmed := strings.TrimLeft(text, "\n ")
	if strings.HasPrefix(trimmed, "#") {
		if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
			trimmed = strings.TrimLeft(trimmed[nl:], "\n ")
		} else {
			return strings.TrimSpace(trimmed)
		}
	}
	for i, r := range trimmed {
		if r == '.' || r == '!' || r == '?' {
			return strings.TrimSpace(trimmed[:i+1])
		}
		if i > 240 {
			return strings.TrimSpace(trimmed[:i])
		}
	}
	return strings.TrimSpace(trimmed)
}

var firstPersonWords = map[string]bool{
	"i": true, "me": true, "my": true, "mine": true, "myself": true,
	"we": true, "us": true, "our": true, "ours": true,
}

var thirdPersonWords = map[string]bool{
	"he": true, "him": true, "his": true,
	"she": true, "her": true, "hers": true,
	"they": true, "them": true, "their": true, "theirs": true,
}

// detectPOV tallies narrative pronouns outside of quoted dialogue. The mode
// is ambiguous when the dominant person carries less than 65% of the tally
// or when there is almost nothing to count.
func detectPOV(text string) (types.POVMode, float64) {
	stripped := stripDialogue(text)

	var first, third int
	for _, w := range strings.Fields(strings.ToLower(stripped)) {
		w = strings.Trim(w, ".,;:!?\"'()[]—-")
		if firstPersonWords[w] {
			first++
		} else if thirdPersonWords[w] {
			third++
		}
	}

	total := first + third
	if total < 3 {
		return types.POVAmbiguous, 0
	}
	dominant := first
	mode := types.POVFirst
	if third > first {
		dominant = third
		mode = types.POVThird
	}
	conf := float64(dominant) / float64(total)
	if conf < 0.65 {
		return types.POVAmbiguous, conf
	}
	return mode, conf
}

// stripDialogue removes double-quoted spans so a first-person line of
// dialogue doesn't flip a third-person scene.
func stripDialogue(text string) string {
	var b strings.Builder
	inQuote := false
	for _, r := range text {
		switch r {
		case '“':
			inQuote = true
			continue
		case '”':
			inQuote = false
			continue
		case '"':
			inQuote = !inQuote
			continue
		}
		if !inQuote {
			b.WriteRune(r)
		}
	}
	return b.String()
}
