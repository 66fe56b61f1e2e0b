package style

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jackzampolin/quill/internal/types"
)

const (
	// AttributionWindow is how far around a quote speaker search extends.
	AttributionWindow = 160
	// InheritWindow bounds the interstitial gap for turn-taking inheritance.
	InheritWindow = 60
	// DefaultTicThreshold is the minimum count for a starter or filler tic.
	DefaultTicThreshold = 3
	// ExampleCap bounds stored example spans per speaker.
	ExampleCap = 3
)

// QuoteSpan is one quoted utterance. Start/End bound the inner text
// (quotation marks excluded) within the chunk.
type QuoteSpan struct {
	ChunkID string
	Start   int
	End     int
	Text    string
	Speaker string // attributed display name, empty when unknown
}

// extractQuotes finds double-quoted spans. Straight quotes toggle; curly
// quotes open and close explicitly. An unterminated quote runs to the end
// of the chunk.
func extractQuotes(chunk types.Chunk) []QuoteSpan {
	var out []QuoteSpan
	open := -1
	for i, r := range chunk.Text {
		switch r {
		case '“':
			if open < 0 {
				open = i + len(string(r))
			}
		case '”':
			if open >= 0 {
				out = append(out, QuoteSpan{ChunkID: chunk.ID, Start: open, End: i, Text: chunk.Text[open:i]})
				open = -1
			}
		case '"':
			if open < 0 {
				open = i + 1
			} else {
				out = append(out, QuoteSpan{ChunkID: chunk.ID, Start: open, End: i, Text: chunk.Text[open:i]})
				open = -1
			}
		}
	}
	if open >= 0 && open < len(chunk.Text) {
		out = append(out, QuoteSpan{ChunkID: chunk.ID, Start: open, End: len(chunk.Text), Text: chunk.Text[open:]})
	}
	return out
}

// speakerCandidate is a name found adjacent to a speech verb near a quote.
type speakerCandidate struct {
	name     string
	distance int
}

// attributeSpeakers assigns speakers to quotes in place. For each quote the
// surrounding window is searched for name/speech-verb pairs; known speakers
// win over unknown names, then nearest by character distance. A quote with
// no candidate inherits the previous quote's speaker when the interstitial
// narration is short (simple turn-taking).
func attributeSpeakers(chunkText string, quotes []QuoteSpan, known map[string]bool, lex *Lexicon) {
	prevEnd := -1
	prevSpeaker := ""
	for i := range quotes {
		q := &quotes[i]

		var cands []speakerCandidate
		before := windowText(chunkText, q.Start-AttributionWindow, q.Start)
		cands = append(cands, findCandidates(before, true, lex)...)
		after := windowText(chunkText, q.End, q.End+AttributionWindow)
		cands = append(cands, findCandidates(after, false, lex)...)

		best := pickCandidate(cands, known)
		if best == "" && prevSpeaker != "" && prevEnd >= 0 && q.Start-prevEnd <= InheritWindow {
			best = prevSpeaker
		}
		q.Speaker = best
		if best != "" {
			prevSpeaker = best
		}
		prevEnd = q.End
	}
}

func windowText(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}

// findCandidates scans a window for name-before-verb and verb-before-name
// pairs. Distance is measured from the window edge nearest the quote:
// the end for a before-window, the start for an after-window.
func findCandidates(window string, isBefore bool, lex *Lexicon) []speakerCandidate {
	words := fieldsWithOffsets(window)
	var out []speakerCandidate
	for i, w := range words {
		if !lex.IsSpeechVerb(strings.ToLower(w.text)) {
			continue
		}
		for _, j := range []int{i - 1, i + 1} {
			if j < 0 || j >= len(words) {
				continue
			}
			name := strings.Trim(words[j].text, ".,;:!?\"“”")
			if !isCapitalizedName(name) {
				continue
			}
			dist := words[j].start
			if isBefore {
				dist = len(window) - words[j].start
			}
			out = append(out, speakerCandidate{name: name, distance: dist})
		}
	}
	return out
}

type offsetWord struct {
	text  string
	start int
}

func fieldsWithOffsets(s string) []offsetWord {
	var out []offsetWord
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, offsetWord{text: s[start:i], start: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, offsetWord{text: s[start:], start: start})
	}
	return out
}

func isCapitalizedName(w string) bool {
	if len(w) < 2 {
		return false
	}
	runes := []rune(w)
	return unicode.IsUpper(runes[0]) && unicode.IsLower(runes[1])
}

// pickCandidate prefers names in the known-speaker set, then nearest by
// distance, then lexicographic for determinism.
func pickCandidate(cands []speakerCandidate, known map[string]bool) string {
	if len(cands) == 0 {
		return ""
	}
	var pool []speakerCandidate
	for _, c := range cands {
		if known[strings.ToLower(c.name)] {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		pool = cands
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].distance != pool[j].distance {
			return pool[i].distance < pool[j].distance
		}
		return pool[i].name < pool[j].name
	})
	return pool[0].name
}

// SpeakerTally accumulates one speaker's dialogue habits.
type SpeakerTally struct {
	Display  string               `json:"display"`
	Quotes   int                  `json:"quotes"`
	Starters map[string]int       `json:"starters,omitempty"` // first-3-word phrase
	Fillers  map[string]int       `json:"fillers,omitempty"`
	Ellipses int                  `json:"ellipses"`
	Dashes   int                  `json:"dashes"`
	Examples []types.EvidenceSpan `json:"examples,omitempty"`
}

// DialogueTallies is a mergeable per-document (or project-wide) tally,
// keyed by normalized speaker identity.
type DialogueTallies struct {
	Speakers map[string]SpeakerTally `json:"speakers"`
}

// CountDialogue extracts and attributes quotes per chunk, then tallies
// starters, fillers and punctuation habits per speaker. Quotes with no
// attributable speaker are skipped.
func CountDialogue(chunks []types.Chunk, known map[string]bool, lex *Lexicon) DialogueTallies {
	dt := DialogueTallies{Speakers: map[string]SpeakerTally{}}
	for _, chunk := range chunks {
		quotes := extractQuotes(chunk)
		attributeSpeakers(chunk.Text, quotes, known, lex)
		for _, q := range quotes {
			if q.Speaker == "" {
				continue
			}
			key := strings.ToLower(q.Speaker)
			tally := dt.Speakers[key]
			if tally.Display == "" {
				tally.Display = q.Speaker
			}
			tally.Quotes++

			if starter := starterPhrase(q.Text); starter != "" {
				if tally.Starters == nil {
					tally.Starters = map[string]int{}
				}
				tally.Starters[starter]++
			}
			for _, w := range strings.Fields(strings.ToLower(q.Text)) {
				w = strings.Trim(w, ".,;:!?\"'“”‘’…—-")
				if lex.IsFiller(w) {
					if tally.Fillers == nil {
						tally.Fillers = map[string]int{}
					}
					tally.Fillers[w]++
				}
			}
			tally.Ellipses += strings.Count(q.Text, "...") + strings.Count(q.Text, "…")
			tally.Dashes += strings.Count(q.Text, "—") + strings.Count(q.Text, "--")

			if len(tally.Examples) < ExampleCap {
				tally.Examples = append(tally.Examples, types.EvidenceSpan{
					ChunkID: q.ChunkID, QuoteStart: q.Start, QuoteEnd: q.End,
				})
			}
			dt.Speakers[key] = tally
		}
	}
	return dt
}

// starterPhrase is the lowercased first three words of an utterance.
func starterPhrase(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) > 3 {
		words = words[:3]
	}
	for i, w := range words {
		words[i] = strings.Trim(w, ".,;:!?\"'“”‘’…—")
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

// MergeDialogue adds two tallies into a fresh one, by normalized speaker.
func MergeDialogue(a, b DialogueTallies) DialogueTallies {
	out := DialogueTallies{Speakers: map[string]SpeakerTally{}}
	for key, tally := range a.Speakers {
		out.Speakers[key] = copyTally(tally)
	}
	for key, tally := range b.Speakers {
		merged, ok := out.Speakers[key]
		if !ok {
			out.Speakers[key] = copyTally(tally)
			continue
		}
		merged.Quotes += tally.Quotes
		merged.Ellipses += tally.Ellipses
		merged.Dashes += tally.Dashes
		for k, v := range tally.Starters {
			if merged.Starters == nil {
				merged.Starters = map[string]int{}
			}
			merged.Starters[k] += v
		}
		for k, v := range tally.Fillers {
			if merged.Fillers == nil {
				merged.Fillers = map[string]int{}
			}
			merged.Fillers[k] += v
		}
		for _, ex := range tally.Examples {
			if len(merged.Examples) >= ExampleCap {
				break
			}
			merged.Examples = append(merged.Examples, ex)
		}
		out.Speakers[key] = merged
	}
	return out
}

func copyTally(t SpeakerTally) SpeakerTally {
	out := t
	if t.Starters != nil {
		out.Starters = make(map[string]int, len(t.Starters))
		for k, v := range t.Starters {
			out.Starters[k] = v
		}
	}
	if t.Fillers != nil {
		out.Fillers = make(map[string]int, len(t.Fillers))
		for k, v := range t.Fillers {
			out.Fillers[k] = v
		}
	}
	out.Examples = append([]types.EvidenceSpan(nil), t.Examples...)
	return out
}

// TicFinding is one speaker's dominant verbal tic.
type TicFinding struct {
	SpeakerKey string
	Display    string
	Kind       string // "starter" or "filler"
	Phrase     string
	Count      int
	Examples   []types.EvidenceSpan
}

// FindTics reports at most one finding per speaker: the most frequent
// starter phrase if it reaches the threshold, else the most frequent
// filler if it does. Results are sorted by descending count then speaker.
func FindTics(dt DialogueTallies, threshold int) []TicFinding {
	var out []TicFinding
	for key, tally := range dt.Speakers {
		phrase, count := topEntry(tally.Starters)
		kind := "starter"
		if count < threshold {
			phrase, count = topEntry(tally.Fillers)
			kind = "filler"
		}
		if count < threshold {
			continue
		}
		out = append(out, TicFinding{
			SpeakerKey: key, Display: tally.Display, Kind: kind,
			Phrase: phrase, Count: count, Examples: tally.Examples,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].SpeakerKey < out[j].SpeakerKey
	})
	return out
}

// topEntry returns the highest-count key, ties broken lexicographically.
func topEntry(m map[string]int) (string, int) {
	best, bestCount := "", 0
	for k, v := range m {
		if v > bestCount || (v == bestCount && (best == "" || k < best)) {
			best, bestCount = k, v
		}
	}
	return best, bestCount
}
