// Package extract produces entities and evidence-backed claims from
// chunk text, combining a deterministic heuristic pass with an optional
// schema-validated LLM pass, then merging candidate entities.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackzampolin/quill/internal/types"
)

// Candidate is one extracted (entity, field, value) tuple with its
// supporting quote, before any storage resolution.
type Candidate struct {
	EntityName string
	EntityType types.EntityType
	Field      string
	Value      string // normalized
	Confidence float64
	Quote      string
	ChunkIndex int // index into the scanned chunk slice
}

const (
	possessiveConfidence = 0.9
	// Pronoun continuation is weaker than an explicit possessive name.
	pronounConfidence = 0.7
)

var (
	possessiveTraitPattern = regexp.MustCompile(`([A-Z][a-z]+(?: [A-Z][a-z]+)?)'s (eyes|hair) (?:were|was) ([a-z][a-z -]*?[a-z])(?:[.,;!?]|$)`)
	pronounTraitPattern    = regexp.MustCompile(`\b([Hh]is|[Hh]er|[Tt]heir) (eyes|hair) (?:were|was) ([a-z][a-z -]*?[a-z])(?:[.,;!?]|$)`)
	nameMentionPattern     = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
)

// colorPalette maps common color synonyms onto a canonical palette so
// "emerald" and "green" never raise a false continuity conflict.
var colorPalette = map[string]string{
	"emerald": "green", "jade": "green", "viridian": "green",
	"azure": "blue", "sapphire": "blue", "cobalt": "blue", "cerulean": "blue",
	"crimson": "red", "scarlet": "red", "ruby": "red",
	"chestnut": "brown", "hazel": "hazel", "amber": "amber",
	"golden": "gold", "blond": "blonde", "flaxen": "blonde",
	"raven": "black", "ebony": "black", "jet": "black",
	"silver": "gray", "grey": "gray", "ashen": "gray",
	"violet": "purple", "lavender": "purple",
}

// traitField maps the matched body part to a claim field name.
func traitField(part string) string {
	switch part {
	case "eyes":
		return "eye_color"
	case "hair":
		return "hair_color"
	}
	return part
}

// NormalizeValue canonicalizes an extracted value: lowercase, collapsed
// whitespace, color synonyms folded onto the palette.
func NormalizeValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.Join(strings.Fields(v), " ")
	if canonical, ok := colorPalette[v]; ok {
		return canonical
	}
	return v
}

// scanState is the explicit fold state threaded across chunks: the most
// recently seen name binds later pronoun continuations.
type scanState struct {
	lastName string
}

// HeuristicScan runs the deterministic pattern pass over chunks in order.
// knownNames seeds name recognition so a pronoun right after a known
// character's mention binds correctly even when the mention alone doesn't
// match a trait pattern. The fold state is explicit so ordering stays
// testable.
func HeuristicScan(chunks []types.Chunk, knownNames []string) []Candidate {
	known := make(map[string]bool, len(knownNames))
	for _, n := range knownNames {
		known[strings.ToLower(n)] = true
	}

	var out []Candidate
	state := scanState{}
	for i, chunk := range chunks {
		state, out = scanChunk(state, chunk.Text, i, known, out)
	}
	return out
}

// event is one regex hit positioned within a chunk, ordered by offset so
// name mentions update the fold state before later pronouns consume it.
type event struct {
	pos       int
	name      string // name mention or possessive subject
	field     string
	value     string
	quote     string
	isPronoun bool
}

func scanChunk(state scanState, text string, chunkIdx int, known map[string]bool, out []Candidate) (scanState, []Candidate) {
	var events []event

	for _, m := range possessiveTraitPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		events = append(events, event{
			pos:   m[0],
			name:  name,
			field: traitField(text[m[4]:m[5]]),
			value: text[m[6]:m[7]],
			quote: strings.TrimRight(text[m[0]:m[1]], ".,;!? "),
		})
	}
	for _, m := range pronounTraitPattern.FindAllStringSubmatchIndex(text, -1) {
		events = append(events, event{
			pos:       m[0],
			field:     traitField(text[m[4]:m[5]]),
			value:     text[m[6]:m[7]],
			quote:     strings.TrimRight(text[m[0]:m[1]], ".,;!? "),
			isPronoun: true,
		})
	}
	for _, m := range nameMentionPattern.FindAllStringIndex(text, -1) {
		word := text[m[0]:m[1]]
		if known[strings.ToLower(word)] {
			events = append(events, event{pos: m[0], name: word})
		}
	}

	sortEventsByPos(events)

	for _, ev := range events {
		switch {
		case ev.isPronoun:
			if state.lastName == "" {
				continue
			}
			out = append(out, Candidate{
				EntityName: state.lastName,
				EntityType: types.EntityCharacter,
				Field:      ev.field,
				Value:      NormalizeValue(ev.value),
				Confidence: pronounConfidence,
				Quote:      ev.quote,
				ChunkIndex: chunkIdx,
			})
		case ev.field != "":
			state.lastName = ev.name
			out = append(out, Candidate{
				EntityName: ev.name,
				EntityType: types.EntityCharacter,
				Field:      ev.field,
				Value:      NormalizeValue(ev.value),
				Confidence: possessiveConfidence,
				Quote:      ev.quote,
				ChunkIndex: chunkIdx,
			})
		default:
			state.lastName = ev.name
		}
	}
	return state, out
}

// sortEventsByPos is a small insertion sort; event counts per chunk are tiny.
func sortEventsByPos(events []event) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].pos < events[j-1].pos; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

// NormalizeAlias canonicalizes an alias for case/quote/whitespace-insensitive
// matching: lowercased, straight/curly quotes stripped, whitespace collapsed.
func NormalizeAlias(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '“', '”', '‘', '’', '`':
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeAliasLoose additionally strips punctuation, for LLM alias
// resolution where "Capt. Reyes" should match "Capt Reyes".
func NormalizeAliasLoose(s string) string {
	s = NormalizeAlias(s)
	var b strings.Builder
	for _, r := range s {
		if r == '.' || r == ',' || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ValueJSON renders a normalized string value as its canonical JSON form.
func ValueJSON(v string) string {
	// strconv.Quote escapes identically to encoding/json for plain strings.
	return fmt.Sprintf("%q", v)
}
