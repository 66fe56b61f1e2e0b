package style

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jackzampolin/quill/internal/types"
)

const (
	// DefaultProjectCount flags an n-gram seen this often project-wide.
	DefaultProjectCount = 12
	// DefaultSceneCount flags an n-gram seen this often within one scene.
	DefaultSceneCount = 3
	// MetricCap bounds flagged n-grams kept in the stored metric.
	MetricCap = 50
	// IssueCap bounds flagged n-grams turned into issues.
	IssueCap = 10
)

// GramStat is the occurrence record for one n-gram. SceneCounts is keyed
// by scene id so per-scene spikes survive the additive merge.
type GramStat struct {
	N           int                 `json:"n"`
	Count       int                 `json:"count"`
	SceneCounts map[string]int      `json:"scene_counts,omitempty"`
	Example     *types.EvidenceSpan `json:"example,omitempty"`
}

// RepetitionCounts is a mergeable per-document (or project-wide) tally.
type RepetitionCounts struct {
	Grams map[string]GramStat `json:"grams"`
}

// token is one kept word with its offsets into the original chunk text.
type token struct {
	text  string
	start int
	end   int
}

// tokenize lowercases and splits on anything that is not a letter, digit,
// apostrophe or hyphen. Stopwords and tokens under 3 characters are dropped
// before n-grams are built, so a bigram can bridge a dropped word.
func tokenize(text string, lex *Lexicon) []token {
	var out []token
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		word := strings.ToLower(strings.Trim(text[start:end], "'-"))
		if len(word) >= 3 && !lex.IsStopword(word) {
			out = append(out, token{text: word, start: start, end: end})
		}
		start = -1
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return out
}

// CountRepetition tallies 1/2/3-grams over the chunk sequence. sceneKeyOf
// maps a chunk index to its scene id ("" when the chunk is outside any
// scene). The first occurrence of each n-gram keeps an example span
// covering the literal source text.
func CountRepetition(chunks []types.Chunk, sceneKeyOf func(chunkIdx int) string, lex *Lexicon) RepetitionCounts {
	rc := RepetitionCounts{Grams: map[string]GramStat{}}
	for idx, chunk := range chunks {
		sceneKey := ""
		if sceneKeyOf != nil {
			sceneKey = sceneKeyOf(idx)
		}
		toks := tokenize(chunk.Text, lex)
		for n := 1; n <= 3; n++ {
			for i := 0; i+n <= len(toks); i++ {
				parts := make([]string, n)
				for j := 0; j < n; j++ {
					parts[j] = toks[i+j].text
				}
				gram := strings.Join(parts, " ")

				stat := rc.Grams[gram]
				stat.N = n
				stat.Count++
				if sceneKey != "" {
					if stat.SceneCounts == nil {
						stat.SceneCounts = map[string]int{}
					}
					stat.SceneCounts[sceneKey]++
				}
				if stat.Example == nil {
					stat.Example = &types.EvidenceSpan{
						ChunkID:    chunk.ID,
						QuoteStart: toks[i].start,
						QuoteEnd:   toks[i+n-1].end,
					}
				}
				rc.Grams[gram] = stat
			}
		}
	}
	return rc
}

// MergeRepetition adds two tallies into a fresh one. The operation is
// additive and commutative apart from example selection, which keeps the
// first non-nil example encountered.
func MergeRepetition(a, b RepetitionCounts) RepetitionCounts {
	out := RepetitionCounts{Grams: map[string]GramStat{}}
	for gram, stat := range a.Grams {
		out.Grams[gram] = copyStat(stat)
	}
	for gram, stat := range b.Grams {
		merged, ok := out.Grams[gram]
		if !ok {
			out.Grams[gram] = copyStat(stat)
			continue
		}
		merged.Count += stat.Count
		for scene, n := range stat.SceneCounts {
			if merged.SceneCounts == nil {
				merged.SceneCounts = map[string]int{}
			}
			merged.SceneCounts[scene] += n
		}
		if merged.Example == nil {
			merged.Example = stat.Example
		}
		out.Grams[gram] = merged
	}
	return out
}

func copyStat(stat GramStat) GramStat {
	out := stat
	if stat.SceneCounts != nil {
		out.SceneCounts = make(map[string]int, len(stat.SceneCounts))
		for k, v := range stat.SceneCounts {
			out.SceneCounts[k] = v
		}
	}
	if stat.Example != nil {
		ex := *stat.Example
		out.Example = &ex
	}
	return out
}

// FlaggedGram is one n-gram that crossed a repetition threshold.
type FlaggedGram struct {
	Gram          string              `json:"gram"`
	N             int                 `json:"n"`
	Count         int                 `json:"count"`
	MaxSceneCount int                 `json:"max_scene_count"`
	Example       *types.EvidenceSpan `json:"example,omitempty"`
}

// FlagRepetition returns n-grams whose project-wide count reaches
// projectCount or whose peak single-scene count reaches sceneCount, sorted
// by descending count (ties lexicographic), capped at limit.
func FlagRepetition(rc RepetitionCounts, projectCount, sceneCount, limit int) []FlaggedGram {
	var out []FlaggedGram
	for gram, stat := range rc.Grams {
		maxScene := 0
		for _, n := range stat.SceneCounts {
			if n > maxScene {
				maxScene = n
			}
		}
		if stat.Count >= projectCount || maxScene >= sceneCount {
			out = append(out, FlaggedGram{
				Gram: gram, N: stat.N, Count: stat.Count,
				MaxSceneCount: maxScene, Example: stat.Example,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Gram < out[j].Gram
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
