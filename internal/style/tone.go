package style

import (
	"math"
	"strings"
	"unicode"
)

const (
	// DefaultBaselineScenes is how many leading scenes form the tone baseline.
	DefaultBaselineScenes = 10
	// DefaultDriftThreshold flags a scene whose drift score reaches it.
	DefaultDriftThreshold = 2.5
)

// ToneVector is the 6-feature stylistic fingerprint of one scene.
type ToneVector struct {
	MeanSentenceLen  float64 `json:"mean_sentence_len"` // words per sentence
	VarSentenceLen   float64 `json:"var_sentence_len"`
	DialogueRatio    float64 `json:"dialogue_ratio"` // chars inside quotes / total
	PunctDensity     float64 `json:"punct_density"`
	Sentiment        float64 `json:"sentiment"` // lexicon hits, positive minus negative, per word
	ContractionRatio float64 `json:"contraction_ratio"`
}

func (v ToneVector) features() [6]float64 {
	return [6]float64{
		v.MeanSentenceLen, v.VarSentenceLen, v.DialogueRatio,
		v.PunctDensity, v.Sentiment, v.ContractionRatio,
	}
}

// ComputeToneVector derives the feature vector from raw scene text.
func ComputeToneVector(text string, lex *Lexicon) ToneVector {
	var v ToneVector
	if text == "" {
		return v
	}

	sentences := splitSentences(text)
	if len(sentences) > 0 {
		var lens []float64
		for _, s := range sentences {
			lens = append(lens, float64(len(strings.Fields(s))))
		}
		v.MeanSentenceLen = mean(lens)
		v.VarSentenceLen = variance(lens, v.MeanSentenceLen)
	}

	total := 0
	punct := 0
	quoted := 0
	inQuote := false
	for _, r := range text {
		total++
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
		if inQuote {
			quoted++
		}
		if unicode.IsPunct(r) || r == '—' {
			punct++
		}
	}
	if total > 0 {
		v.DialogueRatio = float64(quoted) / float64(total)
		v.PunctDensity = float64(punct) / float64(total)
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) > 0 {
		sentiment := 0
		contractions := 0
		for _, w := range words {
			trimmed := strings.Trim(w, ".,;:!?\"'()[]“”‘’—-")
			switch {
			case lex.IsPositive(trimmed):
				sentiment++
			case lex.IsNegative(trimmed):
				sentiment--
			}
			if strings.ContainsAny(trimmed, "'’") {
				contractions++
			}
		}
		v.Sentiment = float64(sentiment) / float64(len(words))
		v.ContractionRatio = float64(contractions) / float64(len(words))
	}
	return v
}

// ToneBaseline is the per-feature mean and standard deviation over the
// leading baseline window of scenes.
type ToneBaseline struct {
	Mean   [6]float64 `json:"mean"`
	Std    [6]float64 `json:"std"`
	Scenes int        `json:"scenes"`
}

// ComputeBaseline aggregates vectors into a baseline. At least one vector
// is required for a meaningful result; callers enforce the floor.
func ComputeBaseline(vectors []ToneVector) ToneBaseline {
	b := ToneBaseline{Scenes: len(vectors)}
	if len(vectors) == 0 {
		return b
	}
	n := float64(len(vectors))
	for _, v := range vectors {
		f := v.features()
		for i := range f {
			b.Mean[i] += f[i]
		}
	}
	for i := range b.Mean {
		b.Mean[i] /= n
	}
	for _, v := range vectors {
		f := v.features()
		for i := range f {
			d := f[i] - b.Mean[i]
			b.Std[i] += d * d
		}
	}
	for i := range b.Std {
		b.Std[i] = math.Sqrt(b.Std[i] / n)
	}
	return b
}

// DriftScore is the Euclidean norm of the vector's per-feature z-scores
// against the baseline. A zero standard deviation contributes nothing when
// the feature matches the mean; otherwise the z-score is capped so a
// degenerate baseline cannot produce infinities.
func DriftScore(v ToneVector, b ToneBaseline) float64 {
	const zCap = 10.0
	f := v.features()
	sum := 0.0
	for i := range f {
		d := f[i] - b.Mean[i]
		var z float64
		if b.Std[i] > 1e-9 {
			z = d / b.Std[i]
		} else if d != 0 {
			z = zCap
		}
		if z > zCap {
			z = zCap
		} else if z < -zCap {
			z = -zCap
		}
		sum += z * z
	}
	return math.Sqrt(sum)
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}
