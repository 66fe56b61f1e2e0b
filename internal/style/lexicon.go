package style

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lexicon holds the word lists the analyzers consult. Any list left empty
// in an override file keeps its default.
type Lexicon struct {
	Stopwords   []string `yaml:"stopwords"`
	Positive    []string `yaml:"positive"`
	Negative    []string `yaml:"negative"`
	Fillers     []string `yaml:"fillers"`
	SpeechVerbs []string `yaml:"speech_verbs"`

	stopSet   map[string]bool
	posSet    map[string]bool
	negSet    map[string]bool
	fillerSet map[string]bool
	verbSet   map[string]bool
}

// DefaultLexicon returns the built-in word lists.
func DefaultLexicon() *Lexicon {
	lex := &Lexicon{
		Stopwords: []string{
			"the", "and", "was", "were", "had", "has", "have", "that", "this",
			"with", "for", "his", "her", "she", "him", "they", "them", "their",
			"but", "not", "you", "all", "are", "its", "from", "out", "then",
			"than", "into", "over", "said", "one", "when", "what", "who",
			"been", "would", "could", "there", "which", "about",
		},
		Positive: []string{
			"bright", "warm", "gentle", "laugh", "laughed", "smile", "smiled",
			"glad", "hope", "hopeful", "love", "loved", "joy", "calm", "safe",
			"golden", "sweet", "kind", "light",
		},
		Negative: []string{
			"dark", "cold", "bitter", "dead", "death", "blood", "fear",
			"afraid", "scream", "screamed", "pain", "cruel", "grim", "ash",
			"broken", "alone", "wound", "grief", "shadow",
		},
		Fillers: []string{
			"well", "just", "really", "actually", "basically", "honestly",
			"look", "anyway", "right",
		},
		SpeechVerbs: []string{
			"said", "says", "asked", "replied", "answered", "whispered",
			"shouted", "muttered", "murmured", "called", "cried", "snapped",
			"added", "continued", "growled", "hissed", "offered", "began",
		},
	}
	lex.index()
	return lex
}

// LoadLexicon reads a YAML override file and layers it over the defaults.
func LoadLexicon(path string) (*Lexicon, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon %s: %w", path, err)
	}
	var override Lexicon
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("parsing lexicon %s: %w", path, err)
	}

	lex := DefaultLexicon()
	if len(override.Stopwords) > 0 {
		lex.Stopwords = override.Stopwords
	}
	if len(override.Positive) > 0 {
		lex.Positive = override.Positive
	}
	if len(override.Negative) > 0 {
		lex.Negative = override.Negative
	}
	if len(override.Fillers) > 0 {
		lex.Fillers = override.Fillers
	}
	if len(override.SpeechVerbs) > 0 {
		lex.SpeechVerbs = override.SpeechVerbs
	}
	lex.index()
	return lex, nil
}

func (l *Lexicon) index() {
	l.stopSet = toSet(l.Stopwords)
	l.posSet = toSet(l.Positive)
	l.negSet = toSet(l.Negative)
	l.fillerSet = toSet(l.Fillers)
	l.verbSet = toSet(l.SpeechVerbs)
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func (l *Lexicon) IsStopword(w string) bool   { return l.stopSet[w] }
func (l *Lexicon) IsPositive(w string) bool   { return l.posSet[w] }
func (l *Lexicon) IsNegative(w string) bool   { return l.negSet[w] }
func (l *Lexicon) IsFiller(w string) bool     { return l.fillerSet[w] }
func (l *Lexicon) IsSpeechVerb(w string) bool { return l.verbSet[w] }
