package evidence

import "testing"

func TestResolveExact(t *testing.T) {
	text := `Mara drew the Stormblade and held it high.`
	span := Resolve(text, "the Stormblade")
	if span == nil {
		t.Fatal("expected exact match")
	}
	if got := text[span.Start:span.End]; got != "the Stormblade" {
		t.Fatalf("resolved to %q", got)
	}
}

func TestResolveCaseInsensitive(t *testing.T) {
	text := "Her eyes were Green in the lamplight."
	span := Resolve(text, "her eyes were green")
	if span == nil {
		t.Fatal("expected case-insensitive match")
	}
	if span.Start != 0 {
		t.Fatalf("expected match at 0, got %d", span.Start)
	}
}

func TestResolveTolerantReflowedQuote(t *testing.T) {
	text := "The caravan crossed\nthe salt flats   before dawn."
	span := Resolve(text, "caravan crossed the salt flats before")
	if span == nil {
		t.Fatal("expected tolerant match across reflowed whitespace")
	}
	got := text[span.Start:span.End]
	if got[:7] != "caravan" {
		t.Fatalf("match starts at %q", got)
	}
	if text[span.End-1] != 'e' { // "...before"
		t.Fatalf("match ends mid-word: %q", got)
	}
}

func TestResolveCaseInsensitiveAfterWidthChangingRune(t *testing.T) {
	// U+212A (Kelvin sign) is 3 bytes but lowercases to the 1-byte 'k',
	// so offsets computed against a lowered copy would drift by 2.
	text := "The K mark glowed. Mira smiled at last."
	span := Resolve(text, "Mira Smiled")
	if span == nil {
		t.Fatal("expected case-insensitive match")
	}
	if got := text[span.Start:span.End]; got != "Mira smiled" {
		t.Fatalf("resolved to %q", got)
	}
}

func TestResolveFoldsWidthChangingRunes(t *testing.T) {
	text := "Water boils at 373K under pressure."
	span := Resolve(text, "373k under")
	if span == nil {
		t.Fatal("expected folded match")
	}
	if got := text[span.Start:span.End]; got != "373K under" {
		t.Fatalf("resolved to %q", got)
	}
}

func TestResolveTolerantAfterWidthChangingRune(t *testing.T) {
	text := "İstanbul fell silent. The caravan\ncrossed the flats."
	span := Resolve(text, "caravan  crossed the")
	if span == nil {
		t.Fatal("expected tolerant match")
	}
	if got := text[span.Start:span.End]; got != "caravan\ncrossed the" {
		t.Fatalf("resolved to %q", got)
	}
}

func TestResolveNoMatch(t *testing.T) {
	if span := Resolve("some chunk text", "absent quote"); span != nil {
		t.Fatalf("expected nil, got %+v", span)
	}
}

func TestResolveEmptyQuote(t *testing.T) {
	if span := Resolve("text", ""); span != nil {
		t.Fatal("empty quote must not resolve")
	}
}

func TestResolvePrefersExactOverTolerant(t *testing.T) {
	// Exact occurrence later in the text; a tolerant match would hit earlier.
	text := "the  north star glowed. Sailors steered by the north star."
	span := Resolve(text, "the north star")
	if span == nil {
		t.Fatal("expected a match")
	}
	if got := text[span.Start:span.End]; got != "the north star" {
		t.Fatalf("expected the exact occurrence, got %q", got)
	}
}

func TestResolveTolerantFalseStartBacktracks(t *testing.T) {
	// First occurrence of the leading word is not followed by the rest.
	text := "storm warnings faded. storm broke over the ridge"
	span := Resolve(text, "storm  broke")
	if span == nil {
		t.Fatal("expected tolerant match after false start")
	}
	if got := text[span.Start:span.End]; got != "storm broke" {
		t.Fatalf("got %q", got)
	}
}
