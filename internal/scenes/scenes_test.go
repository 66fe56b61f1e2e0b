package scenes

import (
	"testing"

	"github.com/jackzampolin/quill/internal/types"
)

func mkChunks(texts ...string) []types.Chunk {
	out := make([]types.Chunk, len(texts))
	for i, txt := range texts {
		out[i] = types.Chunk{ID: string(rune('a' + i)), DocumentID: "doc", Ordinal: i, Text: txt}
	}
	return out
}

func TestAnalyzeSplitsAtHeadings(t *testing.T) {
	chunks := mkChunks(
		"# Chapter One\n\nHe walked the ridge line until dark. He made camp beneath the old pine.",
		"He woke before dawn. His fire had gone cold.",
		"# Chapter Two\n\nShe waited at the harbor. Her ship was late.",
	)
	results := Analyze(chunks)
	if len(results) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(results))
	}
	if results[0].Scene.Title != "Chapter One" {
		t.Errorf("scene 0 title = %q", results[0].Scene.Title)
	}
	if results[0].FirstChunk != 0 || results[0].LastChunk != 1 {
		t.Errorf("scene 0 spans chunks [%d,%d]", results[0].FirstChunk, results[0].LastChunk)
	}
	if results[1].Scene.Title != "Chapter Two" {
		t.Errorf("scene 1 title = %q", results[1].Scene.Title)
	}
	if results[0].Scene.StartChunkID != "a" || results[0].Scene.EndChunkID != "b" {
		t.Errorf("scene 0 chunk ids: %s..%s", results[0].Scene.StartChunkID, results[0].Scene.EndChunkID)
	}
}

func TestAnalyzeSplitsAtSceneBreak(t *testing.T) {
	chunks := mkChunks(
		"He rode all night through the rain and reached the crossing by morning.",
		"* * *\n\nShe had been waiting there for three days already.",
	)
	results := Analyze(chunks)
	if len(results) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(results))
	}
}

func TestDetectPOVThirdPerson(t *testing.T) {
	mode, conf := detectPOV("He saddled his horse. He checked her saddlebags and then he rode east toward the hills.")
	if mode != types.POVThird {
		t.Fatalf("mode = %s, want third", mode)
	}
	if conf < 0.9 {
		t.Errorf("confidence = %v, want near 1", conf)
	}
}

func TestDetectPOVFirstPerson(t *testing.T) {
	mode, _ := detectPOV("I left my pack at the gate. We argued about the route, and I won.")
	if mode != types.POVFirst {
		t.Fatalf("mode = %s, want first", mode)
	}
}

func TestDetectPOVIgnoresDialogue(t *testing.T) {
	// Narration is third person; the dialogue is first person.
	text := `He lowered the map. "I know the way. I walked it as a boy, and my father before me," he said. He folded it and gave his answer.`
	mode, _ := detectPOV(text)
	if mode != types.POVThird {
		t.Fatalf("mode = %s, want third (dialogue must not count)", mode)
	}
}

func TestDetectPOVAmbiguousWhenSparse(t *testing.T) {
	mode, conf := detectPOV("The door stood open. Rain fell on the threshold.")
	if mode != types.POVAmbiguous {
		t.Fatalf("mode = %s, want ambiguous", mode)
	}
	if conf != 0 {
		t.Errorf("confidence = %v, want 0", conf)
	}
}

func TestSettingDetection(t *testing.T) {
	chunks := mkChunks("They met at the Broken Lantern after sundown. He bought the first round and they talked of the war.")
	results := Analyze(chunks)
	if len(results) != 1 {
		t.Fatalf("expected 1 scene, got %d", len(results))
	}
	if results[0].Scene.SettingText != "Broken Lantern" {
		t.Errorf("setting = %q, want Broken Lantern", results[0].Scene.SettingText)
	}
}

func TestOpeningQuoteSkipsHeading(t *testing.T) {
	chunks := mkChunks("# Chapter Three\n\nThe tide carried them past the breakwater. Gulls followed.")
	results := Analyze(chunks)
	if got := results[0].OpeningQuote; got != "The tide carried them past the breakwater." {
		t.Errorf("opening quote = %q", got)
	}
}
