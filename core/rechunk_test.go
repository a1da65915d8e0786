package orchestration

import (
	"slices"
	"strings"
	"testing"
)

func collectWords(deltas ...string) []string {
	var words []string
	for word := range RechunkToWords(slices.Values(deltas)) {
		words = append(words, word)
	}
	return words
}

func TestRechunkToWordsSplitsAcrossDeltaBoundaries(t *testing.T) {
	words := collectWords("Hel", "lo the", "re wor", "ld")

	want := []string{"Hello", " there", " world"}
	if !slices.Equal(words, want) {
		t.Fatalf("expected %v, got %v", want, words)
	}
}

func TestRechunkToWordsAttachesSpaceToFollowingWord(t *testing.T) {
	words := collectWords("foo bar baz")

	want := []string{"foo", " bar", " baz"}
	if !slices.Equal(words, want) {
		t.Fatalf("expected %v, got %v", want, words)
	}
}

func TestRechunkToWordsFlushesTrailingPartialWord(t *testing.T) {
	words := collectWords("one two thr")

	want := []string{"one", " two", " thr"}
	if !slices.Equal(words, want) {
		t.Fatalf("expected trailing partial word flushed, got %v", words)
	}
}

func TestRechunkToWordsCollapsesWhitespaceRuns(t *testing.T) {
	words := collectWords("one \n\t two", "  three")

	want := []string{"one", " two", " three"}
	if !slices.Equal(words, want) {
		t.Fatalf("expected %v, got %v", want, words)
	}
}

func TestRechunkToWordsIgnoresLeadingWhitespace(t *testing.T) {
	words := collectWords("  one two")

	want := []string{"one", " two"}
	if !slices.Equal(words, want) {
		t.Fatalf("expected %v, got %v", want, words)
	}
}

func TestRechunkToWordsEmptyInput(t *testing.T) {
	if words := collectWords(); words != nil {
		t.Fatalf("expected no words, got %v", words)
	}
	if words := collectWords("", ""); words != nil {
		t.Fatalf("expected no words from empty deltas, got %v", words)
	}
}

func TestRechunkToWordsPreservesTextUpToWhitespaceNormalization(t *testing.T) {
	deltas := []string{"The qu", "ick  brown", " fox\njumps over ", "the lazy dog."}

	joined := strings.Join(collectWords(deltas...), "")
	normalized := spaceRe.ReplaceAllString(strings.TrimSpace(strings.Join(deltas, "")), " ")
	if joined != normalized {
		t.Fatalf("expected %q, got %q", normalized, joined)
	}
}
