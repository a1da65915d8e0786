package orchestration

import (
	"iter"
	"regexp"
)

var spaceRe = regexp.MustCompile(`\s+`)

// RechunkToWords regroups a text-delta stream of arbitrary granularity into
// whole-word deltas. The synthesizer mispronounces words split across token
// boundaries, so only whole words are safe to feed it.
//
// Spaces are attached to the word that follows them, so "foo bar baz"
// becomes "foo", " bar", " baz". Runs of space-like characters collapse to a
// single space. A trailing partial word is flushed once the input ends. The
// input is consumed in a single pass; at most one pending partial word is
// buffered.
func RechunkToWords(deltas iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		buffer := ""
		prefix := ""
		for delta := range deltas {
			buffer += delta
			for {
				match := spaceRe.FindStringIndex(buffer)
				if match == nil {
					break
				}
				chunk := buffer[:match[0]]
				buffer = buffer[match[1]:]
				if chunk != "" {
					if !yield(prefix + chunk) {
						return
					}
					prefix = " "
				}
			}
		}

		if buffer != "" {
			yield(prefix + buffer)
		}
	}
}
