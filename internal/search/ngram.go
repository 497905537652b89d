package search

import (
	"regexp"
	"strings"
)

var wordSeparator = regexp.MustCompile(`[^\p{L}\p{M}\d]+`)

// Generator splits text into lowercase n-grams.
type Generator struct {
	N int
	// MinWordLen drops shorter words.
	MinWordLen int
	// LeadingSpace adds " "+prefix grams so that word starts rank higher.
	LeadingSpace bool
}

// Trigrams and Tetragrams are the two generators used by the index.
var (
	Trigrams   = Generator{N: 3, MinWordLen: 1, LeadingSpace: true}
	Tetragrams = Generator{N: 4, MinWordLen: 3, LeadingSpace: true}
)

// Add inserts the n-grams of text into set.
func (g Generator) Add(set map[string]struct{}, text string) {
	if text == "" || g.N <= 0 {
		return
	}
	for _, word := range wordSeparator.Split(strings.ToLower(text), -1) {
		runes := []rune(word)
		if len(runes) == 0 || len(runes) < g.MinWordLen {
			continue
		}
		if g.LeadingSpace {
			head := runes
			if len(head) > g.N-1 {
				head = head[:g.N-1]
			}
			set[" "+string(head)] = struct{}{}
		}
		if len(runes) < g.N {
			set[string(runes)] = struct{}{}
			continue
		}
		for i := 0; i+g.N <= len(runes); i++ {
			set[string(runes[i:i+g.N])] = struct{}{}
		}
	}
}

// Ngrams returns the union of trigrams and tetragrams of text.
func Ngrams(text string) map[string]struct{} {
	set := map[string]struct{}{}
	Trigrams.Add(set, text)
	Tetragrams.Add(set, text)
	return set
}
