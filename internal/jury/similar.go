package jury

import "strings"

// nearIdenticalThreshold is the bigram Jaccard score above which two
// contents are treated as the same memory.
const nearIdenticalThreshold = 0.95

// textNearIdentical reports whether two strings are near-identical by
// shared-bigram ratio, ignoring case and surrounding whitespace.
func textNearIdentical(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return a == b
	}

	shared := 0
	for bg := range bigramsA {
		if bigramsB[bg] {
			shared++
		}
	}

	union := len(bigramsA) + len(bigramsB) - shared
	if union == 0 {
		return true
	}
	return float64(shared)/float64(union) > nearIdenticalThreshold
}

func bigrams(s string) map[string]bool {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	m := make(map[string]bool, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		m[string(r[i:i+2])] = true
	}
	return m
}
