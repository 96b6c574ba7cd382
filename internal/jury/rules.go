package jury

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// maxContentChars rejects pasted blobs; memories are statements, not documents.
	maxContentChars = 40000
	// lowConfidence marks a candidate as borderline.
	lowConfidence = 0.3
	// recentWindow is how many of the user's latest memories are checked for
	// near-duplicates.
	recentWindow = 50
)

// ruleResult is the outcome of the deterministic checks. Borderline results
// carry a quarantine verdict that the meta-judge may overturn.
type ruleResult struct {
	verdict    Verdict
	reason     string
	borderline bool
}

// checkRules runs the rule-based checks over a candidate. recent holds the
// user's latest stored contents.
func checkRules(c Candidate, minLen int, recent []string) ruleResult {
	content := strings.TrimSpace(c.Content)
	n := utf8.RuneCountInString(content)

	switch {
	case n == 0:
		return ruleResult{verdict: Reject, reason: "empty content"}
	case n < minLen:
		return ruleResult{verdict: Reject, reason: fmt.Sprintf("content too short (%d chars, min %d)", n, minLen)}
	case n > maxContentChars:
		return ruleResult{verdict: Reject, reason: fmt.Sprintf("content too long (%d chars, max %d)", n, maxContentChars)}
	}

	if reason := degenerate(content); reason != "" {
		return ruleResult{verdict: Reject, reason: reason}
	}

	for _, prev := range recent {
		if textNearIdentical(content, prev) {
			return ruleResult{verdict: Reject, reason: "near-duplicate of an existing memory"}
		}
	}

	if n < 2*minLen {
		return ruleResult{verdict: Quarantine, reason: "short content", borderline: true}
	}
	if c.Confidence > 0 && c.Confidence < lowConfidence {
		return ruleResult{verdict: Quarantine, reason: fmt.Sprintf("low confidence %.2f", c.Confidence), borderline: true}
	}
	return ruleResult{verdict: Accept, reason: "passed rule checks"}
}

// degenerate returns a reason when content carries no usable signal:
// no letters or digits, or a single repeated character or word.
func degenerate(content string) string {
	var alnum int
	distinct := make(map[rune]bool)
	for _, r := range content {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
			distinct[unicode.ToLower(r)] = true
		}
	}
	if alnum == 0 {
		return "no alphanumeric content"
	}
	if len(distinct) == 1 {
		return "repeated single character"
	}

	words := strings.Fields(strings.ToLower(content))
	if len(words) >= 3 {
		first := words[0]
		same := true
		for _, w := range words[1:] {
			if w != first {
				same = false
				break
			}
		}
		if same {
			return "repeated single word"
		}
	}
	return ""
}
