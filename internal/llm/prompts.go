package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InternalSentinel prefixes every prompt pltm sends so transcripts of the
// judge's own calls can be recognized and skipped.
const InternalSentinel = "[pltm-internal]"

// MetaJudgePrompt asks the arbiter for a verdict on a borderline memory.
func MetaJudgePrompt(memoryType, content, ruleReason string) string {
	return fmt.Sprintf(`%s
You are the admission judge for a long-term memory store. A candidate memory
passed the basic checks but looks borderline. Decide whether it should be kept.

MEMORY TYPE: %s
CONTENT:
%s

RULE CHECK NOTE: %s

Verdicts:
- accept: a durable, meaningful fact, belief, event or procedure
- quarantine: possibly useful but vague, low-signal or unverifiable; keep it weakened
- reject: noise, filler, gibberish, or nothing worth remembering

Return ONLY a JSON object, no other text:
{"verdict": "accept|quarantine|reject", "reason": "one short sentence"}`,
		InternalSentinel, memoryType, content, ruleReason)
}

// JudgeVerdict is the parsed answer to MetaJudgePrompt.
type JudgeVerdict struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
}

// ParseJudgeVerdict extracts the verdict object from a model reply. The
// reply may be wrapped in markdown code fences or surrounding text.
func ParseJudgeVerdict(content string) (*JudgeVerdict, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var v JudgeVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}
	v.Verdict = strings.ToLower(strings.TrimSpace(v.Verdict))
	switch v.Verdict {
	case "accept", "quarantine", "reject":
		return &v, nil
	default:
		return nil, fmt.Errorf("unknown verdict %q", v.Verdict)
	}
}
