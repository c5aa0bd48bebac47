package conversation

import (
	"regexp"
	"strings"
)

var (
	codeFence     = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n?(.*?)```")
	fragmentSplit = regexp.MustCompile(`[.!?]+(\s|$)|\n+`)
)

// minFragmentLength drops fragments too short to act on.
const minFragmentLength = 8

// Bucket keywords, checked in this order. The first bucket with a hit wins.
var outputKeywords = []struct {
	kind     OutputKind
	keywords []string
}{
	{KindCode, []string{"func ", "function", "class ", "def ", "import ", "snippet", "code:"}},
	{KindDocument, []string{"document", "readme", "report", "write-up", "write up", "specification"}},
	{KindTask, []string{"todo", "task", "action item", "need to", "must ", "assign", "deadline"}},
	{KindRecommendation, []string{"recommend", "suggest", "should", "consider", "advise", "propose"}},
}

// ExtractActionableOutputs classifies fragments of text into actionable
// outputs. Fenced code blocks become code outputs; the remaining text is
// split into sentences and lines and classified by keyword.
func ExtractActionableOutputs(text string) []ActionableOutput {
	var outputs []ActionableOutput
	seen := make(map[string]bool)

	add := func(kind OutputKind, content string) {
		key := string(kind) + "\x00" + content
		if seen[key] {
			return
		}
		seen[key] = true
		outputs = append(outputs, ActionableOutput{Kind: kind, Content: content})
	}

	for _, m := range codeFence.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			add(KindCode, body)
		}
	}
	rest := codeFence.ReplaceAllString(text, "\n")

	for _, frag := range fragmentSplit.Split(rest, -1) {
		frag = strings.TrimSpace(frag)
		if len(frag) < minFragmentLength {
			continue
		}
		if kind, ok := classify(frag); ok {
			add(kind, frag)
		}
	}
	return outputs
}

func classify(fragment string) (OutputKind, bool) {
	lower := strings.ToLower(fragment)
	for _, bucket := range outputKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(lower, kw) {
				return bucket.kind, true
			}
		}
	}
	return "", false
}
