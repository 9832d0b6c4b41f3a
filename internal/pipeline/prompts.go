package pipeline

import (
	"fmt"
	"strings"

	"github.com/memento-core/daemon/internal/store"
)

// buildExtractPrompt asks for one combined JSON object instead of the
// teacher's separate entity and relationship calls (spec.md §4.2 "extract"):
// the daemon spends one generate() call per memory, not two.
func buildExtractPrompt(content string) string {
	return fmt.Sprintf(`TASK: Extract atomic facts and entity relationships from the text below.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

REQUIRED JSON STRUCTURE:
{
  "facts": [
    {"content": "a single atomic statement, 20-2000 characters", "type": "fact|preference|decision|procedural|semantic|issue|rule|learning", "confidence": 0.0-1.0}
  ],
  "entities": [
    {"source": "entity name", "relationship": "short verb phrase", "target": "entity name", "confidence": 0.0-1.0}
  ]
}

RULES:
- At most 20 facts, at most 50 relationship triples.
- Each fact must stand alone without the surrounding text for context.
- Omit a field rather than guessing; confidence defaults to 0.5 if unsure.

TEXT:
%s`, content)
}

// buildDecidePrompt asks the LLM to propose (never apply) a disposition for
// a newly extracted fact against up to five similar existing memories
// (spec.md §4.2 "decide").
func buildDecidePrompt(fact string, candidates []store.ScoredMemory, lookup map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `TASK: Decide what should happen to a newly extracted fact relative to existing memories.
OUTPUT: ONLY valid JSON: {"action":"add|update|delete|none","targetId":"<id, required for update/delete>","confidence":0.0-1.0,"reason":"short explanation"}

NEW FACT:
%s

EXISTING CANDIDATES:
`, fact)
	if len(candidates) == 0 {
		b.WriteString("(none found)\n")
	}
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id=%s: %s\n", c.MemoryID, lookup[c.MemoryID])
	}
	b.WriteString("\nIf no candidate overlaps meaningfully with the new fact, propose action=add with no targetId.\n")
	return b.String()
}

// buildSummarizePrompt builds the structured session-summary prompt
// (spec.md §4.5 step 1), truncating the transcript to maxChars.
func buildSummarizePrompt(transcript string, maxChars int) string {
	if len(transcript) > maxChars {
		transcript = transcript[:maxChars]
	}
	return fmt.Sprintf(`TASK: Summarize this coding session transcript.
OUTPUT: ONLY valid JSON. NO markdown code fences.
{
  "summary": "a markdown document starting with a single '## <short title>' heading, then dated topic sections",
  "facts": [
    {"content": "an atomic, reusable fact worth remembering", "importance": 0.0-1.0, "tags": ["optional"], "type": "fact|decision|learning|procedural"}
  ]
}

TRANSCRIPT:
%s`, transcript)
}

// buildContinuityPrompt asks the LLM to rate how well the memories a
// session actually injected covered what the transcript needed (spec.md
// §4.5 step 7 "continuity scoring"). memoryList is pre-formatted as
// "- [<8-char id prefix>] <content>" lines, built from the injected set
// only.
func buildContinuityPrompt(transcript, memoryList string) string {
	return fmt.Sprintf(`TASK: Judge how well the memories injected into this session covered what the session needed.
OUTPUT: ONLY valid JSON. NO markdown code fences.
{
  "score": 0.0-1.0,
  "memories_used": "count of the injected memories below that were actually useful",
  "novel_context_count": "count of things the session needed that none of the injected memories covered",
  "reasoning": "one-sentence verdict",
  "continuity_reasoning": "a few sentences on what was covered well and what gaps remain",
  "confidence": 0.0-1.0,
  "relevance": {"<8-char id prefix>": "0.0-1.0, how relevant that memory was to this session"}
}

INJECTED MEMORIES:
%s

TRANSCRIPT:
%s`, memoryList, transcript)
}

// stripThinkingAndFences removes chain-of-thought blocks and markdown code
// fences an LLM may wrap its JSON response in (spec.md §4.5 step 3).
func stripThinkingAndFences(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// extractJSONObject returns the first balanced {...} span in s, tolerating
// leading/trailing prose an LLM adds despite instructions — grounded on the
// teacher's internal/llm.extractJSON brace-counting approach.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escape {
			escape = false
			continue
		}
		switch c {
		case '\\':
			escape = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return s[start:]
}
