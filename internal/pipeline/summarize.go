package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

const (
	summarizeMaxChars = 12000
	slugMaxChars      = 50
)

type summarizeFact struct {
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags,omitempty"`
	Type       string   `json:"type"`
}

type summarizeResponse struct {
	Summary string          `json:"summary"`
	Facts   []summarizeFact `json:"facts"`
}

type summarizeResult struct {
	FactsStored     int      `json:"facts_stored"`
	FactsSkipped    int      `json:"facts_skipped_duplicate"`
	SummaryStored   bool     `json:"summary_stored"`
	SummaryFile     string   `json:"summary_file,omitempty"`
	ContinuityScore bool     `json:"continuity_scored"`
	Warnings        []string `json:"warnings,omitempty"`
}

// summarize implements §4.5 steps 1-7: prompt the LLM for a dated markdown
// summary plus a fact list, write the summary to the memory directory and
// store it and the facts as memories, then run continuity scoring against
// whatever memories this session actually had injected.
func (p *Pipeline) summarize(ctx context.Context, job types.Job) (string, error) {
	var env types.SummaryJob
	if err := json.Unmarshal([]byte(job.Payload), &env); err != nil {
		return "", fmt.Errorf("summarize: decode payload: %w", err)
	}

	raw, err := p.generate(ctx, buildSummarizePrompt(env.Transcript, summarizeMaxChars), summarizeTimeout)
	if err != nil {
		return "", fmt.Errorf("summarize: generate: %w", err)
	}
	clean := stripThinkingAndFences(raw)

	var resp summarizeResponse
	if jsonErr := json.Unmarshal([]byte(extractJSONObject(clean)), &resp); jsonErr != nil {
		return "", fmt.Errorf("summarize: parse response: %w", jsonErr)
	}

	result := summarizeResult{}
	if resp.Summary != "" {
		if path, err := p.writeSummaryFile(env.Project, resp.Summary); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to write summary file: %v", err))
		} else {
			result.SummaryFile = path
		}

		if _, err := p.store.Ingest(ctx, store.IngestEnvelope{
			Content:    resp.Summary,
			Type:       types.TypeGeneral,
			Importance: 0.5,
			Project:    env.Project,
			SessionID:  env.SessionKey,
			Who:        env.Harness,
			SourceType: "session_summary",
		}); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to store summary: %v", err))
		} else {
			result.SummaryStored = true
		}
	}

	for _, f := range resp.Facts {
		if f.Content == "" {
			continue
		}
		dup, err := isDuplicate(ctx, p.store, f.Content)
		if err != nil {
			log.Printf("pipeline: summarize duplicate check failed for %q: %v", f.Content, err)
		}
		if dup {
			result.FactsSkipped++
			continue
		}
		factType := types.MemoryType(f.Type)
		if !types.IsValidMemoryType(factType) {
			factType = types.TypeFact
		}
		importance := f.Importance
		if importance == 0 {
			importance = 0.5
		}
		if _, err := p.store.Ingest(ctx, store.IngestEnvelope{
			Content:    f.Content,
			Type:       factType,
			Importance: clamp01(importance),
			Project:    env.Project,
			SessionID:  env.SessionKey,
			Who:        env.Harness,
			SourceType: "session_summary",
			Tags:       f.Tags,
		}); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to store fact: %v", err))
			continue
		}
		result.FactsStored++
	}

	if err := p.scoreContinuity(ctx, env); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("continuity scoring skipped: %v", err))
	} else {
		result.ContinuityScore = true
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// writeSummaryFile implements §4.5 steps 4-5: derive a filename from the
// summary's first "## " heading, falling back to the project's last path
// segment then "session", and write the summary to the memory directory
// with a uniqueness suffix if the dated name is already taken.
func (p *Pipeline) writeSummaryFile(project, summary string) (string, error) {
	if p.memoryDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(p.memoryDir, 0o755); err != nil {
		return "", fmt.Errorf("create memory directory: %w", err)
	}
	base := time.Now().Format("2006-01-02") + "-" + summaryFilenameSlug(project, summary)
	for attempt, suffix := 1, ""; ; attempt++ {
		path := filepath.Join(p.memoryDir, base+suffix+".md")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
				return "", err
			}
			return path, nil
		} else if err != nil {
			return "", err
		}
		suffix = fmt.Sprintf("-%d", attempt+1)
	}
}

// summaryFilenameSlug picks the slug portion of a summary's filename: the
// first "## " heading if present, else the last path segment of project,
// else "session" (spec.md §4.5 step 4).
func summaryFilenameSlug(project, summary string) string {
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "## ") {
			continue
		}
		if slug := slugify(strings.TrimPrefix(line, "## ")); slug != "" {
			return slug
		}
	}
	if project != "" {
		segments := strings.Split(strings.TrimRight(project, "/"), "/")
		if slug := slugify(segments[len(segments)-1]); slug != "" {
			return slug
		}
	}
	return "session"
}

// slugify lowercases s, collapses runs of non-alphanumeric characters to a
// single hyphen, and caps the result to slugMaxChars.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // suppresses a leading hyphen
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > slugMaxChars {
		out = strings.TrimRight(out[:slugMaxChars], "-")
	}
	return out
}

type continuityResponse struct {
	Score               float64            `json:"score"`
	MemoriesUsed        int                `json:"memories_used"`
	NovelContextCount   int                `json:"novel_context_count"`
	Reasoning           string             `json:"reasoning"`
	ContinuityReasoning string             `json:"continuity_reasoning"`
	Confidence          float64            `json:"confidence"`
	Relevance           map[string]float64 `json:"relevance"`
}

// scoreContinuity implements §4.5 step 7: rebuild the set of memories this
// session actually had injected, ask the LLM to rate how well they covered
// the session, and persist the verdict plus per-memory relevance scores.
// A session with no tracked injections (e.g. a harness that never called
// the recall hook, or an import-only session with no SessionKey) is
// skipped rather than scored against an empty set.
func (p *Pipeline) scoreContinuity(ctx context.Context, env types.SummaryJob) error {
	if env.SessionKey == "" || p.sessions == nil {
		return nil
	}
	injected, err := p.sessions.InjectedMemories(ctx, env.SessionKey)
	if err != nil {
		return fmt.Errorf("load injected memories: %w", err)
	}
	if len(injected) == 0 {
		return nil
	}
	recalled, err := p.sessions.CountSessionMemories(ctx, env.SessionKey)
	if err != nil {
		return fmt.Errorf("count session memories: %w", err)
	}

	// The 8-char prefix map is built from the injected set only (spec.md
	// §4.5 step 7), so a collision would only ever shadow another injected
	// memory's score, never reach outside the set being scored.
	idByPrefix := make(map[string]string, len(injected))
	var list strings.Builder
	for _, sm := range injected {
		prefix := sm.MemoryID
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		idByPrefix[prefix] = sm.MemoryID
		mem, err := p.store.Get(ctx, sm.MemoryID)
		if err != nil {
			continue
		}
		fmt.Fprintf(&list, "- [%s] %s\n", prefix, mem.Content)
	}

	raw, err := p.generate(ctx, buildContinuityPrompt(env.Transcript, list.String()), continuityTimeout)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	var resp continuityResponse
	if err := json.Unmarshal([]byte(extractJSONObject(stripThinkingAndFences(raw))), &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	scores := make(map[string]float64, len(resp.Relevance))
	for prefix, score := range resp.Relevance {
		if id, ok := idByPrefix[prefix]; ok {
			scores[id] = clamp01(score)
		}
	}
	if err := p.sessions.UpdateRelevanceScores(ctx, env.SessionKey, scores); err != nil {
		return fmt.Errorf("update relevance scores: %w", err)
	}

	confidence := clamp01(resp.Confidence)
	return p.sessions.SaveSessionScore(ctx, types.SessionScore{
		SessionKey:          env.SessionKey,
		Project:             env.Project,
		Harness:             env.Harness,
		Score:               clamp01(resp.Score),
		MemoriesRecalled:    recalled,
		MemoriesUsed:        resp.MemoriesUsed,
		NovelContextCount:   resp.NovelContextCount,
		Reasoning:           resp.Reasoning,
		Confidence:          &confidence,
		ContinuityReasoning: resp.ContinuityReasoning,
	})
}
