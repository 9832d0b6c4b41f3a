package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/memento-core/daemon/internal/diagnostics"
	"github.com/memento-core/daemon/internal/recall"
	"github.com/memento-core/daemon/internal/session"
	"github.com/memento-core/daemon/pkg/types"
)

// recoveryBudgetChars bounds how much of a recovered checkpoint's digest is
// injected back into a new session (spec.md §6 Configuration "Continuity:
// recoveryBudgetChars=2000").
const recoveryBudgetChars = 2000

// recoveryWindow is how far back session_start looks for a checkpoint to
// resume from. spec.md's Configuration block only names the checkpoint's
// own retentionDays=7, not a separate recovery lookback, so this is kept
// equal to that retention window: a session can recover any checkpoint
// that hasn't yet been pruned.
const recoveryWindow = session.DefaultRetention

// hookResponse is the envelope every hook endpoint returns (spec.md §6:
// "each returns an inject string... plus the operation's structured
// result").
type hookResponse struct {
	Inject string      `json:"inject"`
	Result interface{} `json:"result"`
}

func writeHook(w http.ResponseWriter, inject string, result interface{}) {
	writeJSON(w, http.StatusOK, hookResponse{Inject: inject, Result: result})
}

type sessionStartRequest struct {
	SessionKey string `json:"sessionKey"`
	Harness    string `json:"harness"`
	Project    string `json:"project"`
}

// handleHookSessionStart implements the session_start hook: it looks up
// the most recent checkpoint for the caller's normalized project and, if
// one exists within the recovery window, injects a "resuming from…" block
// (spec.md §4.4 "Recovery").
func (s *Server) handleHookSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	projectNorm := session.NormalizeProject(req.Project)
	cp, err := s.deps.Session.Recover(r.Context(), projectNorm, recoveryWindow)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "recovery_failed")
		return
	}
	if cp == nil {
		writeHook(w, "", map[string]interface{}{"resumed": false})
		return
	}
	digest := cp.Digest
	if len(digest) > recoveryBudgetChars {
		digest = digest[:recoveryBudgetChars]
	}
	inject := fmt.Sprintf("Resuming from a previous session (%s, %d prompts): %s", cp.Trigger, cp.PromptCount, digest)
	writeHook(w, inject, map[string]interface{}{"resumed": true, "checkpoint": cp})
}

type userPromptSubmitRequest struct {
	SessionKey        string `json:"sessionKey"`
	Harness           string `json:"harness"`
	Project           string `json:"project"`
	ProjectNormalized string `json:"projectNormalized,omitempty"`
	Prompt            string `json:"prompt"`
}

// handleHookUserPromptSubmit records a prompt snippet against the session's
// rolling continuity state; it never injects anything itself.
func (s *Server) handleHookUserPromptSubmit(w http.ResponseWriter, r *http.Request) {
	var req userPromptSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	norm := projectNormOrCompute(req.ProjectNormalized, req.Project)
	s.deps.Session.RecordPrompt(r.Context(), req.SessionKey, req.Harness, req.Project, norm, req.Prompt)
	writeHook(w, "", map[string]interface{}{"recorded": true})
}

type hookRememberRequest struct {
	rememberRequest
	SessionKey        string `json:"sessionKey"`
	Harness           string `json:"harness"`
	ProjectNormalized string `json:"projectNormalized,omitempty"`
}

// handleHookRemember ingests a fact the same way POST /api/memory/remember
// does, additionally noting it against the session's continuity state
// (spec.md §4.4 "pendingRemembers").
func (s *Server) handleHookRemember(w http.ResponseWriter, r *http.Request) {
	var req hookRememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.Content) < minFactLength {
		writeError(w, http.StatusBadRequest, "content_too_short")
		return
	}
	res, err := s.ingestRemember(r.Context(), req.rememberRequest)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	norm := projectNormOrCompute(req.ProjectNormalized, req.Project)
	s.deps.Session.RecordRemember(req.SessionKey, req.Harness, req.Project, norm, req.Content)
	writeHook(w, "", map[string]interface{}{"id": res.ID, "deduped": res.Deduped})
}

type hookRecallRequest struct {
	recallRequest
	SessionKey        string `json:"sessionKey"`
	Harness           string `json:"harness"`
	ProjectNormalized string `json:"projectNormalized,omitempty"`
}

// handleHookRecall runs the same decay-ranked recall as the HTTP recall
// endpoint, then folds the candidates into the session's recalled-memory
// tracking and formats an injectable context block (spec.md §4.3 step 6,
// §4.5 "memories_recalled vs memories_used").
func (s *Server) handleHookRecall(w http.ResponseWriter, r *http.Request) {
	var req hookRecallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	opts := recall.Options{
		Project:  req.Project,
		Type:     req.Type,
		Limit:    req.Limit,
		MinScore: req.MinScore,
		Alpha:    req.Alpha,
	}
	if opts.Alpha == 0 {
		opts.Alpha = 0.7
	}
	results, err := s.deps.Recall.Recall(r.Context(), req.Query, opts)
	if err != nil {
		s.deps.Diagnostics.RecordError(diagErrEvent(diagnostics.StageMutation, err, ""))
		writeError(w, http.StatusInternalServerError, "recall_failed")
		return
	}

	norm := projectNormOrCompute(req.ProjectNormalized, req.Project)
	s.deps.Session.RecordQuery(req.SessionKey, req.Harness, req.Project, norm, req.Query)

	rows := make([]types.SessionMemory, 0, len(results))
	ids := make([]string, 0, len(results))
	var sb strings.Builder
	for i, res := range results {
		rows = append(rows, types.SessionMemory{
			SessionKey:     req.SessionKey,
			MemoryID:       res.ID,
			Source:         types.SourceEffective,
			EffectiveScore: res.Score,
			FinalScore:     res.Score,
			Rank:           i,
			WasInjected:    true,
		})
		ids = append(ids, res.ID)
		fmt.Fprintf(&sb, "- %s\n", res.Content)
	}
	if len(rows) > 0 {
		if err := s.deps.Session.RecordSessionMemories(r.Context(), rows); err != nil {
			s.deps.Diagnostics.RecordError(diagErrEvent(diagnostics.StageMutation, err, ""))
		}
		if err := s.deps.Session.MarkInjected(r.Context(), req.SessionKey, ids); err != nil {
			s.deps.Diagnostics.RecordError(diagErrEvent(diagnostics.StageMutation, err, ""))
		}
	}

	writeHook(w, sb.String(), map[string]interface{}{"results": results})
}

type preCompactionRequest struct {
	SessionKey string `json:"sessionKey"`
}

// handleHookPreCompaction schedules a checkpoint flush (debounced by
// session.FlushDelay) ahead of a harness's context compaction (spec.md
// §4.4 trigger "pre_compaction").
func (s *Server) handleHookPreCompaction(w http.ResponseWriter, r *http.Request) {
	var req preCompactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	s.deps.Session.Checkpoint(r.Context(), req.SessionKey, types.TriggerPreCompaction)
	writeHook(w, "", map[string]interface{}{"checkpointed": true})
}

type sessionEndRequest struct {
	SessionKey string `json:"sessionKey"`
	Harness    string `json:"harness"`
	Project    string `json:"project"`
	Transcript string `json:"transcript,omitempty"`
}

// handleHookSessionEnd flushes a final checkpoint, optionally enqueues the
// transcript for summarization, and drops the in-memory session state
// (spec.md §4.4, §4.5 "enqueueSummaryJob").
func (s *Server) handleHookSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req sessionEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	s.deps.Session.Checkpoint(r.Context(), req.SessionKey, types.TriggerExplicit)
	summarized := false
	if req.Transcript != "" {
		err := s.deps.Session.EnqueueSummary(r.Context(), types.SummaryJob{
			SessionKey: req.SessionKey,
			Harness:    req.Harness,
			Project:    req.Project,
			Transcript: req.Transcript,
		})
		summarized = err == nil
	}
	s.deps.Session.Clear(req.SessionKey)
	writeHook(w, "", map[string]interface{}{"ended": true, "summarized": summarized})
}

func projectNormOrCompute(given, project string) string {
	if given != "" {
		return given
	}
	return session.NormalizeProject(project)
}
