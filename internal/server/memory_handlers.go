package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/memento-core/daemon/internal/diagnostics"
	"github.com/memento-core/daemon/internal/recall"
	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

// minFactLength is the boundary spec.md §8 fixes: a fact shorter than this
// is rejected outright rather than stored and extracted from.
const minFactLength = 20

type rememberRequest struct {
	Content        string   `json:"content"`
	Type           string   `json:"type,omitempty"`
	Importance     float64  `json:"importance,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
	Project        string   `json:"project,omitempty"`
	SessionID      string   `json:"sessionId,omitempty"`
	Who            string   `json:"who,omitempty"`
	SourceType     string   `json:"sourceType,omitempty"`
	RuntimePath    string   `json:"runtimePath,omitempty"`
}

// handleRemember implements POST /api/memory/remember (spec.md §6).
func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.Content) < minFactLength {
		writeError(w, http.StatusBadRequest, "content_too_short")
		return
	}
	res, err := s.ingestRemember(r.Context(), req)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": res.ID, "deduped": res.Deduped})
}

// ingestRemember is the shared body of POST /api/memory/remember and the
// remember hook: validate defaults, ingest, and enqueue the initial
// extraction job for a freshly-stored (non-deduped) fact.
func (s *Server) ingestRemember(ctx context.Context, req rememberRequest) (store.IngestResult, error) {
	memType := types.MemoryType(req.Type)
	if !types.IsValidMemoryType(memType) {
		memType = types.TypeGeneral
	}
	if req.Importance == 0 {
		req.Importance = 0.5
	}

	res, err := s.deps.Store.Ingest(ctx, store.IngestEnvelope{
		Content:        req.Content,
		Type:           memType,
		Importance:     req.Importance,
		Project:        req.Project,
		SessionID:      req.SessionID,
		Who:            req.Who,
		SourceType:     req.SourceType,
		Tags:           req.Tags,
		RuntimePath:    req.RuntimePath,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return store.IngestResult{}, err
	}
	if !res.Deduped && s.deps.Queue != nil {
		if _, err := s.deps.Queue.Enqueue(ctx, types.JobExtract, res.ID, ""); err != nil {
			s.deps.Diagnostics.RecordError(diagErrEvent(diagnostics.StageMutation, err, res.ID))
		}
	}
	return res, nil
}

// handleGetMemory implements GET /api/memory/:id.
func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mem, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

type patchRequest struct {
	Patch     types.MemoryPatch `json:"patch"`
	Reason    string            `json:"reason"`
	IfVersion *int              `json:"if_version,omitempty"`
}

// handleUpdateMemory implements PATCH /api/memory/:id.
func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	mem, contentChanged, err := s.deps.Store.Update(r.Context(), id, req.Patch, req.Reason, req.IfVersion)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if contentChanged {
		s.reenqueueEnrichment(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "updated", "version": mem.Version})
}

// reenqueueEnrichment schedules a fresh extract+embed job pair for a
// memory whose content changed (spec.md §4.1 "update": "on content
// change, schedule a new extract+embed job pair"), the same pair a
// freshly-ingested memory gets via ingestRemember's extract enqueue.
func (s *Server) reenqueueEnrichment(ctx context.Context, memoryID string) {
	if s.deps.Queue == nil {
		return
	}
	if _, err := s.deps.Queue.Enqueue(ctx, types.JobExtract, memoryID, ""); err != nil {
		s.deps.Diagnostics.RecordError(diagErrEvent(diagnostics.StageMutation, err, memoryID))
	}
	if _, err := s.deps.Queue.Enqueue(ctx, types.JobEmbed, memoryID, ""); err != nil {
		s.deps.Diagnostics.RecordError(diagErrEvent(diagnostics.StageMutation, err, memoryID))
	}
}

// handleForgetOne implements DELETE /api/memory/:id. A force=true delete
// bypasses the pinned-memory precondition, so it also draws from the
// tighter forceDelete budget (spec.md §6 "Rate limits per operation"), on
// top of the route-level forget limiter the mux already applied.
func (s *Server) handleForgetOne(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reason := r.URL.Query().Get("reason")
	force := r.URL.Query().Get("force") == "true"
	if force {
		key := identityFrom(r).token
		if key == "" {
			key = "anonymous"
		}
		if res := s.limiters.forceDelete.Allow(key); !res.Allowed {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
	}
	if err := s.deps.Store.SoftDelete(r.Context(), id, reason, force); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "forgotten"})
}

type recoverRequest struct {
	Reason string `json:"reason"`
}

// handleRecover implements POST /api/memory/:id/recover.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req recoverRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if _, err := s.deps.Store.Recover(r.Context(), id, req.Reason); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "recovered"})
}

type modifyPatch struct {
	ID        string            `json:"id"`
	Patch     types.MemoryPatch `json:"patch"`
	Reason    string            `json:"reason"`
	IfVersion *int              `json:"if_version,omitempty"`
}

type modifyRequest struct {
	Patches []modifyPatch `json:"patches"`
}

type modifyResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handleModify implements POST /api/memory/modify: a batch of independent
// updates, each applied and reported on separately rather than as one
// all-or-nothing transaction (spec.md §6 "batch update").
func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	results := make([]modifyResult, 0, len(req.Patches))
	updated := 0
	for _, p := range req.Patches {
		_, contentChanged, err := s.deps.Store.Update(r.Context(), p.ID, p.Patch, p.Reason, p.IfVersion)
		if err != nil {
			results = append(results, modifyResult{ID: p.ID, Status: storeErrStatus(err)})
			continue
		}
		if contentChanged {
			s.reenqueueEnrichment(r.Context(), p.ID)
		}
		updated++
		results = append(results, modifyResult{ID: p.ID, Status: "updated"})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":   len(req.Patches),
		"updated": updated,
		"results": results,
	})
}

type forgetRequest struct {
	Mode         string              `json:"mode"`
	Selector     store.BatchSelector `json:"selector"`
	ConfirmToken string              `json:"confirm_token,omitempty"`
	Reason       string              `json:"reason,omitempty"`
}

// handleForgetBatch implements POST /api/memory/forget (spec.md §6 "batch
// forget"): mode="preview" returns a count/confirmToken without mutating
// anything; mode="execute" applies the soft-delete, requiring the token
// above the store's confirm threshold.
func (s *Server) handleForgetBatch(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	mode := store.BatchPreview
	if req.Mode == string(store.BatchExecute) {
		mode = store.BatchExecute
	}
	res, err := s.deps.Store.BatchForget(r.Context(), req.Selector, mode, req.ConfirmToken, req.Reason)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        res.Count,
		"matchedIds":   res.MatchedIDs,
		"confirmToken": res.ConfirmToken,
	})
}

// handleHistory implements GET /api/memory/:id/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hist, err := s.deps.Store.History(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memoryId": id,
		"count":    len(hist),
		"history":  hist,
	})
}

type recallRequest struct {
	Query    string  `json:"query"`
	Limit    int     `json:"limit,omitempty"`
	Type     string  `json:"type,omitempty"`
	Project  string  `json:"project,omitempty"`
	MinScore float64 `json:"minScore,omitempty"`
	Alpha    float64 `json:"alpha,omitempty"`
}

// handleRecall implements POST /api/memory/recall (spec.md §6 "hybrid
// search").
func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
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
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// storeErrStatus reduces an error to the short status string a batch
// modify result row reports per-item, instead of a full HTTP translation.
func storeErrStatus(err error) string {
	var coded *store.CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}
	if errors.Is(err, store.ErrNotFound) {
		return "not_found"
	}
	return "error"
}
