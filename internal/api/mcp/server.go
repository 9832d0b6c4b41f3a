package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/memento-core/daemon/internal/attribution"
	"github.com/memento-core/daemon/internal/recall"
	"github.com/memento-core/daemon/internal/session"
	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

// Server implements the Model Context Protocol for the memory daemon. It
// provides JSON-RPC 2.0 tools that mirror the HTTP remember/recall/forget/
// update/session-continuity surface (internal/server), for harnesses that
// prefer an MCP stdio transport over HTTP.
type Server struct {
	store     store.MemoryStore
	queue     store.JobQueue
	recall    *recall.Engine
	session   *session.Manager
	project   string
	sessionID string // generated once per server lifetime, used as the default session key
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithProject sets the default project scope used when a tool call omits
// one, mirroring the harness hooks' project-normalization convention.
func WithProject(project string) ServerOption {
	return func(s *Server) { s.project = project }
}

// NewServer wires a Server against the daemon's store, recall engine, and
// session manager.
func NewServer(st store.MemoryStore, queue store.JobQueue, recallEngine *recall.Engine, sessionMgr *session.Manager, opts ...ServerOption) *Server {
	s := &Server{
		store:     st,
		queue:     queue,
		recall:    recallEngine,
		session:   sessionMgr,
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Printf("memento-mcp: session ID: %s", s.sessionID)
	return s
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err)
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	case "store_memory":
		result, err = s.handleStoreMemory(ctx, req.Params)
	case "recall_memory":
		result, err = s.handleRecallMemory(ctx, req.Params)
	case "update_memory":
		result, err = s.handleUpdateMemory(ctx, req.Params)
	case "forget_memory":
		result, err = s.handleForgetMemory(ctx, req.Params)
	case "restore_memory":
		result, err = s.handleRestoreMemory(ctx, req.Params)
	case "get_session_context":
		result, err = s.handleGetSessionContext(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

// minFactLength mirrors internal/server's boundary: a fact shorter than
// this is rejected rather than stored and extracted from.
const minFactLength = 20

// StoreMemory ingests a new memory and, unless it deduplicated against an
// existing one, enqueues the initial extraction job — the same shape
// internal/server's ingestRemember follows.
func (s *Server) StoreMemory(ctx context.Context, args StoreMemoryArgs) (*StoreMemoryResult, error) {
	if len(args.Content) < minFactLength {
		return nil, fmt.Errorf("content must be at least %d characters", minFactLength)
	}
	memType := types.MemoryType(args.Type)
	if !types.IsValidMemoryType(memType) {
		memType = types.TypeGeneral
	}
	importance := args.Importance
	if importance == 0 {
		importance = 0.5
	}
	who := args.Who
	if who == "" {
		who = attribution.DetectAgent()
	}
	project := args.Project
	if project == "" {
		project = s.project
	}

	res, err := s.store.Ingest(ctx, store.IngestEnvelope{
		Content:        args.Content,
		Type:           memType,
		Importance:     importance,
		Project:        project,
		Who:            who,
		SourceType:     args.SourceType,
		Tags:           args.Tags,
		IdempotencyKey: args.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	result := &StoreMemoryResult{ID: res.ID, Deduped: res.Deduped}
	if res.Deduped {
		result.Message = "memory already exists with identical content"
		return result, nil
	}
	result.Message = "memory stored; enrichment will happen asynchronously"
	if s.queue != nil {
		if _, err := s.queue.Enqueue(ctx, types.JobExtract, res.ID, ""); err != nil {
			log.Printf("memento-mcp: failed to enqueue extraction for %s: %v", res.ID, err)
		}
	}
	s.session.RecordRemember(s.sessionID, "mcp", project, session.NormalizeProject(project), args.Content)
	return result, nil
}

// RecallMemory runs the hybrid BM25+vector search and records the query
// against this server's session, the same way the recall hook does.
func (s *Server) RecallMemory(ctx context.Context, args RecallMemoryArgs) (*RecallMemoryResult, error) {
	project := args.Project
	if project == "" {
		project = s.project
	}
	opts := recall.Options{Project: project, Type: args.Type, Limit: args.Limit, MinScore: args.MinScore, Alpha: args.Alpha}
	if opts.Alpha == 0 {
		opts.Alpha = 0.7
	}
	results, err := s.recall.Recall(ctx, args.Query, opts)
	if err != nil {
		return nil, fmt.Errorf("recall failed: %w", err)
	}
	s.session.RecordQuery(s.sessionID, "mcp", project, session.NormalizeProject(project), args.Query)

	items := make([]RecallMemoryResultItem, 0, len(results))
	for _, r := range results {
		items = append(items, RecallMemoryResultItem{
			ID: r.ID, Content: r.Content, Type: string(r.Type),
			Importance: r.Importance, Score: r.Score, Source: r.Source,
		})
	}
	return &RecallMemoryResult{Results: items}, nil
}

// UpdateMemory applies a partial patch to an existing memory.
func (s *Server) UpdateMemory(ctx context.Context, args UpdateMemoryArgs) (*UpdateMemoryResult, error) {
	patch := types.MemoryPatch{Content: args.Content, Importance: args.Importance}
	if args.Type != nil {
		mt := types.MemoryType(*args.Type)
		patch.Type = &mt
	}
	if args.Tags != nil {
		patch.Tags = &args.Tags
	}
	mem, contentChanged, err := s.store.Update(ctx, args.ID, patch, args.Reason, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update memory: %w", err)
	}
	if contentChanged && s.queue != nil {
		if _, err := s.queue.Enqueue(ctx, types.JobExtract, mem.ID, ""); err != nil {
			log.Printf("mcp: failed to enqueue extract for %s: %v", mem.ID, err)
		}
		if _, err := s.queue.Enqueue(ctx, types.JobEmbed, mem.ID, ""); err != nil {
			log.Printf("mcp: failed to enqueue embed for %s: %v", mem.ID, err)
		}
	}
	return &UpdateMemoryResult{ID: mem.ID, Version: mem.Version}, nil
}

// ForgetMemory soft-deletes a memory, bypassing the pinned-memory
// precondition only when Force is set.
func (s *Server) ForgetMemory(ctx context.Context, args ForgetMemoryArgs) (*ForgetMemoryResult, error) {
	if err := s.store.SoftDelete(ctx, args.ID, args.Reason, args.Force); err != nil {
		return nil, fmt.Errorf("failed to forget memory: %w", err)
	}
	return &ForgetMemoryResult{ID: args.ID, Deleted: true}, nil
}

// RestoreMemory reverses a soft-delete within the recovery window.
func (s *Server) RestoreMemory(ctx context.Context, args RestoreMemoryArgs) (*RestoreMemoryResult, error) {
	if _, err := s.store.Recover(ctx, args.ID, args.Reason); err != nil {
		return nil, fmt.Errorf("failed to restore memory: %w", err)
	}
	return &RestoreMemoryResult{ID: args.ID, Restored: true}, nil
}

// recoveryWindow mirrors internal/server/hooks.go's session_start lookback.
const recoveryWindow = session.DefaultRetention

// GetSessionContext surfaces the most recent checkpoint for a project, the
// same resumption signal the session_start hook injects.
func (s *Server) GetSessionContext(ctx context.Context, args GetSessionContextArgs) (*GetSessionContextResult, error) {
	project := args.Project
	if project == "" {
		project = s.project
	}
	cp, err := s.session.Recover(ctx, session.NormalizeProject(project), recoveryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to recover session context: %w", err)
	}
	if cp == nil {
		return &GetSessionContextResult{Resumed: false}, nil
	}
	return &GetSessionContextResult{
		Resumed:     true,
		Trigger:     string(cp.Trigger),
		PromptCount: cp.PromptCount,
		Digest:      cp.Digest,
	}, nil
}

func (s *Server) handleStoreMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args StoreMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.StoreMemory(ctx, args)
}

func (s *Server) handleRecallMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args RecallMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.RecallMemory(ctx, args)
}

func (s *Server) handleUpdateMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args UpdateMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.UpdateMemory(ctx, args)
}

func (s *Server) handleForgetMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args ForgetMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.ForgetMemory(ctx, args)
}

func (s *Server) handleRestoreMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args RestoreMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.RestoreMemory(ctx, args)
}

func (s *Server) handleGetSessionContext(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetSessionContextArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetSessionContext(ctx, args)
}

func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
		ServerInfo:      MCPServerInfo{Name: "memento", Version: "1.0.0"},
	}, nil
}

func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var rawParams interface{}
	if err := json.Unmarshal(argsJSON, &rawParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "store_memory":
		result, handlerErr = s.handleStoreMemory(ctx, rawParams)
	case "recall_memory":
		result, handlerErr = s.handleRecallMemory(ctx, rawParams)
	case "update_memory":
		result, handlerErr = s.handleUpdateMemory(ctx, rawParams)
	case "forget_memory":
		result, handlerErr = s.handleForgetMemory(ctx, rawParams)
	case "restore_memory":
		result, handlerErr = s.handleRestoreMemory(ctx, rawParams)
	case "get_session_context":
		result, handlerErr = s.handleGetSessionContext(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &MCPToolCallResult{Content: []MCPToolCallContent{{Type: "text", Text: string(text)}}}, nil
}

func (s *Server) buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name:        "store_memory",
			Description: "Store a new memory. Returns immediately; enrichment (entity extraction, embeddings) happens asynchronously. Identical content is deduplicated automatically.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"content": map[string]interface{}{"type": "string"}},
				"required":   []string{"content"},
			},
		},
		{
			Name:        "recall_memory",
			Description: "Search memories via hybrid BM25 and vector similarity search.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
				"required":   []string{"query"},
			},
		},
		{
			Name:        "update_memory",
			Description: "Apply a partial update to an existing memory.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
				"required":   []string{"id"},
			},
		},
		{
			Name:        "forget_memory",
			Description: "Soft-delete a memory. Pinned memories require force=true.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
				"required":   []string{"id"},
			},
		},
		{
			Name:        "restore_memory",
			Description: "Restore a soft-deleted memory within its recovery window.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
				"required":   []string{"id"},
			},
		},
		{
			Name:        "get_session_context",
			Description: "Fetch the most recent checkpoint for a project, the same resumption digest the session_start hook injects.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"project": map[string]interface{}{"type": "string"}},
			},
		},
	}
}

func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
