package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memento-core/daemon/internal/api/mcp"
	"github.com/memento-core/daemon/internal/config"
	"github.com/memento-core/daemon/internal/llm"
	"github.com/memento-core/daemon/internal/recall"
	"github.com/memento-core/daemon/internal/session"
	"github.com/memento-core/daemon/internal/store/sqlite"
)

func newTestServer(t *testing.T) *mcp.Server {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	embedder, err := llm.NewEmbeddingGenerator(config.LLMConfig{LLMProvider: "ollama"})
	require.NoError(t, err)
	embBreaker := llm.NewCircuitBreaker()

	recallEngine := recall.New(st, embedder, embBreaker)
	sessionMgr := session.New(st, st, st)
	return mcp.NewServer(st, st, recallEngine, sessionMgr, mcp.WithProject("default"))
}

func TestStoreMemory_RejectsShortContent(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.StoreMemory(context.Background(), mcp.StoreMemoryArgs{Content: "too short"})
	assert.Error(t, err)
}

func TestStoreMemory_ReturnsID(t *testing.T) {
	srv := newTestServer(t)
	res, err := srv.StoreMemory(context.Background(), mcp.StoreMemoryArgs{
		Content: "the build pipeline now retries flaky network calls three times",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.Deduped)
}

func TestStoreMemory_DedupesIdenticalContent(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	args := mcp.StoreMemoryArgs{Content: "the staging database now runs on its own replica"}

	first, err := srv.StoreMemory(ctx, args)
	require.NoError(t, err)

	second, err := srv.StoreMemory(ctx, args)
	require.NoError(t, err)
	assert.True(t, second.Deduped)
	assert.Equal(t, first.ID, second.ID)
}

func TestRecallMemory_FindsStoredContent(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.StoreMemory(ctx, mcp.StoreMemoryArgs{
		Content: "deploys to the payments service require a second approver",
	})
	require.NoError(t, err)

	res, err := srv.RecallMemory(ctx, mcp.RecallMemoryArgs{Query: "payments service deploy approval"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)
}

func TestUpdateMemory_AppliesPatch(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	stored, err := srv.StoreMemory(ctx, mcp.StoreMemoryArgs{
		Content: "the on-call rotation is handled through the pager tool",
	})
	require.NoError(t, err)

	newContent := "the on-call rotation moved to a different pager tool"
	res, err := srv.UpdateMemory(ctx, mcp.UpdateMemoryArgs{ID: stored.ID, Content: &newContent, Reason: "corrected"})
	require.NoError(t, err)
	assert.Equal(t, stored.ID, res.ID)
	assert.Equal(t, 2, res.Version)
}

func TestForgetAndRestoreMemory(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	stored, err := srv.StoreMemory(ctx, mcp.StoreMemoryArgs{
		Content: "the release checklist now includes a rollback rehearsal step",
	})
	require.NoError(t, err)

	forgetRes, err := srv.ForgetMemory(ctx, mcp.ForgetMemoryArgs{ID: stored.ID, Reason: "no longer relevant"})
	require.NoError(t, err)
	assert.True(t, forgetRes.Deleted)

	restoreRes, err := srv.RestoreMemory(ctx, mcp.RestoreMemoryArgs{ID: stored.ID, Reason: "brought back"})
	require.NoError(t, err)
	assert.True(t, restoreRes.Restored)
}

func TestGetSessionContext_NoCheckpointYet(t *testing.T) {
	srv := newTestServer(t)
	res, err := srv.GetSessionContext(context.Background(), mcp.GetSessionContextArgs{})
	require.NoError(t, err)
	assert.False(t, res.Resumed)
}

func TestHandleRequest_ToolsList(t *testing.T) {
	srv := newTestServer(t)
	req := map[string]interface{}{"jsonrpc": "2.0", "method": "tools/list", "id": 1}
	reqJSON, err := json.Marshal(req)
	require.NoError(t, err)

	respJSON, err := srv.HandleRequest(context.Background(), reqJSON)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Tools []mcp.MCPTool `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respJSON, &resp))
	assert.Len(t, resp.Result.Tools, 6)
}

func TestHandleRequest_UnknownMethod(t *testing.T) {
	srv := newTestServer(t)
	req := map[string]interface{}{"jsonrpc": "2.0", "method": "does_not_exist", "id": 1}
	reqJSON, err := json.Marshal(req)
	require.NoError(t, err)

	respJSON, err := srv.HandleRequest(context.Background(), reqJSON)
	require.NoError(t, err)

	var resp mcp.JSONRPCResponse
	require.NoError(t, json.Unmarshal(respJSON, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrCodeMethodNotFound, resp.Error.Code)
}

func TestHandleRequest_ToolsCallStoreMemory(t *testing.T) {
	srv := newTestServer(t)
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"id":      1,
		"params": map[string]interface{}{
			"name":      "store_memory",
			"arguments": map[string]interface{}{"content": "the ci runner now caches the module download step"},
		},
	}
	reqJSON, err := json.Marshal(req)
	require.NoError(t, err)

	respJSON, err := srv.HandleRequest(context.Background(), reqJSON)
	require.NoError(t, err)

	var resp mcp.JSONRPCResponse
	require.NoError(t, json.Unmarshal(respJSON, &resp))
	assert.Nil(t, resp.Error)
}
