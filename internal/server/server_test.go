// Package server_test exercises the daemon's harness-facing HTTP surface
// end to end: a real listener, real HTTP requests, an in-memory SQLite
// store behind it — the same integration style the teacher's
// server_test.go used for its Web UI surface.
package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/memento-core/daemon/internal/auth"
	"github.com/memento-core/daemon/internal/config"
	"github.com/memento-core/daemon/internal/diagnostics"
	"github.com/memento-core/daemon/internal/recall"
	"github.com/memento-core/daemon/internal/server"
	"github.com/memento-core/daemon/internal/session"
	"github.com/memento-core/daemon/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-admin-token"

// startTestServer wires a Server against a fresh in-memory SQLite store
// and an admin-token policy, starts it on a random port, and returns its
// base URL. Cleanup is registered on t.
func startTestServer(t *testing.T) string {
	t.Helper()

	st, err := sqlite.Open(":memory:")
	require.NoError(t, err, "failed to open in-memory sqlite store")

	policy := auth.NewPolicy(auth.ModeLocal, testToken, nil)
	sessMgr := session.New(st, st, st)
	recallEngine := recall.New(st, nil, nil)
	collector := diagnostics.NewCollector()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
	}

	srv := server.New(server.Deps{
		Config:      cfg,
		Store:       st,
		Queue:       st,
		Recall:      recallEngine,
		Session:     sessMgr,
		Diagnostics: collector,
		Policy:      policy,
	})

	ctx, cancel := context.WithCancel(context.Background())
	addr, err := srv.Start(ctx)
	require.NoError(t, err, "server failed to start")

	t.Cleanup(func() {
		cancel()
		time.Sleep(50 * time.Millisecond)
		_ = st.Close()
	})

	time.Sleep(50 * time.Millisecond)
	return "http://" + addr
}

func authedRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestServer_StartsOnRandomPort(t *testing.T) {
	baseURL := startTestServer(t)
	assert.True(t, strings.HasPrefix(baseURL, "http://"))
}

func TestServer_HealthAndStatusRequireNoAuth(t *testing.T) {
	baseURL := startTestServer(t)

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(baseURL + "/api/status")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestServer_RememberRejectsMissingAuth(t *testing.T) {
	baseURL := startTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"content": "an unauthenticated remember call"})
	resp, err := http.Post(baseURL+"/api/memory/remember", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RememberRejectsShortContent(t *testing.T) {
	baseURL := startTestServer(t)
	client := &http.Client{}

	req := authedRequest(t, http.MethodPost, baseURL+"/api/memory/remember", map[string]interface{}{
		"content": "too short",
	})
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RememberGetUpdateForgetRoundTrip(t *testing.T) {
	baseURL := startTestServer(t)
	client := &http.Client{}

	remReq := authedRequest(t, http.MethodPost, baseURL+"/api/memory/remember", map[string]interface{}{
		"content": "the user's preferred editor is neovim with tabs",
		"type":    "preference",
	})
	remResp, err := client.Do(remReq)
	require.NoError(t, err)
	defer remResp.Body.Close()
	require.Equal(t, http.StatusOK, remResp.StatusCode)

	var remBody struct {
		ID      string `json:"id"`
		Deduped bool   `json:"deduped"`
	}
	require.NoError(t, json.NewDecoder(remResp.Body).Decode(&remBody))
	require.NotEmpty(t, remBody.ID)
	assert.False(t, remBody.Deduped)

	getReq := authedRequest(t, http.MethodGet, baseURL+"/api/memory/"+remBody.ID, nil)
	getResp, err := client.Do(getReq)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	patchReq := authedRequest(t, http.MethodPatch, baseURL+"/api/memory/"+remBody.ID, map[string]interface{}{
		"patch":  map[string]interface{}{"importance": 0.9},
		"reason": "bump importance after confirming it still matters",
	})
	patchResp, err := client.Do(patchReq)
	require.NoError(t, err)
	defer patchResp.Body.Close()
	assert.Equal(t, http.StatusOK, patchResp.StatusCode)

	delReq := authedRequest(t, http.MethodDelete, baseURL+"/api/memory/"+remBody.ID+"?reason=no+longer+relevant", nil)
	delResp, err := client.Do(delReq)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)

	getAfterDelete := authedRequest(t, http.MethodGet, baseURL+"/api/memory/"+remBody.ID, nil)
	getAfterResp, err := client.Do(getAfterDelete)
	require.NoError(t, err)
	defer getAfterResp.Body.Close()
	assert.Equal(t, http.StatusOK, getAfterResp.StatusCode)
}

func TestServer_RecallReturnsStoredFact(t *testing.T) {
	baseURL := startTestServer(t)
	client := &http.Client{}

	remReq := authedRequest(t, http.MethodPost, baseURL+"/api/memory/remember", map[string]interface{}{
		"content": "the deployment pipeline runs every night at 2am UTC",
	})
	remResp, err := client.Do(remReq)
	require.NoError(t, err)
	defer remResp.Body.Close()
	require.Equal(t, http.StatusOK, remResp.StatusCode)

	recallReq := authedRequest(t, http.MethodPost, baseURL+"/api/memory/recall", map[string]interface{}{
		"query": "deployment pipeline schedule",
		"limit": 5,
	})
	recallResp, err := client.Do(recallReq)
	require.NoError(t, err)
	defer recallResp.Body.Close()
	assert.Equal(t, http.StatusOK, recallResp.StatusCode)

	var recallBody struct {
		Results []recall.Result `json:"results"`
	}
	require.NoError(t, json.NewDecoder(recallResp.Body).Decode(&recallBody))
	assert.NotEmpty(t, recallBody.Results)
}

func TestServer_HookSessionStartWithNoCheckpointDoesNotResume(t *testing.T) {
	baseURL := startTestServer(t)
	client := &http.Client{}

	req := authedRequest(t, http.MethodPost, baseURL+"/api/hooks/session_start", map[string]interface{}{
		"sessionKey": "sess-1",
		"harness":    "claude-code",
		"project":    "/tmp/unseen-project",
	})
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Inject string                 `json:"inject"`
		Result map[string]interface{} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Inject)
	assert.Equal(t, false, body.Result["resumed"])
}

func TestServer_HookRememberRecall(t *testing.T) {
	baseURL := startTestServer(t)
	client := &http.Client{}

	rememberReq := authedRequest(t, http.MethodPost, baseURL+"/api/hooks/remember", map[string]interface{}{
		"sessionKey": "sess-2",
		"harness":    "claude-code",
		"content":    "the staging database uses a read replica for analytics queries",
	})
	rememberResp, err := client.Do(rememberReq)
	require.NoError(t, err)
	defer rememberResp.Body.Close()
	assert.Equal(t, http.StatusOK, rememberResp.StatusCode)

	recallReq := authedRequest(t, http.MethodPost, baseURL+"/api/hooks/recall", map[string]interface{}{
		"sessionKey": "sess-2",
		"harness":    "claude-code",
		"query":      "staging database replica",
	})
	recallResp, err := client.Do(recallReq)
	require.NoError(t, err)
	defer recallResp.Body.Close()
	assert.Equal(t, http.StatusOK, recallResp.StatusCode)
}

func TestServer_ForgetBatchPreviewDoesNotRequireConfirm(t *testing.T) {
	baseURL := startTestServer(t)
	client := &http.Client{}

	for i := 0; i < 3; i++ {
		req := authedRequest(t, http.MethodPost, baseURL+"/api/memory/remember", map[string]interface{}{
			"content": fmt.Sprintf("batch candidate fact number %d about the project roadmap", i),
			"project": "batch-project",
		})
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	previewReq := authedRequest(t, http.MethodPost, baseURL+"/api/memory/forget", map[string]interface{}{
		"mode":     "preview",
		"selector": map[string]interface{}{"project": "batch-project"},
		"reason":   "clean up batch candidates",
	})
	previewResp, err := client.Do(previewReq)
	require.NoError(t, err)
	defer previewResp.Body.Close()
	assert.Equal(t, http.StatusOK, previewResp.StatusCode)

	var previewBody struct {
		Count        int    `json:"count"`
		ConfirmToken string `json:"confirmToken"`
	}
	require.NoError(t, json.NewDecoder(previewResp.Body).Decode(&previewBody))
	assert.Equal(t, 3, previewBody.Count)
	assert.NotEmpty(t, previewBody.ConfirmToken)
}
