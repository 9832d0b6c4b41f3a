// main_test.go exercises the memento-mcp entry point wiring: opening the
// store at the configured data path, building the recall/session
// collaborators, and constructing the MCP server against them.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/memento-core/daemon/internal/api/mcp"
	"github.com/memento-core/daemon/internal/config"
	"github.com/memento-core/daemon/internal/llm"
	"github.com/memento-core/daemon/internal/recall"
	"github.com/memento-core/daemon/internal/session"
	"github.com/memento-core/daemon/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMCPMain_InitializeStore verifies that a SQLite store can be opened
// at the configured data path and is not nil.
func TestMCPMain_InitializeStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memento.db")

	st, err := sqlite.Open(dbPath)
	require.NoError(t, err, "failed to open store")
	defer func() { _ = st.Close() }()

	assert.NotNil(t, st, "store should not be nil")
}

// TestMCPMain_CreateDataDirectory verifies that the data directory is
// created if it does not already exist.
func TestMCPMain_CreateDataDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dataPath := filepath.Join(tmpDir, "nested", "data", "path")

	require.NoError(t, os.MkdirAll(dataPath, 0o700))

	info, err := os.Stat(dataPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// TestMCPMain_ConfigurationLoading verifies that config.LoadConfig picks
// up the environment variables memento-mcp expects at startup.
func TestMCPMain_ConfigurationLoading(t *testing.T) {
	tmpDir := t.TempDir()

	t.Setenv("MEMENTO_DATA_PATH", tmpDir)
	t.Setenv("MEMENTO_LLM_PROVIDER", "ollama")
	t.Setenv("MEMENTO_LLM_BASE_URL", "http://localhost:11434")

	cfg, err := config.LoadConfig()
	require.NoError(t, err, "failed to load config")

	assert.NotNil(t, cfg, "config should not be nil")
	assert.Equal(t, tmpDir, cfg.Storage.DataPath, "data path should match env var")
}

// TestMCPMain_ServerConstruction verifies that the MCP server can be built
// against a freshly opened store, mirroring the wiring in main().
func TestMCPMain_ServerConstruction(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memento.db")

	st, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	t.Setenv("MEMENTO_DATA_PATH", tmpDir)
	t.Setenv("MEMENTO_LLM_PROVIDER", "ollama")
	t.Setenv("MEMENTO_LLM_BASE_URL", "http://localhost:11434")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	require.NoError(t, err)
	embBreaker := llm.NewCircuitBreaker()

	recallEngine := recall.New(st, embedder, embBreaker)
	sessionMgr := session.New(st, st, st)

	srv := mcp.NewServer(st, st, recallEngine, sessionMgr)
	assert.NotNil(t, srv)
}

// TestMCPMain_DefaultProjectOption verifies that WithProject is only
// applied when MEMENTO_DEFAULT_PROJECT is set, matching main()'s logic.
func TestMCPMain_DefaultProjectOption(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memento.db")

	st, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	t.Setenv("MEMENTO_LLM_PROVIDER", "ollama")
	t.Setenv("MEMENTO_LLM_BASE_URL", "http://localhost:11434")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	require.NoError(t, err)
	embBreaker := llm.NewCircuitBreaker()
	recallEngine := recall.New(st, embedder, embBreaker)
	sessionMgr := session.New(st, st, st)

	var srvOpts []mcp.ServerOption
	if project := os.Getenv("MEMENTO_DEFAULT_PROJECT"); project != "" {
		srvOpts = append(srvOpts, mcp.WithProject(project))
	}
	assert.Len(t, srvOpts, 0, "no option should be added when env var is unset")

	t.Setenv("MEMENTO_DEFAULT_PROJECT", "acme-api")
	var srvOpts2 []mcp.ServerOption
	if project := os.Getenv("MEMENTO_DEFAULT_PROJECT"); project != "" {
		srvOpts2 = append(srvOpts2, mcp.WithProject(project))
	}
	assert.Len(t, srvOpts2, 1, "option should be added when env var is set")

	srv := mcp.NewServer(st, st, recallEngine, sessionMgr, srvOpts2...)
	assert.NotNil(t, srv)
}

// TestMCPMain_DatabasePathConstruction verifies that the database path is
// correctly constructed from the data directory.
func TestMCPMain_DatabasePathConstruction(t *testing.T) {
	tmpDir := t.TempDir()
	expectedDBPath := filepath.Join(tmpDir, "memento.db")

	dbPath := fmt.Sprintf("%s/memento.db", tmpDir)

	assert.Equal(t, expectedDBPath, dbPath, "database path should be correct")
}

// TestMCPMain_InvalidDataPathHandling verifies that attempting to open a
// store with an invalid path produces an error, not a panic.
func TestMCPMain_InvalidDataPathHandling(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("skipping permission test as root")
	}

	tmpDir := t.TempDir()
	roDir := filepath.Join(tmpDir, "readonly")

	require.NoError(t, os.Mkdir(roDir, 0o555))
	defer func() {
		_ = os.Chmod(roDir, 0o755)
		_ = os.RemoveAll(roDir)
	}()

	dbPath := filepath.Join(roDir, "memento.db")

	_, err := sqlite.Open(dbPath)
	assert.Error(t, err, "opening a store in a read-only directory should fail")
}

// TestMCPMain_ConcurrentDataDirectoryCreation verifies that multiple
// goroutines calling os.MkdirAll on the same path does not cause issues.
func TestMCPMain_ConcurrentDataDirectoryCreation(t *testing.T) {
	tmpDir := t.TempDir()
	dataPath := filepath.Join(tmpDir, "concurrent", "data", "path")

	done := make(chan error, 3)

	for i := 0; i < 3; i++ {
		go func() {
			done <- os.MkdirAll(dataPath, 0o700)
		}()
	}

	for i := 0; i < 3; i++ {
		assert.NoError(t, <-done, "concurrent directory creation should not error")
	}

	info, err := os.Stat(dataPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// TestMCPMain_StoreClose verifies that calling Close on a store after
// opening it succeeds without error.
func TestMCPMain_StoreClose(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "memento.db")

	st, err := sqlite.Open(dbPath)
	require.NoError(t, err)

	assert.NoError(t, st.Close(), "store.Close() should not error")
}

// TestMCPMain_MultipleStoresOnDifferentPaths verifies that multiple
// stores can be opened on different paths without interfering.
func TestMCPMain_MultipleStoresOnDifferentPaths(t *testing.T) {
	tmpDir := t.TempDir()

	dbPath1 := filepath.Join(tmpDir, "memento1.db")
	dbPath2 := filepath.Join(tmpDir, "memento2.db")

	st1, err := sqlite.Open(dbPath1)
	require.NoError(t, err)
	defer func() { _ = st1.Close() }()

	st2, err := sqlite.Open(dbPath2)
	require.NoError(t, err)
	defer func() { _ = st2.Close() }()

	assert.NotNil(t, st1)
	assert.NotNil(t, st2)

	_, err = os.Stat(dbPath1)
	assert.NoError(t, err, "store1 database file should exist")

	_, err = os.Stat(dbPath2)
	assert.NoError(t, err, "store2 database file should exist")
}

// TestMCPMain_ContextCancellation verifies the context-based shutdown
// signal the main loop waits on.
func TestMCPMain_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	select {
	case <-ctx.Done():
		t.Fatal("context should not be cancelled initially")
	default:
	}

	cancel()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("context should be cancelled after cancel()")
	}
}

// TestMCPMain_ContextWithTimeout verifies that a context with timeout
// behaves as expected for the transport shutdown scenario.
func TestMCPMain_ContextWithTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context should not be done immediately")
	default:
	}

	time.Sleep(150 * time.Millisecond)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("context should be done after timeout")
	}

	assert.Equal(t, context.DeadlineExceeded, ctx.Err())
}
