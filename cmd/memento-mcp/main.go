// cmd/memento-mcp is the Model Context Protocol entry point for the memory
// daemon. It opens the same SQLite store mementod uses directly — no HTTP
// round trip — and serves remember/recall/forget/update/session-continuity
// tools as line-delimited JSON-RPC 2.0 over stdin/stdout, for harnesses
// that launch an MCP server as a subprocess rather than speaking HTTP.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/memento-core/daemon/internal/api/mcp"
	"github.com/memento-core/daemon/internal/config"
	"github.com/memento-core/daemon/internal/llm"
	"github.com/memento-core/daemon/internal/recall"
	"github.com/memento-core/daemon/internal/session"
	"github.com/memento-core/daemon/internal/store/sqlite"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("memento-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
		log.Fatalf("failed to create data directory %q: %v", cfg.Storage.DataPath, err)
	}

	dbPath := fmt.Sprintf("%s/memento.db", cfg.Storage.DataPath)
	st, err := sqlite.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database at %q: %v", dbPath, err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("failed to build embedding generator: %v", err)
	}
	embBreaker := llm.NewCircuitBreaker()

	recallEngine := recall.New(st, embedder, embBreaker)
	sessionMgr := session.New(st, st, st)

	var srvOpts []mcp.ServerOption
	if project := os.Getenv("MEMENTO_DEFAULT_PROJECT"); project != "" {
		log.Printf("default project: %s", project)
		srvOpts = append(srvOpts, mcp.WithProject(project))
	}
	srv := mcp.NewServer(st, st, recallEngine, sessionMgr, srvOpts...)

	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	log.Println("ready — serving JSON-RPC 2.0 on stdin/stdout")

	if err := transport.Serve(ctx); err != nil {
		log.Printf("transport stopped: %v", err)
	}
}
