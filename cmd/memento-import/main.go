// Command memento-import bulk-ingests an existing Markdown/Obsidian vault
// into the memory store as a one-shot batch job, for operators migrating
// notes into the daemon rather than accumulating them through a harness.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/memento-core/daemon/internal/config"
	"github.com/memento-core/daemon/internal/importer"
	"github.com/memento-core/daemon/internal/store/sqlite"
)

func main() {
	vaultPath := flag.String("vault", "", "path to the Markdown/Obsidian vault directory to import")
	project := flag.String("project", "", "project to tag imported memories with")
	flag.Parse()

	if *vaultPath == "" {
		log.Fatal("memento-import: -vault is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("memento-import: failed to load config: %v", err)
	}

	dbPath := fmt.Sprintf("%s/memento.db", cfg.Storage.DataPath)
	st, err := sqlite.Open(dbPath)
	if err != nil {
		log.Fatalf("memento-import: failed to open database at %q: %v", dbPath, err)
	}
	defer st.Close()

	importProject := *project
	if importProject == "" {
		importProject = "import"
	}
	imp := importer.NewObsidianImporter(st, importProject)

	ctx := context.Background()
	jobID, err := imp.StartImport(ctx, *vaultPath)
	if err != nil {
		log.Fatalf("memento-import: failed to start import: %v", err)
	}

	for {
		progress, ok := imp.GetJobProgress(jobID)
		if !ok {
			log.Fatal("memento-import: job disappeared")
		}
		if progress.Status == "complete" || progress.Status == "failed" {
			break
		}
		log.Printf("memento-import: %d/%d files processed", progress.FilesProcessed, progress.FilesTotal)
		time.Sleep(500 * time.Millisecond)
	}

	result := imp.GetJobResult(jobID)
	log.Printf("memento-import: done — %d files processed, %d memories created, %d relationships found, %d errors",
		result.FilesProcessed, result.MemoriesCreated, result.RelationshipsFound, len(result.Errors))
	for _, e := range result.Errors {
		log.Printf("memento-import: %s", e)
	}
}
