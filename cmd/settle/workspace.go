package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/clubops/settle/pkg/config"
	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/orchestrator"
	"github.com/clubops/settle/pkg/progress"
	"github.com/clubops/settle/pkg/storage"
)

// workspace bundles the engine components the job commands wire against a
// data directory. It runs without the background flusher: commands are
// one-shot and Close persists whatever they wrote.
type workspace struct {
	dir     string
	store   *storage.Manager
	cfgSvc  *config.Service
	tracker *progress.Tracker
	files   *dataFiles
	orch    *orchestrator.Orchestrator
}

func openWorkspace(dataDir string) (*workspace, error) {
	log.Init(log.Config{Level: log.WarnLevel})

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	bolt, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewManager(bolt, storage.Options{})
	if err != nil {
		bolt.Close()
		return nil, err
	}

	cfgSvc := config.NewService(reconciliationConfigPath(dataDir))
	if _, err := cfgSvc.Load(); err != nil {
		store.Close()
		return nil, err
	}

	files := newDataFiles(dataDir)
	tracker := progress.NewTracker(store)
	orch := orchestrator.NewOrchestrator(store, tracker, cfgSvc, files, nil)

	return &workspace{
		dir:     dataDir,
		store:   store,
		cfgSvc:  cfgSvc,
		tracker: tracker,
		files:   files,
		orch:    orch,
	}, nil
}

// Close flushes pending writes and releases the database.
func (w *workspace) Close() error {
	return w.store.Close()
}

func reconciliationConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "reconciliation.json")
}
