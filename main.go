package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"rent-tracker/config"
	"rent-tracker/services"
	"rent-tracker/storage"
	"rent-tracker/tracker"
	"rent-tracker/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	// Store locations are overridable per invocation; everything else comes
	// from the environment.
	flag.StringVar(&cfg.SnapshotPath, "snapshot", cfg.SnapshotPath, "input snapshot CSV from the cleaning stage")
	flag.StringVar(&cfg.HistoryPath, "history", cfg.HistoryPath, "history ledger CSV (append-only)")
	flag.StringVar(&cfg.ActivePath, "active", cfg.ActivePath, "active store CSV (replaced each run)")
	flag.StringVar(&cfg.RemovedPath, "removed", cfg.RemovedPath, "removed archive CSV (append-only)")
	flag.Parse()

	runID := uuid.NewString()[:8]
	logger.Info("=== Listing Lifecycle Tracker starting (run %s) ===", runID)
	logger.Info("Config — snapshot: %s | threshold: €%.2f | pg mirror: %v",
		cfg.SnapshotPath, cfg.PriceThreshold, cfg.MirrorEnabled)

	if err := run(cfg, logger, runID); err != nil {
		logger.Error("Run %s failed: %v", runID, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *utils.Logger, runID string) error {
	stores, err := storage.NewStoreSet(cfg.HistoryPath, cfg.ActivePath, cfg.RemovedPath, logger)
	if err != nil {
		return err
	}

	release, err := storage.AcquireRunLock(cfg.LockPath)
	if err != nil {
		return err
	}
	defer release()

	// 1. Load today's snapshot. Missing or empty input is fatal before any
	// store is touched.
	reader := storage.NewSnapshotReader(logger)
	listings, ingest, err := reader.Read(cfg.SnapshotPath)
	if err != nil {
		return err
	}
	logger.Info("Snapshot loaded: %d listings (%d rows dropped)", len(listings), ingest.Dropped)

	// 2. Load the previous run's views.
	prevActive, legacy, err := stores.LoadActive()
	if err != nil {
		return err
	}
	if legacy {
		logger.Warn("Active store predates identity tracking — treating every current listing as new")
	} else {
		logger.Info("Previous active view: %d identities", len(prevActive))
	}

	removedKeys, err := stores.LoadRemovedKeys()
	if err != nil {
		return err
	}

	// 3. Resolve identities.
	snapshot := make([]tracker.SnapshotRecord, len(listings))
	for i, attrs := range listings {
		snapshot[i] = tracker.SnapshotRecord{Identity: tracker.Resolve(attrs), Attrs: attrs}
	}

	// 4. Classify lifecycle transitions.
	classifier := tracker.NewClassifier(cfg.PriceThreshold, logger)
	result := classifier.Classify(prevActive, removedKeys, snapshot, time.Now())
	logger.Info("Classified %d identities, %d removed", len(result.Current), len(result.Removed))

	// 5. Persist all three stores atomically.
	if err := stores.CommitRun(result); err != nil {
		return err
	}
	logger.Info("Stores committed — history: %s | active: %s | removed: %s",
		cfg.HistoryPath, cfg.ActivePath, cfg.RemovedPath)

	// 6. Optional Postgres mirror for the dashboard / training consumers.
	// The CSV stores already committed, so mirror failure only warns.
	if cfg.MirrorEnabled {
		mirror, err := storage.NewPostgresMirror(cfg.DSN(), logger)
		if err != nil {
			logger.Warn("Postgres mirror unavailable: %v", err)
		} else {
			defer mirror.Close()
			if err := mirror.Publish(result); err != nil {
				logger.Warn("Postgres mirror publish failed: %v", err)
			} else {
				logger.Info("Views mirrored to PostgreSQL")
			}
		}
	}

	// 7. Advisory market report.
	insightSvc := services.NewInsightService(logger)
	insightSvc.Print(insightSvc.Generate(result, ingest))

	fmt.Printf("  Run %s done. Active: %d listings | removed this run: %d\n\n",
		runID, len(result.Current), len(result.Removed))
	return nil
}
