package storage

import "rent-tracker/models"

// StoreManager is the persistence contract the run controller depends on:
// the previous active view (read), the removed-archive key set (read) and
// the once-per-run commit of all three stores (write).
type StoreManager interface {
	LoadActive() (map[string]*models.LifecycleRecord, bool, error)
	LoadRemovedKeys() (map[string]struct{}, error)
	CommitRun(result *models.RunResult) error
}

// Mirror is the optional secondary sink the three views are published to
// after the primary stores have committed.
type Mirror interface {
	Publish(result *models.RunResult) error
	Close() error
}

var (
	_ StoreManager = (*StoreSet)(nil)
	_ Mirror       = (*PostgresMirror)(nil)
)
