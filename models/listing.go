package models

import "time"

// DateLayout is the day-resolution format used across all persisted stores.
const DateLayout = "2006-01-02"

// Lifecycle statuses. Every identity observed in a snapshot carries exactly
// one of new/active/price_changed per run; removed is produced only for
// identities that dropped out of the active view.
const (
	StatusNew          = "new"
	StatusActive       = "active"
	StatusPriceChanged = "price_changed"
	StatusRemoved      = "removed"
)

// ListingAttributes is the physical-unit description produced by the external
// cleaning stage. Optional attributes are explicit nullable pointers — a nil
// field means the cleaner could not supply a value, never an absent column.
type ListingAttributes struct {
	District    *int
	Size        *float64
	Rooms       *int
	Price       *float64
	HasOutdoor  bool
	IsNeubau    bool
	IsFurnished bool
	Link        string
	RawText     string
}

// LifecycleRecord is the unit of state the tracking engine produces and
// persists. IdentityKey is the fingerprint chosen for tracking continuity
// (or the SourceID when the fingerprint carries no physical signal);
// SourceID is retained purely as posting provenance.
type LifecycleRecord struct {
	IdentityKey    string
	SourceID       string
	Status         string
	FirstSeen      time.Time
	LastSeen       time.Time
	ScrapeDate     time.Time
	RemovedDate    time.Time // zero unless Status is removed
	DaysOnMarket   int
	Price          *float64
	PriceChange    float64
	PriceChangePct float64
	Relisted       bool
	Attrs          ListingAttributes
}

// RunResult is everything one classification pass produces. Current holds
// exactly one record per identity observed in the snapshot; Removed holds
// one record per identity that left the active view this run.
type RunResult struct {
	RunDate    time.Time
	Current    []*LifecycleRecord
	Removed    []*LifecycleRecord
	Duplicates int // snapshot rows collapsed into an already-seen identity
}

// IngestStats counts per-field anomalies seen while reading a snapshot.
// Absent means the cell was empty; Unparseable means a value was present
// but did not parse. The two are reported separately.
type IngestStats struct {
	Rows        int
	Dropped     int // rows without a link, unusable for identity
	Absent      map[string]int
	Unparseable map[string]int
}

// InsightReport holds the advisory market summary computed over one run's
// classifier output. Nothing in it is persisted.
type InsightReport struct {
	RunDate      time.Time
	SnapshotSize int

	NewCount          int
	ActiveCount       int
	PriceChangedCount int
	RemovedCount      int
	RelistedCount     int

	MeanDaysOnMarket float64 // over active + price_changed identities

	FastRentals         int // removed with tenure of three days or less
	FastRentalMeanPrice float64

	PriceIncreases  int
	PriceDecreases  int
	MarketDirection string // heating | softening | balanced

	TopChanges     []*LifecycleRecord // largest absolute price moves
	RecentRemovals []*LifecycleRecord

	Ingest *IngestStats
}

// Day truncates a timestamp to whole-day resolution in UTC. All tenure
// arithmetic runs on day-truncated values.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole days elapsed from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)) / (24 * time.Hour))
}
