package tracker

import (
	"math"
	"sort"
	"time"

	"rent-tracker/models"
	"rent-tracker/utils"
)

// DefaultPriceThreshold is the minimum absolute euro delta treated as a real
// price change rather than rounding noise.
const DefaultPriceThreshold = 1.0

// SnapshotRecord pairs one cleaned listing with its resolved identity.
type SnapshotRecord struct {
	Identity Identity
	Attrs    models.ListingAttributes
}

// Classifier assigns exactly one lifecycle status per identity per run by
// comparing the current snapshot against the previous active view.
type Classifier struct {
	threshold float64
	logger    *utils.Logger
}

// NewClassifier creates a Classifier. A non-positive threshold falls back
// to DefaultPriceThreshold.
func NewClassifier(threshold float64, logger *utils.Logger) *Classifier {
	if threshold <= 0 {
		threshold = DefaultPriceThreshold
	}
	return &Classifier{threshold: threshold, logger: logger}
}

// Classify runs one batch cycle of the state machine. prev is the previous
// run's active view keyed by identity; removedKeys is the set of identities
// already in the removed archive (used to flag relistings); snapshot is the
// current scrape. The call is pure with respect to its inputs: re-running it
// on the same arguments yields an identical result.
//
// Every identity observed in the snapshot gets exactly one of
// new/active/price_changed; every identity present in prev but absent from
// the snapshot gets exactly one removed record.
func (c *Classifier) Classify(prev map[string]*models.LifecycleRecord, removedKeys map[string]struct{}, snapshot []SnapshotRecord, runDate time.Time) *models.RunResult {
	day := models.Day(runDate)
	result := &models.RunResult{RunDate: day}

	// Collapse in-snapshot duplicates: the same identity scraped twice in one
	// cycle keeps the later record, preserving one-record-per-identity.
	byKey := make(map[string]SnapshotRecord, len(snapshot))
	order := make([]string, 0, len(snapshot))
	for _, sr := range snapshot {
		key := sr.Identity.Key
		if _, seen := byKey[key]; seen {
			result.Duplicates++
		} else {
			order = append(order, key)
		}
		byKey[key] = sr
	}
	if result.Duplicates > 0 && c.logger != nil {
		c.logger.Debug("[classifier] collapsed %d duplicate snapshot rows", result.Duplicates)
	}

	for _, key := range order {
		sr := byKey[key]
		rec := &models.LifecycleRecord{
			IdentityKey: key,
			SourceID:    sr.Identity.SourceID,
			ScrapeDate:  day,
			LastSeen:    day,
			Price:       sr.Attrs.Price,
			Attrs:       sr.Attrs,
		}

		prevRec, seenBefore := prev[key]
		if !seenBefore {
			rec.Status = models.StatusNew
			rec.FirstSeen = day
			if _, gone := removedKeys[key]; gone {
				rec.Relisted = true
			}
			result.Current = append(result.Current, rec)
			continue
		}

		rec.Status = models.StatusActive
		rec.FirstSeen = prevRec.FirstSeen
		rec.DaysOnMarket = models.DaysBetween(prevRec.FirstSeen, day)

		// A null price on either side excludes the record from price-delta
		// classification; it still counts as active for presence tracking.
		if sr.Attrs.Price != nil && prevRec.Price != nil {
			delta := *sr.Attrs.Price - *prevRec.Price
			if math.Abs(delta) >= c.threshold {
				rec.Status = models.StatusPriceChanged
				rec.PriceChange = delta
				if *prevRec.Price != 0 {
					rec.PriceChangePct = delta / *prevRec.Price * 100
				}
			}
		}
		result.Current = append(result.Current, rec)
	}

	// Set difference: previously active identities missing from this
	// snapshot have left the market. Sorted for deterministic store output.
	var removedIDs []string
	for key := range prev {
		if _, still := byKey[key]; !still {
			removedIDs = append(removedIDs, key)
		}
	}
	sort.Strings(removedIDs)

	for _, key := range removedIDs {
		prevRec := prev[key]
		result.Removed = append(result.Removed, &models.LifecycleRecord{
			IdentityKey:  key,
			SourceID:     prevRec.SourceID,
			Status:       models.StatusRemoved,
			FirstSeen:    prevRec.FirstSeen,
			LastSeen:     day,
			ScrapeDate:   day,
			RemovedDate:  day,
			DaysOnMarket: models.DaysBetween(prevRec.FirstSeen, day),
			Price:        prevRec.Price,
			Attrs:        prevRec.Attrs,
		})
	}

	return result
}
