package services

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"rent-tracker/models"
	"rent-tracker/utils"
)

// InsightService computes the advisory market summary over one run's
// classifier output. It is a pure function of the run result — it never
// reads the stores.
type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate builds the report for one run. ingest may be nil when no ingest
// statistics are available.
func (s *InsightService) Generate(result *models.RunResult, ingest *models.IngestStats) *models.InsightReport {
	report := &models.InsightReport{
		RunDate:      result.RunDate,
		SnapshotSize: len(result.Current),
		RemovedCount: len(result.Removed),
		Ingest:       ingest,
	}

	var tenured, tenureTotal int
	var changed []*models.LifecycleRecord

	for _, rec := range result.Current {
		switch rec.Status {
		case models.StatusNew:
			report.NewCount++
			if rec.Relisted {
				report.RelistedCount++
			}
		case models.StatusActive:
			report.ActiveCount++
		case models.StatusPriceChanged:
			report.PriceChangedCount++
			changed = append(changed, rec)
			if rec.PriceChange > 0 {
				report.PriceIncreases++
			} else if rec.PriceChange < 0 {
				report.PriceDecreases++
			}
		}
		if rec.Status == models.StatusActive || rec.Status == models.StatusPriceChanged {
			tenured++
			tenureTotal += rec.DaysOnMarket
		}
	}

	if tenured > 0 {
		report.MeanDaysOnMarket = round1(float64(tenureTotal) / float64(tenured))
	}

	// Fast-rental signal: gone within three days of first sighting.
	var fastPriceTotal float64
	var fastPriced int
	for _, rec := range result.Removed {
		if rec.DaysOnMarket <= 3 {
			report.FastRentals++
			if rec.Price != nil {
				fastPriceTotal += *rec.Price
				fastPriced++
			}
		}
	}
	if fastPriced > 0 {
		report.FastRentalMeanPrice = round1(fastPriceTotal / float64(fastPriced))
	}

	switch {
	case report.PriceIncreases > report.PriceDecreases:
		report.MarketDirection = "heating"
	case report.PriceDecreases > report.PriceIncreases:
		report.MarketDirection = "softening"
	default:
		report.MarketDirection = "balanced"
	}

	// Largest absolute price moves first.
	sort.Slice(changed, func(i, j int) bool {
		return math.Abs(changed[i].PriceChange) > math.Abs(changed[j].PriceChange)
	})
	if len(changed) > 5 {
		changed = changed[:5]
	}
	report.TopChanges = changed

	removals := result.Removed
	if len(removals) > 5 {
		removals = removals[len(removals)-5:]
	}
	report.RecentRemovals = removals

	return report
}

// Print renders the report for the operator.
func (s *InsightService) Print(r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 LISTING LIFECYCLE — %s\033[0m\n", r.RunDate.Format(models.DateLayout))
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Listing Status\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  New (first appearance)   : \033[1m%d\033[0m", r.NewCount)
	if r.RelistedCount > 0 {
		fmt.Printf("  (%d relisted)", r.RelistedCount)
	}
	fmt.Println()
	fmt.Printf("  Still active (no change) : \033[1m%d\033[0m\n", r.ActiveCount)
	fmt.Printf("  Price changes            : \033[1m%d\033[0m\n", r.PriceChangedCount)
	fmt.Printf("  Removed / rented         : \033[1m%d\033[0m\n", r.RemovedCount)
	fmt.Println()

	fmt.Printf("\033[1;33m  Market Signals\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.MeanDaysOnMarket > 0 {
		fmt.Printf("  Avg time on market : \033[1m%.1f days\033[0m\n", r.MeanDaysOnMarket)
	}
	if r.FastRentals > 0 {
		fmt.Printf("  Hot-market signal  : \033[1;31m%d rented in ≤3 days\033[0m", r.FastRentals)
		if r.FastRentalMeanPrice > 0 {
			fmt.Printf(" (avg €%.0f)", r.FastRentalMeanPrice)
		}
		fmt.Println()
	}
	if r.PriceChangedCount > 0 {
		fmt.Printf("  Price movement     : %d up / %d down → \033[1m%s\033[0m\n",
			r.PriceIncreases, r.PriceDecreases, r.MarketDirection)
	}
	fmt.Println()

	if len(r.TopChanges) > 0 {
		fmt.Printf("\033[1;33m  Largest Price Changes\033[0m\n")
		fmt.Printf("  %s\n", thin)
		for _, rec := range r.TopChanges {
			arrow := "↑"
			if rec.PriceChange < 0 {
				arrow = "↓"
			}
			fmt.Printf("  %s %s €%.0f (%+.1f%%) — %d days on market\n",
				arrow, describe(rec), math.Abs(rec.PriceChange), rec.PriceChangePct, rec.DaysOnMarket)
		}
		fmt.Println()
	}

	if len(r.RecentRemovals) > 0 {
		fmt.Printf("\033[1;33m  Recently Removed (likely rented)\033[0m\n")
		fmt.Printf("  %s\n", thin)
		for _, rec := range r.RecentRemovals {
			fmt.Printf("  %s — lasted %d days\n", describe(rec), rec.DaysOnMarket)
		}
		fmt.Println()
	}

	if r.Ingest != nil && (len(r.Ingest.Absent) > 0 || len(r.Ingest.Unparseable) > 0) {
		fmt.Printf("\033[1;33m  Ingest Anomalies\033[0m\n")
		fmt.Printf("  %s\n", thin)
		for _, field := range sortedKeys(r.Ingest.Absent) {
			fmt.Printf("  %-10s absent      : %d\n", field, r.Ingest.Absent[field])
		}
		for _, field := range sortedKeys(r.Ingest.Unparseable) {
			fmt.Printf("  %-10s unparseable : %d\n", field, r.Ingest.Unparseable[field])
		}
		fmt.Println()
	}

	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)
}

// describe renders the physical attributes of a record for report lines.
func describe(rec *models.LifecycleRecord) string {
	var parts []string
	if rec.Attrs.District != nil {
		parts = append(parts, fmt.Sprintf("district %d", *rec.Attrs.District))
	}
	if rec.Attrs.Rooms != nil {
		parts = append(parts, fmt.Sprintf("%dR", *rec.Attrs.Rooms))
	}
	if rec.Attrs.Size != nil {
		parts = append(parts, fmt.Sprintf("%.0fm²", *rec.Attrs.Size))
	}
	if rec.Price != nil {
		parts = append(parts, fmt.Sprintf("€%.0f", *rec.Price))
	}
	if len(parts) == 0 {
		return rec.IdentityKey
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
