package tracker

import (
	"testing"
	"time"

	"rent-tracker/models"
	"rent-tracker/utils"
)

func newTestClassifier() *Classifier {
	return NewClassifier(1.0, utils.NewLogger())
}

func day(n int) time.Time {
	return time.Date(2026, 8, n, 0, 0, 0, 0, time.UTC)
}

func snapRecord(key string, price *float64) SnapshotRecord {
	return SnapshotRecord{
		Identity: Identity{Key: key, SourceID: key},
		Attrs:    models.ListingAttributes{Price: price, Link: "https://example.at/d/x/" + key},
	}
}

func activeRecord(key string, price *float64, firstSeen time.Time) *models.LifecycleRecord {
	return &models.LifecycleRecord{
		IdentityKey: key,
		SourceID:    key,
		Status:      models.StatusActive,
		FirstSeen:   firstSeen,
		LastSeen:    firstSeen,
		Price:       price,
		Attrs:       models.ListingAttributes{Price: price},
	}
}

func byKey(records []*models.LifecycleRecord) map[string]*models.LifecycleRecord {
	m := make(map[string]*models.LifecycleRecord, len(records))
	for _, rec := range records {
		m[rec.IdentityKey] = rec
	}
	return m
}

func noRemoved() map[string]struct{} { return map[string]struct{}{} }

// Day 1: empty active store, two listings — both new with zero tenure.
func TestClassifyFirstRunAllNew(t *testing.T) {
	c := newTestClassifier()
	snapshot := []SnapshotRecord{
		snapRecord("A", floatp(800)),
		snapRecord("B", floatp(900)),
	}

	result := c.Classify(nil, noRemoved(), snapshot, day(1))

	if len(result.Current) != 2 || len(result.Removed) != 0 {
		t.Fatalf("got %d current, %d removed; want 2, 0", len(result.Current), len(result.Removed))
	}
	for _, rec := range result.Current {
		if rec.Status != models.StatusNew {
			t.Errorf("%s: status = %q; want new", rec.IdentityKey, rec.Status)
		}
		if rec.DaysOnMarket != 0 {
			t.Errorf("%s: days on market = %d; want 0", rec.IdentityKey, rec.DaysOnMarket)
		}
		if !rec.FirstSeen.Equal(day(1)) || !rec.LastSeen.Equal(day(1)) {
			t.Errorf("%s: first/last seen not set to run date", rec.IdentityKey)
		}
	}
}

// Day 2: A repriced, B gone, C appears.
func TestClassifySecondRunTransitions(t *testing.T) {
	c := newTestClassifier()
	prev := map[string]*models.LifecycleRecord{
		"A": activeRecord("A", floatp(800), day(1)),
		"B": activeRecord("B", floatp(900), day(1)),
	}
	snapshot := []SnapshotRecord{
		snapRecord("A", floatp(750)),
		snapRecord("C", floatp(1000)),
	}

	result := c.Classify(prev, noRemoved(), snapshot, day(2))
	current := byKey(result.Current)

	a := current["A"]
	if a.Status != models.StatusPriceChanged {
		t.Errorf("A: status = %q; want price_changed", a.Status)
	}
	if a.PriceChange != -50 {
		t.Errorf("A: price change = %.2f; want -50", a.PriceChange)
	}
	if a.PriceChangePct != -6.25 {
		t.Errorf("A: price change pct = %.2f; want -6.25", a.PriceChangePct)
	}
	if !a.FirstSeen.Equal(day(1)) {
		t.Error("A: first_seen not carried forward")
	}
	if a.DaysOnMarket != 1 {
		t.Errorf("A: days on market = %d; want 1", a.DaysOnMarket)
	}

	if current["C"].Status != models.StatusNew {
		t.Errorf("C: status = %q; want new", current["C"].Status)
	}

	if len(result.Removed) != 1 {
		t.Fatalf("removed = %d; want 1", len(result.Removed))
	}
	b := result.Removed[0]
	if b.IdentityKey != "B" || b.Status != models.StatusRemoved {
		t.Errorf("removed record = %s/%s; want B/removed", b.IdentityKey, b.Status)
	}
	if b.DaysOnMarket != 1 {
		t.Errorf("B: final days on market = %d; want 1", b.DaysOnMarket)
	}
	if !b.RemovedDate.Equal(day(2)) || !b.LastSeen.Equal(day(2)) {
		t.Error("B: removed_date/last_seen should be the run date")
	}
}

// Day 3: A unchanged, C gone.
func TestClassifyThirdRunStable(t *testing.T) {
	c := newTestClassifier()
	prev := map[string]*models.LifecycleRecord{
		"A": activeRecord("A", floatp(750), day(1)),
		"C": activeRecord("C", floatp(1000), day(2)),
	}
	snapshot := []SnapshotRecord{snapRecord("A", floatp(750))}

	result := c.Classify(prev, noRemoved(), snapshot, day(3))

	if result.Current[0].Status != models.StatusActive {
		t.Errorf("A: status = %q; want active", result.Current[0].Status)
	}
	if result.Current[0].DaysOnMarket != 2 {
		t.Errorf("A: days on market = %d; want 2", result.Current[0].DaysOnMarket)
	}
	if len(result.Removed) != 1 || result.Removed[0].IdentityKey != "C" {
		t.Fatalf("want exactly C removed, got %v", result.Removed)
	}
}

// A delta of exactly the threshold is a price change; strictly below is not.
func TestClassifyThresholdBoundary(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		newPrice   float64
		wantStatus string
	}{
		{801.00, models.StatusPriceChanged}, // +1.00, exactly threshold
		{800.99, models.StatusActive},       // +0.99, below
		{799.00, models.StatusPriceChanged}, // -1.00
		{800.00, models.StatusActive},       // unchanged
	}

	for _, tt := range tests {
		prev := map[string]*models.LifecycleRecord{"A": activeRecord("A", floatp(800), day(1))}
		result := c.Classify(prev, noRemoved(), []SnapshotRecord{snapRecord("A", floatp(tt.newPrice))}, day(2))
		if got := result.Current[0].Status; got != tt.wantStatus {
			t.Errorf("price %.2f: status = %q; want %q", tt.newPrice, got, tt.wantStatus)
		}
	}
}

// A reprice from zero records the delta but no percentage; nothing
// non-finite may reach the stores.
func TestClassifyRepriceFromZeroOmitsPct(t *testing.T) {
	c := newTestClassifier()
	prev := map[string]*models.LifecycleRecord{"A": activeRecord("A", floatp(0), day(1))}

	result := c.Classify(prev, noRemoved(), []SnapshotRecord{snapRecord("A", floatp(100))}, day(2))

	rec := result.Current[0]
	if rec.Status != models.StatusPriceChanged {
		t.Errorf("status = %q; want price_changed", rec.Status)
	}
	if rec.PriceChange != 100 {
		t.Errorf("price change = %.2f; want 100", rec.PriceChange)
	}
	if rec.PriceChangePct != 0 {
		t.Errorf("price change pct = %.2f; want 0 when prior price is 0", rec.PriceChangePct)
	}
}

// Null price on either side excludes the record from delta classification
// but keeps it tracked for presence.
func TestClassifyNullPriceExcludedFromDelta(t *testing.T) {
	c := newTestClassifier()

	prev := map[string]*models.LifecycleRecord{
		"A": activeRecord("A", nil, day(1)),
		"B": activeRecord("B", floatp(900), day(1)),
	}
	snapshot := []SnapshotRecord{
		snapRecord("A", floatp(700)), // prior price unknown
		snapRecord("B", nil),         // current price unknown
	}

	result := c.Classify(prev, noRemoved(), snapshot, day(2))
	current := byKey(result.Current)

	if current["A"].Status != models.StatusActive {
		t.Errorf("A: status = %q; want active (no prior price to compare)", current["A"].Status)
	}
	if current["B"].Status != models.StatusActive {
		t.Errorf("B: status = %q; want active (no current price to compare)", current["B"].Status)
	}
}

// Partition property: every observed identity gets exactly one of
// new/active/price_changed and the counts sum to the identity-set size.
func TestClassifyPartitionProperty(t *testing.T) {
	c := newTestClassifier()
	prev := map[string]*models.LifecycleRecord{
		"A": activeRecord("A", floatp(800), day(1)),
		"B": activeRecord("B", floatp(900), day(1)),
		"C": activeRecord("C", floatp(700), day(1)),
	}
	snapshot := []SnapshotRecord{
		snapRecord("A", floatp(800)),
		snapRecord("B", floatp(950)),
		snapRecord("D", floatp(600)),
		snapRecord("E", nil),
	}

	result := c.Classify(prev, noRemoved(), snapshot, day(2))

	counts := map[string]int{}
	seen := map[string]bool{}
	for _, rec := range result.Current {
		counts[rec.Status]++
		if seen[rec.IdentityKey] {
			t.Errorf("identity %s classified twice", rec.IdentityKey)
		}
		seen[rec.IdentityKey] = true
	}

	total := counts[models.StatusNew] + counts[models.StatusActive] + counts[models.StatusPriceChanged]
	if total != 4 {
		t.Errorf("partition sum = %d; want 4 (size of identity set)", total)
	}
	if len(result.Current) != 4 {
		t.Errorf("current records = %d; want 4", len(result.Current))
	}
}

// Removal soundness: only previously active identities absent from the
// snapshot produce removed records.
func TestClassifyRemovalSoundness(t *testing.T) {
	c := newTestClassifier()
	prev := map[string]*models.LifecycleRecord{
		"A": activeRecord("A", floatp(800), day(1)),
		"B": activeRecord("B", floatp(900), day(1)),
	}
	snapshot := []SnapshotRecord{snapRecord("A", floatp(800))}

	result := c.Classify(prev, noRemoved(), snapshot, day(2))

	for _, rec := range result.Removed {
		if _, wasActive := prev[rec.IdentityKey]; !wasActive {
			t.Errorf("removed %s was never active", rec.IdentityKey)
		}
	}
	if len(result.Removed) != 1 || result.Removed[0].IdentityKey != "B" {
		t.Errorf("want exactly B removed")
	}
}

// Tenure never decreases for an identity that stays active across runs.
func TestClassifyTenureMonotonicity(t *testing.T) {
	c := newTestClassifier()

	prev := map[string]*models.LifecycleRecord{"A": activeRecord("A", floatp(800), day(1))}
	run2 := c.Classify(prev, noRemoved(), []SnapshotRecord{snapRecord("A", floatp(800))}, day(2))
	run3 := c.Classify(byKey(run2.Current), noRemoved(), []SnapshotRecord{snapRecord("A", floatp(800))}, day(4))

	if run2.Current[0].DaysOnMarket != 1 {
		t.Errorf("run 2 tenure = %d; want 1", run2.Current[0].DaysOnMarket)
	}
	if run3.Current[0].DaysOnMarket != 3 {
		t.Errorf("run 3 tenure = %d; want 3", run3.Current[0].DaysOnMarket)
	}
	if run3.Current[0].DaysOnMarket < run2.Current[0].DaysOnMarket {
		t.Error("tenure decreased across consecutive runs")
	}
}

// Re-running on the same inputs produces an identical record set.
func TestClassifyIdempotence(t *testing.T) {
	c := newTestClassifier()
	prev := map[string]*models.LifecycleRecord{
		"A": activeRecord("A", floatp(800), day(1)),
		"B": activeRecord("B", floatp(900), day(1)),
	}
	snapshot := []SnapshotRecord{
		snapRecord("A", floatp(750)),
		snapRecord("C", floatp(1000)),
	}

	first := c.Classify(prev, noRemoved(), snapshot, day(2))
	second := c.Classify(prev, noRemoved(), snapshot, day(2))

	if len(first.Current) != len(second.Current) || len(first.Removed) != len(second.Removed) {
		t.Fatal("record counts differ between identical runs")
	}
	for i := range first.Current {
		a, b := first.Current[i], second.Current[i]
		if a.IdentityKey != b.IdentityKey || a.Status != b.Status ||
			a.DaysOnMarket != b.DaysOnMarket || a.PriceChange != b.PriceChange {
			t.Errorf("current[%d] differs: %+v vs %+v", i, a, b)
		}
	}
	for i := range first.Removed {
		if first.Removed[i].IdentityKey != second.Removed[i].IdentityKey {
			t.Errorf("removed[%d] differs", i)
		}
	}
}

// A fingerprint reappearing after its lineage entered the removed archive
// starts a fresh lineage but is flagged as relisted.
func TestClassifyRelistedFlag(t *testing.T) {
	c := newTestClassifier()
	removed := map[string]struct{}{"A": {}}

	result := c.Classify(nil, removed, []SnapshotRecord{snapRecord("A", floatp(800))}, day(5))

	rec := result.Current[0]
	if rec.Status != models.StatusNew {
		t.Errorf("status = %q; want new (fresh lineage)", rec.Status)
	}
	if !rec.Relisted {
		t.Error("expected relisted flag for reappearing identity")
	}
	if rec.DaysOnMarket != 0 {
		t.Errorf("relisted lineage tenure = %d; want 0", rec.DaysOnMarket)
	}
}

// End to end through Resolve: a reprice of the same physical unit keeps its
// identity and classifies as a price change, not as a new/removed pair.
func TestClassifyResolvedIdentitiesDetectReprice(t *testing.T) {
	c := newTestClassifier()

	unit := func(price float64, link string) models.ListingAttributes {
		return models.ListingAttributes{
			District: intp(1030), Size: floatp(54), Rooms: intp(2),
			Price: floatp(price), Link: link,
		}
	}
	toSnapshot := func(listings ...models.ListingAttributes) []SnapshotRecord {
		snapshot := make([]SnapshotRecord, len(listings))
		for i, attrs := range listings {
			snapshot[i] = SnapshotRecord{Identity: Resolve(attrs), Attrs: attrs}
		}
		return snapshot
	}

	day1 := c.Classify(nil, noRemoved(),
		toSnapshot(unit(800, "https://willhaben.at/iad/immobilien/d/mietwohnung/111")), day(1))
	if day1.Current[0].Status != models.StatusNew {
		t.Fatalf("day 1 status = %q; want new", day1.Current[0].Status)
	}

	// Day 2: same unit, repriced and re-posted under a new URL.
	day2 := c.Classify(byKey(day1.Current), noRemoved(),
		toSnapshot(unit(750, "https://willhaben.at/iad/immobilien/d/mietwohnung/222")), day(2))

	if len(day2.Current) != 1 || len(day2.Removed) != 0 {
		t.Fatalf("got %d current, %d removed; want 1, 0 — reprice must not split the lineage",
			len(day2.Current), len(day2.Removed))
	}
	rec := day2.Current[0]
	if rec.Status != models.StatusPriceChanged {
		t.Errorf("status = %q; want price_changed", rec.Status)
	}
	if rec.IdentityKey != "1030|54|2" {
		t.Errorf("identity key = %q; want 1030|54|2", rec.IdentityKey)
	}
	if rec.PriceChange != -50 {
		t.Errorf("price change = %.2f; want -50", rec.PriceChange)
	}
	if !rec.FirstSeen.Equal(day(1)) || rec.DaysOnMarket != 1 {
		t.Error("lineage continuity lost across the reprice")
	}
}

// Duplicate snapshot rows for one identity collapse to the later record.
func TestClassifyCollapsesDuplicates(t *testing.T) {
	c := newTestClassifier()
	snapshot := []SnapshotRecord{
		snapRecord("A", floatp(800)),
		snapRecord("A", floatp(820)),
	}

	result := c.Classify(nil, noRemoved(), snapshot, day(1))

	if len(result.Current) != 1 {
		t.Fatalf("current = %d; want 1", len(result.Current))
	}
	if result.Duplicates != 1 {
		t.Errorf("duplicates = %d; want 1", result.Duplicates)
	}
	if *result.Current[0].Price != 820 {
		t.Errorf("price = %.2f; want 820 (later row wins)", *result.Current[0].Price)
	}
}
