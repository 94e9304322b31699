package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"rent-tracker/models"
	"rent-tracker/utils"
)

// SnapshotReader loads one batch of cleaned listing records from the
// upstream collaborator's CSV. It validates only the fields the engine
// consumes and keeps separate counts for absent and unparseable values;
// field extraction itself happens upstream.
type SnapshotReader struct {
	logger *utils.Logger
}

// NewSnapshotReader creates a SnapshotReader with the given logger.
func NewSnapshotReader(logger *utils.Logger) *SnapshotReader {
	return &SnapshotReader{logger: logger}
}

// Read parses the snapshot at path. A missing file or a snapshot with no
// usable rows is an error: the run must abort before touching any store.
func (r *SnapshotReader) Read(path string) ([]models.ListingAttributes, *models.IngestStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: open %q: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: parse %q: %w", path, err)
	}
	if len(all) < 2 {
		return nil, nil, fmt.Errorf("snapshot: %q is empty", path)
	}

	idx := columnIndex(all[0])
	if _, ok := idx["link"]; !ok {
		return nil, nil, fmt.Errorf("snapshot: %q has no link column", path)
	}

	stats := &models.IngestStats{
		Absent:      make(map[string]int),
		Unparseable: make(map[string]int),
	}

	listings := make([]models.ListingAttributes, 0, len(all)-1)
	for _, row := range all[1:] {
		stats.Rows++
		cell := func(name string) string {
			if i, ok := idx[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		link := cell("link")
		if link == "" {
			stats.Dropped++
			r.logger.Warn("[snapshot] row %d dropped: no link", stats.Rows+1)
			continue
		}

		listings = append(listings, models.ListingAttributes{
			District:    r.intField(stats, "district", cell("district")),
			Size:        r.floatField(stats, "size", cell("size")),
			Rooms:       r.intField(stats, "rooms", cell("rooms")),
			Price:       r.floatField(stats, "price", cell("price")),
			HasOutdoor:  parseBool(cell("has_outdoor")),
			IsNeubau:    parseBool(cell("is_neubau")),
			IsFurnished: parseBool(cell("is_furnished")),
			Link:        link,
			RawText:     cell("raw_text"),
		})
	}

	if len(listings) == 0 {
		return nil, nil, fmt.Errorf("snapshot: %q has no usable rows", path)
	}

	r.logger.Debug("[snapshot] %d rows read, %d dropped", stats.Rows, stats.Dropped)
	return listings, stats, nil
}

// floatField distinguishes an empty cell (attribute absent) from a value
// that fails to parse (attribute present but unparseable). Both leave the
// field null; the distinction is carried into the run report.
func (r *SnapshotReader) floatField(stats *models.IngestStats, name, raw string) *float64 {
	if raw == "" {
		stats.Absent[name]++
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		stats.Unparseable[name]++
		r.logger.Debug("[snapshot] unparseable %s: %q", name, raw)
		return nil
	}
	return &v
}

func (r *SnapshotReader) intField(stats *models.IngestStats, name, raw string) *int {
	if raw == "" {
		stats.Absent[name]++
		return nil
	}
	// Cleaners emit whole-number fields as "1030" or "1030.0" depending on
	// the upstream tooling; accept both.
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v != float64(int(v)) {
		stats.Unparseable[name]++
		r.logger.Debug("[snapshot] unparseable %s: %q", name, raw)
		return nil
	}
	n := int(v)
	return &n
}

func parseBool(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y":
		return true
	default:
		return false
	}
}
