package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"rent-tracker/models"
	"rent-tracker/utils"
)

// recordHeader is the shared tabular schema of the three lifecycle stores:
// the history ledger, the active store and the removed archive.
var recordHeader = []string{
	"fingerprint", "source_id", "status",
	"first_seen", "last_seen", "scrape_date", "removed_date",
	"days_on_market", "price", "price_change", "price_change_pct", "relisted",
	"district", "size", "rooms", "has_outdoor", "is_neubau", "is_furnished",
	"link", "raw_text",
}

// StoreSet manages the three CSV-backed persistence views. Writes are staged
// to temp files and committed by rename, so a crash mid-write leaves every
// store in its pre-run state.
type StoreSet struct {
	historyPath string
	activePath  string
	removedPath string
	logger      *utils.Logger
}

// NewStoreSet creates the store manager, creating parent directories as
// needed.
func NewStoreSet(historyPath, activePath, removedPath string, logger *utils.Logger) (*StoreSet, error) {
	for _, p := range []string{historyPath, activePath, removedPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("store: create dir for %q: %w", p, err)
		}
	}
	return &StoreSet{
		historyPath: historyPath,
		activePath:  activePath,
		removedPath: removedPath,
		logger:      logger,
	}, nil
}

// LoadActive reads the previous run's active view keyed by identity. A
// missing file yields an empty view (first run). A file whose header lacks
// the fingerprint column is a legacy store from before identity tracking:
// the second return value is true and the view is empty, so every current
// identity classifies as new instead of failing the run.
func (s *StoreSet) LoadActive() (map[string]*models.LifecycleRecord, bool, error) {
	header, rows, err := readCSV(s.activePath)
	if err != nil {
		return nil, false, fmt.Errorf("store: read active %q: %w", s.activePath, err)
	}
	if header == nil {
		return map[string]*models.LifecycleRecord{}, false, nil
	}

	idx := columnIndex(header)
	if _, ok := idx["fingerprint"]; !ok {
		return map[string]*models.LifecycleRecord{}, true, nil
	}

	active := make(map[string]*models.LifecycleRecord, len(rows))
	for i, row := range rows {
		rec, err := parseRecord(idx, row)
		if err != nil {
			s.logger.Warn("[store] active row %d skipped: %v", i+2, err)
			continue
		}
		active[rec.IdentityKey] = rec
	}
	return active, false, nil
}

// LoadRemovedKeys reads the identity keys present in the removed archive.
// Used to flag relistings; a missing archive yields an empty set.
func (s *StoreSet) LoadRemovedKeys() (map[string]struct{}, error) {
	header, rows, err := readCSV(s.removedPath)
	if err != nil {
		return nil, fmt.Errorf("store: read removed %q: %w", s.removedPath, err)
	}
	keys := make(map[string]struct{}, len(rows))
	if header == nil {
		return keys, nil
	}
	idx := columnIndex(header)
	col, ok := idx["fingerprint"]
	if !ok {
		return keys, nil
	}
	for _, row := range rows {
		if col < len(row) && row[col] != "" {
			keys[row[col]] = struct{}{}
		}
	}
	return keys, nil
}

// CommitRun applies the three write contracts for one classified run:
// append the current records to the history ledger, append removed records
// to the removed archive, replace the active store. All three files are
// staged before any rename, so a staging failure commits nothing.
func (s *StoreSet) CommitRun(result *models.RunResult) error {
	type staged struct{ tmp, final string }
	var pending []staged
	abort := func() {
		for _, st := range pending {
			_ = os.Remove(st.tmp)
		}
	}

	historyTmp, err := s.stageAppend(s.historyPath, result.Current)
	if err != nil {
		abort()
		return fmt.Errorf("store: stage history: %w", err)
	}
	pending = append(pending, staged{historyTmp, s.historyPath})

	removedTmp, err := s.stageAppend(s.removedPath, result.Removed)
	if err != nil {
		abort()
		return fmt.Errorf("store: stage removed: %w", err)
	}
	pending = append(pending, staged{removedTmp, s.removedPath})

	activeTmp, err := s.stageReplace(s.activePath, result.Current)
	if err != nil {
		abort()
		return fmt.Errorf("store: stage active: %w", err)
	}
	pending = append(pending, staged{activeTmp, s.activePath})

	// Active last: if a rename fails midway, the active view still matches
	// or predates the appended ledgers, never the other way around.
	for _, st := range pending {
		if err := os.Rename(st.tmp, st.final); err != nil {
			abort()
			return fmt.Errorf("store: commit %q: %w", st.final, err)
		}
	}

	s.logger.Debug("[store] committed run: %d current, %d removed",
		len(result.Current), len(result.Removed))
	return nil
}

// stageAppend writes header + existing rows + new records to a temp file
// next to path, preserving prior row order. A ledger with a pre-identity
// header is migrated to the current schema first, remapping its rows by
// column name so downstream readers never see rows misaligned with the
// header.
func (s *StoreSet) stageAppend(path string, add []*models.LifecycleRecord) (string, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return "", err
	}
	switch {
	case header == nil:
		header = recordHeader
	case !sameHeader(header, recordHeader):
		s.logger.Warn("[store] migrating legacy ledger %s to current schema (%d rows)", path, len(rows))
		rows = remapRows(header, rows)
		header = recordHeader
	}
	return writeTemp(path, header, rows, add)
}

func sameHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// remapRows reshapes legacy rows into the current schema, carrying over
// columns that match by name and leaving the rest empty.
func remapRows(header []string, rows [][]string) [][]string {
	idx := columnIndex(header)
	out := make([][]string, len(rows))
	for i, row := range rows {
		mapped := make([]string, len(recordHeader))
		for j, name := range recordHeader {
			if k, ok := idx[name]; ok && k < len(row) {
				mapped[j] = row[k]
			}
		}
		out[i] = mapped
	}
	return out
}

// stageReplace writes header + records only, discarding prior content.
func (s *StoreSet) stageReplace(path string, records []*models.LifecycleRecord) (string, error) {
	return writeTemp(path, recordHeader, nil, records)
}

func writeTemp(path string, header []string, rows [][]string, add []*models.LifecycleRecord) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	fail := func(err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fail(err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fail(err)
		}
	}
	for _, rec := range add {
		if err := w.Write(formatRecord(rec)); err != nil {
			return fail(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// readCSV returns (nil, nil, nil) when the file does not exist, otherwise
// the header row and all data rows.
func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // legacy stores may carry a different shape
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	return idx
}

func formatRecord(rec *models.LifecycleRecord) []string {
	return []string{
		rec.IdentityKey,
		rec.SourceID,
		rec.Status,
		formatDate(rec.FirstSeen),
		formatDate(rec.LastSeen),
		formatDate(rec.ScrapeDate),
		formatDate(rec.RemovedDate),
		strconv.Itoa(rec.DaysOnMarket),
		formatFloatPtr(rec.Price, 2),
		strconv.FormatFloat(rec.PriceChange, 'f', 2, 64),
		strconv.FormatFloat(rec.PriceChangePct, 'f', 2, 64),
		strconv.FormatBool(rec.Relisted),
		formatIntPtr(rec.Attrs.District),
		formatFloatPtr(rec.Attrs.Size, -1),
		formatIntPtr(rec.Attrs.Rooms),
		strconv.FormatBool(rec.Attrs.HasOutdoor),
		strconv.FormatBool(rec.Attrs.IsNeubau),
		strconv.FormatBool(rec.Attrs.IsFurnished),
		rec.Attrs.Link,
		rec.Attrs.RawText,
	}
}

func parseRecord(idx map[string]int, row []string) (*models.LifecycleRecord, error) {
	cell := func(name string) string {
		if i, ok := idx[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	key := cell("fingerprint")
	if key == "" {
		return nil, fmt.Errorf("empty fingerprint")
	}
	firstSeen, err := parseDate(cell("first_seen"))
	if err != nil {
		return nil, fmt.Errorf("first_seen: %w", err)
	}
	lastSeen, err := parseDate(cell("last_seen"))
	if err != nil {
		return nil, fmt.Errorf("last_seen: %w", err)
	}
	scrapeDate, _ := parseDate(cell("scrape_date"))
	removedDate, _ := parseDate(cell("removed_date"))
	dom, _ := strconv.Atoi(cell("days_on_market"))

	rec := &models.LifecycleRecord{
		IdentityKey:  key,
		SourceID:     cell("source_id"),
		Status:       cell("status"),
		FirstSeen:    firstSeen,
		LastSeen:     lastSeen,
		ScrapeDate:   scrapeDate,
		RemovedDate:  removedDate,
		DaysOnMarket: dom,
		Price:        parseFloatPtr(cell("price")),
		Relisted:     cell("relisted") == "true",
		Attrs: models.ListingAttributes{
			District:    parseIntPtr(cell("district")),
			Size:        parseFloatPtr(cell("size")),
			Rooms:       parseIntPtr(cell("rooms")),
			Price:       parseFloatPtr(cell("price")),
			HasOutdoor:  cell("has_outdoor") == "true",
			IsNeubau:    cell("is_neubau") == "true",
			IsFurnished: cell("is_furnished") == "true",
			Link:        cell("link"),
			RawText:     cell("raw_text"),
		},
	}
	rec.PriceChange, _ = strconv.ParseFloat(cell("price_change"), 64)
	rec.PriceChangePct, _ = strconv.ParseFloat(cell("price_change_pct"), 64)
	return rec, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(models.DateLayout, s)
}

func formatFloatPtr(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseIntPtr(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}
