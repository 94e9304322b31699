package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"rent-tracker/models"
	"rent-tracker/utils"
)

// PostgresMirror publishes the three lifecycle views to PostgreSQL for the
// dashboard and model-training consumers that prefer SQL access. The CSV
// stores remain the source of truth; the mirror is written after they
// commit.
type PostgresMirror struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresMirror opens a connection, waits for the database with
// exponential backoff, runs schema migrations and returns a ready mirror.
func NewPostgresMirror(dsn string, logger *utils.Logger) (*PostgresMirror, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := &utils.RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 8 * time.Second, Logger: logger}
	if err := retry.Do("postgres ping", db.Ping); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := &PostgresMirror{db: db, logger: logger}
	if err := m.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return m, nil
}

func (m *PostgresMirror) migrate() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS listing_history (
			id               SERIAL PRIMARY KEY,
			fingerprint      TEXT          NOT NULL,
			source_id        TEXT          NOT NULL DEFAULT '',
			status           VARCHAR(20)   NOT NULL,
			first_seen       DATE          NOT NULL,
			last_seen        DATE          NOT NULL,
			scrape_date      DATE          NOT NULL,
			removed_date     DATE,
			days_on_market   INT           NOT NULL DEFAULT 0,
			price            NUMERIC(10,2),
			price_change     NUMERIC(10,2) NOT NULL DEFAULT 0,
			price_change_pct NUMERIC(7,2)  NOT NULL DEFAULT 0,
			relisted         BOOLEAN       NOT NULL DEFAULT FALSE,
			district         INT,
			size_m2          NUMERIC(7,1),
			rooms            INT,
			has_outdoor      BOOLEAN       NOT NULL DEFAULT FALSE,
			is_neubau        BOOLEAN       NOT NULL DEFAULT FALSE,
			is_furnished     BOOLEAN       NOT NULL DEFAULT FALSE,
			link             TEXT          NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS active_listings (LIKE listing_history INCLUDING ALL);
		CREATE TABLE IF NOT EXISTS removed_listings (LIKE listing_history INCLUDING ALL);

		CREATE INDEX IF NOT EXISTS idx_history_fingerprint ON listing_history(fingerprint);
		CREATE INDEX IF NOT EXISTS idx_history_scrape_date ON listing_history(scrape_date);
		CREATE INDEX IF NOT EXISTS idx_active_district     ON active_listings(district);
		CREATE INDEX IF NOT EXISTS idx_active_price        ON active_listings(price);
	`)
	return err
}

// Publish appends the run's records to listing_history and removed_listings
// and replaces active_listings with the current view, mirroring the write
// contracts of the CSV stores.
func (m *PostgresMirror) Publish(result *models.RunResult) error {
	if err := m.insert("listing_history", result.Current); err != nil {
		return err
	}
	if err := m.insert("removed_listings", result.Removed); err != nil {
		return err
	}
	if _, err := m.db.Exec("DELETE FROM active_listings"); err != nil {
		return fmt.Errorf("postgres: clear active: %w", err)
	}
	return m.insert("active_listings", result.Current)
}

const mirrorColumns = 19

func (m *PostgresMirror) insert(table string, records []*models.LifecycleRecord) error {
	const batchSize = 50
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := m.insertBatch(table, records[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (m *PostgresMirror) insertBatch(table string, batch []*models.LifecycleRecord) error {
	if len(batch) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*mirrorColumns)

	for idx, rec := range batch {
		base := idx * mirrorColumns
		ph := make([]string, mirrorColumns)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(ph, ",")+")")
		valueArgs = append(valueArgs,
			rec.IdentityKey, rec.SourceID, rec.Status,
			rec.FirstSeen, rec.LastSeen, rec.ScrapeDate, nullDate(rec.RemovedDate),
			rec.DaysOnMarket, rec.Price, rec.PriceChange, rec.PriceChangePct, rec.Relisted,
			rec.Attrs.District, rec.Attrs.Size, rec.Attrs.Rooms,
			rec.Attrs.HasOutdoor, rec.Attrs.IsNeubau, rec.Attrs.IsFurnished,
			rec.Attrs.Link,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (fingerprint, source_id, status,
			first_seen, last_seen, scrape_date, removed_date,
			days_on_market, price, price_change, price_change_pct, relisted,
			district, size_m2, rooms, has_outdoor, is_neubau, is_furnished, link)
		VALUES %s
	`, table, strings.Join(valueStrings, ","))

	if _, err := m.db.Exec(query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert into %s: %w", table, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (m *PostgresMirror) Close() error {
	return m.db.Close()
}

func nullDate(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
