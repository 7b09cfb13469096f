// Package sqlite journals fired alerts to a local database. The journal is
// an optional sink off the hot path; the scanner runs fully without it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"gap-scanner/internal/model"
)

const (
	defaultBatchSize  = 50
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the alert journal.
type Config struct {
	DBPath string // e.g. "data/alerts.db"
}

// Journal is a single-goroutine SQLite writer with transaction batching.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// New opens the journal, enabling WAL mode and creating the schema.
func New(cfg Config) (*Journal, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer discipline.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log := slog.Default().With("component", "sqlite")
	log.Info("journal opened", "path", cfg.DBPath)
	return &Journal{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT    PRIMARY KEY,
			ts          INTEGER NOT NULL,
			symbol      TEXT    NOT NULL,
			type        TEXT    NOT NULL,
			detail      TEXT,
			price       REAL    NOT NULL,
			volume      INTEGER NOT NULL,
			gap_percent REAL,
			hod         REAL,
			historical  INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_symbol_ts ON alerts (symbol, ts);
	`)
	return err
}

// Run reads alerts from alertCh and inserts them in batched transactions.
// Flushes every batchSize alerts OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or alertCh is closed.
func (j *Journal) Run(ctx context.Context, alertCh <-chan model.Alert) {
	batch := make([]model.Alert, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.insertBatch(batch); err != nil {
			j.log.Warn("batch insert error", "err", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case alert, ok := <-alertCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, alert)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of alerts in a single transaction. Replayed
// ids are ignored: the alert id is globally stable.
func (j *Journal) insertBatch(alerts []model.Alert) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO alerts (id, ts, symbol, type, detail, price, volume, gap_percent, hod, historical)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, a := range alerts {
		hist := 0
		if a.Historical {
			hist = 1
		}
		_, err := stmt.Exec(a.ID, a.TS, a.Symbol, string(a.Type), a.Detail, a.Price, a.Volume, a.GapPercent, a.HOD, hist)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Recent returns the newest n journaled alerts, newest first.
func (j *Journal) Recent(n int) ([]model.Alert, error) {
	rows, err := j.db.Query(`
		SELECT id, ts, symbol, type, detail, price, volume, gap_percent, hod, historical
		FROM alerts ORDER BY ts DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var typ string
		var hist int
		if err := rows.Scan(&a.ID, &a.TS, &a.Symbol, &typ, &a.Detail, &a.Price, &a.Volume, &a.GapPercent, &a.HOD, &hist); err != nil {
			return nil, err
		}
		a.Type = model.AlertType(typ)
		a.Historical = hist == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
