package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Writer mirrors the latest reading of every probe into MySQL, one row per
// alias
type Writer struct {
	table  string
	db     *sql.DB
	stmt   *sql.Stmt
	hub    *Hub
	logger *zap.SugaredLogger
}

func (w *Writer) prepareStmt() (*sql.Stmt, error) {
	if w.stmt != nil {
		return w.stmt, nil
	}

	var err error

	query := "INSERT INTO `" + w.table + "` (`alias`, `value`, `recorded_at`, `modified_at`) " +
		"VALUES (?, ?, ?, NOW()) " +
		"ON DUPLICATE KEY UPDATE " +
		"`value` = VALUES(`value`), " +
		"`recorded_at` = VALUES(`recorded_at`), " +
		"`modified_at` = VALUES(`modified_at`)"

	w.stmt, err = w.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("writer: %w", err)
	}

	return w.stmt, nil
}

// Write inserts or updates the reading of every probe in s. Absent
// readings are stored as NULL.
func (w *Writer) Write(s Snapshot) error {
	stmt, err := w.prepareStmt()
	if err != nil {
		return err
	}

	aliases := make([]string, 0, len(s.Readings))
	for id := range s.Readings {
		aliases = append(aliases, string(id))
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		var value interface{}
		if v := s.Readings[SensorID(alias)]; v != nil {
			value = *v
		}

		if _, err := stmt.Exec(alias, value, s.Timestamp); err != nil {
			return fmt.Errorf("writer: %s: %w", alias, err)
		}
	}

	return nil
}

// Run writes every telemetry event until ctx is cancelled or the hub is
// closed
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Infow("writer: mirroring readings", "table", w.table)

	return w.hub.Consume(ctx, "writer", func(e Event) {
		if e.Type != TelemetryEvent || e.Snapshot == nil {
			return
		}

		if err := w.Write(*e.Snapshot); err != nil {
			w.logger.Warnw("writer: failed to write snapshot", "ts", e.Snapshot.Timestamp, "error", err)
		}
	})
}

// Close releases the prepared statement
func (w *Writer) Close() error {
	if w.stmt == nil {
		return nil
	}

	return w.stmt.Close()
}

// NewWriter creates a new Writer
func NewWriter(config MySQLConfig, db *sql.DB, hub *Hub, logger *zap.SugaredLogger) *Writer {
	return &Writer{
		table:  config.Table,
		db:     db,
		hub:    hub,
		logger: logger,
	}
}
