// Package store appends window reports to a PostgreSQL table. The table is a
// history only; it is never read back into the accumulator.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aeytom/pulsemeter/meter"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

const schema = `CREATE TABLE IF NOT EXISTS window_reports (
	id             BIGSERIAL PRIMARY KEY,
	meter          TEXT NOT NULL,
	at             TIMESTAMPTZ NOT NULL,
	window_seconds DOUBLE PRECISION NOT NULL,
	samples        INTEGER NOT NULL,
	avg_power_w    DOUBLE PRECISION NOT NULL,
	energy_kwh     DOUBLE PRECISION NOT NULL
)`

const insertReport = `INSERT INTO window_reports (meter, at, window_seconds, samples, avg_power_w, energy_kwh)
VALUES (:meter, :at, :window_seconds, :samples, :avg_power_w, :energy_kwh)`

// Row is the stored form of a report.
type Row struct {
	ID            int64     `db:"id"`
	Meter         string    `db:"meter"`
	At            time.Time `db:"at"`
	WindowSeconds float64   `db:"window_seconds"`
	Samples       int       `db:"samples"`
	AvgPower      float64   `db:"avg_power_w"`
	Energy        float64   `db:"energy_kwh"`
}

// FromReport …
func FromReport(r meter.Report) Row {
	return Row{
		Meter:         r.Meter,
		At:            r.At.UTC(),
		WindowSeconds: r.Window.Seconds(),
		Samples:       r.Samples,
		AvgPower:      r.AvgPower,
		Energy:        r.Energy,
	}
}

// Sink writes reports with sqlx.
type Sink struct {
	db *sqlx.DB
}

// Connect opens the database and creates the table if needed.
func Connect(ctx context.Context, dsn string) (*Sink, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Msg("postgres report history enabled")
	return s, nil
}

// New wraps an open database.
func New(db *sqlx.DB) *Sink {
	return &Sink{db: db}
}

// Migrate creates the report table.
func (s *Sink) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create window_reports: %w", err)
	}
	return nil
}

// WriteReport …
func (s *Sink) WriteReport(ctx context.Context, r meter.Report) error {
	if _, err := s.db.NamedExecContext(ctx, insertReport, FromReport(r)); err != nil {
		return fmt.Errorf("insert window report: %w", err)
	}
	return nil
}

// Close …
func (s *Sink) Close() error {
	return s.db.Close()
}
