package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/angleyanalbedo/generatestcode/internal/fingerprint"
	"github.com/angleyanalbedo/generatestcode/internal/golden"
)

var _ golden.Store = (*Store)(nil)

// Stats summarizes the stored golden memory.
type Stats struct {
	Fingerprints int `json:"fingerprints"`
	Exemplars    int `json:"exemplars"`
	Runs         int `json:"runs"`
}

// LoadFingerprints returns every stored fingerprint, oldest first.
func (s *Store) LoadFingerprints(ctx context.Context) ([]fingerprint.Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint FROM fingerprints ORDER BY created_at, fingerprint`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var out []fingerprint.Fingerprint
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out = append(out, fingerprint.Fingerprint(fp))
	}
	return out, rows.Err()
}

// SaveFingerprints inserts entries, ignoring fingerprints already stored.
func (s *Store) SaveFingerprints(ctx context.Context, entries []golden.FingerprintEntry) error {
	if len(entries) == 0 {
		return nil
	}
	query := s.rebind(`INSERT INTO fingerprints (fingerprint, task_id, run_id, created_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (fingerprint) DO NOTHING`)

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			at := e.CreatedAt
			if at.IsZero() {
				at = time.Now()
			}
			if _, err := stmt.ExecContext(ctx, string(e.Fingerprint), e.TaskID, e.RunID, formatTime(at)); err != nil {
				return fmt.Errorf("insert fingerprint %s: %w", e.Fingerprint.Short(), err)
			}
		}
		return nil
	})
}

// LoadExemplars returns the stored exemplar ring, oldest first.
func (s *Store) LoadExemplars(ctx context.Context) ([]golden.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, instruction, code, created_at FROM exemplars ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query exemplars: %w", err)
	}
	defer rows.Close()

	var out []golden.Entry
	for rows.Next() {
		var e golden.Entry
		var fp, at string
		if err := rows.Scan(&fp, &e.Instruction, &e.Code, &at); err != nil {
			return nil, fmt.Errorf("scan exemplar: %w", err)
		}
		e.Fingerprint = fingerprint.Fingerprint(fp)
		e.CreatedAt = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceExemplars makes entries the complete exemplar set.
func (s *Store) ReplaceExemplars(ctx context.Context, entries []golden.Entry) error {
	query := s.rebind(`INSERT INTO exemplars (position, fingerprint, instruction, code, created_at)
		VALUES (?, ?, ?, ?, ?)`)

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM exemplars`); err != nil {
			return fmt.Errorf("clear exemplars: %w", err)
		}
		for i, e := range entries {
			at := e.CreatedAt
			if at.IsZero() {
				at = time.Now()
			}
			if _, err := tx.ExecContext(ctx, query, i, string(e.Fingerprint), e.Instruction, e.Code, formatTime(at)); err != nil {
				return fmt.Errorf("insert exemplar %d: %w", i, err)
			}
		}
		return nil
	})
}

// Stats counts stored fingerprints, exemplars and distinct runs.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&st.Fingerprints); err != nil {
		return st, fmt.Errorf("count fingerprints: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exemplars`).Scan(&st.Exemplars); err != nil {
		return st, fmt.Errorf("count exemplars: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT run_id) FROM fingerprints WHERE run_id <> ''`).Scan(&st.Runs); err != nil {
		return st, fmt.Errorf("count runs: %w", err)
	}
	return st, nil
}

// timeLayout is fixed width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
