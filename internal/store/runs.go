package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/epoch"
)

// ErrRunNotFound is returned by ReadRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the stored summary of a finished run.
type RunRecord struct {
	ID       string          `json:"run_id"`
	Status   string          `json:"status"`
	From     epoch.Epoch     `json:"from"`
	To       epoch.Epoch     `json:"to"`
	Stats    engine.Stats    `json:"stats"`
	Fatal    string          `json:"fatal,omitempty"`
	Failures []FailureRecord `json:"failures,omitempty"`
	Seq      int64           `json:"seq"`
}

// FailureRecord is one stored operation failure.
type FailureRecord struct {
	Time    epoch.Epoch `json:"time"`
	Key     string      `json:"key"`
	Op      string      `json:"op"`
	Message string      `json:"message"`
}

// WriteRun records a run result and its failures. Writing the same run id
// twice is a no-op.
func (s *Store) WriteRun(ctx context.Context, res *engine.Result) error {
	stats, err := marshalStats(res.Stats)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	fatal := ""
	if res.Fatal != nil {
		fatal = res.Fatal.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSeq(ctx, tx, "runs")
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	r, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, from_ns, to_ns, stats, fatal, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, res.RunID, res.Status.String(), int64(res.From), int64(res.To), stats, fatal, seq)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	if n, err := r.RowsAffected(); err != nil {
		return fmt.Errorf("write run: %w", err)
	} else if n == 0 {
		return nil
	}

	for i, f := range res.Failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_failures (run_id, ordinal, time_ns, event_key, op, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`, res.RunID, i, int64(f.Key.Time), f.Key.String(), f.Op, f.Err.Error())
		if err != nil {
			return fmt.Errorf("write run failure %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

// ReadRun returns a stored run with its failures in key order.
func (s *Store) ReadRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, status, from_ns, to_ns, stats, fatal, seq
		FROM runs
		WHERE run_id = ?
	`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("read run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("read run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT time_ns, event_key, op, message
		FROM run_failures
		WHERE run_id = ?
		ORDER BY ordinal ASC
	`, runID)
	if err != nil {
		return RunRecord{}, fmt.Errorf("read run failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f  FailureRecord
			ns int64
		)
		if err := rows.Scan(&ns, &f.Key, &f.Op, &f.Message); err != nil {
			return RunRecord{}, fmt.Errorf("scan run failure: %w", err)
		}
		f.Time = epoch.Epoch(ns)
		rec.Failures = append(rec.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return RunRecord{}, fmt.Errorf("iterate run failures: %w", err)
	}
	return rec, nil
}

// ListRuns returns run summaries (without failures) in the order they
// were written. A limit of zero or less returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
		SELECT run_id, status, from_ns, to_ns, stats, fatal, seq
		FROM runs
		ORDER BY seq ASC, run_id COLLATE BINARY ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: iterate: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var (
		rec      RunRecord
		from, to int64
		stats    string
	)
	if err := sc.Scan(&rec.ID, &rec.Status, &from, &to, &stats, &rec.Fatal, &rec.Seq); err != nil {
		return RunRecord{}, err
	}
	rec.From, rec.To = epoch.Epoch(from), epoch.Epoch(to)
	st, err := unmarshalStats(stats)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Stats = st
	return rec, nil
}
