package store

import (
	"context"
	"fmt"

	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/ir"
)

// SaveResult summarizes a SaveHistory call.
type SaveResult struct {
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
}

// SaveHistory writes every cache entry. Entries already stored under the
// same fingerprint are left untouched (first insert wins), matching the
// cache's own semantics. The whole save is one transaction.
func (s *Store) SaveHistory(ctx context.Context, c *history.Cache) (SaveResult, error) {
	var res SaveResult
	schema := history.SchemaDigest().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("save history: begin tx: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSeq(ctx, tx, "history_entries")
	if err != nil {
		return res, fmt.Errorf("save history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_entries (fingerprint, schema, payload, failed, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`)
	if err != nil {
		return res, fmt.Errorf("save history: prepare: %w", err)
	}
	defer stmt.Close()

	var werr error
	c.Each(func(fp ir.Digest, e history.Entry) bool {
		payload, err := e.MarshalBinary()
		if err != nil {
			werr = fmt.Errorf("save history: entry %s: %w", fp.Short(), err)
			return false
		}
		r, err := stmt.ExecContext(ctx, fp.String(), schema, payload, e.Failed, seq)
		if err != nil {
			werr = fmt.Errorf("save history: entry %s: %w", fp.Short(), err)
			return false
		}
		n, err := r.RowsAffected()
		if err != nil {
			werr = fmt.Errorf("save history: %w", err)
			return false
		}
		if n > 0 {
			res.Inserted++
			seq++
		} else {
			res.Existing++
		}
		return true
	})
	if werr != nil {
		return SaveResult{}, werr
	}

	if err := tx.Commit(); err != nil {
		return SaveResult{}, fmt.Errorf("save history: commit: %w", err)
	}
	return res, nil
}

// LoadResult summarizes a LoadHistory call.
type LoadResult struct {
	Loaded int `json:"loaded"`
	// Present counts stored entries the cache already held.
	Present int `json:"present"`
	// Skipped counts entries whose payload failed to decode.
	Skipped int `json:"skipped"`
	// Stale counts entries written under a different value-type schema.
	Stale int `json:"stale"`
}

// LoadHistory inserts stored entries into c in seq order. Undecodable
// entries are skipped (the cache logs them). An entry that disagrees with
// one already in c is an integrity fault and stops the load.
func (s *Store) LoadHistory(ctx context.Context, c *history.Cache) (LoadResult, error) {
	var res LoadResult
	schema := history.SchemaDigest().String()

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_entries WHERE schema != ?`, schema,
	).Scan(&res.Stale); err != nil {
		return res, fmt.Errorf("load history: count stale: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, payload
		FROM history_entries
		WHERE schema = ?
		ORDER BY seq ASC, fingerprint COLLATE BINARY ASC
	`, schema)
	if err != nil {
		return res, fmt.Errorf("load history: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hexFP   string
			payload []byte
		)
		if err := rows.Scan(&hexFP, &payload); err != nil {
			return res, fmt.Errorf("load history: scan: %w", err)
		}
		fp, err := ir.ParseDigest(hexFP)
		if err != nil {
			res.Skipped++
			continue
		}
		before := c.Len()
		ok, err := c.Load(fp, payload)
		if err != nil {
			return res, fmt.Errorf("load history: %w", err)
		}
		switch {
		case !ok:
			res.Skipped++
		case c.Len() > before:
			res.Loaded++
		default:
			res.Present++
		}
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("load history: iterate: %w", err)
	}
	return res, nil
}

// HistoryStats describes the stored history.
type HistoryStats struct {
	Entries int    `json:"entries"`
	Failed  int    `json:"failed"`
	Stale   int    `json:"stale"`
	Bytes   int64  `json:"bytes"`
	Schema  string `json:"schema"`
}

// HistoryStats counts stored entries.
func (s *Store) HistoryStats(ctx context.Context) (HistoryStats, error) {
	st := HistoryStats{Schema: history.SchemaDigest().String()}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(failed), 0),
			COALESCE(SUM(CASE WHEN schema != ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(LENGTH(payload)), 0)
		FROM history_entries
	`, st.Schema).Scan(&st.Entries, &st.Failed, &st.Stale, &st.Bytes)
	if err != nil {
		return st, fmt.Errorf("history stats: %w", err)
	}
	return st, nil
}

// PruneStale deletes entries written under another value-type schema and
// returns how many were removed.
func (s *Store) PruneStale(ctx context.Context) (int64, error) {
	r, err := s.db.ExecContext(ctx,
		`DELETE FROM history_entries WHERE schema != ?`, history.SchemaDigest().String())
	if err != nil {
		return 0, fmt.Errorf("prune stale history: %w", err)
	}
	return r.RowsAffected()
}
