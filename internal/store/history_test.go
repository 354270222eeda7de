package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/resource"
)

func TestSaveLoadHistory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	src := quietCache()
	fillCache(t, src, 5)

	saved, err := s.SaveHistory(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Inserted: 6}, saved)

	dst := quietCache()
	loaded, err := s.LoadHistory(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, LoadResult{Loaded: 6}, loaded)
	assert.Equal(t, src.Len(), dst.Len())

	e, ok := dst.Lookup(testFingerprint(-1))
	require.True(t, ok)
	assert.True(t, e.Failed)
	assert.EqualError(t, e.Err(), "gauge offline")

	e, ok = dst.Lookup(testFingerprint(3))
	require.True(t, ok)
	vals, err := e.Values()
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, resource.Int(3), vals[0].Value)
}

func TestSaveHistory_FirstInsertWins(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c := quietCache()
	fillCache(t, c, 3)

	_, err := s.SaveHistory(ctx, c)
	require.NoError(t, err)

	fillCache(t, c, 5)
	again, err := s.SaveHistory(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Inserted: 2, Existing: 4}, again)

	st, err := s.HistoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, st.Entries)
	assert.Equal(t, 1, st.Failed)
	assert.Zero(t, st.Stale)
	assert.Positive(t, st.Bytes)
	assert.Equal(t, history.SchemaDigest().String(), st.Schema)
}

func TestLoadHistory_PresentEntries(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c := quietCache()
	fillCache(t, c, 2)
	_, err := s.SaveHistory(ctx, c)
	require.NoError(t, err)

	res, err := s.LoadHistory(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, LoadResult{Present: 3}, res)
}

func TestLoadHistory_SkipsCorruptAndStale(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c := quietCache()
	fillCache(t, c, 2)
	_, err := s.SaveHistory(ctx, c)
	require.NoError(t, err)

	schema := history.SchemaDigest().String()
	_, err = s.db.Exec(`INSERT INTO history_entries (fingerprint, schema, payload, failed, seq) VALUES (?, ?, ?, 0, 100)`,
		testFingerprint(50).String(), schema, []byte{0xff, 0x01})
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO history_entries (fingerprint, schema, payload, failed, seq) VALUES (?, ?, ?, 0, 101)`,
		"not-hex", schema, []byte{0x00})
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO history_entries (fingerprint, schema, payload, failed, seq) VALUES (?, 'old-schema', ?, 0, 102)`,
		testFingerprint(51).String(), []byte{0x00})
	require.NoError(t, err)

	dst := quietCache()
	res, err := s.LoadHistory(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, LoadResult{Loaded: 3, Skipped: 2, Stale: 1}, res)

	pruned, err := s.PruneStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	st, err := s.HistoryStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Stale)
}

func TestLoadHistory_IntegrityFault(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c := quietCache()
	fillCache(t, c, 2)
	_, err := s.SaveHistory(ctx, c)
	require.NoError(t, err)

	// same fingerprint, different outcome
	other := quietCache()
	_, err = other.Insert(testFingerprint(0), history.FailedEntry(errTest))
	require.NoError(t, err)

	_, err = s.LoadHistory(ctx, other)
	require.Error(t, err)
	assert.True(t, history.IsIntegrityFault(err))
	assert.Error(t, other.Fault())
}

func TestSaveHistory_Cancelled(t *testing.T) {
	s := createTestStore(t)
	c := quietCache()
	fillCache(t, c, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.SaveHistory(ctx, c)
	assert.Error(t, err)

	st, err := s.HistoryStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Entries)
}
