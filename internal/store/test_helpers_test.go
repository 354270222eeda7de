package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/ir"
	"github.com/roach88/kestrel/internal/resource"
)

// createTestStore opens a store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quietCache() *history.Cache {
	return history.New(history.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func testFingerprint(n int) ir.Digest {
	return ir.NewHasher("kestrel/test").Uint64(uint64(n)).Sum()
}

// fillCache inserts n successful entries and one failed entry.
func fillCache(t *testing.T, c *history.Cache, n int) {
	t.Helper()
	id := resource.New(resource.TagInt, "count")
	for i := range n {
		e, err := history.NewEntry([]resource.Delta{{Resource: id, Value: resource.Int(i)}})
		if err != nil {
			t.Fatalf("NewEntry: %v", err)
		}
		if _, err := c.Insert(testFingerprint(i), e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := c.Insert(testFingerprint(-1), history.FailedEntry(errTest)); err != nil {
		t.Fatalf("Insert failed entry: %v", err)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("gauge offline")
