package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/parish-portal/internal/store"
)

// StoreHarness provides a migrated store backed by a temporary SQLite file
// with deterministic identifiers and time.
type StoreHarness struct {
	Store *store.Store
	Clock *Clock
	IDs   *IDGenerator

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *StoreHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewStoreHarness opens and migrates a store in a temporary directory.
// Callers may invoke Close, but the helper also registers a cleanup callback
// with tb.
func NewStoreHarness(tb testing.TB) *StoreHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "parish.db")
	clock := NewClock(ReferenceTime())
	ids := NewIDGenerator("ntf")

	s, err := store.Open(path, store.WithClock(clock.NowFunc()), store.WithIDGenerator(ids.NextFunc()))
	if err != nil {
		tb.Fatalf("failed to open store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		tb.Fatalf("failed to migrate store: %v", err)
	}

	harness := &StoreHarness{
		Store: s,
		Clock: clock,
		IDs:   ids,
		cleanup: func() {
			_ = s.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}
