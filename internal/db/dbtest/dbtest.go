// Package dbtest opens throwaway SQLite databases for tests.
package dbtest

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/gncyclemart/shop-api/internal/db"
)

// New returns an in-memory database with the schema applied.
// It is closed when the test finishes.
func New(tb testing.TB) *db.DB {
	tb.Helper()

	database, err := db.NewDB("sqlite3", "file::memory:?_foreign_keys=on", noop.NewMeterProvider().Meter("test"), "test")
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	tb.Cleanup(func() { database.Close() })

	if err := database.InitSchema(context.Background()); err != nil {
		tb.Fatalf("init schema: %v", err)
	}
	return database
}
