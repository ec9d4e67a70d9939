package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// DB wraps the database connection with metrics
type DB struct {
	*sql.DB
	driver      string
	meter       metric.Meter
	serviceName string
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens a database connection with OpenTelemetry instrumentation.
// driver is "mysql" or "sqlite3".
func NewDB(driver, dsn string, meter metric.Meter, serviceName string) (*DB, error) {
	attrs := otelsql.WithAttributes(attribute.String("db.system", dbSystem(driver)))

	db, err := otelsql.Open(driver, dsn, attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	switch driver {
	case "sqlite3":
		// one writer; an in-memory database lives only as long as its connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(
		attribute.String("db.system", dbSystem(driver)),
		attribute.String("service.name", serviceName),
	)); err != nil {
		zap.S().Warnw("failed to register otelsql stats metrics", "error", err)
	}

	return &DB{
		DB:          db,
		driver:      driver,
		meter:       meter,
		serviceName: serviceName,
	}, nil
}

// Driver returns the name of the underlying SQL driver
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// InitSchema applies the embedded schema for the configured driver.
// Every statement is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	raw, err := schemaFS.ReadFile("schema/" + db.driver + ".sql")
	if err != nil {
		return fmt.Errorf("no schema for driver %s: %w", db.driver, err)
	}
	return db.ExecScript(ctx, string(raw))
}

// ExecScript splits a SQL script into statements and executes them one by one
func (db *DB) ExecScript(ctx context.Context, script string) error {
	statements := splitSQLStatements(script)

	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w\nStatement: %s", i+1, err, stmt)
		}
	}

	zap.S().Infow("database schema initialized", "driver", db.driver, "statements", len(statements))
	return nil
}

// IsDuplicate reports whether err is a unique-constraint violation
func IsDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// splitSQLStatements drops "--" comment lines and splits on semicolons
func splitSQLStatements(sql string) []string {
	lines := strings.Split(sql, "\n")
	var cleanedLines []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			cleanedLines = append(cleanedLines, line)
		}
	}

	cleanedSQL := strings.Join(cleanedLines, "\n")
	statements := strings.Split(cleanedSQL, ";")

	var result []string
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			result = append(result, stmt)
		}
	}

	return result
}

func dbSystem(driver string) string {
	if driver == "sqlite3" {
		return "sqlite"
	}
	return driver
}
