package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/tracegraph/internal/core/ports"
)

// Store is the DuckDB-backed span store: raw spans plus hourly rollup
// rows, both written by the external telemetry pipeline. This engine
// only reads; schema bootstrap exists so a fresh database file is
// queryable immediately.
type Store struct {
	db *sql.DB
}

var _ ports.SpanStore = (*Store)(nil)

// NewStore opens (or creates) the DuckDB database at path and ensures
// the span and rollup tables exist.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS spans (
			trace_id       VARCHAR NOT NULL,
			session_id     VARCHAR,
			dataset        VARCHAR NOT NULL,
			node_id        VARCHAR NOT NULL,
			node_type      VARCHAR NOT NULL,
			parent_node_id VARCHAR,
			start_time     TIMESTAMP NOT NULL,
			duration_ms    BIGINT NOT NULL DEFAULT 0,
			input_tokens   BIGINT NOT NULL DEFAULT 0,
			output_tokens  BIGINT NOT NULL DEFAULT 0,
			status         VARCHAR NOT NULL DEFAULT 'ok',
			error          VARCHAR,
			response_model VARCHAR,
			description    VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS span_rollups_hourly (
			dataset         VARCHAR NOT NULL,
			bucket_start    TIMESTAMP NOT NULL,
			source_id       VARCHAR NOT NULL,
			source_type     VARCHAR NOT NULL,
			target_id       VARCHAR NOT NULL,
			target_type     VARCHAR NOT NULL,
			description     VARCHAR,
			call_count      BIGINT NOT NULL,
			error_count     BIGINT NOT NULL DEFAULT 0,
			sum_duration_ms BIGINT NOT NULL DEFAULT 0,
			p95_duration_ms DOUBLE NOT NULL DEFAULT 0,
			input_tokens    BIGINT NOT NULL DEFAULT 0,
			output_tokens   BIGINT NOT NULL DEFAULT 0,
			session_count   BIGINT NOT NULL DEFAULT 0,
			sample_error    VARCHAR,
			total_cost      DOUBLE NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// QueryJSON executes a query following the one-row, one-text-column
// contract and returns the raw JSON document.
func (s *Store) QueryJSON(ctx context.Context, query string, args ...any) (string, error) {
	row := s.db.QueryRowContext(ctx, query, args...)

	// Queries cast the payload column to VARCHAR; DuckDB's raw JSON
	// logical type would otherwise decode as a Go map. The driver may
	// still surface text as string or bytes depending on version.
	var out any
	if err := row.Scan(&out); err != nil {
		return "", fmt.Errorf("span store query: %w", err)
	}
	switch v := out.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("span store query: unexpected result column type %T", out)
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
