package ports

import "context"

// SpanStore executes read-only analytical queries against the store
// holding raw spans and hourly rollups. Queries follow a one-row,
// one-text-column contract: the store evaluates the grouping and merge
// formulas embedded in the query text and returns a single JSON document
// that the caller parses. The engine never mutates the store.
type SpanStore interface {
	QueryJSON(ctx context.Context, query string, args ...any) (string, error)
}
