package services

import (
	"fmt"
	"strings"
	"time"
)

// Strategy identifies which query form the planner chose for a window.
type Strategy string

const (
	// StrategyRollup aggregates pre-bucketed hourly summary rows. Slightly
	// approximate (per-hour buckets, p95 merged as max of bucket p95s) but
	// near-constant query cost regardless of window length.
	StrategyRollup Strategy = "rollup"
	// StrategyLive aggregates raw spans via a bounded-depth recursive
	// traversal of parent->child links. Exact, but cost grows with span
	// volume and traversal depth, so it is reserved for short windows.
	StrategyLive Strategy = "live"
)

// maxTraversalDepth bounds the live strategy's recursive walk.
const maxTraversalDepth = 5

// DefaultPrecomputedMinHours is the window length, in hours, at or above
// which the planner switches from the live to the rollup strategy.
const DefaultPrecomputedMinHours = 1.0

// GraphRequest describes one aggregated-graph query.
type GraphRequest struct {
	Dataset        string
	TimeRangeHours float64
	// SampleLimit caps the amount of data aggregated; zero disables
	// sampling. The meaning differs by strategy: under live it selects N
	// distinct trace ids and aggregates only spans belonging to them
	// (exact trace sampling); under rollup it caps the number of edges
	// returned, ordered by descending call count (approximate, because
	// hourly buckets do not preserve trace identity). See planLive and
	// planRollup.
	SampleLimit int
}

// Plan is an executable query against the span store. The planner only
// constructs plans; execution belongs to the store.
type Plan struct {
	Strategy Strategy
	SQL      string
	Args     []any
}

// Planner decides between the rollup and live strategies for a requested
// window and builds the corresponding query text. Both forms share one
// aggregation specification (see aggregationSQL), so the merge formulas
// cannot drift between strategies.
type Planner struct {
	precomputedMinHours float64
	costs               *CostModel
	now                 func() time.Time
}

// NewPlanner builds a planner. A non-positive threshold falls back to
// DefaultPrecomputedMinHours.
func NewPlanner(precomputedMinHours float64, costs *CostModel) *Planner {
	if precomputedMinHours <= 0 {
		precomputedMinHours = DefaultPrecomputedMinHours
	}
	if costs == nil {
		costs = NewCostModel(nil)
	}
	return &Planner{
		precomputedMinHours: precomputedMinHours,
		costs:               costs,
		now:                 time.Now,
	}
}

// StrategyFor returns the strategy the planner uses for the given window
// length: rollup at or above the precomputed-min-hours threshold, live
// below it.
func (p *Planner) StrategyFor(timeRangeHours float64) Strategy {
	if timeRangeHours >= p.precomputedMinHours {
		return StrategyRollup
	}
	return StrategyLive
}

func (p *Planner) windowStart(timeRangeHours float64) time.Time {
	return p.now().UTC().Add(-time.Duration(timeRangeHours * float64(time.Hour)))
}

// PlanGraph constructs the aggregated-graph query for the request.
func (p *Planner) PlanGraph(req GraphRequest) Plan {
	if p.StrategyFor(req.TimeRangeHours) == StrategyRollup {
		return p.planRollup(req)
	}
	return p.planLive(req)
}

// planLive builds the exact query form. The traversal is split from the
// statistics: the recursive walk only establishes which (trace, node)
// pairs are reachable from the window's root spans, deduplicated with
// UNION, and the partials then count each raw span exactly once against
// that reachable parent set. A node executing several times in one
// trace therefore contributes its children once per child span, not
// once per parent execution. Each live partial is fully grouped, so the
// shared merge layer is a no-op for it and the live results stay exact.
func (p *Planner) planLive(req GraphRequest) Plan {
	cutoff := p.windowStart(req.TimeRangeHours)
	var b strings.Builder
	var args []any

	b.WriteString("WITH RECURSIVE\n")
	if req.SampleLimit > 0 {
		// Live sampling: restrict aggregation to the N most recently
		// started traces. Whole traces are kept or dropped, never split.
		b.WriteString(`sampled AS (
	SELECT trace_id
	FROM spans
	WHERE dataset = ? AND start_time >= ?
	GROUP BY trace_id
	ORDER BY min(start_time) DESC
	LIMIT ?
),
`)
		args = append(args, req.Dataset, cutoff, req.SampleLimit)
	}

	b.WriteString(`walk AS (
	SELECT s.trace_id, s.node_id, s.node_type, 1 AS depth
	FROM spans s
	WHERE s.dataset = ? AND s.start_time >= ? AND s.parent_node_id IS NULL`)
	args = append(args, req.Dataset, cutoff)
	if req.SampleLimit > 0 {
		b.WriteString(`
	  AND s.trace_id IN (SELECT trace_id FROM sampled)`)
	}
	fmt.Fprintf(&b, `
	UNION
	SELECT c.trace_id, c.node_id, c.node_type, w.depth + 1
	FROM spans c
	JOIN walk w ON c.trace_id = w.trace_id AND c.parent_node_id = w.node_id
	WHERE c.dataset = ? AND c.start_time >= ? AND w.depth < %d
),
reach AS (
	SELECT trace_id, node_id, any_value(node_type) AS node_type
	FROM walk
	WHERE depth < %d
	GROUP BY trace_id, node_id
),
`, maxTraversalDepth, maxTraversalDepth)
	args = append(args, req.Dataset, cutoff)

	b.WriteString(`partials AS (
	SELECT s.parent_node_id AS source_id,
	       any_value(r.node_type) AS source_type,
	       s.node_id AS target_id,
	       any_value(s.node_type) AS target_type,
	       min(s.description) AS description,
	       count(*) AS call_count,
	       count(*) FILTER (WHERE s.status = 'error') AS error_count,
	       coalesce(sum(s.duration_ms), 0) AS sum_duration_ms,
	       coalesce(quantile_cont(s.duration_ms, 0.95), 0) AS p95_duration_ms,
	       CAST(coalesce(sum(s.input_tokens), 0) AS BIGINT) AS input_tokens,
	       CAST(coalesce(sum(s.output_tokens), 0) AS BIGINT) AS output_tokens,
	       count(DISTINCT s.session_id) AS session_count,
	       min(s.error) AS sample_error,
	       coalesce(sum(`)
	b.WriteString(p.costs.SQLExpr("s.input_tokens", "s.output_tokens", "s.response_model"))
	b.WriteString(`), 0) AS total_cost
	FROM spans s
	JOIN reach r ON s.trace_id = r.trace_id AND s.parent_node_id = r.node_id
	WHERE s.dataset = ? AND s.start_time >= ?
	GROUP BY s.parent_node_id, s.node_id
)`)
	args = append(args, req.Dataset, cutoff)
	b.WriteString(aggregationSQL(""))

	return Plan{Strategy: StrategyLive, SQL: b.String(), Args: args}
}

// planRollup builds the approximate query form over hourly summary rows.
// Each bucket row is one partial; the shared merge layer combines
// buckets, with p95 merged as the max of per-bucket p95s and session
// counts summed across buckets (both documented approximations).
func (p *Planner) planRollup(req GraphRequest) Plan {
	cutoff := p.windowStart(req.TimeRangeHours)
	var b strings.Builder
	args := []any{req.Dataset, cutoff}

	b.WriteString(`WITH partials AS (
	SELECT source_id, source_type, target_id, target_type, description,
	       call_count, error_count, sum_duration_ms, p95_duration_ms,
	       input_tokens, output_tokens, session_count, sample_error, total_cost
	FROM span_rollups_hourly
	WHERE dataset = ? AND bucket_start >= ?
)`)

	edgeLimit := ""
	if req.SampleLimit > 0 {
		// Rollup sampling: cap the edge set by call volume. Trace identity
		// is gone after bucketing, so this intentionally differs from the
		// live strategy's whole-trace sampling.
		edgeLimit = "\n\tORDER BY call_count DESC\n\tLIMIT ?"
		args = append(args, req.SampleLimit)
	}
	b.WriteString(aggregationSQL(edgeLimit))

	return Plan{Strategy: StrategyRollup, SQL: b.String(), Args: args}
}

// PlanNodeDetail constructs the drill-down query for one node: latency
// percentiles and up to 3 distinct error descriptors over all spans
// executing that node within the window. Details always read raw spans;
// the drill-down scope is narrow enough that the rollup trade-off never
// pays off.
func (p *Planner) PlanNodeDetail(req GraphRequest, nodeID string) Plan {
	cutoff := p.windowStart(req.TimeRangeHours)
	return Plan{
		Strategy: StrategyLive,
		SQL:      detailSQL("node_id = ?"),
		Args:     []any{req.Dataset, cutoff, nodeID},
	}
}

// PlanEdgeDetail is PlanNodeDetail scoped to one (source, target) pair.
func (p *Planner) PlanEdgeDetail(req GraphRequest, sourceID, targetID string) Plan {
	cutoff := p.windowStart(req.TimeRangeHours)
	return Plan{
		Strategy: StrategyLive,
		SQL:      detailSQL("parent_node_id = ? AND node_id = ?"),
		Args:     []any{req.Dataset, cutoff, sourceID, targetID},
	}
}

// aggregationSQL is the shared aggregation specification: the merge
// formulas, node synthesis, role classification, and JSON envelope are
// one block of SQL appended to a strategy-specific `partials` CTE. Both
// strategies produce partial rows with the same columns, so every
// formula below applies to both and the two query forms cannot drift.
//
// edgeLimit, when non-empty, is an ORDER BY / LIMIT clause applied to
// the merged edge set (rollup sampling). Node statistics are computed
// from the partials of surviving edges only, so the payload's closure
// invariant holds even under sampling.
func aggregationSQL(edgeLimit string) string {
	return `,
merged AS (
	SELECT source_id,
	       any_value(source_type) AS source_type,
	       target_id,
	       any_value(target_type) AS target_type,
	       CAST(sum(call_count) AS BIGINT) AS call_count,
	       CAST(sum(error_count) AS BIGINT) AS error_count,
	       coalesce(round(100.0 * sum(error_count) / nullif(sum(call_count), 0), 2), 0) AS error_rate_pct,
	       min(sample_error) AS sample_error,
	       CAST(coalesce(sum(input_tokens) + sum(output_tokens), 0) AS BIGINT) AS total_tokens,
	       coalesce(round((sum(input_tokens) + sum(output_tokens)) * 1.0 / nullif(sum(call_count), 0), 2), 0) AS avg_tokens_per_call,
	       coalesce(round(sum(sum_duration_ms) * 1.0 / nullif(sum(call_count), 0), 2), 0) AS avg_duration_ms,
	       coalesce(max(p95_duration_ms), 0) AS p95_duration_ms,
	       CAST(coalesce(sum(session_count), 0) AS BIGINT) AS session_count,
	       coalesce(sum(total_cost), 0) AS total_cost
	FROM partials
	GROUP BY source_id, target_id
),
kept AS (
	SELECT * FROM merged` + edgeLimit + `
),
kept_partials AS (
	SELECT pr.*
	FROM partials pr
	JOIN kept k ON pr.source_id = k.source_id AND pr.target_id = k.target_id
),
inbound AS (
	SELECT target_id AS id,
	       any_value(target_type) AS node_type,
	       min(description) AS description,
	       CAST(sum(call_count) AS BIGINT) AS executions,
	       CAST(coalesce(sum(input_tokens), 0) AS BIGINT) AS input_tokens,
	       CAST(coalesce(sum(output_tokens), 0) AS BIGINT) AS output_tokens,
	       CAST(sum(error_count) AS BIGINT) AS error_count,
	       coalesce(round(sum(sum_duration_ms) * 1.0 / nullif(sum(call_count), 0), 2), 0) AS avg_duration_ms,
	       coalesce(max(p95_duration_ms), 0) AS p95_duration_ms,
	       coalesce(sum(total_cost), 0) AS total_cost
	FROM kept_partials
	GROUP BY target_id
),
outbound AS (
	SELECT source_id AS id,
	       any_value(source_type) AS node_type,
	       CAST(coalesce(sum(call_count) FILTER (WHERE target_type = 'tool'), 0) AS BIGINT) AS tool_calls,
	       CAST(coalesce(sum(call_count) FILTER (WHERE target_type = 'llm'), 0) AS BIGINT) AS llm_calls
	FROM kept_partials
	GROUP BY source_id
),
nodes AS (
	SELECT coalesce(i.id, o.id) AS id,
	       coalesce(i.node_type, o.node_type) AS node_type,
	       coalesce(i.description, '') AS description,
	       coalesce(i.input_tokens, 0) + coalesce(i.output_tokens, 0) AS total_tokens,
	       coalesce(i.input_tokens, 0) AS input_tokens,
	       coalesce(i.output_tokens, 0) AS output_tokens,
	       coalesce(i.executions, 0) AS executions,
	       coalesce(i.error_count, 0) > 0 AS has_error,
	       coalesce(i.avg_duration_ms, 0) AS avg_duration_ms,
	       coalesce(i.p95_duration_ms, 0) AS p95_duration_ms,
	       coalesce(round(100.0 * i.error_count / nullif(i.executions, 0), 2), 0) AS error_rate_pct,
	       coalesce(i.total_cost, 0) AS total_cost,
	       coalesce(o.tool_calls, 0) AS tool_calls,
	       coalesce(o.llm_calls, 0) AS llm_calls,
	       coalesce(i.id, o.id) NOT IN (SELECT target_id FROM kept) AS is_root,
	       coalesce(i.id, o.id) NOT IN (SELECT source_id FROM kept) AS is_leaf
	FROM inbound i
	FULL OUTER JOIN outbound o ON i.id = o.id
)
SELECT CAST(json_object(
	'nodes', coalesce((
		SELECT to_json(array_agg(json_object(
			'id', id,
			'type', node_type,
			'description', description,
			'total_tokens', total_tokens,
			'input_tokens', input_tokens,
			'output_tokens', output_tokens,
			'executions', executions,
			'has_error', has_error,
			'avg_duration_ms', avg_duration_ms,
			'p95_duration_ms', p95_duration_ms,
			'error_rate_pct', error_rate_pct,
			'total_cost', total_cost,
			'tool_calls', tool_calls,
			'llm_calls', llm_calls,
			'is_root', is_root,
			'is_leaf', is_leaf,
			'is_user_entry_point', is_root AND node_type = 'agent'
		) ORDER BY id))
		FROM nodes
	), json_array()),
	'edges', coalesce((
		SELECT to_json(array_agg(json_object(
			'source_id', source_id,
			'source_type', source_type,
			'target_id', target_id,
			'target_type', target_type,
			'call_count', call_count,
			'error_count', error_count,
			'error_rate_pct', error_rate_pct,
			'sample_error', sample_error,
			'total_tokens', total_tokens,
			'avg_tokens_per_call', avg_tokens_per_call,
			'avg_duration_ms', avg_duration_ms,
			'p95_duration_ms', p95_duration_ms,
			'session_count', session_count,
			'total_cost', total_cost
		) ORDER BY source_id, target_id))
		FROM kept
	), json_array())
) AS VARCHAR) AS payload`
}

// detailSQL builds the drill-down query around a scope predicate over
// raw spans. Aggregates over an empty scope yield NULLs, coalesced to
// zeros, so "no data" parses to an all-zero result instead of failing.
func detailSQL(scope string) string {
	return `WITH scoped AS (
	SELECT duration_ms, error
	FROM spans
	WHERE dataset = ? AND start_time >= ? AND ` + scope + `
)
SELECT CAST(json_object(
	'latency', json_object(
		'p50', coalesce((SELECT quantile_cont(duration_ms, 0.50) FROM scoped), 0),
		'p90', coalesce((SELECT quantile_cont(duration_ms, 0.90) FROM scoped), 0),
		'p99', coalesce((SELECT quantile_cont(duration_ms, 0.99) FROM scoped), 0),
		'max_val', coalesce((SELECT max(duration_ms) FROM scoped), 0)
	),
	'top_errors', coalesce((
		SELECT to_json(array_agg(error ORDER BY error))
		FROM (
			SELECT DISTINCT error
			FROM scoped
			WHERE error IS NOT NULL AND error <> ''
			ORDER BY error
			LIMIT 3
		)
	), json_array())
) AS VARCHAR) AS payload`
}
