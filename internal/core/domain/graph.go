package domain

import "fmt"

// GraphNode is one aggregated call-graph vertex: all spans sharing a
// logical node id within the query window, merged.
type GraphNode struct {
	ID               string   `json:"id"`
	Type             NodeType `json:"type"`
	Description      string   `json:"description,omitempty"`
	TotalTokens      int64    `json:"total_tokens"`
	InputTokens      int64    `json:"input_tokens"`
	OutputTokens     int64    `json:"output_tokens"`
	Executions       int64    `json:"executions"`
	HasError         bool     `json:"has_error"`
	AvgDurationMs    float64  `json:"avg_duration_ms"`
	P95DurationMs    float64  `json:"p95_duration_ms"`
	ErrorRatePct     float64  `json:"error_rate_pct"`
	TotalCost        float64  `json:"total_cost"`
	ToolCalls        int64    `json:"tool_calls"`
	LLMCalls         int64    `json:"llm_calls"`
	IsRoot           bool     `json:"is_root"`
	IsLeaf           bool     `json:"is_leaf"`
	IsUserEntryPoint bool     `json:"is_user_entry_point"`
}

// GraphEdge is one aggregated (source, target) call pair within the
// query window.
type GraphEdge struct {
	SourceID         string   `json:"source_id"`
	SourceType       NodeType `json:"source_type"`
	TargetID         string   `json:"target_id"`
	TargetType       NodeType `json:"target_type"`
	CallCount        int64    `json:"call_count"`
	ErrorCount       int64    `json:"error_count"`
	ErrorRatePct     float64  `json:"error_rate_pct"`
	SampleError      string   `json:"sample_error,omitempty"`
	TotalTokens      int64    `json:"total_tokens"`
	AvgTokensPerCall float64  `json:"avg_tokens_per_call"`
	AvgDurationMs    float64  `json:"avg_duration_ms"`
	P95DurationMs    float64  `json:"p95_duration_ms"`
	SessionCount     int64    `json:"session_count"`
	TotalCost        float64  `json:"total_cost"`
}

// GraphPayload is an immutable snapshot of the aggregated graph for one
// (dataset, time-range, sample-limit) query. Consumers read it and never
// mutate nodes or edges in place.
type GraphPayload struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Validate checks the closure invariant: every edge's source and target
// id must appear as a node id in the same payload.
func (p *GraphPayload) Validate() error {
	ids := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		ids[n.ID] = struct{}{}
	}
	for _, e := range p.Edges {
		if _, ok := ids[e.SourceID]; !ok {
			return fmt.Errorf("edge %s->%s: source id missing from node set", e.SourceID, e.TargetID)
		}
		if _, ok := ids[e.TargetID]; !ok {
			return fmt.Errorf("edge %s->%s: target id missing from node set", e.SourceID, e.TargetID)
		}
	}
	return nil
}

// SelectedElement is a reference to one node or one edge of the current
// payload, never both. The sealed interface makes the two variants
// mutually exclusive by construction.
type SelectedElement interface {
	isSelectedElement()
}

// SelectedNode is the node variant of SelectedElement.
type SelectedNode struct {
	Node GraphNode `json:"node"`
}

// SelectedEdge is the edge variant of SelectedElement.
type SelectedEdge struct {
	Edge GraphEdge `json:"edge"`
}

func (SelectedNode) isSelectedElement() {}
func (SelectedEdge) isSelectedElement() {}

// GraphViewState is a read-only snapshot of one graph session: current
// payload (nil until the first fetch), fetch lifecycle flags, and the
// filter values the next fetch will use.
type GraphViewState struct {
	Payload        *GraphPayload   `json:"payload,omitempty"`
	Loading        bool            `json:"loading"`
	LastError      string          `json:"last_error,omitempty"`
	Selection      SelectedElement `json:"selection,omitempty"`
	Dataset        string          `json:"dataset"`
	TimeRangeHours float64         `json:"time_range_hours"`
	SampleLimit    int             `json:"sample_limit,omitempty"`
}

// LatencyStats are drill-down latency percentiles for one node or edge.
type LatencyStats struct {
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
	MaxVal float64 `json:"max_val"`
}

// ElementDetail is the drill-down result for a selected element. A
// window with no matching spans yields all-zero percentiles and an empty
// error list; that is a valid "no data" outcome, not an error.
type ElementDetail struct {
	Latency   LatencyStats `json:"latency"`
	TopErrors []string     `json:"top_errors"`
}
