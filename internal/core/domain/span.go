package domain

import "time"

// NodeType classifies a call-graph vertex: a named agent, tool, or model.
type NodeType string

const (
	NodeTypeAgent NodeType = "agent" // User-facing agent invocation
	NodeTypeTool  NodeType = "tool"  // Tool execution
	NodeTypeLLM   NodeType = "llm"   // Model call
	NodeTypeGlue  NodeType = "glue"  // Framework plumbing between calls
)

// SpanStatus indicates completion state of a span.
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)

// Span is one recorded unit of work in a distributed trace. Spans are
// persisted by the external telemetry pipeline and are read-only to this
// engine. The logical node id is the stable identity of a call-graph
// vertex, shared across many spans and traces; the parent logical node
// id defines the call edge.
type Span struct {
	TraceID       string     `json:"trace_id"`
	SessionID     string     `json:"session_id,omitempty"`
	Dataset       string     `json:"dataset"`
	NodeID        string     `json:"node_id"`
	NodeType      NodeType   `json:"node_type"`
	ParentNodeID  string     `json:"parent_node_id,omitempty"` // empty = root
	StartTime     time.Time  `json:"start_time"`
	DurationMs    int64      `json:"duration_ms"`
	InputTokens   int64      `json:"input_tokens,omitempty"`
	OutputTokens  int64      `json:"output_tokens,omitempty"`
	Status        SpanStatus `json:"status"`
	Error         string     `json:"error,omitempty"`
	ResponseModel string     `json:"response_model,omitempty"`
	Description   string     `json:"description,omitempty"`
}
