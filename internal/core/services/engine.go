package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/manthysbr/tracegraph/internal/core/domain"
	"github.com/manthysbr/tracegraph/internal/core/ports"
)

// ErrMalformedPayload marks a store result that failed to parse against
// the expected payload schema. Fatal for that fetch, reported through
// the session's error field, never a crash.
var ErrMalformedPayload = errors.New("malformed store payload")

// GraphEngine executes planned queries against the span store and turns
// the returned JSON document into a validated GraphPayload. No retries
// happen here; retry policy belongs to the store client.
type GraphEngine struct {
	logger  *slog.Logger
	store   ports.SpanStore
	planner *Planner
}

func NewGraphEngine(logger *slog.Logger, store ports.SpanStore, planner *Planner) *GraphEngine {
	return &GraphEngine{
		logger:  logger.With("component", "graph_engine"),
		store:   store,
		planner: planner,
	}
}

// FetchGraph plans and executes one aggregated-graph query. An empty
// window yields an empty payload, not an error.
func (e *GraphEngine) FetchGraph(ctx context.Context, req GraphRequest) (*domain.GraphPayload, error) {
	plan := e.planner.PlanGraph(req)
	requestID := uuid.NewString()
	e.logger.Debug("executing graph query",
		"request_id", requestID,
		"strategy", plan.Strategy,
		"dataset", req.Dataset,
		"time_range_hours", req.TimeRangeHours,
		"sample_limit", req.SampleLimit,
	)

	raw, err := e.store.QueryJSON(ctx, plan.SQL, plan.Args...)
	if err != nil {
		return nil, fmt.Errorf("graph query (%s strategy): %w", plan.Strategy, err)
	}

	var payload domain.GraphPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		e.logger.Error("graph payload failed to parse", "request_id", requestID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload.Nodes == nil {
		payload.Nodes = []domain.GraphNode{}
	}
	if payload.Edges == nil {
		payload.Edges = []domain.GraphEdge{}
	}
	if err := payload.Validate(); err != nil {
		e.logger.Error("graph payload failed closure check", "request_id", requestID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	e.logger.Debug("graph query complete",
		"request_id", requestID,
		"nodes", len(payload.Nodes),
		"edges", len(payload.Edges),
	)
	return &payload, nil
}
