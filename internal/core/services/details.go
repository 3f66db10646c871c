package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/tracegraph/internal/core/domain"
)

// ErrNoSelection is returned when a drill-down is requested without a
// selected element.
var ErrNoSelection = errors.New("no element selected")

// FetchDetail runs the drill-down query for the selected node or edge
// over the same window as the request. It runs independently of graph
// fetches and may be called concurrently with them.
func (e *GraphEngine) FetchDetail(ctx context.Context, req GraphRequest, sel domain.SelectedElement) (*domain.ElementDetail, error) {
	var plan Plan
	switch s := sel.(type) {
	case domain.SelectedNode:
		plan = e.planner.PlanNodeDetail(req, s.Node.ID)
	case domain.SelectedEdge:
		plan = e.planner.PlanEdgeDetail(req, s.Edge.SourceID, s.Edge.TargetID)
	default:
		return nil, ErrNoSelection
	}

	raw, err := e.store.QueryJSON(ctx, plan.SQL, plan.Args...)
	if err != nil {
		return nil, fmt.Errorf("detail query: %w", err)
	}

	var detail domain.ElementDetail
	if err := json.Unmarshal([]byte(raw), &detail); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if detail.TopErrors == nil {
		detail.TopErrors = []string{}
	}
	return &detail, nil
}
