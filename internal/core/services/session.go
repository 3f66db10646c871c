package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/manthysbr/tracegraph/internal/core/domain"
)

// graphFetcher is the slice of GraphEngine the session depends on.
type graphFetcher interface {
	FetchGraph(ctx context.Context, req GraphRequest) (*domain.GraphPayload, error)
	FetchDetail(ctx context.Context, req GraphRequest, sel domain.SelectedElement) (*domain.ElementDetail, error)
}

// DefaultTimeRangeHours is the window a fresh session starts with.
const DefaultTimeRangeHours = 6.0

// GraphSession orchestrates the fetch/selection/error lifecycle for one
// logical graph view. It is the sole mutator of its view state; callers
// read immutable snapshots via State. State is not persisted — a fresh
// fetch is required on every reload.
type GraphSession struct {
	mu     sync.Mutex
	logger *slog.Logger
	engine graphFetcher
	state  domain.GraphViewState

	// gen is the fetch generation counter. Each FetchGraph call claims
	// the next generation; a completion whose generation has since been
	// superseded is discarded, so out-of-order completions under
	// concurrent re-fetch cannot clobber newer results.
	gen uint64
}

// NewGraphSession creates a session with defaults: no payload, the given
// dataset, the given initial window (DefaultTimeRangeHours when zero),
// and no sample limit.
func NewGraphSession(logger *slog.Logger, engine graphFetcher, dataset string, timeRangeHours float64) *GraphSession {
	if timeRangeHours <= 0 {
		timeRangeHours = DefaultTimeRangeHours
	}
	return &GraphSession{
		logger: logger.With("component", "graph_session"),
		engine: engine,
		state: domain.GraphViewState{
			Dataset:        dataset,
			TimeRangeHours: timeRangeHours,
		},
	}
}

// FetchGraph runs one fetch using the session's current filters. The
// selection is cleared as soon as a fetch is attempted, not only on
// success. On failure the last good payload is retained and only the
// error field is set, so a transient failure never blanks the view.
// Overlapping calls are not deduplicated; the generation counter makes
// the newest call win.
func (s *GraphSession) FetchGraph(ctx context.Context) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state.Loading = true
	s.state.Selection = nil
	req := GraphRequest{
		Dataset:        s.state.Dataset,
		TimeRangeHours: s.state.TimeRangeHours,
		SampleLimit:    s.state.SampleLimit,
	}
	s.mu.Unlock()

	payload, err := s.engine.FetchGraph(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.logger.Debug("discarding superseded graph fetch", "generation", gen, "current", s.gen)
		return
	}
	s.state.Loading = false
	if err != nil {
		s.logger.Warn("graph fetch failed", "error", err)
		s.state.LastError = err.Error()
		return
	}
	s.state.Payload = payload
	s.state.LastError = ""
}

// SelectNode sets the selection to the given node. No fetch is triggered.
func (s *GraphSession) SelectNode(n domain.GraphNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Selection = domain.SelectedNode{Node: n}
}

// SelectEdge sets the selection to the given edge. No fetch is triggered.
func (s *GraphSession) SelectEdge(e domain.GraphEdge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Selection = domain.SelectedEdge{Edge: e}
}

// ClearSelection resets the selection to none.
func (s *GraphSession) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Selection = nil
}

// UpdateDataset, UpdateTimeRange and UpdateSampleLimit are pure state
// mutations. None of them fetches, so several filter changes can be
// batched before one explicit FetchGraph executes a query.

func (s *GraphSession) UpdateDataset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Dataset = id
}

func (s *GraphSession) UpdateTimeRange(hours float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TimeRangeHours = hours
}

func (s *GraphSession) UpdateSampleLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SampleLimit = n
}

// SelectionDetail runs the drill-down query for the current selection
// and window. It shares no mutable state with graph fetches beyond the
// selection itself, so it may run concurrently with FetchGraph.
func (s *GraphSession) SelectionDetail(ctx context.Context) (*domain.ElementDetail, error) {
	s.mu.Lock()
	sel := s.state.Selection
	req := GraphRequest{
		Dataset:        s.state.Dataset,
		TimeRangeHours: s.state.TimeRangeHours,
	}
	s.mu.Unlock()

	if sel == nil {
		return nil, ErrNoSelection
	}
	return s.engine.FetchDetail(ctx, req, sel)
}

// State returns a snapshot of the view state. The payload's node and
// edge slices are copied so consumers cannot mutate the session's copy.
func (s *GraphSession) State() domain.GraphViewState {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state
	if s.state.Payload != nil {
		payload := domain.GraphPayload{
			Nodes: append([]domain.GraphNode(nil), s.state.Payload.Nodes...),
			Edges: append([]domain.GraphEdge(nil), s.state.Payload.Edges...),
		}
		snap.Payload = &payload
	}
	return snap
}
