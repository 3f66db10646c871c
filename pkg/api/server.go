package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/manthysbr/tracegraph/internal/core/services"
)

// Server exposes one graph session to the rendering layer: fetch,
// state snapshot, selection, and selection drill-down.
type Server struct {
	logger  *slog.Logger
	session *services.GraphSession
}

func NewServer(logger *slog.Logger, session *services.GraphSession) *Server {
	return &Server{
		logger:  logger.With("component", "api"),
		session: session,
	}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/graph", s.handleGraph)
	mux.HandleFunc("/api/graph/fetch", s.handleFetch)
	mux.HandleFunc("/api/graph/selection", s.handleSelection)
	mux.HandleFunc("/api/graph/selection/details", s.handleDetails)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGraph returns the current view-state snapshot.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.State())
}

type fetchRequest struct {
	Dataset        *string  `json:"dataset,omitempty"`
	TimeRangeHours *float64 `json:"time_range_hours,omitempty"`
	SampleLimit    *int     `json:"sample_limit,omitempty"`
}

// handleFetch applies any filter updates from the body, then runs one
// fetch. Query failures land in the snapshot's last_error field, so the
// response is 200 either way.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req fetchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Dataset != nil {
		s.session.UpdateDataset(*req.Dataset)
	}
	if req.TimeRangeHours != nil {
		s.session.UpdateTimeRange(*req.TimeRangeHours)
	}
	if req.SampleLimit != nil {
		s.session.UpdateSampleLimit(*req.SampleLimit)
	}

	s.session.FetchGraph(r.Context())
	s.writeJSON(w, http.StatusOK, s.session.State())
}

type selectionRequest struct {
	NodeID   string `json:"node_id,omitempty"`
	SourceID string `json:"source_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
}

// handleSelection sets (POST) or clears (DELETE) the selection. The
// element must exist in the current payload.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		s.session.ClearSelection()
		s.writeJSON(w, http.StatusOK, s.session.State())
	case http.MethodPost:
		var req selectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		state := s.session.State()
		if state.Payload == nil {
			s.writeError(w, http.StatusConflict, "no graph payload fetched yet")
			return
		}
		switch {
		case req.NodeID != "":
			for _, n := range state.Payload.Nodes {
				if n.ID == req.NodeID {
					s.session.SelectNode(n)
					s.writeJSON(w, http.StatusOK, s.session.State())
					return
				}
			}
			s.writeError(w, http.StatusNotFound, "node not in current payload")
		case req.SourceID != "" && req.TargetID != "":
			for _, e := range state.Payload.Edges {
				if e.SourceID == req.SourceID && e.TargetID == req.TargetID {
					s.session.SelectEdge(e)
					s.writeJSON(w, http.StatusOK, s.session.State())
					return
				}
			}
			s.writeError(w, http.StatusNotFound, "edge not in current payload")
		default:
			s.writeError(w, http.StatusBadRequest, "node_id or source_id+target_id required")
		}
	default:
		s.methodNotAllowed(w, r)
	}
}

// handleDetails runs the drill-down query for the current selection.
func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	detail, err := s.session.SelectionDetail(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrNoSelection) {
			s.writeError(w, http.StatusConflict, "no element selected")
			return
		}
		s.logger.Error("detail query failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "detail query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: "+r.Method)
}
