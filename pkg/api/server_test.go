package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/tracegraph/internal/core/domain"
	"github.com/manthysbr/tracegraph/internal/core/services"
)

// scriptedStore serves canned JSON per query shape, so the tests drive
// the real planner/engine/session stack without a database.
type scriptedStore struct {
	mu        sync.Mutex
	graphJSON string
	err       error
}

func (s *scriptedStore) QueryJSON(ctx context.Context, query string, args ...any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if strings.Contains(query, "'top_errors'") {
		return `{"latency":{"p50":120,"p90":300,"p99":950,"max_val":1000},"top_errors":["boom"]}`, nil
	}
	return s.graphJSON, nil
}

func (s *scriptedStore) set(graphJSON string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphJSON = graphJSON
	s.err = err
}

const graphFixture = `{
	"nodes": [
		{"id":"orchestrator","type":"agent","is_root":true,"is_user_entry_point":true,"tool_calls":4},
		{"id":"search-tool","type":"tool","executions":4,"is_leaf":true}
	],
	"edges": [
		{"source_id":"orchestrator","source_type":"agent","target_id":"search-tool","target_type":"tool","call_count":4}
	]
}`

// viewState mirrors the snapshot JSON; selection stays raw because the
// wire shape depends on the selected variant.
type viewState struct {
	Payload        *domain.GraphPayload `json:"payload"`
	Loading        bool                 `json:"loading"`
	LastError      string               `json:"last_error"`
	Selection      json.RawMessage      `json:"selection"`
	Dataset        string               `json:"dataset"`
	TimeRangeHours float64              `json:"time_range_hours"`
	SampleLimit    int                  `json:"sample_limit"`
}

func newTestServer(t *testing.T) (*httptest.Server, *scriptedStore) {
	t.Helper()
	store := &scriptedStore{graphJSON: graphFixture}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := services.NewGraphEngine(logger, store, services.NewPlanner(1, nil))
	session := services.NewGraphSession(logger, engine, "default", 6)
	ts := httptest.NewServer(NewServer(logger, session).Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeState(t *testing.T, resp *http.Response) viewState {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	var state viewState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	return state
}

func TestServer_Health(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestServer_GraphSnapshotBeforeFetch(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/graph")
	require.NoError(t, err)
	state := decodeState(t, resp)
	assert.Nil(t, state.Payload)
	assert.Equal(t, "default", state.Dataset)
	assert.InDelta(t, 6.0, state.TimeRangeHours, 1e-9)
}

func TestServer_FetchAppliesFiltersAndReturnsPayload(t *testing.T) {
	ts, _ := newTestServer(t)

	dataset := "prod"
	hours := 0.5
	limit := 25
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/graph/fetch", map[string]any{
		"dataset":          dataset,
		"time_range_hours": hours,
		"sample_limit":     limit,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	state := decodeState(t, resp)
	require.NotNil(t, state.Payload)
	assert.Len(t, state.Payload.Nodes, 2)
	assert.Len(t, state.Payload.Edges, 1)
	assert.Equal(t, "prod", state.Dataset)
	assert.InDelta(t, 0.5, state.TimeRangeHours, 1e-9)
	assert.Equal(t, 25, state.SampleLimit)
	assert.Empty(t, state.LastError)
	assert.False(t, state.Loading)
}

func TestServer_FetchWithEmptyBody(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/graph/fetch", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeState(t, resp)
	require.NotNil(t, state.Payload)
	assert.Equal(t, "default", state.Dataset)
}

func TestServer_FetchFailureStillReturnsOK(t *testing.T) {
	ts, store := newTestServer(t)

	// Seed a good payload first.
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/graph/fetch", nil)
	require.NotNil(t, decodeState(t, resp).Payload)

	store.set("", errors.New("store unreachable"))
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/graph/fetch", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	state := decodeState(t, resp)
	assert.Contains(t, state.LastError, "store unreachable")
	// Last good payload survives the failed refresh.
	require.NotNil(t, state.Payload)
	assert.Len(t, state.Payload.Nodes, 2)
}

func TestServer_FetchRejectsMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/graph/fetch", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SelectionRequiresPayload(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/graph/selection",
		map[string]string{"node_id": "orchestrator"})
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_SelectNodeAndEdge(t *testing.T) {
	ts, _ := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/api/graph/fetch", nil).Body.Close() //nolint:errcheck

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/graph/selection",
		map[string]string{"node_id": "search-tool"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeState(t, resp)
	assert.Contains(t, string(state.Selection), `"search-tool"`)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/graph/selection",
		map[string]string{"source_id": "orchestrator", "target_id": "search-tool"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	state = decodeState(t, resp)
	assert.Contains(t, string(state.Selection), `"edge"`)
}

func TestServer_SelectUnknownElement(t *testing.T) {
	ts, _ := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/api/graph/fetch", nil).Body.Close() //nolint:errcheck

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/graph/selection",
		map[string]string{"node_id": "ghost"})
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/graph/selection",
		map[string]string{"source_id": "ghost", "target_id": "search-tool"})
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_SelectionWithNoIdentifiers(t *testing.T) {
	ts, _ := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/api/graph/fetch", nil).Body.Close() //nolint:errcheck

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/graph/selection", map[string]string{})
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ClearSelection(t *testing.T) {
	ts, _ := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/api/graph/fetch", nil).Body.Close() //nolint:errcheck
	doJSON(t, http.MethodPost, ts.URL+"/api/graph/selection",
		map[string]string{"node_id": "search-tool"}).Body.Close() //nolint:errcheck

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/graph/selection", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeState(t, resp)
	assert.Empty(t, state.Selection)
}

func TestServer_DetailsRequireSelection(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/graph/selection/details")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_Details(t *testing.T) {
	ts, _ := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/api/graph/fetch", nil).Body.Close() //nolint:errcheck
	doJSON(t, http.MethodPost, ts.URL+"/api/graph/selection",
		map[string]string{"node_id": "search-tool"}).Body.Close() //nolint:errcheck

	resp, err := http.Get(ts.URL + "/api/graph/selection/details")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var detail domain.ElementDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
	assert.InDelta(t, 1000, detail.Latency.MaxVal, 1e-9)
	assert.Equal(t, []string{"boom"}, detail.TopErrors)
}

func TestServer_DetailsQueryFailure(t *testing.T) {
	ts, store := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/api/graph/fetch", nil).Body.Close() //nolint:errcheck
	doJSON(t, http.MethodPost, ts.URL+"/api/graph/selection",
		map[string]string{"node_id": "search-tool"}).Body.Close() //nolint:errcheck

	store.set("", errors.New("store unreachable"))
	resp, err := http.Get(ts.URL + "/api/graph/selection/details")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/graph/fetch")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/graph", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
