package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/effort-engine/api"
	"github.com/meridian/effort-engine/effort"
	"github.com/meridian/effort-engine/effort/store"
)

// newTestServer wires the full router over the in-memory store.
func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	runner := api.NewRunner(mem, "Madrid")
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(mem, runner)))
	t.Cleanup(srv.Close)
	return srv, mem
}

func post(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAPI_FullAllocationFlow(t *testing.T) {
	// Drives the whole lifecycle over HTTP: master data in, capacity job,
	// liquidation submitted, allocation job, shares out, cancellation.

	srv, mem := newTestServer(t)

	resp := post(t, srv, "/api/persons", map[string]string{"id": "p1", "name": "Ada"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/persons/p1/dedications", map[string]any{
		"id":                 "ded-1",
		"start":              "2026-01-01",
		"end":                "2026-12-31",
		"reduction_fraction": 0,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/projects", map[string]string{
		"code":  "PRJ00100",
		"name":  "Orbital Survey",
		"start": "2026-01-01",
		"end":   "2026-12-31",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/jobs", map[string]any{
		"process":   "capacity",
		"person_id": "p1",
		"year":      2026,
		"month":     3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, srv, "/api/persons/p1/ceiling?month=2026-03")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ceiling := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), ceiling["value"])

	resp = post(t, srv, "/api/liquidations", map[string]any{
		"id":          "liq-1",
		"person_id":   "p1",
		"project1":    "PRJ00100",
		"dedication1": 100,
		"start":       "2026-03-10",
		"end":         "2026-03-12",
		"destiny":     "Lisbon",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/jobs", map[string]any{"process": "allocate", "year": 2026, "month": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, srv, "/api/persons/p1/shares?month=2026-03")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	shares := decode[[]map[string]any](t, resp)
	require.Len(t, shares, 1)
	assert.Equal(t, effort.TravelsWorkPackageName, shares[0]["work_package"])
	assert.Greater(t, shares[0]["value"], float64(0))

	resp = get(t, srv, "/api/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]map[string]any](t, resp)
	assert.GreaterOrEqual(t, len(runs), 2)

	resp = post(t, srv, "/api/liquidations/liq-1/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, srv, "/api/liquidations/liq-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	liq := decode[map[string]any](t, resp)
	assert.Equal(t, float64(effort.LiquidationCancelled), liq["status"])

	// The cancellation went through the runner, so it left a run record.
	stored, err := mem.Runs(context.Background(), 10)
	require.NoError(t, err)
	processes := make([]string, len(stored))
	for i, r := range stored {
		processes[i] = r.Process
	}
	assert.Contains(t, processes, "cancel")
}

func TestAPI_PendingMonthsFeed(t *testing.T) {
	// GIVEN: An affiliation allowing 8h/day all year and 100 declared hours
	//        in March 2026 (176 workable)
	// WHEN: Reading the pending-months feed
	// THEN: Every month of the year is short; March reports the declared part

	srv, _ := newTestServer(t)

	resp := post(t, srv, "/api/persons", map[string]string{"id": "p1", "name": "Ada"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/persons/p1/affiliations", map[string]any{
		"id":             "aff-1",
		"line_id":        "1",
		"start":          "2026-01-01",
		"end":            "2026-12-31",
		"affiliation_id": "UNIV",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/affiliation-hours", map[string]any{
		"affiliation_id": "UNIV",
		"start":          "2026-01-01",
		"end":            "2026-12-31",
		"hours_per_day":  8,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/persons/p1/timesheet", map[string]any{
		"day":   "2026-03-10",
		"hours": 100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, srv, "/api/persons/p1/pending-months?year=2026")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	feed := decode[[]map[string]any](t, resp)
	require.Len(t, feed, 12)

	var march map[string]any
	for _, entry := range feed {
		if entry["month"] == "2026-03" {
			march = entry
		}
	}
	require.NotNil(t, march)
	assert.Equal(t, float64(100), march["declared_hours"])
	assert.Equal(t, float64(176), march["required_hours"])
}

func TestAPI_ValidationAndNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := get(t, srv, "/api/persons/p1/ceiling?month=March")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, srv, "/api/persons/p1/ceiling?month=2026-03")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = get(t, srv, "/api/liquidations/ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/liquidations", map[string]any{
		"id":          "liq-bad",
		"person_id":   "p1",
		"project1":    "PRJ00100",
		"dedication1": 150,
		"start":       "2026-03-10",
		"end":         "2026-03-12",
		"destiny":     "Lisbon",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/liquidations", map[string]any{
		"id":          "liq-bad",
		"person_id":   "p1",
		"project1":    "PRJ00100",
		"dedication1": 100,
		"start":       "2026-03-12",
		"end":         "2026-03-10",
		"destiny":     "Lisbon",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/jobs", map[string]any{"process": "mystery"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_CancelUnexpandedLiquidation_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv, "/api/liquidations", map[string]any{
		"id":          "liq-1",
		"person_id":   "p1",
		"project1":    "PRJ00100",
		"dedication1": 100,
		"start":       "2026-03-10",
		"end":         "2026-03-12",
		"destiny":     "Lisbon",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/liquidations/liq-1/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
