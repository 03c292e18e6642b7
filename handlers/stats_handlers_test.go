package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mabletask/agent/middleware"
	"mabletask/agent/models"
	"mabletask/agent/store"
	"mabletask/agent/transport"
)

type fakeLedger struct {
	orgID    string
	interval string
	filter   string
	start    time.Time
	end      time.Time
	limit    uint64
	counts   []store.EventTypeCountByTime
	paths    []models.TopPathResult
	err      error
}

func (f *fakeLedger) GetEventCountsOverTime(_ context.Context, orgID, interval string, start, end time.Time, filter string) ([]store.EventTypeCountByTime, error) {
	f.orgID, f.interval, f.filter, f.start, f.end = orgID, interval, filter, start, end
	return f.counts, f.err
}

func (f *fakeLedger) GetTopPagePaths(_ context.Context, orgID string, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	f.orgID, f.start, f.end, f.limit = orgID, start, end, limit
	return f.paths, f.err
}

func (b *bridge) stats(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(transport.APIKeyHeader, "key-1")
	req.Header.Set(middleware.OrgHeader, "org-1")
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	return w
}

func TestEventCounts(t *testing.T) {
	pageView := "page_view"
	ledger := &fakeLedger{counts: []store.EventTypeCountByTime{
		{Time: t0, EventType: &pageView, Count: 4},
	}}
	b := newBridge(t, ledger)

	w := b.stats("/api/stats/event-counts?interval=Day&eventType=page_view&start=2026-02-01T00:00:00Z&end=2026-03-01T00:00:00Z")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[{"time":"2026-03-01T12:00:00Z","eventType":"page_view","count":4}]`, w.Body.String())
	assert.Equal(t, "org-1", ledger.orgID)
	assert.Equal(t, "Day", ledger.interval)
	assert.Equal(t, "page_view", ledger.filter)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), ledger.start)
}

func TestEventCounts_RejectsBadParams(t *testing.T) {
	b := newBridge(t, &fakeLedger{})

	assert.Equal(t, http.StatusBadRequest, b.stats("/api/stats/event-counts").Code)
	assert.Equal(t, http.StatusBadRequest, b.stats("/api/stats/event-counts?interval=Fortnight").Code)
	assert.Equal(t, http.StatusBadRequest, b.stats("/api/stats/event-counts?interval=Day&start=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest,
		b.stats("/api/stats/event-counts?interval=Day&start=2026-03-02T00:00:00Z&end=2026-03-01T00:00:00Z").Code)
}

func TestEventCounts_Unauthorized(t *testing.T) {
	b := newBridge(t, &fakeLedger{})
	w := b.do(http.MethodGet, "/api/stats/event-counts?interval=Day", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTopPaths(t *testing.T) {
	ledger := &fakeLedger{}
	b := newBridge(t, ledger)

	w := b.stats("/api/stats/top-paths")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, uint64(10), ledger.limit)
	assert.Equal(t, 7*24*time.Hour, ledger.end.Sub(ledger.start))

	w = b.stats("/api/stats/top-paths?limit=3")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(3), ledger.limit)

	assert.Equal(t, http.StatusBadRequest, b.stats("/api/stats/top-paths?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, b.stats("/api/stats/top-paths?limit=-1").Code)
}

func TestStats_LedgerError(t *testing.T) {
	b := newBridge(t, &fakeLedger{err: errors.New("clickhouse down")})
	assert.Equal(t, http.StatusInternalServerError, b.stats("/api/stats/top-paths").Code)
	assert.Equal(t, http.StatusInternalServerError, b.stats("/api/stats/event-counts?interval=Hour").Code)
}

func TestStats_DisabledWithoutLedger(t *testing.T) {
	b := newBridge(t, nil)
	assert.Equal(t, http.StatusNotFound, b.stats("/api/stats/top-paths").Code)
}
