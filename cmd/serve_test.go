package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/maps-scraper/internal/model"
)

type fakeStatus struct {
	progress  map[string]*model.Progress
	events    map[string][]model.Event
	err       error
	lastLimit int
}

func (f *fakeStatus) GetProgress(_ context.Context, runKey string) (*model.Progress, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.progress[runKey], nil
}

func (f *fakeStatus) ListEvents(_ context.Context, runKey string, limit int) ([]model.Event, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.events[runKey], nil
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{
		progress: map[string]*model.Progress{
			"run-1": {RunKey: "run-1", Status: model.RunStatusRunning, CurrentAction: model.ActionExtracted},
		},
		events: map[string][]model.Event{
			"run-1": {
				{ID: "e1", RunKey: "run-1", Level: model.LevelInfo, Type: model.EventInit, Message: "Scraper starting"},
				{ID: "e2", RunKey: "run-1", Level: model.LevelInfo, Type: model.EventQueue, Message: "Loaded 2 searches"},
			},
		},
	}
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	rec := doGet(t, newRouter(newFakeStatus(), nil), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_Progress(t *testing.T) {
	rec := doGet(t, newRouter(newFakeStatus(), nil), "/runs/run-1/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var p model.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "run-1", p.RunKey)
	assert.Equal(t, model.RunStatusRunning, p.Status)
	assert.Equal(t, model.ActionExtracted, p.CurrentAction)
}

func TestRouter_ProgressNotFound(t *testing.T) {
	rec := doGet(t, newRouter(newFakeStatus(), nil), "/runs/missing/progress")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "run not found")
}

func TestRouter_ProgressStoreError(t *testing.T) {
	st := newFakeStatus()
	st.err = errors.New("connection reset")

	rec := doGet(t, newRouter(st, nil), "/runs/run-1/progress")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestRouter_Events(t *testing.T) {
	st := newFakeStatus()
	rec := doGet(t, newRouter(st, nil), "/runs/run-1/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var events []model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, model.EventInit, events[0].Type)
	assert.Equal(t, defaultEventLimit, st.lastLimit)
}

func TestRouter_EventsLimit(t *testing.T) {
	st := newFakeStatus()

	rec := doGet(t, newRouter(st, nil), "/runs/run-1/events?limit=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, st.lastLimit)

	rec = doGet(t, newRouter(st, nil), "/runs/run-1/events?limit=100000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxEventLimit, st.lastLimit)
}

func TestRouter_EventsBadLimit(t *testing.T) {
	for _, q := range []string{"abc", "0", "-3"} {
		rec := doGet(t, newRouter(newFakeStatus(), nil), "/runs/run-1/events?limit="+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", q)
	}
}

func TestRouter_EventsEmptyIsArray(t *testing.T) {
	rec := doGet(t, newRouter(newFakeStatus(), nil), "/runs/other/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRouter_CORS(t *testing.T) {
	h := newRouter(newFakeStatus(), []string{"https://dashboard.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeUntilDone_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: newRouter(newFakeStatus(), nil)}

	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, srv) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
