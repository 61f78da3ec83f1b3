package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angleyanalbedo/generatestcode/internal/bus"
	"github.com/angleyanalbedo/generatestcode/internal/metrics"
)

func newRouter(t *testing.T) (http.Handler, *bus.Bus) {
	t.Helper()
	prom := metrics.NewProm()
	c := metrics.NewCollector("run-9", prom)
	b := bus.NewBus()
	c.Attach(b)

	e := bus.NewEvent(bus.EventRecordWritten)
	e.Stream = "sft"
	require.NoError(t, b.Publish(e))
	require.NoError(t, b.Publish(bus.NewEvent(bus.EventTaskStarted)))
	require.NoError(t, b.Close())

	return SetupRouter(NewStatusHandler(c, b), prom.Registry), b
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	h, _ := newRouter(t)
	w := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRun(t *testing.T) {
	h, _ := newRouter(t)
	w := get(t, h, "/api/run")
	require.Equal(t, http.StatusOK, w.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-9", resp.Run.RunID)
	assert.Equal(t, 1, resp.Run.Records["sft"])
	assert.Equal(t, 1, resp.Run.InFlight)
}

func TestEvents(t *testing.T) {
	h, _ := newRouter(t)

	w := get(t, h, "/api/events?n=1")
	require.Equal(t, http.StatusOK, w.Code)
	var resp EventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, bus.EventTaskStarted, resp.Events[0].Type)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/events?n=x").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newRouter(t)
	w := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `stdistill_records_total{stream="sft"} 1`)
	assert.Contains(t, w.Body.String(), "stdistill_inflight_tasks 1")
}

func TestServer_StartShutdown(t *testing.T) {
	h, _ := newRouter(t)
	s := New(Config{Addr: "127.0.0.1:0"}, h, zerolog.Nop())
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	require.NoError(t, s.Shutdown(context.Background()))
}
