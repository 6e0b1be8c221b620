package main

import (
	"encoding/json"
	"image/png"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httpServer, *StateStore, *atomic.Bool) {
	t.Helper()
	log := zap.NewNop()
	clk := &fakeClock{now: 1}
	store := NewStateStore()
	notes := newNotificationFeed(4)
	history := newTelemetryHistory()
	queue := NewEventQueue(log, 16)
	nav := NewNavigationController(log, ScreenDashboard, 16, 0, clk.fn())
	comp := NewCompositor(log, &recordingDriver{}, EPD_WIDTH, EPD_HEIGHT, 30, 150000, clk.fn())
	invalidate := atomic.NewBool(false)
	return newHTTPServer(log, ":0", comp, nav, queue, store, history, notes, invalidate), store, invalidate
}

func TestHTTPFramePNG(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp, err := s.app.Test(httptest.NewRequest("GET", "/frame.png", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, EPD_WIDTH, img.Bounds().Dx())
	assert.Equal(t, EPD_HEIGHT, img.Bounds().Dy())
}

func TestHTTPStatus(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp, err := s.app.Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "dashboard", body["screen"])
	assert.Equal(t, float64(1), body["stack_depth"])
	assert.Equal(t, float64(16), body["queue_cap"])
	assert.Equal(t, true, body["needs_full"])
}

func TestHTTPDataUpdateSetsInvalidateFlag(t *testing.T) {
	s, store, invalidate := newTestServer(t)

	req := httptest.NewRequest("POST", "/data", strings.NewReader(`{"thermostat_temp":"21.5"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "21.5", store.Get("thermostat_temp"))
	assert.True(t, invalidate.Load())
}

func TestHTTPDataRejectsBadJSON(t *testing.T) {
	s, _, invalidate := newTestServer(t)

	req := httptest.NewRequest("POST", "/data", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 400, resp.StatusCode)
	assert.False(t, invalidate.Load())
}

func TestHTTPNotify(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/notify", strings.NewReader(`{"message":"bridge rebooted"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 1, s.notes.Count())

	req = httptest.NewRequest("POST", "/notify", strings.NewReader(`{"message":""}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}

func TestHTTPGraphSVG(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.history.Add(80)
	s.history.Add(72)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/graph.svg", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
}
