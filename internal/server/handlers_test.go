package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gameforge/internal/artifact"
	"gameforge/internal/health"
	"gameforge/internal/provider"
	"gameforge/internal/router"
	"gameforge/internal/session"
	"gameforge/internal/store"
)

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, capability provider.Capability, req provider.Request, preferred string) (*provider.Result, error) {
	if capability == provider.CapabilityImage {
		return &provider.Result{ImageRef: "https://img.example/1.png", Provider: "openai-image"}, nil
	}
	return &provider.Result{
		Text:     `{"variants":[{"title":"A"},{"title":"B"},{"title":"C"}]}`,
		Provider: "deepseek",
		Latency:  time.Millisecond,
	}, nil
}

type stubClient struct {
	name       string
	capability provider.Capability
}

func (c stubClient) Name() string                    { return c.name }
func (c stubClient) Capability() provider.Capability { return c.capability }
func (c stubClient) Probe(context.Context) error     { return nil }
func (c stubClient) Close() error                    { return nil }
func (c stubClient) Generate(context.Context, provider.Request) (*provider.Result, error) {
	return &provider.Result{Text: "{}", Provider: c.name}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *health.Monitor) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	manager, err := session.NewManager(st, stubGenerator{}, nil, artifact.NewMemoryStore(), nil)
	require.NoError(t, err)

	bus := health.NewBus(8)
	monitor := health.NewMonitor(health.DefaultThresholds(), false, bus, nil)
	monitor.Register("deepseek", provider.CapabilityText, true)
	monitor.Register("claude", provider.CapabilityText, true)

	rt := router.New(router.DefaultConfig(), monitor, []provider.Client{
		stubClient{name: "deepseek", capability: provider.CapabilityText},
		stubClient{name: "claude", capability: provider.CapabilityText},
	}, nil)

	mux := NewMux(
		NewSessionHandler(manager, nil),
		NewHealthHandler(monitor, rt, nil),
		NewStreamHandler(bus, nil),
	)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, monitor
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
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

func TestStartEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/interactive/start", map[string]string{
		"title":       "Dungeon Run",
		"description": "A crawler",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	view := decode[session.View](t, resp)
	require.NotEmpty(t, view.GameID)
	require.NotNil(t, view.Step)
	require.Len(t, view.Step.Variants, 3)
}

func TestStartEndpointRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/interactive/start", map[string]string{"title": ""})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSelectAndStateEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	view := decode[session.View](t, postJSON(t, srv.URL+"/interactive/start", map[string]string{
		"title": "Dungeon Run", "description": "A crawler",
	}))

	selectURL := fmt.Sprintf("%s/interactive/%s/step/%s/select", srv.URL, view.GameID, view.Step.StepID)
	resp := postJSON(t, selectURL, map[string]string{"variantId": view.Step.Variants[0].ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[session.SelectResult](t, resp)
	require.NotNil(t, result.NextStep)

	// Repeating the same selection replays the committed response.
	resp = postJSON(t, selectURL, map[string]string{"variantId": view.Step.Variants[0].ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// A different variant after commit conflicts.
	resp = postJSON(t, selectURL, map[string]string{"variantId": view.Step.Variants[1].ID})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Missing variantId is a 400.
	resp = postJSON(t, selectURL, map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	stateResp, err := http.Get(fmt.Sprintf("%s/interactive/%s/state", srv.URL, view.GameID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, stateResp.StatusCode)
	state := decode[session.View](t, stateResp)
	require.Equal(t, 1, state.CurrentStep)
}

func TestStateEndpointUnknownGame(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/interactive/nope/state")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	srv, monitor := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health/report")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[health.Report](t, resp)
	require.Len(t, report.Services, 2)

	resp, err = http.Get(srv.URL + "/health/service/deepseek")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[health.Record](t, resp)
	require.Equal(t, "deepseek", rec.Name)

	resp, err = http.Get(srv.URL + "/health/service/unknown")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Open an alert, list it, resolve it.
	for i := 0; i < 3; i++ {
		monitor.RecordOutcome("claude", false, time.Millisecond, 0)
	}
	resp, err = http.Get(srv.URL + "/health/alerts")
	require.NoError(t, err)
	alerts := decode[map[string][]health.Alert](t, resp)
	require.Len(t, alerts["alerts"], 1)

	id := alerts["alerts"][0].ID
	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/health/alerts/"+id+"/resolve", nil)
	require.NoError(t, err)
	patchResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, patchResp.StatusCode)
	patchResp.Body.Close()
}

func TestFailoverEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/health/failover/claude", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/health/failover/unknown", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/health/failover?capability=text", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, delResp.StatusCode)
	delResp.Body.Close()
}

func TestStatsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[router.Stats](t, resp)
	require.GreaterOrEqual(t, stats.Requests, int64(0))

	resetResp := postJSON(t, srv.URL+"/health/stats/reset", nil)
	require.Equal(t, http.StatusOK, resetResp.StatusCode)
	resetResp.Body.Close()
}
