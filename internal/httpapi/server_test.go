package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/obs"
)

type fixedState service.State

func (s fixedState) State() service.State { return service.State(s) }

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, state service.State, ping error) (*httptest.Server, *obs.Metrics) {
	t.Helper()

	m := obs.NewMetrics(prometheus.NewRegistry())
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  obs.Discard(),
		Addr:    ":0",
		Loop:    fixedState(state),
		DB:      pingFunc(func(context.Context) error { return ping }),
		Metrics: m.Handler(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func getHealth(t *testing.T, ts *httptest.Server) (int, map[string]string) {
	t.Helper()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, body
}

// ── Health ───────────────────────────────────────────────────────────────────

func TestHealth_ConnectedAndDBUp_OK(t *testing.T) {
	ts, _ := newTestServer(t, service.StateConnectedIdle, nil)

	code, body := getHealth(t, ts)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" || body["loop_state"] != "connected_idle" || body["database"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHealth_Processing_OK(t *testing.T) {
	ts, _ := newTestServer(t, service.StateProcessing, nil)

	if code, _ := getHealth(t, ts); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestHealth_Disconnected_Unavailable(t *testing.T) {
	ts, _ := newTestServer(t, service.StateDisconnected, nil)

	code, body := getHealth(t, ts)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if body["status"] != "degraded" || body["loop_state"] != "disconnected" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHealth_DBDown_Unavailable(t *testing.T) {
	ts, _ := newTestServer(t, service.StateConnectedIdle, errors.New("database is locked"))

	code, body := getHealth(t, ts)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if body["database"] != "unreachable" {
		t.Errorf("database = %q", body["database"])
	}
}

// ── Metrics ──────────────────────────────────────────────────────────────────

func TestMetrics_Exposed(t *testing.T) {
	ts, m := newTestServer(t, service.StateConnectedIdle, nil)
	m.UnknownCards.Inc()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "gatekeeper_unknown_credentials_total 1") {
		t.Errorf("metrics body missing counter:\n%s", raw)
	}
}

func TestUnknownRoute_NotFound(t *testing.T) {
	ts, _ := newTestServer(t, service.StateConnectedIdle, nil)

	resp, err := http.Post(ts.URL+"/v1/access_request", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 404/405, got %d", resp.StatusCode)
	}
}
