package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct{ up bool }

func (f fakeLink) IsConnected() bool { return f.up }

func TestLiveness(t *testing.T) {
	h := newHarness(t, testConfig(), &stubEngine{}, nil)

	rec := httptest.NewRecorder()
	h.node.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
}

func TestReadiness(t *testing.T) {
	h := newHarness(t, testConfig(), &stubEngine{}, nil)

	get := func() (int, HealthStatus) {
		rec := httptest.NewRecorder()
		h.node.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
		var hs HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
		return rec.Code, hs
	}

	code, hs := get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", hs.Status)
	assert.Equal(t, "UNINITIALIZED", hs.State)

	require.NoError(t, h.node.Configure(context.Background()))
	h.run(context.Background())
	waitState(t, h.node, StateRunning)

	code, hs = get()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", hs.Status)

	h.node.opts.Link = fakeLink{up: false}
	code, hs = get()
	assert.Equal(t, http.StatusOK, code, "degraded is still ready")
	assert.Equal(t, "degraded", hs.Status)
	assert.False(t, hs.MQTTConnected)

	h.node.Stop()
	require.NoError(t, h.wait(t))
}

func TestMetricsAndMux(t *testing.T) {
	h := newHarness(t, testConfig(), &stubEngine{}, nil)
	require.NoError(t, h.node.Configure(context.Background()))

	extra := map[string]http.Handler{
		"/preview": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}
	srv := httptest.NewServer(h.node.HealthMux(extra))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `orion_pose_frames_processed_total{instance="orion-pose"} 0`)
	assert.Contains(t, body, "orion_pose_publish_errors_total")

	resp2, err := http.Get(srv.URL + "/preview")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp2.StatusCode)
}
