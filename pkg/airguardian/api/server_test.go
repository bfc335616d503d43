package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/archive"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/classifier"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/ledger"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/pipeline"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/predictor"
	predictormock "github.com/elevated-systems/air-guardian/pkg/airguardian/predictor/mock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/readings"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/snapshot"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAnalytics struct {
	since time.Time
	err   error
}

func (f *fakeAnalytics) Summary(ctx context.Context, deviceID string, since time.Time) (archive.Summary, error) {
	f.since = since
	if f.err != nil {
		return archive.Summary{}, f.err
	}
	return archive.Summary{
		DeviceID: deviceID,
		Since:    since,
		Count:    3,
		Channels: map[string]archive.ChannelStats{"pm25": {Average: 20, Peak: 40}},
	}, nil
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *clock.MockClock) {
	t.Helper()
	forecaster, err := predictor.NewForecaster(predictormock.New(0), common.WindowSize, time.Second)
	require.NoError(t, err)

	clk := clock.NewMockClock(baseTime)
	orch := pipeline.New(
		readings.NewStore(common.WindowSize),
		forecaster,
		classifier.NewRuleClassifier(),
		snapshot.New(),
		ledger.NewLogger(nil, ledger.WithClock(clk)),
		pipeline.WithClock(clk),
		pipeline.WithAIMode("rules"),
	)

	srv := NewServer(orch, append([]Option{WithClock(clk)}, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, clk
}

func postReading(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/readings", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestPostReading(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postReading(t, ts, `{"device_id":"d1","pm25":15,"co2":450,"co":250,"voc":50}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var res pipeline.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Decision.FanOn)
	require.NotNil(t, res.Decision.OverrideReason)
	assert.Equal(t, common.SafetyOverrideLabel, *res.Decision.OverrideReason)
	assert.True(t, res.Forecast.Degraded)
	require.Len(t, res.Logged, 1)
	assert.True(t, res.Logged[0].Simulated)
}

func TestPostReadingRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"device_id":`},
		{"missing device", `{"pm25":1,"co2":400,"co":1,"voc":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postReading(t, ts, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.NotEmpty(t, e.Error)
		})
	}

	postReading(t, ts, `{"device_id":"d1","timestamp":"2025-03-01T12:00:05Z","pm25":1,"co2":400,"co":1,"voc":1}`)
	resp := postReading(t, ts, `{"device_id":"d1","timestamp":"2025-03-01T12:00:01Z","pm25":1,"co2":400,"co":1,"voc":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "out-of-order readings are rejected")
}

func TestDevicesAndDashboard(t *testing.T) {
	ts, clk := newTestServer(t)

	var devices devicesResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/devices", &devices))
	assert.Empty(t, devices.Devices)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts, "/api/v1/data/kitchen", nil))

	postReading(t, ts, `{"device_id":"kitchen","pm25":90,"co2":450,"co":5,"voc":50}`)
	clk.Advance(30 * time.Second)

	assert.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/devices", &devices))
	assert.Equal(t, []string{"kitchen"}, devices.Devices)
	assert.Equal(t, 1, devices.Count)

	var dash pipeline.Dashboard
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/data/kitchen", &dash))
	assert.Equal(t, "kitchen", dash.DeviceID)
	assert.True(t, dash.ControlStatus.FanOn)
	assert.InDelta(t, 30.0, dash.ControlStatus.AgeSeconds, 0.001)
	assert.Equal(t, "rules", dash.SystemHealth.AIMode)
	assert.Equal(t, common.LedgerStatusSimulated, dash.SystemHealth.Ledger)
	assert.Len(t, dash.RecentLogs, 1)
}

func TestAnalytics(t *testing.T) {
	ts, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotImplemented, getJSON(t, ts, "/api/v1/analytics/d1", nil))

	analytics := &fakeAnalytics{}
	ts, _ = newTestServer(t, WithAnalytics(analytics))

	var summary archive.Summary
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/analytics/d1", &summary))
	assert.Equal(t, 3, summary.Count)
	assert.Equal(t, 40.0, summary.Channels["pm25"].Peak)
	assert.Equal(t, baseTime.Add(-24*time.Hour), analytics.since)

	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/analytics/d1?hours=2", &summary))
	assert.Equal(t, baseTime.Add(-2*time.Hour), analytics.since)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts, "/api/v1/analytics/d1?hours=zero", nil))

	analytics.err = fmt.Errorf("database is locked")
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, ts, "/api/v1/analytics/d1", nil))
}

func TestLedgerLogs(t *testing.T) {
	ts, clk := newTestServer(t)

	for i, device := range []string{"a", "b", "a"} {
		clk.Advance(time.Second)
		body := fmt.Sprintf(`{"device_id":%q,"timestamp":"2025-03-01T12:00:%02dZ","pm25":1,"co2":400,"co":250,"voc":1}`, device, i)
		resp := postReading(t, ts, body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var logs logsResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/ledger/logs", &logs))
	assert.Equal(t, 3, logs.Count)

	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/ledger/logs?limit=1", &logs))
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "a", logs.Logs[0].DeviceID, "newest entry first")

	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/ledger/logs/b", &logs))
	assert.Equal(t, "b", logs.DeviceID)
	assert.Equal(t, 1, logs.Count)

	require.Equal(t, http.StatusOK, getJSON(t, ts, "/api/v1/ledger/logs/nobody", &logs))
	assert.Equal(t, 0, logs.Count)
	assert.NotNil(t, logs.Logs)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts, "/api/v1/ledger/logs?limit=-3", nil))
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	var health healthResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/healthz", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, common.LedgerStatusSimulated, health.Ledger)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ts, _ = newTestServer(t, WithMetrics(false))
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, WithCORSOrigins([]string{"http://dashboard.local"}))

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/readings", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://dashboard.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestIntParam(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", defaultLogLimit, false},
		{"limit=5", 5, false},
		{"limit=5000", maxLogLimit, false},
		{"limit=0", 0, true},
		{"limit=abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/logs?"+tt.query, nil)
			got, err := intParam(req, "limit", defaultLogLimit, maxLogLimit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("intParam() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("intParam() = %d, want %d", got, tt.want)
			}
		})
	}
}
