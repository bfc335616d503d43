package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestLocalHashCanonicalForm(t *testing.T) {
	event := Event{
		ID:        "ignored",
		EventType: "decision",
		Timestamp: testTime,
		DeviceID:  "d1",
		Data:      map[string]interface{}{"b": "x", "a": 1},
	}

	canonical := `{"data":{"a":1,"b":"x"},"device_id":"d1","event_type":"decision","timestamp":"2024-05-01T12:00:00Z"}`
	sum := sha256.Sum256([]byte(canonical))
	want := "0x" + hex.EncodeToString(sum[:])

	got := LocalHash(event)
	assert.Equal(t, want, got)
	assert.Len(t, got, 66)

	event.ID = "another id"
	assert.Equal(t, got, LocalHash(event), "hash must not depend on the event id")

	event.Timestamp = testTime.In(time.FixedZone("CEST", 2*3600))
	assert.Equal(t, got, LocalHash(event), "hash must normalize to UTC")

	event.Data["a"] = 2
	assert.NotEqual(t, got, LocalHash(event))
}

func TestJournal(t *testing.T) {
	j := NewJournal(3)
	assert.Equal(t, 0, j.Count())
	assert.Empty(t, j.Recent(10))

	for i := 0; i < 5; i++ {
		device := "a"
		if i%2 == 1 {
			device = "b"
		}
		j.Add(Entry{ID: fmt.Sprint(i), DeviceID: device})
	}

	assert.Equal(t, 3, j.Count())

	ids := func(entries []Entry) []string {
		out := []string{}
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Equal(t, []string{"4", "3", "2"}, ids(j.Recent(0)))
	assert.Equal(t, []string{"4", "3"}, ids(j.Recent(2)))
	assert.Equal(t, []string{"4", "2"}, ids(j.ByDevice("a", 10)))
	assert.Equal(t, []string{"4"}, ids(j.ByDevice("a", 1)))
	assert.Equal(t, []string{"3"}, ids(j.ByDevice("b", 10)))
	assert.Empty(t, j.ByDevice("c", 10))
}

func TestHTTPClientAppend(t *testing.T) {
	var got Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"transaction_id":"0xabc"}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL+"/", time.Second, WithAPIKey("secret"))
	txID, err := c.Append(context.Background(), Event{ID: "e1", EventType: "fault", DeviceID: "d1", Timestamp: testTime})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", txID)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, "fault", got.EventType)
}

func TestHTTPClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"unavailable", http.StatusServiceUnavailable, "", "ledger unavailable"},
		{"server error", http.StatusInternalServerError, "", "unexpected status code: 500"},
		{"bad body", http.StatusOK, "nope", "failed to decode response"},
		{"empty tx", http.StatusOK, `{"transaction_id":""}`, "empty transaction id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPClient(server.URL, time.Second).Append(context.Background(), Event{ID: "e1"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaClientAppend(t *testing.T) {
	w := &fakeWriter{}
	c := newKafkaClient(w, "air-ledger")

	txID, err := c.Append(context.Background(), Event{ID: "e1", EventType: "decision", DeviceID: "esp32-7", Timestamp: testTime})
	require.NoError(t, err)
	assert.Equal(t, "kafka:air-ledger:e1", txID)

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "esp32-7", string(msg.Key))
	assert.Equal(t, testTime, msg.Time)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "decision", decoded.EventType)

	require.NoError(t, c.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaClientValidation(t *testing.T) {
	_, err := NewKafkaClient(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaClient(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

type stubClient struct {
	txID  string
	err   error
	block chan struct{}
	calls int
	mu    sync.Mutex
}

func (s *stubClient) Append(ctx context.Context, event Event) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	return s.txID, s.err
}

func testDecision() (types.Decision, types.Forecast) {
	return types.Decision{
			FanOn:          true,
			FanIntensity:   types.FanMax,
			Reasoning:      "CRITICAL: High Smoke/CO levels detected.",
			OverrideReason: ptr.To(common.SafetyOverrideLabel),
		},
		types.Forecast{PointEstimate: 512, WillPeak: true, Confidence: 0.95}
}

func TestLoggerSimulatedMode(t *testing.T) {
	clk := clock.NewMockClock(testTime)
	l := NewLogger(nil, WithClock(clk))
	d, f := testDecision()

	entry := l.LogDecision(context.Background(), "d1", d, f)

	assert.True(t, entry.Simulated)
	assert.True(t, strings.HasPrefix(entry.Hash, "0x"))
	assert.Equal(t, testTime, entry.Timestamp)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, common.LedgerStatusSimulated, l.Status())
	assert.Equal(t, 100, entry.Data["fan_intensity"])
	assert.Equal(t, common.SafetyOverrideLabel, entry.Data["override_reason"])
	assert.Equal(t, 512.0, entry.Data["predicted_smoke_peak"])
	assert.Equal(t, 0.95, entry.Data["prediction_confidence"])

	expected := LocalHash(Event{EventType: entry.EventType, Timestamp: entry.Timestamp, DeviceID: "d1", Data: entry.Data})
	assert.Equal(t, expected, entry.Hash)
	assert.Equal(t, 1, l.Journal().Count())
}

func TestLoggerCommitted(t *testing.T) {
	client := &stubClient{txID: "0xfeed"}
	l := NewLogger(client)
	d, f := testDecision()

	entry := l.LogDecision(context.Background(), "d1", d, f)
	assert.False(t, entry.Simulated)
	assert.Equal(t, "0xfeed", entry.Hash)
	assert.Equal(t, common.LedgerStatusConnected, l.Status())
}

func TestLoggerFallbackOnError(t *testing.T) {
	client := &stubClient{err: fmt.Errorf("gateway down")}
	l := NewLogger(client)

	entry := l.LogFault(context.Background(), "d1", types.Fault{
		Type:           types.FaultStuckSensor,
		AffectedSensor: "pm25",
		Severity:       "medium",
		HealingAction:  "ignore_sensor",
		IgnoredSensors: []string{"pm25"},
	})

	assert.True(t, entry.Simulated)
	assert.True(t, strings.HasPrefix(entry.Hash, "0x"))
	assert.Equal(t, common.EventTypeFault, entry.EventType)
	assert.Equal(t, "stuck_sensor", entry.Data["fault_type"])
	assert.Equal(t, common.LedgerStatusSimulated, l.Status())

	client.err = nil
	client.txID = "0x1"
	l.LogFault(context.Background(), "d1", types.Fault{Type: types.FaultSpike})
	assert.Equal(t, common.LedgerStatusConnected, l.Status())
}

func TestLoggerTimeout(t *testing.T) {
	client := &stubClient{block: make(chan struct{})}
	defer close(client.block)

	l := NewLogger(client, WithTimeout(20*time.Millisecond))
	d, f := testDecision()

	start := time.Now()
	entry := l.LogDecision(context.Background(), "d1", d, f)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, entry.Simulated)
	assert.True(t, strings.HasPrefix(entry.Hash, "0x"))
}
