package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	published    []published
	publishToken paho.Token
	subscribed   string
	callback     paho.MessageHandler
	unsubscribed []string
	subscribeErr error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if c.publishToken != nil {
		return c.publishToken
	}
	return completedToken(nil)
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.subscribed = topic
	c.callback = callback
	return completedToken(c.subscribeErr)
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.unsubscribed = append(c.unsubscribed, topics...)
	return completedToken(nil)
}

func TestDecodeReading(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		payload    string
		wantDevice string
		wantTime   time.Time
		wantErr    bool
	}{
		{
			name:       "device from payload",
			topic:      "sensors/ignored/readings",
			payload:    `{"device_id":"esp32-1","timestamp":"2025-03-01T11:59:00Z","pm25":12,"co2":420,"co":3,"voc":40}`,
			wantDevice: "esp32-1",
			wantTime:   now.Add(-time.Minute),
		},
		{
			name:       "device from topic",
			topic:      "sensors/kitchen/readings",
			payload:    `{"pm25":12,"co2":420,"co":3,"voc":40,"mq2_raw":300}`,
			wantDevice: "kitchen",
			wantTime:   now,
		},
		{
			name:    "no device anywhere",
			topic:   "sensors",
			payload: `{"pm25":12}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			topic:   "sensors/kitchen/readings",
			payload: `{"pm25":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeReading(common.DefaultReadingTopic, tt.topic, []byte(tt.payload), now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDevice, r.DeviceID)
			assert.True(t, tt.wantTime.Equal(r.Timestamp), "timestamp %v", r.Timestamp)
		})
	}
}

func TestDecodeReadingOptionalChannels(t *testing.T) {
	r, err := DecodeReading(common.DefaultReadingTopic, "sensors/kitchen/readings",
		[]byte(`{"pm25":1,"co2":400,"co":1,"voc":1,"mq2_raw":512,"humidity":40}`), now)
	require.NoError(t, err)
	require.NotNil(t, r.MQ2Raw)
	assert.Equal(t, 512.0, *r.MQ2Raw)
	assert.Nil(t, r.Temperature)
	assert.Equal(t, 40.0, *r.Humidity)
}

func TestFormatTopic(t *testing.T) {
	assert.Equal(t, "devices/esp32-1/fan", FormatTopic(common.DefaultCommandTopic, "esp32-1"))
	assert.Equal(t, "static/topic", FormatTopic("static/topic", "esp32-1"))
}

func TestPublishDecision(t *testing.T) {
	client := &fakeClient{}
	pub := NewPublisher(client, "", 1, clock.NewMockClock(now))

	d := types.Decision{FanOn: true, FanIntensity: types.FanHigh, Reasoning: "PM2.5 elevated"}
	require.NoError(t, pub.PublishDecision(context.Background(), "esp32-1", d))

	require.Len(t, client.published, 1)
	msg := client.published[0]
	assert.Equal(t, "devices/esp32-1/fan", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var cmd FanCommand
	require.NoError(t, json.Unmarshal(msg.payload, &cmd))
	assert.True(t, cmd.FanOn)
	assert.Equal(t, types.FanHigh, cmd.FanIntensity)
	assert.Equal(t, "PM2.5 elevated", cmd.Reasoning)
	assert.True(t, now.Equal(cmd.Timestamp))
}

func TestPublishDecisionErrors(t *testing.T) {
	client := &fakeClient{publishToken: completedToken(fmt.Errorf("not connected"))}
	pub := NewPublisher(client, common.DefaultCommandTopic, 1, nil)
	err := pub.PublishDecision(context.Background(), "esp32-1", types.Decision{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	pending := &fakeToken{done: make(chan struct{})}
	client = &fakeClient{publishToken: pending}
	pub = NewPublisher(client, common.DefaultCommandTopic, 1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pub.PublishDecision(ctx, "esp32-1", types.Decision{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abandoned")
}

func TestSubscriberDispatchesInOrder(t *testing.T) {
	client := &fakeClient{}
	var (
		mu  sync.Mutex
		got []types.Reading
	)
	received := make(chan struct{}, 10)
	handler := func(ctx context.Context, r types.Reading) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
		received <- struct{}{}
	}

	sub := NewSubscriber(client, SubscriberConfig{Topic: common.DefaultReadingTopic, QoS: 1}, handler, clock.NewMockClock(now))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sub.Start(ctx))
	assert.Equal(t, common.DefaultReadingTopic, client.subscribed)

	client.callback(nil, fakeMessage{topic: "sensors/a/readings", payload: []byte(`{"pm25":1}`)})
	client.callback(nil, fakeMessage{topic: "sensors/a/readings", payload: []byte(`not json`)})
	client.callback(nil, fakeMessage{topic: "sensors/b/readings", payload: []byte(`{"pm25":2}`)})

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("handler not called")
		}
	}

	cancel()
	sub.Stop()
	assert.Equal(t, []string{common.DefaultReadingTopic}, client.unsubscribed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].DeviceID)
	assert.Equal(t, "b", got[1].DeviceID)
}

func TestSubscriberStartError(t *testing.T) {
	client := &fakeClient{subscribeErr: fmt.Errorf("not authorized")}
	sub := NewSubscriber(client, SubscriberConfig{Topic: common.DefaultReadingTopic}, func(context.Context, types.Reading) {}, nil)
	assert.Error(t, sub.Start(context.Background()))
}
