package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/common"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// publishClient is the subset of paho.Client the publisher needs
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// FanCommand is the payload actuators receive
type FanCommand struct {
	FanOn        bool               `json:"fan_on"`
	FanIntensity types.FanIntensity `json:"fan_intensity"`
	Reasoning    string             `json:"reasoning"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Publisher sends fan commands to devices
type Publisher struct {
	client       publishClient
	topicPattern string
	qos          byte
	clock        clock.Clock
}

// NewPublisher creates a publisher for a topic pattern containing {device_id}
func NewPublisher(client publishClient, topicPattern string, qos byte, clk clock.Clock) *Publisher {
	if topicPattern == "" {
		topicPattern = common.DefaultCommandTopic
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Publisher{
		client:       client,
		topicPattern: topicPattern,
		qos:          qos,
		clock:        clk,
	}
}

// PublishDecision sends the decision as a fan command and waits for the
// broker to acknowledge it or ctx to end
func (p *Publisher) PublishDecision(ctx context.Context, deviceID string, d types.Decision) error {
	payload, err := json.Marshal(FanCommand{
		FanOn:        d.FanOn,
		FanIntensity: d.FanIntensity,
		Reasoning:    d.Reasoning,
		Timestamp:    p.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal fan command: %v", err)
	}

	topic := FormatTopic(p.topicPattern, deviceID)
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s abandoned: %v", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish fan command to %s: %v", topic, err)
	}

	klog.V(3).InfoS("Published fan command", "device", deviceID, "topic", topic,
		"fanOn", d.FanOn, "intensity", d.FanIntensity)
	return nil
}

// FormatTopic replaces the {device_id} placeholder with deviceID
func FormatTopic(pattern, deviceID string) string {
	return strings.ReplaceAll(pattern, common.DeviceIDPlaceholder, deviceID)
}
