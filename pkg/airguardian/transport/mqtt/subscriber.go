package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

const (
	defaultQueueSize = 256
	enqueueTimeout   = time.Second
)

// Handler receives each decoded reading
type Handler func(ctx context.Context, r types.Reading)

// subscribeClient is the subset of paho.Client the subscriber needs
type subscribeClient interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// SubscriberConfig holds subscription settings
type SubscriberConfig struct {
	Topic     string // e.g. "sensors/+/readings"
	QoS       byte
	QueueSize int
}

// Subscriber decodes sensor readings from the broker and hands them to a
// Handler. Readings are handled one at a time in arrival order.
type Subscriber struct {
	client  subscribeClient
	config  SubscriberConfig
	handler Handler
	clock   clock.Clock

	queue chan types.Reading
	wg    sync.WaitGroup
}

// NewSubscriber creates a subscriber for the configured topic
func NewSubscriber(client subscribeClient, config SubscriberConfig, handler Handler, clk clock.Clock) *Subscriber {
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Subscriber{
		client:  client,
		config:  config,
		handler: handler,
		clock:   clk,
		queue:   make(chan types.Reading, config.QueueSize),
	}
}

// Start subscribes and dispatches readings until ctx is cancelled
func (s *Subscriber) Start(ctx context.Context) error {
	token := s.client.Subscribe(s.config.Topic, s.config.QoS, s.onMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %v", s.config.Topic, token.Error())
	}
	klog.InfoS("Subscribed to sensor readings", "topic", s.config.Topic, "qos", s.config.QoS)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-s.queue:
				s.handler(ctx, r)
			}
		}
	}()
	return nil
}

// Stop unsubscribes and waits for the dispatch loop to exit. The context
// passed to Start must already be cancelled.
func (s *Subscriber) Stop() {
	token := s.client.Unsubscribe(s.config.Topic)
	if token.Wait() && token.Error() != nil {
		klog.ErrorS(token.Error(), "Failed to unsubscribe", "topic", s.config.Topic)
	}
	s.wg.Wait()
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	r, err := DecodeReading(s.config.Topic, msg.Topic(), msg.Payload(), s.clock.Now())
	if err != nil {
		klog.ErrorS(err, "Dropping undecodable reading", "topic", msg.Topic())
		return
	}
	klog.V(3).InfoS("Received reading", "device", r.DeviceID, "topic", msg.Topic())

	select {
	case s.queue <- r:
	case <-time.After(enqueueTimeout):
		klog.InfoS("Reading queue full, dropping message", "device", r.DeviceID)
	}
}

// DecodeReading parses a JSON reading received on topic. A missing device id
// is taken from the topic segment matching the pattern's single-level
// wildcard. A missing timestamp is stamped with now.
func DecodeReading(pattern, topic string, payload []byte, now time.Time) (types.Reading, error) {
	var r types.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return types.Reading{}, fmt.Errorf("failed to unmarshal reading: %v", err)
	}
	if r.DeviceID == "" {
		r.DeviceID = deviceFromTopic(pattern, topic)
		if r.DeviceID == "" {
			return types.Reading{}, fmt.Errorf("no device id in payload or topic %q", topic)
		}
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	return r, nil
}

func deviceFromTopic(pattern, topic string) string {
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")
	for i, p := range patternParts {
		if p == "+" && i < len(topicParts) {
			return topicParts[i]
		}
	}
	// sensors/{device_id}/readings
	if len(topicParts) >= 2 {
		return topicParts[1]
	}
	return ""
}
