package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"k8s.io/klog/v2"
)

// messageWriter is the subset of *kafka.Writer the client needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds producer settings
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaClient appends events to a Kafka topic keyed by device, so every
// device's events stay ordered within a partition.
type KafkaClient struct {
	writer messageWriter
	topic  string
}

// NewKafkaClient creates a synchronous producer that waits for all replicas
func NewKafkaClient(cfg KafkaConfig) (*KafkaClient, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka ledger requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka ledger requires a topic")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	klog.V(2).InfoS("Created kafka ledger writer", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newKafkaClient(w, cfg.Topic), nil
}

func newKafkaClient(w messageWriter, topic string) *KafkaClient {
	return &KafkaClient{writer: w, topic: topic}
}

// Append writes the event and returns kafka:<topic>:<event id>
func (c *KafkaClient) Append(ctx context.Context, event Event) (string, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %v", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.DeviceID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to write to topic %s: %v", c.topic, err)
	}
	return fmt.Sprintf("kafka:%s:%s", c.topic, event.ID), nil
}

// Close flushes and closes the producer
func (c *KafkaClient) Close() error {
	return c.writer.Close()
}
