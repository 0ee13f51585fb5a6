package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
)

// Producer publishes outbox events synchronously. The sync producer is the
// right fit here: the outbox worker needs the ack before it marks a row sent.
type Producer struct {
	inner sarama.SyncProducer
}

func NewProducer(brokers []string, cfg *sarama.Config) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	// idempotent producing caps in-flight requests at one
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Return.Successes = true

	inner, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}
	return &Producer{inner: inner}, nil
}

// Publish sends one event. The key is the aggregate id so all events of one
// conversation land in the same partition, in order.
func (p *Producer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	recordHeaders := make([]sarama.RecordHeader, 0, len(headers))
	for name, value := range headers {
		recordHeaders = append(recordHeaders, sarama.RecordHeader{
			Key:   []byte(name),
			Value: []byte(value),
		})
	}
	_, _, err := p.inner.SendMessage(&sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: recordHeaders,
	})
	if err != nil {
		return fmt.Errorf("kafka: publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.inner == nil {
		return nil
	}
	return p.inner.Close()
}
