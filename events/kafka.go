package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// KafkaPublisher sends events to a Kafka topic through a sync producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// KafkaConfig configures NewKafkaPublisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration // per-message acknowledgement timeout
}

// NewKafkaConfig returns the sarama configuration used for event publishing:
// wait for all in-sync replicas, bounded acknowledgement.
func NewKafkaConfig(timeout time.Duration) *sarama.Config {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Timeout = timeout
	config.Producer.Retry.Max = 3
	config.Net.DialTimeout = timeout
	config.Net.WriteTimeout = timeout
	config.Net.ReadTimeout = timeout
	return config
}

// NewKafkaPublisher connects to the brokers.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: no topic configured")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewKafkaConfig(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	log.Printf("[Events] Kafka producer connected to %v (topic %s)", cfg.Brokers, cfg.Topic)
	return NewKafkaPublisherWithProducer(producer, cfg.Topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer (e.g. a mock).
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.TransactionID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e.Type)},
		},
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send %s event: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
