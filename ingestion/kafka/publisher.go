// Package kafka carries ingestion jobs over Kafka: a Publisher sends jobs and
// a Consumer hands them to an ingestion queue, marking each message only
// after its job has been recorded.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/poiesic/ragify/core"
)

// DefaultTopic is the topic used when none is configured.
const DefaultTopic = "ragify.ingestion"

// JobIDHeader carries the job id so consumers can log it without decoding the value.
const JobIDHeader = "job_id"

// ErrTopicRequired is returned when a publisher is created without a topic.
var ErrTopicRequired = errors.New("topic required")

// Publisher sends ingestion jobs to a topic. Messages are keyed by tenant id,
// so a tenant's jobs stay in order on one partition.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// ProducerConfig returns the producer configuration used by NewPublisher.
func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second
	return config
}

// NewPublisher connects a synchronous producer to brokers.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	p, err := NewPublisherWithProducer(producer, topic)
	if err != nil {
		producer.Close()
		return nil, err
	}
	p.logger.Info("kafka producer ready", "brokers", brokers, "topic", topic)
	return p, nil
}

// NewPublisherWithProducer creates a publisher on an existing producer.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) (*Publisher, error) {
	if producer == nil {
		return nil, errors.New("producer required")
	}
	if topic == "" {
		return nil, ErrTopicRequired
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   slog.Default().With("component", "kafka-publisher"),
	}, nil
}

// Publish sends job and waits for the broker's acknowledgement.
func (p *Publisher) Publish(ctx context.Context, job *core.IngestionJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(job.TenantID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(JobIDHeader), Value: []byte(job.ID)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}
	p.logger.Debug("published job", "job", job.ID, "tenant", job.TenantID,
		"partition", partition, "offset", offset)
	return nil
}

// Close closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
