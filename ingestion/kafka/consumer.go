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

// Processor runs a job synchronously. An error means the job's outcome could
// not be recorded and the message should be delivered again.
type Processor interface {
	Process(ctx context.Context, job *core.IngestionJob) (*core.IngestionJob, error)
}

// Handler is a sarama.ConsumerGroupHandler that processes ingestion jobs.
type Handler struct {
	processor Processor
	logger    *slog.Logger
}

var _ sarama.ConsumerGroupHandler = (*Handler)(nil)

// NewHandler creates a handler passing jobs to processor.
func NewHandler(processor Processor) (*Handler, error) {
	if processor == nil {
		return nil, errors.New("processor required")
	}
	return &Handler{
		processor: processor,
		logger:    slog.Default().With("component", "kafka-handler"),
	}, nil
}

// Setup is run at the beginning of a new session.
func (h *Handler) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup is run at the end of a session.
func (h *Handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes messages until the claim closes or the session ends.
// A message whose job could not be recorded ends the claim unmarked, so it
// is delivered again.
func (h *Handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(session.Context(), msg); err != nil {
				h.logger.Error("failed to process message",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *Handler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var job core.IngestionJob
	if err := json.Unmarshal(msg.Value, &job); err != nil || job.ID == "" {
		// undecodable messages would fail forever
		h.logger.Warn("dropping malformed message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	result, err := h.processor.Process(ctx, &job)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	h.logger.Info("processed job", "job", job.ID, "tenant", job.TenantID, "state", result.State)
	return nil
}

// ConsumerConfig returns the consumer group configuration used by NewConsumer.
func ConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0
	return config
}

// Consumer runs a Handler in a consumer group.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler *Handler
	backoff time.Duration
	logger  *slog.Logger
}

// NewConsumer joins groupID on brokers.
func NewConsumer(brokers []string, groupID string, topics []string, processor Processor) (*Consumer, error) {
	handler, err := NewHandler(processor)
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroup(brokers, groupID, ConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		backoff: 5 * time.Second,
		logger:  slog.Default().With("component", "kafka-consumer", "group", groupID),
	}, nil
}

// Run consumes until ctx is done. Session errors are logged and the
// session is rejoined after a pause.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", "err", err)
		}
	}()

	c.logger.Info("consuming", "topics", c.topics)
	for {
		if err := c.group.Consume(ctx, c.topics, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("consume failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the group.
func (c *Consumer) Close() error {
	return c.group.Close()
}
