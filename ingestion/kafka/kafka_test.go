package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/poiesic/ragify/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob(id string) *core.IngestionJob {
	return &core.IngestionJob{
		ID:       id,
		TenantID: "acme",
		Document: &core.SourceDocument{ID: "0b0d5f0e-6d1c-4d55-8a43-52a4e8b9e8d1", FileName: "a.txt"},
		RawText:  "alpha",
		State:    core.StateReceived,
	}
}

func TestPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, ProducerConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "acme" {
			return fmt.Errorf("unexpected key %q", key)
		}
		if msg.Topic != "jobs" {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var job core.IngestionJob
		if err := json.Unmarshal(value, &job); err != nil {
			return err
		}
		if job.ID != "job-1" || job.RawText != "alpha" {
			return fmt.Errorf("unexpected job %+v", job)
		}
		return nil
	})

	p, err := NewPublisherWithProducer(producer, "jobs")
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), testJob("job-1")))
}

func TestPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, ProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p, err := NewPublisherWithProducer(producer, "jobs")
	require.NoError(t, err)
	defer p.Close()

	err = p.Publish(context.Background(), testJob("job-1"))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestNewPublisherWithProducer_RequiresTopic(t *testing.T) {
	producer := mocks.NewSyncProducer(t, ProducerConfig())
	defer producer.Close()
	_, err := NewPublisherWithProducer(producer, "")
	assert.ErrorIs(t, err, ErrTopicRequired)
}

// fakeProcessor records processed jobs and fails those listed in fail.
type fakeProcessor struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (p *fakeProcessor) Process(ctx context.Context, job *core.IngestionJob) (*core.IngestionJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, job.ID)
	if p.fail[job.ID] {
		return nil, errors.New("store unavailable")
	}
	done := *job
	done.State = core.StateDone
	return &done, nil
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func message(t *testing.T, offset int64, job *core.IngestionJob) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(job)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "jobs", Offset: offset, Value: value}
}

func TestHandler_MarksProcessedMessages(t *testing.T) {
	proc := &fakeProcessor{}
	h, err := NewHandler(proc)
	require.NoError(t, err)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- message(t, 1, testJob("job-1"))
	claim.messages <- &sarama.ConsumerMessage{Topic: "jobs", Offset: 2, Value: []byte("not json")}
	claim.messages <- message(t, 3, testJob("job-3"))
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []string{"job-1", "job-3"}, proc.seen)
	assert.Equal(t, []int64{1, 2, 3}, session.marked)
}

func TestHandler_LeavesFailedMessageUnmarked(t *testing.T) {
	proc := &fakeProcessor{fail: map[string]bool{"job-2": true}}
	h, err := NewHandler(proc)
	require.NoError(t, err)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- message(t, 1, testJob("job-1"))
	claim.messages <- message(t, 2, testJob("job-2"))
	claim.messages <- message(t, 3, testJob("job-3"))
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	err = h.ConsumeClaim(session, claim)
	assert.Error(t, err)
	assert.Equal(t, []int64{1}, session.marked)
	assert.Equal(t, []string{"job-1", "job-2"}, proc.seen)
}

func TestHandler_StopsWhenSessionEnds(t *testing.T) {
	h, err := NewHandler(&fakeProcessor{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	assert.NoError(t, h.ConsumeClaim(&fakeSession{ctx: ctx}, claim))
}
