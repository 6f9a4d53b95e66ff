package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/meetnote/meetnote-be/internal/stt/domain"
	"github.com/meetnote/meetnote-be/shared/rabbitmq"
)

// RoutingKeyPrefix is the topic prefix for job-enqueued wake messages; the
// stage name is appended per message.
const RoutingKeyPrefix = "stt.job.enqueued."

// JobEnqueuedEvent is published whenever a job enters a stage queue. It is a
// latency hint only: the ZSET queue remains the durable source of pending
// work, so a lost message costs at most one polling interval.
type JobEnqueuedEvent struct {
	JobID string       `json:"job_id"`
	Stage domain.Stage `json:"stage"`
}

// Publisher emits wake events onto the bus.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a wake-event publisher
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// PublishEnqueued fires one wake event for the job. Publish failures are
// retried briefly, then logged and swallowed; enqueue itself already
// succeeded against the durable queue.
func (p *Publisher) PublishEnqueued(ctx context.Context, jobID string, stage domain.Stage) {
	body, err := json.Marshal(JobEnqueuedEvent{JobID: jobID, Stage: stage})
	if err != nil {
		p.logger.Error("Failed to marshal wake event",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}

	if err := p.client.PublishWithRetry(ctx, RoutingKeyPrefix+string(stage), body); err != nil {
		p.logger.Warn("Failed to publish wake event, scheduler will catch up on next tick",
			slog.String("job_id", jobID),
			slog.String("stage", string(stage)),
			slog.Any("error", err),
		)
	}
}

// Waker is the scheduler-side hook a consumer pokes on each wake event.
type Waker interface {
	Wake(stage domain.Stage)
}

// Consumer reads wake events and pokes the matching stage scheduler.
type Consumer struct {
	client *rabbitmq.Client
	waker  Waker
	logger *slog.Logger
}

// NewConsumer creates a wake-event consumer
func NewConsumer(client *rabbitmq.Client, waker Waker, logger *slog.Logger) *Consumer {
	return &Consumer{client: client, waker: waker, logger: logger}
}

// Run consumes until the context is canceled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := c.client.Consume(consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start wake-event consumer: %w", err)
	}

	c.logger.Info("Wake-event consumer started",
		slog.String("consumer_tag", consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Wake-event consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}
			c.handle(delivery)
		}
	}
}

func (c *Consumer) handle(delivery amqp.Delivery) {
	var event JobEnqueuedEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		c.logger.Error("Failed to parse wake event",
			slog.String("body", string(delivery.Body)),
			slog.Any("error", err),
		)
		_ = delivery.Nack(false, false)
		return
	}

	c.waker.Wake(event.Stage)
	_ = delivery.Ack(false)

	c.logger.Debug("Scheduler woken by bus event",
		slog.String("job_id", event.JobID),
		slog.String("stage", string(event.Stage)),
	)
}
