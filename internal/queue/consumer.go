package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const defaultJobMaxRetries = 3

type RabbitMQConsumer struct {
	client     *RabbitMQ
	prefetch   int
	maxRetries int
	logger     *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, maxRetries int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if maxRetries < 1 {
		maxRetries = defaultJobMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:     client,
		prefetch:   prefetch,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, ch, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, handler MessageHandler) error {
	var msg GenerationMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("rejecting message: invalid JSON",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
		)
		if err := c.deadLetter(ctx, ch, d); err != nil {
			return fmt.Errorf("failed to dead-letter invalid message: %w", err)
		}
		return nil
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("rejecting message: validation failed",
			zap.Error(err),
			zap.String("batchId", msg.BatchID),
			zap.Int("itemIndex", msg.ItemIndex),
		)
		if err := c.deadLetter(ctx, ch, d); err != nil {
			return fmt.Errorf("failed to dead-letter invalid payload: %w", err)
		}
		return nil
	}

	msg.Attempt = DeliveryAttempt(d)

	if err := handler(ctx, msg); err != nil {
		if msg.Attempt >= c.maxRetries {
			c.logger.Error("job retries exhausted, dead-lettering",
				zap.String("batchId", msg.BatchID),
				zap.Int("itemIndex", msg.ItemIndex),
				zap.Int("attempt", msg.Attempt),
				zap.Error(err),
			)
			if dlqErr := c.deadLetter(ctx, ch, d); dlqErr != nil {
				return fmt.Errorf("handler failed and dead-letter failed: %w", dlqErr)
			}
			return nil
		}

		c.logger.Warn("job failed, scheduling retry",
			zap.String("batchId", msg.BatchID),
			zap.Int("itemIndex", msg.ItemIndex),
			zap.Int("attempt", msg.Attempt),
			zap.Error(err),
		)
		// Rejecting without requeue routes the message through the dlx to
		// the TTL retry queue, which feeds it back after the fixed delay.
		if nackErr := d.Nack(false, false); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

// deadLetter publishes the raw body to the dlq and acks the original, used
// for poison messages and exhausted retries.
func (c *RabbitMQConsumer) deadLetter(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) error {
	publishing := amqp.Publishing{
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		Headers:       d.Headers,
		Body:          d.Body,
	}
	if err := ch.PublishWithContext(ctx, "", DLQName, false, false, publishing); err != nil {
		return err
	}
	return d.Ack(false)
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
