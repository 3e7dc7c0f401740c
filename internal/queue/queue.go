package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes generation job messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg GenerationMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. A returned error triggers
// the queue-level retry (fixed delay, bounded attempts) and eventually the
// dead-letter queue.
type MessageHandler func(ctx context.Context, msg GenerationMessage) error

// Consumer consumes generation job messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// WorkQueueName carries per-item generation jobs.
	WorkQueueName = "generation"
	// RetryQueueName parks failed deliveries for the fixed retry delay; its
	// TTL dead-letters messages back onto the work queue.
	RetryQueueName = "retry.generation"
	// DLQName receives messages whose job-level retries are exhausted.
	DLQName = "dlq.generation"
)

// DeliveryAttempt returns the 1-based attempt number for a delivery by
// counting prior passes through the retry queue in the x-death header.
func DeliveryAttempt(d amqp.Delivery) int {
	return retryDeaths(d.Headers) + 1
}

func retryDeaths(headers amqp.Table) int {
	raw, ok := headers["x-death"]
	if !ok {
		return 0
	}

	deaths, ok := raw.([]interface{})
	if !ok {
		return 0
	}

	for _, entry := range deaths {
		death, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if queueName, _ := death["queue"].(string); queueName != RetryQueueName {
			continue
		}
		switch count := death["count"].(type) {
		case int64:
			return int(count)
		case int32:
			return int(count)
		case int:
			return count
		}
	}

	return 0
}
