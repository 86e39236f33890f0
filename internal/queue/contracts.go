package queue

import (
	"context"

	"github.com/iago/consulta-async/internal/domain"
)

// Producer publishes work items to the queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Handler processes one delivery. A nil error acknowledges the delivery;
// anything else leaves it for redelivery.
type Handler func(ctx context.Context, message domain.QueueMessage) error

// Consumer receives work items and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// Pinger reports broker connectivity for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
