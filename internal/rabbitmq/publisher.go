package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sakashimaa/storefront/internal/outbox"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Publisher delivers outbox messages to durable queues named after the topic.
type Publisher struct {
	conn   *amqp.Connection
	mu     sync.Mutex
	ch     *amqp.Channel
	queues map[string]struct{}
	logger *zap.Logger
}

var _ outbox.Publisher = (*Publisher)(nil)

func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Publisher{
		conn:   conn,
		ch:     ch,
		queues: make(map[string]struct{}),
		logger: logger,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.queues[msg.Topic]; !ok {
		if _, err := p.ch.QueueDeclare(msg.Topic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", msg.Topic, err)
		}
		p.queues[msg.Topic] = struct{}{}
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := amqp.Table{}
	for k, v := range carrier {
		headers[k] = v
	}

	err := p.ch.PublishWithContext(ctx, "", msg.Topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Key,
		Headers:      headers,
		Body:         msg.Value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}

	return nil
}

func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.logger.Warn("Failed to close rabbitmq channel", zap.Error(err))
	}

	return p.conn.Close()
}
