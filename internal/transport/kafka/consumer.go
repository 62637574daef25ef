package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/kafka"
	"github.com/sakashimaa/storefront/internal/mylogger"
	"github.com/sakashimaa/storefront/internal/repository"
	"github.com/sakashimaa/storefront/internal/service"
	"go.uber.org/zap"
)

type Deduplicator interface {
	ProcessOnce(ctx context.Context, eventID string, action func(ctx context.Context) error) error
}

// RestockConsumer applies StockReplenished events from the warehouse side.
type RestockConsumer struct {
	catalog service.CatalogService
	dedup   Deduplicator
	logger  *zap.Logger
}

func NewRestockConsumer(catalog service.CatalogService, dedup Deduplicator, logger *zap.Logger) *RestockConsumer {
	return &RestockConsumer{
		catalog: catalog,
		dedup:   dedup,
		logger:  logger,
	}
}

func (c *RestockConsumer) Start(ctx context.Context, brokers []string, groupID string, topics []string) error {
	consumerGroup, err := kafka.NewConsumerGroup(brokers, groupID, topics, c.ProcessMessage, c.logger)
	if err != nil {
		return err
	}

	consumerGroup.Run(ctx)
	return nil
}

// ProcessMessage returns an error only for failures worth redelivering.
// Malformed or unknown events are logged and acknowledged.
func (c *RestockConsumer) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Debug(ctx, c.logger, "Processing message", zap.String("topic", msg.Topic))

	var wrapper domain.EventEnvelope[json.RawMessage]
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Warn(ctx, c.logger, "Dropping malformed message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	switch wrapper.Event {
	case domain.EventStockReplenished:
		var event domain.StockReplenishedEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Warn(ctx, c.logger, "Error unmarshalling event structure", zap.Error(err))
			return nil
		}

		if event.EventID == "" || event.ProductID == "" {
			mylogger.Warn(ctx, c.logger, "Dropping restock event without ids", zap.Int64("offset", msg.Offset))
			return nil
		}

		err := c.dedup.ProcessOnce(ctx, event.EventID, func(ctx context.Context) error {
			return c.catalog.Restock(ctx, event.ProductID, event.Quantity)
		})
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) || errors.Is(err, service.ErrInvalidRequest) {
				mylogger.Warn(
					ctx,
					c.logger,
					"Dropping restock event",
					zap.String("event_id", event.EventID),
					zap.String("product_id", event.ProductID),
					zap.Error(err),
				)
				return nil
			}

			mylogger.Error(ctx, c.logger, "Error processing restock", zap.String("event_id", event.EventID), zap.Error(err))
			return err
		}
	default:
		mylogger.Debug(ctx, c.logger, "Ignored event type", zap.String("event_type", wrapper.Event))
	}

	return nil
}
