package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sakashimaa/storefront/internal/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Store interface {
	GetUnpublishedEvents(ctx context.Context, batchSize int) ([]*Event, error)
	MarkEventPublished(ctx context.Context, eventID int64) error
	MarkEventFailed(ctx context.Context, eventID int64, errMsg string) error
}

type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Message is what a Publisher puts on the wire.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Processor struct {
	tx        TxRunner
	repo      Store
	publisher Publisher
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

func NewProcessor(
	tx TxRunner,
	repo Store,
	publisher Publisher,
	batchSize int,
	interval time.Duration,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		tx:        tx,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		tracer:    otel.Tracer("outbox/processor"),
	}
}

// Start polls until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	mylogger.Info(ctx, p.logger, "Starting outbox processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, p.logger, "Outbox processor stopping")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				mylogger.Error(ctx, p.logger, "Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publishes one batch and returns how many events were published.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	published := 0

	err := p.tx.InTx(ctx, func(ctx context.Context) error {
		events, err := p.repo.GetUnpublishedEvents(ctx, p.batchSize)
		if err != nil {
			return err
		}

		if len(events) == 0 {
			return nil
		}

		mylogger.Debug(ctx, p.logger, "Processing outbox events", zap.Int("count", len(events)))

		for _, event := range events {
			if err := p.publish(ctx, event); err != nil {
				mylogger.Warn(
					ctx,
					p.logger,
					"outbox worker publish failed",
					zap.Int64("id", event.ID),
					zap.Int64("attempts", event.Attempts+1),
					zap.Error(err),
				)

				if dbErr := p.repo.MarkEventFailed(ctx, event.ID, err.Error()); dbErr != nil {
					return fmt.Errorf("mark event %d failed: %w", event.ID, dbErr)
				}

				continue
			}

			if err := p.repo.MarkEventPublished(ctx, event.ID); err != nil {
				return fmt.Errorf("mark event %d published: %w", event.ID, err)
			}

			published++
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	return published, nil
}

// publish stamps the outbox id into the envelope as event_id so consumers
// can deduplicate redeliveries.
func (p *Processor) publish(ctx context.Context, event *Event) error {
	var payloadMap map[string]any
	if err := json.Unmarshal(event.Payload, &payloadMap); err != nil {
		return fmt.Errorf("unmarshal event payload: %w", err)
	}

	payloadMap["event_id"] = fmt.Sprintf("%s-%d", event.AggregateType, event.ID)

	body, err := json.Marshal(payloadMap)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	return p.publisher.Publish(ctx, Message{
		Topic: event.Topic,
		Key:   event.AggregateID,
		Value: body,
	})
}
