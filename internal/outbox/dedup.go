package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/storefront/internal/db"
	"github.com/sakashimaa/storefront/internal/mylogger"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Deduplicator runs a consumer action at most once per event id. The marker
// row and the action share one transaction.
type Deduplicator struct {
	pool   *pgxpool.Pool
	tx     TxRunner
	logger *zap.Logger
}

func NewDeduplicator(pool *pgxpool.Pool, tx TxRunner, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{
		pool:   pool,
		tx:     tx,
		logger: logger,
	}
}

func (d *Deduplicator) ProcessOnce(ctx context.Context, eventID string, action func(ctx context.Context) error) error {
	span := trace.SpanFromContext(ctx)

	return d.tx.InTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO processed_events (event_id)
			VALUES ($1)
			ON CONFLICT (event_id) DO NOTHING
		`

		commandTag, err := db.Conn(ctx, d.pool).Exec(ctx, query, eventID)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to mark event processed: %w", err)
		}

		if commandTag.RowsAffected() == 0 {
			mylogger.Info(ctx, d.logger, "Event already processed, skipping", zap.String("event_id", eventID))
			return nil
		}

		return action(ctx)
	})
}
