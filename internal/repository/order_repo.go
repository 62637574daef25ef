package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/storefront/internal/db"
	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order, lines []domain.OrderLine) error
	MarkOrderCompleted(ctx context.Context, orderID string) error
	DeleteOrder(ctx context.Context, orderID string) error
	FindOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	FindLinesByOrderID(ctx context.Context, orderID string) ([]domain.OrderLine, error)
}

type orderRepository struct {
	pool   *pgxpool.Pool
	tx     *db.TxRunner
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepository{
		pool:   pool,
		tx:     db.NewTxRunner(pool, logger),
		logger: logger,
		tracer: otel.Tracer("repository/order_repo"),
	}
}

// CreateOrder writes the header and every line as one unit. Outside a caller
// transaction it opens its own.
func (r *orderRepository) CreateOrder(ctx context.Context, order *domain.Order, lines []domain.OrderLine) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.user_id", order.UserID),
		attribute.Int("order.lines", len(lines)),
	)

	orderQuery := `
		INSERT INTO orders (id, user_id, status, total_amount)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at;
	`

	lineQuery := `
		INSERT INTO order_lines (id, order_id, product_id, position, quantity, price_per_item)
		VALUES ($1, $2, $3, $4, $5, $6);
	`

	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)

		if err := conn.QueryRow(
			ctx,
			orderQuery,
			order.ID,
			order.UserID,
			order.Status,
			order.TotalAmount,
		).Scan(&order.CreatedAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, line := range lines {
			if _, err := conn.Exec(
				ctx,
				lineQuery,
				line.ID,
				order.ID,
				line.ProductID,
				line.Position,
				line.Quantity,
				line.PricePerItem,
			); err != nil {
				return fmt.Errorf("insert order line %d: %w", line.Position, err)
			}
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to create order", zap.String("order_id", order.ID), zap.Error(err))

		return fmt.Errorf("error creating order: %w", err)
	}

	return nil
}

func (r *orderRepository) MarkOrderCompleted(ctx context.Context, orderID string) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.MarkOrderCompleted")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	query := `
		UPDATE orders
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	commandTag, err := db.Conn(ctx, r.pool).Exec(
		ctx,
		query,
		domain.OrderStatusCompleted,
		orderID,
		domain.OrderStatusPending,
	)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to complete order", zap.String("order_id", orderID), zap.Error(err))

		return fmt.Errorf("error completing order: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (r *orderRepository) DeleteOrder(ctx context.Context, orderID string) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.DeleteOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to delete order", zap.String("order_id", orderID), zap.Error(err))

		return fmt.Errorf("error deleting order: %w", err)
	}

	return nil
}

func (r *orderRepository) FindOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.FindOrderByID")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	query := `
		SELECT id, user_id, status, total_amount, created_at
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, orderID).Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to get order", zap.String("order_id", orderID), zap.Error(err))

		return nil, fmt.Errorf("error getting order: %w", err)
	}

	return &order, nil
}

// FindLinesByOrderID returns lines in the order they were requested.
func (r *orderRepository) FindLinesByOrderID(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.FindLinesByOrderID")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	query := `
		SELECT id, order_id, product_id, position, quantity, price_per_item
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position
	`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to get order lines", zap.String("order_id", orderID), zap.Error(err))

		return nil, fmt.Errorf("error getting order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ProductID,
			&line.Position,
			&line.Quantity,
			&line.PricePerItem,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning order line: %w", err)
		}

		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating order lines: %w", err)
	}

	return lines, nil
}
