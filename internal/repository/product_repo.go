package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	FindProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	List(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error)
	Update(ctx context.Context, id string, expectedVersion int64, input *domain.UpdateProductInput) (*domain.Product, error)
	DecrementStock(ctx context.Context, id string, amount, expectedVersion int64) error
	RestoreStock(ctx context.Context, id string, amount int64) error
}

type productRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewProductRepository(pool *pgxpool.Pool, logger *zap.Logger) ProductRepository {
	return &productRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/product_repo"),
	}
}

const productColumns = `id, name, description, price, stock_quantity, version, created_at, updated_at`

func scanProduct(row pgx.Row, p *domain.Product) error {
	return row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.StockQuantity,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}

func (r *productRepo) Create(ctx context.Context, product *domain.Product) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("product.id", product.ID),
		attribute.String("product.name", product.Name),
	)

	query := `
		INSERT INTO products (id, name, description, price, stock_quantity, version)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING version, created_at, updated_at;
	`

	err := db.Conn(ctx, r.pool).QueryRow(
		ctx,
		query,
		product.ID,
		product.Name,
		product.Description,
		product.Price,
		product.StockQuantity,
	).Scan(&product.Version, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "products_name_key") {
			return ErrProductAlreadyExists
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error creating product", zap.Error(err))

		return fmt.Errorf("error creating product: %w", err)
	}

	return nil
}

func (r *productRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("product.id", id))

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	var res domain.Product
	if err := scanProduct(db.Conn(ctx, r.pool).QueryRow(ctx, query, id), &res); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error get by id", zap.String("product_id", id), zap.Error(err))

		return nil, fmt.Errorf("error getting product: %w", err)
	}

	return &res, nil
}

// FindProductsByIDs returns the products that exist among ids, keyed by id.
// Missing ids are simply absent from the result.
func (r *productRepo) FindProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.FindProductsByIDs")
	defer span.End()

	span.SetAttributes(attribute.Int("product.requested", len(ids)))

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, ids)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error selecting products by ids", zap.Error(err))

		return nil, fmt.Errorf("error selecting products: %w", err)
	}
	defer rows.Close()

	res := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning product: %w", err)
		}

		res[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	span.SetAttributes(attribute.Int("product.found", len(res)))

	return res, nil
}

func (r *productRepo) List(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
		attribute.String("search", search),
	)

	baseQuery := `SELECT ` + productColumns + ` FROM products WHERE TRUE`
	countQuery := `SELECT COUNT(*) FROM products WHERE TRUE`

	var args []interface{}
	argId := 1

	if search != "" {
		filter := fmt.Sprintf(" AND name ILIKE $%d", argId)
		baseQuery += filter
		countQuery += filter

		args = append(args, "%"+search+"%")
		argId++
	}

	var totalCount int64
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error counting products", zap.Error(err))

		return nil, 0, fmt.Errorf("error counting products: %w", err)
	}

	baseQuery += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", argId, argId+1)
	args = append(args, limit, offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, baseQuery, args...)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Error getting products",
			zap.String("search", search),
			zap.Int64("limit", limit),
			zap.Int64("offset", offset),
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("error selecting products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			span.RecordError(err)
			return nil, 0, fmt.Errorf("error scanning product: %w", err)
		}

		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("error iterating products: %w", err)
	}

	return products, totalCount, nil
}

// Update applies a catalog edit only when the stored version still equals
// expectedVersion, and bumps the version.
func (r *productRepo) Update(ctx context.Context, id string, expectedVersion int64, input *domain.UpdateProductInput) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("product.id", id),
		attribute.Int64("product.expected_version", expectedVersion),
	)

	var args []interface{}
	argId := 1

	var updates []string

	if input.Name != nil {
		updates = append(updates, fmt.Sprintf("name = $%d", argId))
		args = append(args, *input.Name)
		argId++
	}

	if input.Description != nil {
		updates = append(updates, fmt.Sprintf("description = $%d", argId))
		args = append(args, *input.Description)
		argId++
	}

	if input.Price != nil {
		updates = append(updates, fmt.Sprintf("price = $%d", argId))
		args = append(args, *input.Price)
		argId++
	}

	if input.StockQuantity != nil {
		updates = append(updates, fmt.Sprintf("stock_quantity = $%d", argId))
		args = append(args, *input.StockQuantity)
		argId++
	}

	updates = append(updates, "version = version + 1", "updated_at = NOW()")

	query := `UPDATE products SET ` + strings.Join(updates, ", ") +
		fmt.Sprintf(" WHERE id = $%d AND version = $%d RETURNING ", argId, argId+1) + productColumns
	args = append(args, id, expectedVersion)

	var res domain.Product
	err := scanProduct(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...), &res)
	if err == nil {
		return &res, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		if isUniqueViolation(err, "products_name_key") {
			return nil, ErrProductAlreadyExists
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to update product", zap.String("product_id", id), zap.Error(err))

		return nil, fmt.Errorf("error updating product: %w", err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	return nil, ErrVersionConflict
}

// DecrementStock subtracts amount in a single conditional statement guarded by
// the version the caller observed. When nothing matches it re-reads the row to
// tell a missing product, a moved version and a short stock apart.
func (r *productRepo) DecrementStock(ctx context.Context, id string, amount, expectedVersion int64) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.DecrementStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("product.id", id),
		attribute.Int64("product.amount", amount),
		attribute.Int64("product.expected_version", expectedVersion),
	)

	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $2,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
			AND version = $3
			AND stock_quantity >= $2;
	`

	conn := db.Conn(ctx, r.pool)

	commandTag, err := conn.Exec(ctx, query, id, amount, expectedVersion)
	if err != nil {
		if isConcurrencyFailure(err) {
			mylogger.Warn(ctx, r.logger, "Concurrent stock update aborted", zap.String("product_id", id), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrVersionConflict, err)
		}

		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Error decreasing stock",
			zap.String("product_id", id),
			zap.Int64("amount", amount),
			zap.Error(err),
		)

		return fmt.Errorf("error decreasing stock for product %s: %w", id, err)
	}

	if commandTag.RowsAffected() == 1 {
		return nil
	}

	var version, stock int64
	err = conn.QueryRow(ctx, `SELECT version, stock_quantity FROM products WHERE id = $1`, id).Scan(&version, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}

		span.RecordError(err)
		return fmt.Errorf("error classifying failed decrement for product %s: %w", id, err)
	}

	if version != expectedVersion {
		span.SetAttributes(attribute.Int64("product.current_version", version))
		return ErrVersionConflict
	}

	return ErrInsufficientStock
}

func (r *productRepo) RestoreStock(ctx context.Context, id string, amount int64) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.RestoreStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("product.id", id),
		attribute.Int64("product.amount", amount),
	)

	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $1,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $2
	`

	commandTag, err := db.Conn(ctx, r.pool).Exec(ctx, query, amount, id)
	if isOutOfRange(err) {
		mylogger.Warn(ctx, r.logger, "Restock overflows stock_quantity", zap.String("product_id", id), zap.Int64("amount", amount))
		return ErrStockOverflow
	}
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, r.logger, "Failed to restore stock_quantity", zap.String("product_id", id), zap.Error(err))

		return fmt.Errorf("error restoring stock for product %s: %w", id, err)
	}

	if commandTag.RowsAffected() == 0 {
		mylogger.Warn(ctx, r.logger, "Product not found", zap.String("product_id", id))
		return ErrProductNotFound
	}

	return nil
}
