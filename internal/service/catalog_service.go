package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/mylogger"
	"github.com/sakashimaa/storefront/internal/outbox"
	"github.com/sakashimaa/storefront/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CatalogService interface {
	RegisterProduct(ctx context.Context, input domain.NewProductInput) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error)
	UpdateProduct(ctx context.Context, id string, expectedVersion int64, input *domain.UpdateProductInput) (*domain.Product, error)
	Restock(ctx context.Context, id string, quantity int64) error
}

type catalogService struct {
	products    repository.ProductRepository
	tx          TxRunner
	events      EventOutbox
	eventsTopic string
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewCatalogService builds the catalog service. tx and events may be nil for
// stores without transactions; no registration events are recorded then.
func NewCatalogService(
	products repository.ProductRepository,
	tx TxRunner,
	events EventOutbox,
	eventsTopic string,
	logger *zap.Logger,
) CatalogService {
	return &catalogService{
		products:    products,
		tx:          tx,
		events:      events,
		eventsTopic: eventsTopic,
		logger:      logger,
		tracer:      otel.Tracer("service/catalog_service"),
	}
}

func (s *catalogService) RegisterProduct(ctx context.Context, input domain.NewProductInput) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.RegisterProduct")
	defer span.End()

	name := strings.TrimSpace(input.Name)
	switch {
	case name == "":
		return nil, invalidRequest("product name is required")
	case input.Price.IsNegative():
		return nil, invalidRequest("price must not be negative")
	case input.StockQuantity < 0:
		return nil, invalidRequest("stock quantity must not be negative")
	}

	product := &domain.Product{
		ID:            uuid.NewString(),
		Name:          name,
		Description:   input.Description,
		Price:         input.Price,
		StockQuantity: input.StockQuantity,
	}

	span.SetAttributes(attribute.String("product.id", product.ID))

	err := runInTx(ctx, s.tx, func(ctx context.Context) error {
		if err := s.products.Create(ctx, product); err != nil {
			return err
		}

		if s.events == nil || s.tx == nil {
			return nil
		}

		event, err := outbox.NewEvent(s.eventsTopic, "Product", product.ID, domain.EventProductRegistered, domain.ProductRegisteredEvent{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
		})
		if err != nil {
			return fmt.Errorf("event payload marshal error: %w", err)
		}

		if err := s.events.SaveOutboxEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to save outbox event: %w", err)
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)

		if errors.Is(err, repository.ErrProductAlreadyExists) {
			mylogger.Warn(ctx, s.logger, "Product name already taken", zap.String("name", name))
			return nil, err
		}

		mylogger.Error(ctx, s.logger, "Error registering product", zap.Error(err))
		return nil, fmt.Errorf("error registering product: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Product registered", zap.String("product_id", product.ID))

	return product, nil
}

func (s *catalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.GetProduct")
	defer span.End()

	res, err := s.products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "product not found", zap.String("product_id", id))
			return nil, err
		}

		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "error getting product", zap.Error(err))

		return nil, fmt.Errorf("error getting product by id: %w", err)
	}

	return res, nil
}

func (s *catalogService) ListProducts(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.ListProducts")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	list, total, err := s.products.List(ctx, limit, offset, strings.TrimSpace(search))
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "list error", zap.Error(err))

		return nil, 0, fmt.Errorf("error listing products: %w", err)
	}

	return list, total, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, id string, expectedVersion int64, input *domain.UpdateProductInput) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.UpdateProduct")
	defer span.End()

	span.SetAttributes(
		attribute.String("product.id", id),
		attribute.Int64("product.expected_version", expectedVersion),
	)

	if err := validateProductUpdate(expectedVersion, input); err != nil {
		return nil, err
	}

	res, err := s.products.Update(ctx, id, expectedVersion, input)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrProductNotFound),
			errors.Is(err, repository.ErrVersionConflict),
			errors.Is(err, repository.ErrProductAlreadyExists):
			mylogger.Warn(ctx, s.logger, "Product update rejected", zap.String("product_id", id), zap.Error(err))
			return nil, err
		}

		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Error updating product", zap.String("product_id", id), zap.Error(err))

		return nil, fmt.Errorf("error updating product: %w", err)
	}

	return res, nil
}

func (s *catalogService) Restock(ctx context.Context, id string, quantity int64) error {
	ctx, span := s.tracer.Start(ctx, "CatalogService.Restock")
	defer span.End()

	span.SetAttributes(
		attribute.String("product.id", id),
		attribute.Int64("product.quantity", quantity),
	)

	if quantity <= 0 {
		return invalidRequest("restock quantity must be positive", id)
	}

	if err := s.products.RestoreStock(ctx, id, quantity); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "Restock for unknown product", zap.String("product_id", id))
			return err
		}
		if errors.Is(err, repository.ErrStockOverflow) {
			return invalidRequest("restock quantity is too large", id)
		}

		span.RecordError(err)
		return fmt.Errorf("error restocking product: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Product restocked", zap.String("product_id", id), zap.Int64("quantity", quantity))

	return nil
}

func validateProductUpdate(expectedVersion int64, input *domain.UpdateProductInput) error {
	switch {
	case input == nil || input.IsEmpty():
		return invalidRequest("update must change at least one field")
	case expectedVersion < 0:
		return invalidRequest("version must not be negative")
	case input.Name != nil && strings.TrimSpace(*input.Name) == "":
		return invalidRequest("product name must not be blank")
	case input.Price != nil && input.Price.IsNegative():
		return invalidRequest("price must not be negative")
	case input.StockQuantity != nil && *input.StockQuantity < 0:
		return invalidRequest("stock quantity must not be negative")
	}

	return nil
}

func runInTx(ctx context.Context, tx TxRunner, fn func(ctx context.Context) error) error {
	if tx == nil {
		return fn(ctx)
	}

	return tx.InTx(ctx, fn)
}
