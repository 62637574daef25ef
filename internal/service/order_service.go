package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

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

type CatalogStore interface {
	// FindProductsByIDs returns the existing products among ids keyed by id.
	FindProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// DecrementStock subtracts amount only if the product still has
	// expectedVersion and enough stock. It fails with
	// repository.ErrProductNotFound, repository.ErrVersionConflict or
	// repository.ErrInsufficientStock.
	DecrementStock(ctx context.Context, id string, amount, expectedVersion int64) error
	RestoreStock(ctx context.Context, id string, amount int64) error
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.Order, lines []domain.OrderLine) error
	MarkOrderCompleted(ctx context.Context, orderID string) error
	DeleteOrder(ctx context.Context, orderID string) error
	// FindOrderByID fails with repository.ErrOrderNotFound.
	FindOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	FindLinesByOrderID(ctx context.Context, orderID string) ([]domain.OrderLine, error)
}

// TxRunner executes fn atomically. Stores resolve the transaction from ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type EventOutbox interface {
	SaveOutboxEvent(ctx context.Context, event *outbox.Event) error
}

// StockListener is told which products changed after an order commits.
type StockListener interface {
	StockChanged(ctx context.Context, productIDs ...string)
}

type OrderService interface {
	// PlaceOrder validates, prices and persists one order, reserving stock for
	// every line. Either the whole order is committed with status COMPLETED,
	// or nothing is.
	PlaceOrder(ctx context.Context, userID string, lines []domain.LineRequest) (*domain.OrderDetails, error)
	// GetOrderDetails returns nil and no error when the order does not exist.
	GetOrderDetails(ctx context.Context, orderID string) (*domain.OrderDetails, error)
}

type OrderServiceOption func(*orderService)

// WithTransactions makes PlaceOrder run its writes inside one transaction
// instead of undoing them by compensation.
func WithTransactions(tx TxRunner) OrderServiceOption {
	return func(s *orderService) {
		s.tx = tx
	}
}

// WithOutbox records an OrderPlaced event in the same transaction as the order.
// It only takes effect together with WithTransactions.
func WithOutbox(events EventOutbox, topic string) OrderServiceOption {
	return func(s *orderService) {
		s.events = events
		s.eventsTopic = topic
	}
}

func WithStockListener(listener StockListener) OrderServiceOption {
	return func(s *orderService) {
		s.listener = listener
	}
}

type orderService struct {
	catalog     CatalogStore
	orders      OrderStore
	tx          TxRunner
	events      EventOutbox
	eventsTopic string
	listener    StockListener
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewOrderService(
	catalog CatalogStore,
	orders OrderStore,
	logger *zap.Logger,
	opts ...OrderServiceOption,
) OrderService {
	s := &orderService{
		catalog: catalog,
		orders:  orders,
		logger:  logger,
		tracer:  otel.Tracer("service/order_service"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// productDemand is the total quantity requested for one product across all
// lines, with the version observed when the product was read.
type productDemand struct {
	productID string
	quantity  int64
	version   int64
}

func (s *orderService) PlaceOrder(ctx context.Context, userID string, requested []domain.LineRequest) (*domain.OrderDetails, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.user_id", userID),
		attribute.Int("order.requested_lines", len(requested)),
	)

	if err := validateOrderRequest(userID, requested); err != nil {
		mylogger.Warn(ctx, s.logger, "Rejected order request", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	ids := distinctProductIDs(requested)

	products, err := s.catalog.FindProductsByIDs(ctx, ids)
	if err != nil {
		return nil, s.reportFailure(ctx, span, "", storeUnavailable("load products", err))
	}

	if missing := missingProductIDs(ids, products); len(missing) > 0 {
		return nil, s.reportFailure(ctx, span, "", &FulfillmentError{
			Kind:       ErrProductNotFound,
			ProductIDs: missing,
		})
	}

	demand, err := aggregateDemand(ids, requested, products)
	if err != nil {
		return nil, s.reportFailure(ctx, span, "", err)
	}

	for _, d := range demand {
		p := products[d.productID]
		if p.StockQuantity < d.quantity {
			return nil, s.reportFailure(ctx, span, "", &FulfillmentError{
				Kind:       ErrInsufficientStock,
				ProductIDs: []string{d.productID},
				Reason: fmt.Sprintf(
					"not enough stock for product %s: requested %d, available %d",
					p.Name, d.quantity, p.StockQuantity,
				),
			})
		}
	}

	details := buildOrder(userID, requested, products)
	span.SetAttributes(attribute.String("order.id", details.Order.ID))

	if s.tx != nil {
		err = s.tx.InTx(ctx, func(ctx context.Context) error {
			return s.persist(ctx, details, demand)
		})
	} else {
		err = s.persistWithCompensation(ctx, details, demand)
	}

	if err != nil {
		return nil, s.reportFailure(ctx, span, details.Order.ID, err)
	}

	if s.listener != nil {
		s.listener.StockChanged(ctx, ids...)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order placed",
		zap.String("order_id", details.Order.ID),
		zap.String("user_id", userID),
		zap.String("total_amount", details.Order.TotalAmount.String()),
		zap.Int("lines", len(details.Lines)),
	)

	return details, nil
}

// persist runs inside a transaction: any error rolls every write back.
func (s *orderService) persist(ctx context.Context, details *domain.OrderDetails, demand []productDemand) error {
	if err := s.orders.CreateOrder(ctx, &details.Order, details.Lines); err != nil {
		return storeUnavailable("create order", err)
	}

	for _, d := range lockOrder(demand) {
		if err := s.catalog.DecrementStock(ctx, d.productID, d.quantity, d.version); err != nil {
			return classifyDecrementError(d.productID, err)
		}
	}

	if err := s.orders.MarkOrderCompleted(ctx, details.Order.ID); err != nil {
		return storeUnavailable("complete order", err)
	}

	details.Order.Status = domain.OrderStatusCompleted

	if s.events == nil {
		return nil
	}

	event, err := orderPlacedEvent(s.eventsTopic, details)
	if err != nil {
		return storeUnavailable("build order event", err)
	}

	if err := s.events.SaveOutboxEvent(ctx, event); err != nil {
		return storeUnavailable("save order event", err)
	}

	return nil
}

// persistWithCompensation is used for stores without transactions. Every
// applied step is undone when a later one fails.
func (s *orderService) persistWithCompensation(ctx context.Context, details *domain.OrderDetails, demand []productDemand) error {
	if err := s.orders.CreateOrder(ctx, &details.Order, details.Lines); err != nil {
		return withCompensation(
			storeUnavailable("create order", err),
			s.compensate(ctx, details.Order.ID, nil),
		)
	}

	applied := make([]productDemand, 0, len(demand))
	for _, d := range lockOrder(demand) {
		if err := s.catalog.DecrementStock(ctx, d.productID, d.quantity, d.version); err != nil {
			return withCompensation(
				classifyDecrementError(d.productID, err),
				s.compensate(ctx, details.Order.ID, applied),
			)
		}

		applied = append(applied, d)
	}

	if err := s.verifyPersisted(ctx, details); err != nil {
		return withCompensation(err, s.compensate(ctx, details.Order.ID, applied))
	}

	if err := s.orders.MarkOrderCompleted(ctx, details.Order.ID); err != nil {
		return withCompensation(
			storeUnavailable("complete order", err),
			s.compensate(ctx, details.Order.ID, applied),
		)
	}

	details.Order.Status = domain.OrderStatusCompleted

	return nil
}

// verifyPersisted checks that every line of the order reached the store.
func (s *orderService) verifyPersisted(ctx context.Context, details *domain.OrderDetails) error {
	lines, err := s.orders.FindLinesByOrderID(ctx, details.Order.ID)
	if err != nil {
		return storeUnavailable("verify order lines", err)
	}

	if len(lines) != len(details.Lines) {
		return storeUnavailable(
			"verify order lines",
			fmt.Errorf("order %s has %d of %d lines stored", details.Order.ID, len(lines), len(details.Lines)),
		)
	}

	return nil
}

// compensate restores applied decrements and removes the partial order. It
// keeps going after a failed step and reports every failure.
func (s *orderService) compensate(ctx context.Context, orderID string, applied []productDemand) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, d := range applied {
		if err := s.catalog.RestoreStock(ctx, d.productID, d.quantity); err != nil {
			errs = append(errs, fmt.Errorf("restore stock of product %s: %w", d.productID, err))
		}
	}

	if err := s.orders.DeleteOrder(ctx, orderID); err != nil {
		errs = append(errs, fmt.Errorf("delete order %s: %w", orderID, err))
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		mylogger.Error(ctx, s.logger, "Order compensation incomplete", zap.String("order_id", orderID), zap.Error(err))

		return err
	}

	mylogger.Warn(
		ctx,
		s.logger,
		"Order attempt rolled back",
		zap.String("order_id", orderID),
		zap.Int("restored_products", len(applied)),
	)

	return nil
}

func withCompensation(cause error, compensationErr error) error {
	if compensationErr == nil {
		return cause
	}

	return &FulfillmentError{
		Kind:       ErrStoreUnavailable,
		ProductIDs: OffendingProducts(cause),
		Reason:     "compensation incomplete",
		Cause:      cause,
		Err:        compensationErr,
	}
}

func classifyDecrementError(productID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return &FulfillmentError{Kind: ErrConcurrentModification, ProductIDs: []string{productID}, Err: err}
	case errors.Is(err, repository.ErrInsufficientStock):
		return &FulfillmentError{Kind: ErrInsufficientStock, ProductIDs: []string{productID}, Err: err}
	case errors.Is(err, repository.ErrProductNotFound):
		return &FulfillmentError{Kind: ErrProductNotFound, ProductIDs: []string{productID}, Err: err}
	default:
		return &FulfillmentError{
			Kind:       ErrStoreUnavailable,
			ProductIDs: []string{productID},
			Reason:     "decrement stock",
			Err:        err,
		}
	}
}

func (s *orderService) reportFailure(ctx context.Context, span trace.Span, orderID string, err error) error {
	var fe *FulfillmentError
	if !errors.As(err, &fe) {
		err = storeUnavailable("place order", err)
	}

	span.RecordError(err)

	fields := []zap.Field{
		zap.Strings("product_ids", OffendingProducts(err)),
		zap.Error(err),
	}
	if orderID != "" {
		fields = append(fields, zap.String("order_id", orderID))
	}

	if errors.Is(err, ErrStoreUnavailable) {
		mylogger.Error(ctx, s.logger, "Order placement failed", fields...)
	} else {
		mylogger.Warn(ctx, s.logger, "Order rejected", fields...)
	}

	return err
}

func (s *orderService) GetOrderDetails(ctx context.Context, orderID string) (*domain.OrderDetails, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrderDetails")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.orders.FindOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, nil
		}

		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to load order", zap.String("order_id", orderID), zap.Error(err))

		return nil, storeUnavailable("load order", err)
	}

	// A pending order is an attempt still in flight or being rolled back.
	if order.Status != domain.OrderStatusCompleted {
		return nil, nil
	}

	lines, err := s.orders.FindLinesByOrderID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to load order lines", zap.String("order_id", orderID), zap.Error(err))

		return nil, storeUnavailable("load order lines", err)
	}

	return &domain.OrderDetails{Order: *order, Lines: lines}, nil
}

func validateOrderRequest(userID string, lines []domain.LineRequest) error {
	if strings.TrimSpace(userID) == "" {
		return invalidRequest("user id is required")
	}

	if len(lines) == 0 {
		return invalidRequest("order must contain at least one line")
	}

	for i, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return invalidRequest(fmt.Sprintf("line %d: product id is required", i))
		}

		if line.Quantity <= 0 {
			return invalidRequest(fmt.Sprintf("line %d: quantity must be positive", i), line.ProductID)
		}
	}

	return nil
}

// distinctProductIDs keeps the first-appearance order of the request.
func distinctProductIDs(lines []domain.LineRequest) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))

	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}

		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}

	return ids
}

func missingProductIDs(ids []string, found map[string]domain.Product) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}

	return missing
}

// aggregateDemand sums quantities per product so that repeated lines for the
// same product are checked and decremented once, against their total.
func aggregateDemand(ids []string, lines []domain.LineRequest, products map[string]domain.Product) ([]productDemand, error) {
	totals := make(map[string]int64, len(ids))
	for _, line := range lines {
		if totals[line.ProductID] > math.MaxInt64-line.Quantity {
			return nil, invalidRequest("requested quantity is too large", line.ProductID)
		}

		totals[line.ProductID] += line.Quantity
	}

	demand := make([]productDemand, 0, len(ids))
	for _, id := range ids {
		demand = append(demand, productDemand{
			productID: id,
			quantity:  totals[id],
			version:   products[id].Version,
		})
	}

	return demand, nil
}

// lockOrder sorts by product id so concurrent orders touch rows in the same
// sequence.
func lockOrder(demand []productDemand) []productDemand {
	sorted := make([]productDemand, len(demand))
	copy(sorted, demand)

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].productID < sorted[j].productID
	})

	return sorted
}

func buildOrder(userID string, requested []domain.LineRequest, products map[string]domain.Product) *domain.OrderDetails {
	orderID := uuid.NewString()

	details := &domain.OrderDetails{
		Order: domain.Order{
			ID:     orderID,
			UserID: userID,
			Status: domain.OrderStatusPending,
		},
		Lines: make([]domain.OrderLine, 0, len(requested)),
	}

	for i, line := range requested {
		details.Lines = append(details.Lines, domain.OrderLine{
			ID:           uuid.NewString(),
			OrderID:      orderID,
			ProductID:    line.ProductID,
			Position:     i,
			Quantity:     line.Quantity,
			PricePerItem: products[line.ProductID].Price,
		})
	}

	details.CalculateTotal()

	return details
}

func orderPlacedEvent(topic string, details *domain.OrderDetails) (*outbox.Event, error) {
	lines := make([]domain.OrderPlacedLine, 0, len(details.Lines))
	for _, line := range details.Lines {
		lines = append(lines, domain.OrderPlacedLine{
			ProductID:    line.ProductID,
			Quantity:     line.Quantity,
			PricePerItem: line.PricePerItem,
		})
	}

	placedAt := details.Order.CreatedAt
	if placedAt.IsZero() {
		placedAt = time.Now().UTC()
	}

	return outbox.NewEvent(topic, "Order", details.Order.ID, domain.EventOrderPlaced, domain.OrderPlacedEvent{
		OrderID:     details.Order.ID,
		UserID:      details.Order.UserID,
		TotalAmount: details.Order.TotalAmount,
		Lines:       lines,
		PlacedAt:    placedAt,
	})
}
