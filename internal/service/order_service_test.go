package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/outbox"
	"github.com/sakashimaa/storefront/internal/repository"
	"github.com/sakashimaa/storefront/internal/repository/memory"
)

type flakyCatalog struct {
	*memory.Catalog

	findErr         error
	beforeDecrement func(ctx context.Context, id string) error
	restoreErr      error
}

func (c *flakyCatalog) FindProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if c.findErr != nil {
		return nil, c.findErr
	}

	return c.Catalog.FindProductsByIDs(ctx, ids)
}

func (c *flakyCatalog) DecrementStock(ctx context.Context, id string, amount, expectedVersion int64) error {
	if c.beforeDecrement != nil {
		if err := c.beforeDecrement(ctx, id); err != nil {
			return err
		}
	}

	return c.Catalog.DecrementStock(ctx, id, amount, expectedVersion)
}

func (c *flakyCatalog) RestoreStock(ctx context.Context, id string, amount int64) error {
	if c.restoreErr != nil {
		return c.restoreErr
	}

	return c.Catalog.RestoreStock(ctx, id, amount)
}

type flakyOrders struct {
	*memory.Orders

	createErr   error
	completeErr error
	dropLine    bool
}

func (o *flakyOrders) CreateOrder(ctx context.Context, order *domain.Order, lines []domain.OrderLine) error {
	if o.createErr != nil {
		return o.createErr
	}

	if o.dropLine {
		lines = lines[:len(lines)-1]
	}

	return o.Orders.CreateOrder(ctx, order, lines)
}

func (o *flakyOrders) MarkOrderCompleted(ctx context.Context, orderID string) error {
	if o.completeErr != nil {
		return o.completeErr
	}

	return o.Orders.MarkOrderCompleted(ctx, orderID)
}

type passThroughTx struct {
	calls int
}

func (t *passThroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type recordingOutbox struct {
	events []*outbox.Event
}

func (o *recordingOutbox) SaveOutboxEvent(_ context.Context, event *outbox.Event) error {
	o.events = append(o.events, event)
	return nil
}

type recordingListener struct {
	changed []string
}

func (l *recordingListener) StockChanged(_ context.Context, productIDs ...string) {
	l.changed = append(l.changed, productIDs...)
}

type OrderServiceSuite struct {
	suite.Suite

	ctx     context.Context
	catalog *flakyCatalog
	orders  *flakyOrders
	svc     OrderService
}

func (s *OrderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.catalog = &flakyCatalog{Catalog: memory.NewCatalog()}
	s.orders = &flakyOrders{Orders: memory.NewOrders()}
	s.svc = NewOrderService(s.catalog, s.orders, zap.NewNop())
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func (s *OrderServiceSuite) seedProduct(id, price string, stock int64) {
	err := s.catalog.Create(s.ctx, &domain.Product{
		ID:            id,
		Name:          "Product " + id,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	})
	s.Require().NoError(err)
}

func (s *OrderServiceSuite) product(id string) *domain.Product {
	p, err := s.catalog.GetByID(s.ctx, id)
	s.Require().NoError(err)

	return p
}

func (s *OrderServiceSuite) TestPlaceOrder_Success() {
	s.seedProduct("a", "10.00", 5)
	s.seedProduct("b", "5.50", 2)

	details, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "a", Quantity: 3},
		{ProductID: "b", Quantity: 1},
	})
	s.Require().NoError(err)
	s.Require().NotNil(details)

	s.Require().NotEmpty(details.Order.ID)
	s.Require().Equal("user-1", details.Order.UserID)
	s.Require().Equal(domain.OrderStatusCompleted, details.Order.Status)
	s.Require().True(decimal.RequireFromString("35.50").Equal(details.Order.TotalAmount), details.Order.TotalAmount.String())

	s.Require().Len(details.Lines, 2)
	s.Require().Equal("a", details.Lines[0].ProductID)
	s.Require().Equal(int64(3), details.Lines[0].Quantity)
	s.Require().True(decimal.RequireFromString("10.00").Equal(details.Lines[0].PricePerItem))
	s.Require().Equal("b", details.Lines[1].ProductID)
	s.Require().True(decimal.RequireFromString("5.50").Equal(details.Lines[1].PricePerItem))

	a := s.product("a")
	s.Require().Equal(int64(2), a.StockQuantity)
	s.Require().Equal(int64(1), a.Version)

	b := s.product("b")
	s.Require().Equal(int64(1), b.StockQuantity)
	s.Require().Equal(int64(1), b.Version)
}

func (s *OrderServiceSuite) TestPlaceOrder_ExactStockReachesZero() {
	s.seedProduct("a", "1.99", 4)

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{{ProductID: "a", Quantity: 4}})
	s.Require().NoError(err)
	s.Require().Equal(int64(0), s.product("a").StockQuantity)

	_, err = s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{{ProductID: "a", Quantity: 1}})
	s.Require().ErrorIs(err, ErrInsufficientStock)
}

func (s *OrderServiceSuite) TestPlaceOrder_InvalidRequests() {
	s.seedProduct("a", "1.00", 5)

	cases := map[string]struct {
		userID string
		lines  []domain.LineRequest
	}{
		"no lines":          {userID: "u", lines: nil},
		"zero quantity":     {userID: "u", lines: []domain.LineRequest{{ProductID: "a", Quantity: 0}}},
		"negative quantity": {userID: "u", lines: []domain.LineRequest{{ProductID: "a", Quantity: -2}}},
		"blank product id":  {userID: "u", lines: []domain.LineRequest{{ProductID: " ", Quantity: 1}}},
		"blank user id":     {userID: "", lines: []domain.LineRequest{{ProductID: "a", Quantity: 1}}},
	}

	for name, tc := range cases {
		s.Run(name, func() {
			details, err := s.svc.PlaceOrder(s.ctx, tc.userID, tc.lines)
			s.Require().ErrorIs(err, ErrInvalidRequest)
			s.Require().Nil(details)
		})
	}

	s.Require().Equal(0, s.orders.Count())
	s.Require().Equal(int64(5), s.product("a").StockQuantity)
	s.Require().Equal(int64(0), s.product("a").Version)
}

func (s *OrderServiceSuite) TestPlaceOrder_MissingProductsListedInRequestOrder() {
	s.seedProduct("a", "1.00", 5)

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "a", Quantity: 1},
		{ProductID: "x", Quantity: 1},
		{ProductID: "y", Quantity: 1},
		{ProductID: "x", Quantity: 2},
	})
	s.Require().ErrorIs(err, ErrProductNotFound)
	s.Require().Equal([]string{"x", "y"}, OffendingProducts(err))

	var fe *FulfillmentError
	s.Require().True(errors.As(err, &fe))
	s.Require().Contains(fe.Error(), "x, y")

	s.Require().Equal(0, s.orders.Count())
	s.Require().Equal(int64(5), s.product("a").StockQuantity)
}

func (s *OrderServiceSuite) TestPlaceOrder_InsufficientStockNamesProduct() {
	s.seedProduct("a", "1.00", 5)
	s.seedProduct("b", "1.00", 1)

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 2},
	})
	s.Require().ErrorIs(err, ErrInsufficientStock)
	s.Require().Equal([]string{"b"}, OffendingProducts(err))
	s.Require().Contains(err.Error(), "Product b")

	s.Require().Equal(0, s.orders.Count())
	s.Require().Equal(int64(5), s.product("a").StockQuantity)
	s.Require().Equal(int64(0), s.product("a").Version)
}

func (s *OrderServiceSuite) TestPlaceOrder_DuplicateLinesAreSummed() {
	s.seedProduct("a", "2.00", 5)

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "a", Quantity: 3},
		{ProductID: "a", Quantity: 3},
	})
	s.Require().ErrorIs(err, ErrInsufficientStock)
	s.Require().Equal(int64(5), s.product("a").StockQuantity)

	details, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "a", Quantity: 2},
		{ProductID: "a", Quantity: 3},
	})
	s.Require().NoError(err)
	s.Require().Len(details.Lines, 2)
	s.Require().True(decimal.RequireFromString("10.00").Equal(details.Order.TotalAmount))

	a := s.product("a")
	s.Require().Equal(int64(0), a.StockQuantity)
	s.Require().Equal(int64(1), a.Version)
}

func (s *OrderServiceSuite) TestPlaceOrder_PriceSnapshotSurvivesCatalogEdit() {
	s.seedProduct("a", "10.00", 5)

	details, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{{ProductID: "a", Quantity: 2}})
	s.Require().NoError(err)

	newPrice := decimal.RequireFromString("99.99")
	_, err = s.catalog.Update(s.ctx, "a", s.product("a").Version, &domain.UpdateProductInput{Price: &newPrice})
	s.Require().NoError(err)

	stored, err := s.svc.GetOrderDetails(s.ctx, details.Order.ID)
	s.Require().NoError(err)
	s.Require().True(decimal.RequireFromString("10.00").Equal(stored.Lines[0].PricePerItem))
	s.Require().True(decimal.RequireFromString("20.00").Equal(stored.Order.TotalAmount))
}

func (s *OrderServiceSuite) TestPlaceOrder_VersionRaceFailsWholeOrder() {
	s.seedProduct("a", "1.00", 10)
	s.seedProduct("b", "1.00", 10)

	raced := false
	s.catalog.beforeDecrement = func(ctx context.Context, id string) error {
		if id == "b" && !raced {
			raced = true
			return s.catalog.Catalog.DecrementStock(ctx, "b", 1, s.product("b").Version)
		}
		return nil
	}

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "b", Quantity: 2},
		{ProductID: "a", Quantity: 2},
	})
	s.Require().ErrorIs(err, ErrConcurrentModification)
	s.Require().Equal([]string{"b"}, OffendingProducts(err))

	s.Require().Equal(0, s.orders.Count())
	s.Require().Equal(int64(10), s.product("a").StockQuantity)
	s.Require().Equal(int64(9), s.product("b").StockQuantity)
}

func (s *OrderServiceSuite) TestPlaceOrder_StoreFailureMidwayIsCompensated() {
	s.seedProduct("a", "1.00", 10)
	s.seedProduct("b", "1.00", 10)

	boom := errors.New("connection reset")
	s.catalog.beforeDecrement = func(_ context.Context, id string) error {
		if id == "b" {
			return boom
		}
		return nil
	}

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "a", Quantity: 3},
		{ProductID: "b", Quantity: 3},
	})
	s.Require().ErrorIs(err, ErrStoreUnavailable)
	s.Require().ErrorIs(err, boom)

	s.Require().Equal(0, s.orders.Count())
	s.Require().Equal(int64(10), s.product("a").StockQuantity)
	s.Require().Equal(int64(10), s.product("b").StockQuantity)
}

func (s *OrderServiceSuite) TestPlaceOrder_FailedCompensationIsReported() {
	s.seedProduct("a", "1.00", 10)
	s.seedProduct("b", "1.00", 10)

	s.catalog.beforeDecrement = func(_ context.Context, id string) error {
		if id == "b" {
			return repository.ErrVersionConflict
		}
		return nil
	}
	s.catalog.restoreErr = errors.New("restore failed")

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "a", Quantity: 1},
		{ProductID: "b", Quantity: 1},
	})
	s.Require().ErrorIs(err, ErrStoreUnavailable)
	s.Require().NotErrorIs(err, ErrConcurrentModification)
	s.Require().Contains(err.Error(), "compensation incomplete")
	s.Require().Contains(err.Error(), "concurrent modification")
	s.Require().Contains(err.Error(), "restore failed")
	s.Require().Equal([]string{"b"}, OffendingProducts(err))
}

func (s *OrderServiceSuite) TestPlaceOrder_FailedCompensationHidesStockCause() {
	s.seedProduct("a", "1.00", 10)
	s.seedProduct("b", "1.00", 10)

	s.catalog.beforeDecrement = func(_ context.Context, id string) error {
		if id == "b" {
			return repository.ErrInsufficientStock
		}
		return nil
	}
	s.catalog.restoreErr = errors.New("restore failed")

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "a", Quantity: 1},
		{ProductID: "b", Quantity: 1},
	})
	s.Require().ErrorIs(err, ErrStoreUnavailable)
	s.Require().NotErrorIs(err, ErrInsufficientStock)
	s.Require().NotErrorIs(err, repository.ErrInsufficientStock)
}

func (s *OrderServiceSuite) TestPlaceOrder_LostLineIsDetected() {
	s.seedProduct("a", "1.00", 10)
	s.seedProduct("b", "1.00", 10)
	s.orders.dropLine = true

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{
		{ProductID: "a", Quantity: 1},
		{ProductID: "b", Quantity: 1},
	})
	s.Require().ErrorIs(err, ErrStoreUnavailable)

	s.Require().Equal(0, s.orders.Count())
	s.Require().Equal(int64(10), s.product("a").StockQuantity)
	s.Require().Equal(int64(10), s.product("b").StockQuantity)
}

func (s *OrderServiceSuite) TestPlaceOrder_CompletionFailureIsCompensated() {
	s.seedProduct("a", "1.00", 10)
	s.orders.completeErr = errors.New("disk full")

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{{ProductID: "a", Quantity: 4}})
	s.Require().ErrorIs(err, ErrStoreUnavailable)

	s.Require().Equal(0, s.orders.Count())
	s.Require().Equal(int64(10), s.product("a").StockQuantity)
}

func (s *OrderServiceSuite) TestPlaceOrder_CatalogUnavailable() {
	s.catalog.findErr = context.DeadlineExceeded

	_, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{{ProductID: "a", Quantity: 1}})
	s.Require().ErrorIs(err, ErrStoreUnavailable)
	s.Require().ErrorIs(err, context.DeadlineExceeded)
}

func (s *OrderServiceSuite) TestPlaceOrder_NoOversellUnderContention() {
	s.seedProduct("a", "1.00", 10)

	const buyers = 50

	var wg sync.WaitGroup
	results := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.PlaceOrder(s.ctx, "user", []domain.LineRequest{{ProductID: "a", Quantity: 1}})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int64
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}

		s.Require().True(
			errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrInsufficientStock),
			"unexpected error: %v", err,
		)
	}

	s.Require().GreaterOrEqual(succeeded, int64(1))
	s.Require().LessOrEqual(succeeded, int64(10))
	s.Require().Equal(10-succeeded, s.product("a").StockQuantity)
	s.Require().Equal(int(succeeded), s.orders.Count())
}

func (s *OrderServiceSuite) TestPlaceOrder_RetryingBuyersSellOutExactly() {
	s.seedProduct("a", "1.00", 10)

	const buyers = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	var sold int

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := s.svc.PlaceOrder(s.ctx, "user", []domain.LineRequest{{ProductID: "a", Quantity: 1}})
				if errors.Is(err, ErrConcurrentModification) {
					continue
				}
				if err == nil {
					mu.Lock()
					sold++
					mu.Unlock()
				}
				return
			}
		}()
	}
	wg.Wait()

	s.Require().Equal(10, sold)
	s.Require().Equal(int64(0), s.product("a").StockQuantity)
	s.Require().Equal(10, s.orders.Count())
}

func (s *OrderServiceSuite) TestGetOrderDetails() {
	s.seedProduct("a", "3.00", 5)

	missing, err := s.svc.GetOrderDetails(s.ctx, "does-not-exist")
	s.Require().NoError(err)
	s.Require().Nil(missing)

	placed, err := s.svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{{ProductID: "a", Quantity: 2}})
	s.Require().NoError(err)

	first, err := s.svc.GetOrderDetails(s.ctx, placed.Order.ID)
	s.Require().NoError(err)
	second, err := s.svc.GetOrderDetails(s.ctx, placed.Order.ID)
	s.Require().NoError(err)

	s.Require().Equal(first, second)
	s.Require().Equal(domain.OrderStatusCompleted, first.Order.Status)
	s.Require().Len(first.Lines, 1)
	s.Require().True(placed.Order.TotalAmount.Equal(first.Order.TotalAmount))
}

func (s *OrderServiceSuite) TestPlaceOrder_TransactionalPathRecordsEvent() {
	s.seedProduct("a", "4.25", 5)

	tx := &passThroughTx{}
	events := &recordingOutbox{}
	listener := &recordingListener{}

	svc := NewOrderService(
		s.catalog,
		s.orders,
		zap.NewNop(),
		WithTransactions(tx),
		WithOutbox(events, "order_events"),
		WithStockListener(listener),
	)

	details, err := svc.PlaceOrder(s.ctx, "user-1", []domain.LineRequest{{ProductID: "a", Quantity: 2}})
	s.Require().NoError(err)

	s.Require().Equal(1, tx.calls)
	s.Require().Equal([]string{"a"}, listener.changed)
	s.Require().Len(events.events, 1)

	event := events.events[0]
	s.Require().Equal("order_events", event.Topic)
	s.Require().Equal(domain.EventOrderPlaced, event.EventType)
	s.Require().Equal(details.Order.ID, event.AggregateID)

	var envelope domain.EventEnvelope[domain.OrderPlacedEvent]
	s.Require().NoError(json.Unmarshal(event.Payload, &envelope))
	s.Require().Equal(domain.EventOrderPlaced, envelope.Event)
	s.Require().Equal(details.Order.ID, envelope.Payload.OrderID)
	s.Require().True(decimal.RequireFromString("8.50").Equal(envelope.Payload.TotalAmount))
}
