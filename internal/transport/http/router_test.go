package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/repository/memory"
	"github.com/sakashimaa/storefront/internal/service"
	"github.com/sakashimaa/storefront/internal/transport/http/handler"
)

type stubOrders struct {
	place func(ctx context.Context) (*domain.OrderDetails, error)
}

func (s stubOrders) PlaceOrder(ctx context.Context, _ string, _ []domain.LineRequest) (*domain.OrderDetails, error) {
	return s.place(ctx)
}

func (s stubOrders) GetOrderDetails(context.Context, string) (*domain.OrderDetails, error) {
	return nil, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error {
	return errors.New("connection refused")
}

type testApp struct {
	app     *fiber.App
	catalog *memory.Catalog
}

func newTestApp(t *testing.T, orders service.OrderService) *testApp {
	t.Helper()

	logger := zap.NewNop()
	catalog := memory.NewCatalog()

	if orders == nil {
		orders = service.NewOrderService(catalog, memory.NewOrders(), logger)
	}

	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	RegisterRoutes(app, &Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Order:   handler.NewOrderHandler(orders, time.Second, logger),
		Product: handler.NewProductHandler(service.NewCatalogService(catalog, nil, nil, "", logger), time.Second, logger),
		User:    handler.NewUserHandler(service.NewUserService(memory.NewUsers(), logger), time.Second, logger),
	})

	return &testApp{app: app, catalog: catalog}
}

func (a *testApp) seed(t *testing.T, id string, price string, stock int64) {
	t.Helper()

	err := a.catalog.Create(context.Background(), &domain.Product{
		ID:            id,
		Name:          "Product " + id,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	})
	require.NoError(t, err)
}

func (a *testApp) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func orderBody(userID string, items ...handler.OrderItemInput) handler.CreateOrderInput {
	return handler.CreateOrderInput{UserID: userID, Items: items}
}

func TestOrders_PlaceAndFetch(t *testing.T) {
	a := newTestApp(t, nil)
	a.seed(t, "p1", "19.99", 10)
	a.seed(t, "p2", "5.00", 3)

	var placed domain.OrderDetails
	status := a.do(t, fiber.MethodPost, "/api/orders", orderBody("u1",
		handler.OrderItemInput{ProductID: "p1", Quantity: 2},
		handler.OrderItemInput{ProductID: "p2", Quantity: 1},
	), &placed)

	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, domain.OrderStatusCompleted, placed.Order.Status)
	assert.True(t, decimal.RequireFromString("44.98").Equal(placed.Order.TotalAmount))
	require.Len(t, placed.Lines, 2)

	var fetched domain.OrderDetails
	status = a.do(t, fiber.MethodGet, "/api/orders/"+placed.Order.ID, nil, &fetched)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, placed.Order.ID, fetched.Order.ID)

	p1, err := a.catalog.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), p1.StockQuantity)
}

func TestOrders_RejectionsMapToStatus(t *testing.T) {
	a := newTestApp(t, nil)
	a.seed(t, "p1", "1.00", 1)

	var body handler.ErrorResponse

	status := a.do(t, fiber.MethodPost, "/api/orders", orderBody("u1",
		handler.OrderItemInput{ProductID: "p1", Quantity: 2},
	), &body)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, []string{"p1"}, body.ProductIDs)
	assert.Equal(t, "/api/orders", body.Path)

	body = handler.ErrorResponse{}
	status = a.do(t, fiber.MethodPost, "/api/orders", orderBody("u1",
		handler.OrderItemInput{ProductID: "ghost", Quantity: 1},
	), &body)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, []string{"ghost"}, body.ProductIDs)

	status = a.do(t, fiber.MethodPost, "/api/orders", orderBody("u1"), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status = a.do(t, fiber.MethodPost, "/api/orders", orderBody("u1",
		handler.OrderItemInput{ProductID: "p1", Quantity: 0},
	), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status = a.do(t, fiber.MethodGet, "/api/orders/missing", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestOrders_ConcurrentModificationIsConflict(t *testing.T) {
	a := newTestApp(t, stubOrders{place: func(context.Context) (*domain.OrderDetails, error) {
		return nil, &service.FulfillmentError{Kind: service.ErrConcurrentModification, ProductIDs: []string{"p1"}}
	}})

	var body handler.ErrorResponse
	status := a.do(t, fiber.MethodPost, "/api/orders", orderBody("u1",
		handler.OrderItemInput{ProductID: "p1", Quantity: 1},
	), &body)

	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "High demand for this item. Please try again.", body.Message)
}

func TestOrders_TimeoutReportsUnknownOutcome(t *testing.T) {
	logger := zap.NewNop()
	orders := stubOrders{place: func(ctx context.Context) (*domain.OrderDetails, error) {
		<-ctx.Done()
		return nil, &service.FulfillmentError{Kind: service.ErrStoreUnavailable, Err: fmt.Errorf("decrement: %w", ctx.Err())}
	}}

	app := fiber.New()
	app.Post("/api/orders", handler.NewOrderHandler(orders, 20*time.Millisecond, logger).Create)

	raw, err := json.Marshal(orderBody("u1", handler.OrderItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodPost, "/api/orders", bytes.NewReader(raw))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusGatewayTimeout, resp.StatusCode)
}

func TestOrders_StoreUnavailable(t *testing.T) {
	a := newTestApp(t, stubOrders{place: func(context.Context) (*domain.OrderDetails, error) {
		return nil, &service.FulfillmentError{Kind: service.ErrStoreUnavailable, Err: errors.New("connection reset")}
	}})

	status := a.do(t, fiber.MethodPost, "/api/orders", orderBody("u1",
		handler.OrderItemInput{ProductID: "p1", Quantity: 1},
	), nil)

	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}

func TestOrders_IncompleteCompensationIsUnavailable(t *testing.T) {
	causes := []error{
		&service.FulfillmentError{Kind: service.ErrConcurrentModification, ProductIDs: []string{"p1"}},
		&service.FulfillmentError{Kind: service.ErrInsufficientStock, ProductIDs: []string{"p1"}},
	}

	for _, cause := range causes {
		t.Run(cause.Error(), func(t *testing.T) {
			a := newTestApp(t, stubOrders{place: func(context.Context) (*domain.OrderDetails, error) {
				return nil, errors.Join(&service.FulfillmentError{
					Kind:       service.ErrStoreUnavailable,
					ProductIDs: []string{"p1"},
					Reason:     "compensation incomplete",
					Cause:      cause,
					Err:        errors.New("restore failed"),
				}, cause)
			}})

			var body handler.ErrorResponse
			status := a.do(t, fiber.MethodPost, "/api/orders", orderBody("u1",
				handler.OrderItemInput{ProductID: "p1", Quantity: 1},
			), &body)

			assert.Equal(t, fiber.StatusServiceUnavailable, status)
			assert.NotEqual(t, "High demand for this item. Please try again.", body.Message)
		})
	}
}

func TestProducts_CreateListUpdate(t *testing.T) {
	a := newTestApp(t, nil)

	var created domain.Product
	status := a.do(t, fiber.MethodPost, "/api/products", map[string]any{
		"name":           "Teapot",
		"price":          "12.50",
		"stock_quantity": 4,
	}, &created)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, int64(0), created.Version)

	status = a.do(t, fiber.MethodPost, "/api/products", map[string]any{
		"name":  "Teapot",
		"price": "1",
	}, nil)
	assert.Equal(t, fiber.StatusConflict, status)

	var list handler.ListProductsResponse
	status = a.do(t, fiber.MethodGet, "/api/products?search=tea", nil, &list)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, int64(1), list.TotalCount)

	var updated domain.Product
	status = a.do(t, fiber.MethodPatch, "/api/products/"+created.ID, map[string]any{
		"version": 0,
		"price":   "14.00",
	}, &updated)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, int64(1), updated.Version)
	assert.True(t, decimal.RequireFromString("14").Equal(updated.Price))

	status = a.do(t, fiber.MethodPatch, "/api/products/"+created.ID, map[string]any{
		"version": 0,
		"price":   "15.00",
	}, nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status = a.do(t, fiber.MethodPatch, "/api/products/"+created.ID, map[string]any{
		"price": "15.00",
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status = a.do(t, fiber.MethodGet, "/api/products/missing", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestUsers_Lifecycle(t *testing.T) {
	a := newTestApp(t, nil)

	register := map[string]any{
		"email":     "Ada@Example.com",
		"password":  "analytical1",
		"full_name": "Ada Lovelace",
	}

	var user domain.User
	status := a.do(t, fiber.MethodPost, "/api/users/register", register, &user)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "ada@example.com", user.Email)

	status = a.do(t, fiber.MethodPost, "/api/users/register", register, nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status = a.do(t, fiber.MethodPost, "/api/users/register", map[string]any{
		"email":     "bad",
		"password":  "analytical1",
		"full_name": "X",
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	var found domain.User
	status = a.do(t, fiber.MethodGet, "/api/users/by-email?email=ada@example.com", nil, &found)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, user.ID, found.ID)

	var matches []domain.User
	status = a.do(t, fiber.MethodGet, "/api/users/search?name=love", nil, &matches)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, matches, 1)

	var everyone []domain.User
	status = a.do(t, fiber.MethodGet, "/api/users", nil, &everyone)
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, everyone, 1)
	assert.Equal(t, user.ID, everyone[0].ID)

	status = a.do(t, fiber.MethodPost, "/api/users/register", map[string]any{
		"email":     "long@example.com",
		"password":  strings.Repeat("é1", 25),
		"full_name": "Long Password",
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	var renamed domain.User
	status = a.do(t, fiber.MethodPut, "/api/users/"+user.ID, map[string]any{"full_name": "Countess Lovelace"}, &renamed)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Countess Lovelace", renamed.FullName)

	status = a.do(t, fiber.MethodDelete, "/api/users/"+user.ID, nil, nil)
	assert.Equal(t, fiber.StatusNoContent, status)

	status = a.do(t, fiber.MethodGet, "/api/users/"+user.ID, nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, nil)
	assert.Equal(t, fiber.StatusOK, a.do(t, fiber.MethodGet, "/health", nil, nil))

	app := fiber.New()
	app.Get("/health", handler.NewHealthHandler(failingPinger{}, zap.NewNop()).Check)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestUnknownRouteUsesErrorBody(t *testing.T) {
	a := newTestApp(t, nil)

	var body handler.ErrorResponse
	status := a.do(t, fiber.MethodGet, "/api/nope", nil, &body)

	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, fiber.StatusNotFound, body.Status)
	assert.Equal(t, "Not Found", body.Error)
	assert.Equal(t, "/api/nope", body.Path)
}
