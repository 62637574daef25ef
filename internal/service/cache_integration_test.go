package service_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/sakashimaa/storefront/internal/db"
	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/repository"
	"github.com/sakashimaa/storefront/internal/service"
	"github.com/sakashimaa/storefront/internal/testsuite"
)

type CachedCatalogSuite struct {
	testsuite.BaseSuite

	catalog *service.CachedCatalogService
	engine  service.OrderService
}

func (s *CachedCatalogSuite) SetupSuite() {
	s.BaseSuite.SetupInfrastructure(testsuite.WithRedis())
}

func (s *CachedCatalogSuite) TearDownSuite() {
	s.BaseSuite.TearDownInfrastructure()
}

func (s *CachedCatalogSuite) SetupTest() {
	s.TruncateTable("products")
	s.TruncateTable("orders")
	s.Require().NoError(s.Redis.FlushAll(s.Ctx).Err())

	logger := zap.NewNop()
	txRunner := db.NewTxRunner(s.DbPool, logger)
	products := repository.NewProductRepository(s.DbPool, logger)

	s.catalog = service.NewCachedCatalogService(
		service.NewCatalogService(products, txRunner, nil, "", logger),
		s.Redis,
		time.Minute,
		logger,
	)
	s.engine = service.NewOrderService(
		products,
		repository.NewOrderRepository(s.DbPool, logger),
		logger,
		service.WithTransactions(txRunner),
		service.WithStockListener(s.catalog),
	)
}

func TestCachedCatalogSuite(t *testing.T) {
	suite.Run(t, new(CachedCatalogSuite))
}

func (s *CachedCatalogSuite) cached(id string) bool {
	n, err := s.Redis.Exists(s.Ctx, "product:"+id).Result()
	s.Require().NoError(err)
	return n == 1
}

func (s *CachedCatalogSuite) TestCompletedOrderInvalidatesCache() {
	product, err := s.catalog.RegisterProduct(s.Ctx, domain.NewProductInput{
		Name:          "Espresso cup",
		Price:         decimal.RequireFromString("6.25"),
		StockQuantity: 4,
	})
	s.Require().NoError(err)

	_, err = s.catalog.GetProduct(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.True(s.cached(product.ID))

	_, err = s.engine.PlaceOrder(s.Ctx, "user-1", []domain.LineRequest{{ProductID: product.ID, Quantity: 3}})
	s.Require().NoError(err)
	s.False(s.cached(product.ID))

	got, err := s.catalog.GetProduct(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), got.StockQuantity)
	s.True(got.Price.Equal(decimal.RequireFromString("6.25")))
}

func (s *CachedCatalogSuite) TestRestockInvalidatesCache() {
	product, err := s.catalog.RegisterProduct(s.Ctx, domain.NewProductInput{
		Name:          "Saucer",
		Price:         decimal.RequireFromString("2"),
		StockQuantity: 0,
	})
	s.Require().NoError(err)

	_, err = s.catalog.GetProduct(s.Ctx, product.ID)
	s.Require().NoError(err)

	s.Require().NoError(s.catalog.Restock(s.Ctx, product.ID, 5))
	s.False(s.cached(product.ID))

	got, err := s.catalog.GetProduct(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Equal(int64(5), got.StockQuantity)
}
