package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/mylogger"
	"go.uber.org/zap"
)

// CachedCatalogService serves GetProduct from Redis and drops entries whenever
// the product changes. It also listens to order stock changes.
type CachedCatalogService struct {
	next        CatalogService
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
}

var (
	_ CatalogService = (*CachedCatalogService)(nil)
	_ StockListener  = (*CachedCatalogService)(nil)
)

func NewCachedCatalogService(next CatalogService, redisClient *redis.Client, cacheTTL time.Duration, logger *zap.Logger) *CachedCatalogService {
	return &CachedCatalogService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

func productKey(id string) string {
	return "product:" + id
}

func (s *CachedCatalogService) RegisterProduct(ctx context.Context, input domain.NewProductInput) (*domain.Product, error) {
	return s.next.RegisterProduct(ctx, input)
}

func (s *CachedCatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	key := productKey(id)

	val, err := s.redisClient.Get(ctx, key).Bytes()
	if err == nil {
		var product domain.Product
		if err := json.Unmarshal(val, &product); err == nil {
			return &product, nil
		}
	}

	product, err := s.next.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(product); err == nil {
		if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			mylogger.Warn(ctx, s.logger, "Failed to cache product", zap.String("product_id", id), zap.Error(err))
		}
	}

	return product, nil
}

func (s *CachedCatalogService) ListProducts(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error) {
	return s.next.ListProducts(ctx, limit, offset, search)
}

func (s *CachedCatalogService) UpdateProduct(ctx context.Context, id string, expectedVersion int64, input *domain.UpdateProductInput) (*domain.Product, error) {
	res, err := s.next.UpdateProduct(ctx, id, expectedVersion, input)
	if err != nil {
		return nil, err
	}

	s.StockChanged(ctx, id)
	return res, nil
}

func (s *CachedCatalogService) Restock(ctx context.Context, id string, quantity int64) error {
	if err := s.next.Restock(ctx, id, quantity); err != nil {
		return err
	}

	s.StockChanged(ctx, id)
	return nil
}

func (s *CachedCatalogService) StockChanged(ctx context.Context, productIDs ...string) {
	if len(productIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, productKey(id))
	}

	if err := s.redisClient.Del(context.WithoutCancel(ctx), keys...).Err(); err != nil {
		mylogger.Warn(ctx, s.logger, "Failed to invalidate cached products", zap.Strings("product_ids", productIDs), zap.Error(err))
	}
}
