// Package memory holds mutex-guarded map implementations of the stores.
// They have no transactions, so the order engine runs its compensation path
// against them.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/repository"
)

type Catalog struct {
	mu sync.RWMutex
	m  map[string]domain.Product
}

func NewCatalog() *Catalog {
	return &Catalog{m: make(map[string]domain.Product)}
}

func (c *Catalog) Create(_ context.Context, product *domain.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.m {
		if p.Name == product.Name {
			return repository.ErrProductAlreadyExists
		}
	}

	now := time.Now().UTC()
	product.Version = 0
	product.CreatedAt = now
	product.UpdatedAt = now
	c.m[product.ID] = *product

	return nil
}

func (c *Catalog) GetByID(_ context.Context, id string) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.m[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}

	return &p, nil
}

func (c *Catalog) FindProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.m[id]; ok {
			res[id] = p
		}
	}

	return res, nil
}

func (c *Catalog) List(_ context.Context, limit, offset int64, search string) ([]domain.Product, int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	needle := strings.ToLower(search)

	matched := make([]domain.Product, 0, len(c.m))
	for _, p := range c.m {
		if needle == "" || strings.Contains(strings.ToLower(p.Name), needle) {
			matched = append(matched, p)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	if offset >= total {
		return []domain.Product{}, total, nil
	}

	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	return matched[offset:end], total, nil
}

func (c *Catalog) Update(_ context.Context, id string, expectedVersion int64, input *domain.UpdateProductInput) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.m[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}

	if p.Version != expectedVersion {
		return nil, repository.ErrVersionConflict
	}

	if input.Name != nil {
		for otherID, other := range c.m {
			if otherID != id && other.Name == *input.Name {
				return nil, repository.ErrProductAlreadyExists
			}
		}
		p.Name = *input.Name
	}
	if input.Description != nil {
		p.Description = input.Description
	}
	if input.Price != nil {
		p.Price = *input.Price
	}
	if input.StockQuantity != nil {
		p.StockQuantity = *input.StockQuantity
	}

	p.Version++
	p.UpdatedAt = time.Now().UTC()
	c.m[id] = p

	return &p, nil
}

func (c *Catalog) DecrementStock(_ context.Context, id string, amount, expectedVersion int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.m[id]
	if !ok {
		return repository.ErrProductNotFound
	}

	if p.Version != expectedVersion {
		return repository.ErrVersionConflict
	}

	if p.StockQuantity < amount {
		return repository.ErrInsufficientStock
	}

	p.StockQuantity -= amount
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	c.m[id] = p

	return nil
}

func (c *Catalog) RestoreStock(_ context.Context, id string, amount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.m[id]
	if !ok {
		return repository.ErrProductNotFound
	}

	if amount > math.MaxInt64-p.StockQuantity {
		return repository.ErrStockOverflow
	}

	p.StockQuantity += amount
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	c.m[id] = p

	return nil
}
