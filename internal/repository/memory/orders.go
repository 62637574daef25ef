package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/repository"
)

type orderState struct {
	order domain.Order
	lines []domain.OrderLine
}

type Orders struct {
	mu sync.RWMutex
	m  map[string]orderState
}

func NewOrders() *Orders {
	return &Orders{m: make(map[string]orderState)}
}

func (o *Orders) CreateOrder(_ context.Context, order *domain.Order, lines []domain.OrderLine) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	order.CreatedAt = time.Now().UTC()

	stored := make([]domain.OrderLine, len(lines))
	copy(stored, lines)
	for i := range stored {
		stored[i].OrderID = order.ID
	}

	o.m[order.ID] = orderState{order: *order, lines: stored}

	return nil
}

func (o *Orders) MarkOrderCompleted(_ context.Context, orderID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.m[orderID]
	if !ok || st.order.Status != domain.OrderStatusPending {
		return repository.ErrOrderNotFound
	}

	st.order.Status = domain.OrderStatusCompleted
	o.m[orderID] = st

	return nil
}

func (o *Orders) DeleteOrder(_ context.Context, orderID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.m, orderID)

	return nil
}

func (o *Orders) FindOrderByID(_ context.Context, orderID string) (*domain.Order, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st, ok := o.m[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}

	order := st.order
	return &order, nil
}

func (o *Orders) FindLinesByOrderID(_ context.Context, orderID string) ([]domain.OrderLine, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st, ok := o.m[orderID]
	if !ok {
		return []domain.OrderLine{}, nil
	}

	lines := make([]domain.OrderLine, len(st.lines))
	copy(lines, st.lines)

	return lines, nil
}

// Count returns the number of stored orders.
func (o *Orders) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return len(o.m)
}
