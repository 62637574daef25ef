package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/sakashimaa/storefront/internal/domain"
	"github.com/sakashimaa/storefront/internal/outbox"
	"github.com/sakashimaa/storefront/internal/service"
)

type orderService struct {
	next    service.OrderService
	metrics *Metrics
}

// InstrumentOrders counts placed and failed orders around next.
func InstrumentOrders(next service.OrderService, m *Metrics) service.OrderService {
	return &orderService{next: next, metrics: m}
}

func (s *orderService) PlaceOrder(ctx context.Context, userID string, lines []domain.LineRequest) (*domain.OrderDetails, error) {
	start := time.Now()
	details, err := s.next.PlaceOrder(ctx, userID, lines)
	s.metrics.orderDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.orderFailures.WithLabelValues(failureKind(err)).Inc()
		return nil, err
	}

	s.metrics.ordersPlaced.Inc()
	return details, nil
}

func (s *orderService) GetOrderDetails(ctx context.Context, orderID string) (*domain.OrderDetails, error) {
	return s.next.GetOrderDetails(ctx, orderID)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, service.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, service.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, service.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, service.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, service.ErrConcurrentModification):
		return "concurrent_modification"
	default:
		return "unknown"
	}
}

type publisher struct {
	next    outbox.Publisher
	metrics *Metrics
}

// InstrumentPublisher counts outbox deliveries per topic.
func InstrumentPublisher(next outbox.Publisher, m *Metrics) outbox.Publisher {
	return &publisher{next: next, metrics: m}
}

func (p *publisher) Publish(ctx context.Context, msg outbox.Message) error {
	if err := p.next.Publish(ctx, msg); err != nil {
		p.metrics.outboxPublished.WithLabelValues(msg.Topic, "error").Inc()
		return err
	}

	p.metrics.outboxPublished.WithLabelValues(msg.Topic, "ok").Inc()
	return nil
}
