package outbox

import (
	"context"

	"github.com/sakashimaa/storefront/internal/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerPublisher stops calling a failing broker for a while instead of
// burning every event's attempts against it.
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(name string, next Publisher, logger *zap.Logger) *BreakerPublisher {
	return &BreakerPublisher{
		next: next,
		cb:   utils.NewBreaker(name, logger),
	}
}

func (p *BreakerPublisher) Publish(ctx context.Context, msg Message) error {
	_, err := utils.ExecuteWithBreaker(p.cb, func() (struct{}, error) {
		return struct{}{}, p.next.Publish(ctx, msg)
	})

	return err
}

func (p *BreakerPublisher) State() gobreaker.State {
	return p.cb.State()
}
