package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced       = "OrderPlaced"
	EventProductRegistered = "ProductRegistered"
	EventStockReplenished  = "StockReplenished"
)

type OrderPlacedLine struct {
	ProductID    string          `json:"product_id"`
	Quantity     int64           `json:"quantity"`
	PricePerItem decimal.Decimal `json:"price_per_item"`
}

type OrderPlacedEvent struct {
	OrderID     string            `json:"order_id"`
	UserID      string            `json:"user_id"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Lines       []OrderPlacedLine `json:"lines"`
	PlacedAt    time.Time         `json:"placed_at"`
}

type ProductRegisteredEvent struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
}

// StockReplenishedEvent arrives from the warehouse side. EventID is the
// deduplication key.
type StockReplenishedEvent struct {
	EventID   string `json:"event_id"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// EventEnvelope is the wire shape of every published message.
type EventEnvelope[T any] struct {
	Event   string `json:"event"`
	Payload T      `json:"payload"`
}
