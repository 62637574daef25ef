package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

type Order struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	Status      OrderStatus     `db:"status" json:"status"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// OrderLine snapshots the unit price at placement time; later catalog price
// changes do not affect it.
type OrderLine struct {
	ID           string          `db:"id" json:"id"`
	OrderID      string          `db:"order_id" json:"order_id"`
	ProductID    string          `db:"product_id" json:"product_id"`
	Position     int             `db:"position" json:"-"`
	Quantity     int64           `db:"quantity" json:"quantity"`
	PricePerItem decimal.Decimal `db:"price_per_item" json:"price_per_item"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.PricePerItem.Mul(decimal.NewFromInt(l.Quantity))
}

// LineRequest is one requested (product, quantity) pair of an order.
type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type OrderDetails struct {
	Order Order       `json:"order"`
	Lines []OrderLine `json:"lines"`
}

func (d *OrderDetails) CalculateTotal() {
	total := decimal.Zero
	for _, line := range d.Lines {
		total = total.Add(line.Subtotal())
	}

	d.Order.TotalAmount = total
}
