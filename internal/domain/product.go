package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Version changes on every stock or catalog
// mutation and acts as the optimistic concurrency token.
type Product struct {
	ID            string          `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Description   *string         `db:"description" json:"description,omitempty"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int64           `db:"stock_quantity" json:"stock_quantity"`
	Version       int64           `db:"version" json:"version"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

type NewProductInput struct {
	Name          string
	Description   *string
	Price         decimal.Decimal
	StockQuantity int64
}

type UpdateProductInput struct {
	Name          *string          `json:"name"`
	Description   *string          `json:"description"`
	Price         *decimal.Decimal `json:"price"`
	StockQuantity *int64           `json:"stock_quantity"`
}

func (in *UpdateProductInput) IsEmpty() bool {
	return in.Name == nil && in.Description == nil && in.Price == nil && in.StockQuantity == nil
}
