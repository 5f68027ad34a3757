package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a sellable item.
type Product struct {
	ID          int64           `json:"id"`
	SKU         string          `json:"sku"`
	Barcode     string          `json:"barcode,omitempty"`
	Name        string          `json:"name"`
	GenericName string          `json:"generic_name,omitempty"`
	Category    string          `json:"category,omitempty"`
	Unit        string          `json:"unit"`
	DefaultSRP  decimal.Decimal `json:"default_srp"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
