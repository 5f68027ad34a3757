package locations

import "time"

// Location is a physical stock-holding site, a store branch or a warehouse.
type Location struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location kinds.
const (
	KindStore     = "STORE"
	KindWarehouse = "WAREHOUSE"
)
