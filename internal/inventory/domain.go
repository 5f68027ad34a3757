package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents an inbound quantity change.
	MovementIn MovementType = "IN"
	// MovementOut represents an outbound quantity change.
	MovementOut MovementType = "OUT"
	// MovementAdjustment marks the zero-out trail written when a duplicate
	// batch is retired by the reconciliation merge.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementSync marks quantities absorbed by a reconciliation merge.
	MovementSync MovementType = "SYNC"
)

// Batch is a physical lot of one product held at one location. A batch with
// Available == 0 is exhausted but kept for audit history.
type Batch struct {
	ID             int64
	ProductID      int64
	LocationID     int64
	Reference      string
	Quantity       int64
	Available      int64
	UnitPrice      decimal.Decimal
	SRP            decimal.Decimal
	ExpirationDate *time.Time
	EntryDate      time.Time
	SourceRef      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Exhausted reports whether the batch has no remaining stock.
func (b Batch) Exhausted() bool {
	return b.Available <= 0
}

// Expired reports whether the batch expiration has passed at the given time.
func (b Batch) Expired(at time.Time) bool {
	return b.ExpirationDate != nil && b.ExpirationDate.Before(at)
}

// Movement is an append-only ledger entry. Qty is the positive magnitude of
// the change; Remaining snapshots the batch's available quantity after the
// mutation it records.
type Movement struct {
	ID                 int64
	ProductID          int64
	BatchID            int64
	Type               MovementType
	Qty                int64
	Remaining          int64
	ReferenceNo        string
	Reason             string
	Notes              string
	ActorID            int64
	ProvenanceFallback bool
	OccurredAt         time.Time
}

// AllocationLine records consumption taken from a single batch.
type AllocationLine struct {
	BatchID        int64
	BatchReference string
	Qty            int64
	SRP            decimal.Decimal
}

// AllocationResult summarises a completed FIFO allocation.
type AllocationResult struct {
	ProductID  int64
	LocationID int64
	Requested  int64
	Lines      []AllocationLine
}

// Allocated returns the total quantity taken across all lines.
func (r AllocationResult) Allocated() int64 {
	var total int64
	for _, line := range r.Lines {
		total += line.Qty
	}
	return total
}

// AllocateInput describes a consumption request.
type AllocateInput struct {
	ProductID   int64
	LocationID  int64
	Qty         int64
	ReferenceNo string
	Notes       string
	ActorID     int64
}

// CreateBatchInput describes a purchase-receipt or stock-addition entry.
type CreateBatchInput struct {
	ProductID      int64
	LocationID     int64
	Reference      string
	Qty            int64
	UnitPrice      decimal.Decimal
	SRP            decimal.Decimal
	ExpirationDate *time.Time
	SourceRef      string
	Notes          string
	ActorID        int64
}

// AdjustInput sets a named batch's quantity to an absolute value.
type AdjustInput struct {
	ProductID int64
	BatchID   int64
	NewQty    int64
	Reason    string
	Notes     string
	ActorID   int64
}

// AdjustmentResult reports the applied correction.
type AdjustmentResult struct {
	BatchID int64
	OldQty  int64
	NewQty  int64
	Delta   int64
	Type    MovementType
}

// RestoreInput describes quantity returned onto the ledger after a sale
// reversal. ReferenceNo ties back to the original sale.
type RestoreInput struct {
	ProductID   int64
	LocationID  int64
	Qty         int64
	UnitPrice   decimal.Decimal
	ReferenceNo string
	Notes       string
	ActorID     int64
}

// RestoreResult reports where the quantity landed.
type RestoreResult struct {
	BatchID            int64
	BatchReference     string
	Remaining          int64
	ProvenanceFallback bool
	Synthesized        bool
}

// MovementFilter narrows ledger history queries.
type MovementFilter struct {
	ProductID  int64
	LocationID int64
	BatchID    int64
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// StockPair identifies one product at one location.
type StockPair struct {
	ProductID  int64
	LocationID int64
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID        int64
	LocationID       int64
	IncludeExhausted bool
	Limit            int
	Offset           int
}

// Domain errors surfaced at the transaction boundary.
var (
	// ErrInsufficientStock means the request exceeds total available stock.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrBatchNotFound indicates a missing batch id.
	ErrBatchNotFound = errors.New("inventory: batch not found")
	// ErrProductNotFound indicates a missing product id.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrLocationNotFound indicates a missing location id.
	ErrLocationNotFound = errors.New("inventory: location not found")
	// ErrInvalidQuantity indicates a zero or negative quantity where not permitted.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrDuplicateReference indicates a batch reference collision on creation.
	ErrDuplicateReference = errors.New("inventory: duplicate batch reference")
)
