package returns

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks a return through its approval lifecycle.
type Status string

const (
	// StatusPending awaits a decision. Stock is untouched.
	StatusPending Status = "PENDING"
	// StatusApproved restored the quantities onto the ledger. Terminal.
	StatusApproved Status = "APPROVED"
	// StatusRejected declined the return without stock changes. Terminal.
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Return is a customer return filed against an original sale. Quantities
// only re-enter stock when the return is approved.
type Return struct {
	ID             int64
	Number         string
	OriginalTxnRef string
	LocationID     int64
	Status         Status
	Reason         string
	Notes          string
	ActorID        int64
	DecidedBy      int64
	DecidedAt      *time.Time
	CreatedAt      time.Time
	Lines          []Line
}

// Line is one returned product quantity.
type Line struct {
	ID        int64
	ReturnID  int64
	ProductID int64
	Qty       int64
	UnitPrice decimal.Decimal
}

// LineInput requests one product's return.
type LineInput struct {
	ProductID int64
	Qty       int64
	UnitPrice decimal.Decimal
}

// FileInput describes a return being filed.
type FileInput struct {
	Number         string
	OriginalTxnRef string
	LocationID     int64
	Lines          []LineInput
	Reason         string
	Notes          string
	ActorID        int64
}

// Filter narrows return listings.
type Filter struct {
	LocationID int64
	Status     Status
	Limit      int
	Offset     int
}

var (
	// ErrNotFound indicates a missing return.
	ErrNotFound = errors.New("returns: not found")
	// ErrInvalidStateTransition rejects decisions on terminal returns.
	ErrInvalidStateTransition = errors.New("returns: invalid state transition")
	// ErrWrongLocation rejects returns filed at a location the original sale
	// never touched.
	ErrWrongLocation = errors.New("returns: original sale was at a different location")
	// ErrEmptyReturn rejects returns without lines.
	ErrEmptyReturn = errors.New("returns: no lines")
)
