package transfer

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks a transfer's lifecycle. Transfers post atomically, so the
// only persisted status is POSTED; the constant exists for the wire format.
type Status string

// StatusPosted marks a completed transfer.
const StatusPosted Status = "POSTED"

// Transfer moves stock between two locations. Each line records the source
// batch the quantity left and the destination batch it landed in, so batch
// identity survives the move.
type Transfer struct {
	ID               int64
	Number           string
	SourceLocationID int64
	DestLocationID   int64
	Status           Status
	Notes            string
	ActorID          int64
	PostedAt         time.Time
	CreatedAt        time.Time
	Lines            []Line
}

// Line is one batch-level slice of a transfer.
type Line struct {
	ID          int64
	TransferID  int64
	ProductID   int64
	BatchID     int64
	DestBatchID int64
	Qty         int64
	UnitPrice   decimal.Decimal
	SRP         decimal.Decimal
}

// LineInput requests quantity of one product. BatchID optionally pins the
// source batch; when zero the engine picks batches in consumption order.
type LineInput struct {
	ProductID int64
	BatchID   int64
	Qty       int64
}

// Input describes a transfer request.
type Input struct {
	Number           string
	SourceLocationID int64
	DestLocationID   int64
	Lines            []LineInput
	Notes            string
	ActorID          int64
}

// Filter narrows transfer listings.
type Filter struct {
	LocationID int64
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

var (
	// ErrSameLocation rejects transfers whose endpoints match.
	ErrSameLocation = errors.New("transfer: source and destination are the same location")
	// ErrNotFound indicates a missing transfer.
	ErrNotFound = errors.New("transfer: not found")
	// ErrEmptyTransfer rejects transfers without lines.
	ErrEmptyTransfer = errors.New("transfer: no lines")
	// ErrBatchMismatch rejects a batch that does not belong to the line's
	// product or location.
	ErrBatchMismatch = errors.New("transfer: batch does not match line")
)
