package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/botica-pos/botica/internal/inventory"
	"github.com/botica-pos/botica/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, filter Filter) ([]Transfer, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator drops cached stock totals after a posted transfer.
type Invalidator interface {
	Invalidate(ctx context.Context, productID, locationID int64)
}

// Service posts and reads stock transfers. A transfer consumes from source
// batches and credits destination batches inside one transaction; quantity is
// conserved per product across the two locations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	aggregate   Invalidator
}

// NewService builds Service. audit, idem and aggregate may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, aggregate Invalidator) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, aggregate: aggregate}
}

// Post moves the requested quantities from source to destination. Either all
// lines move or none do: a shortfall or pinned-batch mismatch on any line
// rolls back the whole transfer.
func (s *Service) Post(ctx context.Context, input Input) (Transfer, error) {
	if input.SourceLocationID == 0 || input.DestLocationID == 0 {
		return Transfer{}, errors.New("transfer: source and destination required")
	}
	if input.SourceLocationID == input.DestLocationID {
		return Transfer{}, ErrSameLocation
	}
	if len(input.Lines) == 0 {
		return Transfer{}, ErrEmptyTransfer
	}
	for _, line := range input.Lines {
		if line.Qty <= 0 {
			return Transfer{}, inventory.ErrInvalidQuantity
		}
	}

	now := time.Now().UTC()
	number := input.Number
	if number == "" {
		number = fmt.Sprintf("TRF-%d", now.UnixNano())
	}

	insertedKey := ""
	if s.idempotency != nil && input.Number != "" {
		key := fmt.Sprintf("TRF:%s", input.Number)
		if err := s.idempotency.CheckAndInsert(ctx, key, "transfer"); err != nil {
			return Transfer{}, err
		}
		insertedKey = key
	}

	var posted Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, id := range []int64{input.SourceLocationID, input.DestLocationID} {
			ok, err := tx.LocationExists(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return inventory.ErrLocationNotFound
			}
		}

		posted = Transfer{
			Number:           number,
			SourceLocationID: input.SourceLocationID,
			DestLocationID:   input.DestLocationID,
			Status:           StatusPosted,
			Notes:            input.Notes,
			ActorID:          input.ActorID,
			PostedAt:         now,
		}
		transferID, err := tx.InsertTransfer(ctx, posted)
		if err != nil {
			return err
		}
		posted.ID = transferID

		for _, lineInput := range input.Lines {
			lines, err := s.moveLine(ctx, tx, input, lineInput, number, now)
			if err != nil {
				return err
			}
			for _, line := range lines {
				line.TransferID = transferID
				lineID, err := tx.InsertTransferLine(ctx, line)
				if err != nil {
					return err
				}
				line.ID = lineID
				posted.Lines = append(posted.Lines, line)
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey != "" {
			_ = s.idempotency.Delete(ctx, insertedKey)
		}
		return Transfer{}, err
	}

	if s.aggregate != nil {
		seen := map[int64]bool{}
		for _, line := range posted.Lines {
			if seen[line.ProductID] {
				continue
			}
			seen[line.ProductID] = true
			s.aggregate.Invalidate(ctx, line.ProductID, input.SourceLocationID)
			s.aggregate.Invalidate(ctx, line.ProductID, input.DestLocationID)
		}
	}
	s.recordAudit(ctx, input.ActorID, number, input, len(posted.Lines))
	return posted, nil
}

// moveLine consumes one requested line from source batches and credits the
// destination, returning the batch-level slices actually moved.
func (s *Service) moveLine(ctx context.Context, tx TxRepository, input Input, line LineInput, number string, now time.Time) ([]Line, error) {
	type slice struct {
		batch inventory.Batch
		qty   int64
	}
	var consumed []slice

	if line.BatchID != 0 {
		batch, err := tx.GetBatchForUpdate(ctx, line.BatchID)
		if err != nil {
			return nil, err
		}
		if batch.LocationID != input.SourceLocationID || (line.ProductID != 0 && batch.ProductID != line.ProductID) {
			return nil, ErrBatchMismatch
		}
		left, err := tx.DecrementBatch(ctx, batch.ID, line.Qty)
		if err != nil {
			return nil, err
		}
		if _, err := tx.InsertMovement(ctx, inventory.Movement{
			ProductID:   batch.ProductID,
			BatchID:     batch.ID,
			Type:        inventory.MovementOut,
			Qty:         line.Qty,
			Remaining:   left,
			ReferenceNo: number,
			Notes:       input.Notes,
			ActorID:     input.ActorID,
			OccurredAt:  now,
		}); err != nil {
			return nil, err
		}
		consumed = append(consumed, slice{batch: batch, qty: line.Qty})
	} else {
		result, err := inventory.AllocateWithin(ctx, tx, inventory.AllocateInput{
			ProductID:   line.ProductID,
			LocationID:  input.SourceLocationID,
			Qty:         line.Qty,
			ReferenceNo: number,
			Notes:       input.Notes,
			ActorID:     input.ActorID,
		})
		if err != nil {
			return nil, err
		}
		for _, allocated := range result.Lines {
			batch, err := tx.GetBatchForUpdate(ctx, allocated.BatchID)
			if err != nil {
				return nil, err
			}
			consumed = append(consumed, slice{batch: batch, qty: allocated.Qty})
		}
	}

	lines := make([]Line, 0, len(consumed))
	for _, c := range consumed {
		destID, err := s.creditDestination(ctx, tx, input, c.batch, c.qty, number, now)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Line{
			ProductID:   c.batch.ProductID,
			BatchID:     c.batch.ID,
			DestBatchID: destID,
			Qty:         c.qty,
			UnitPrice:   c.batch.UnitPrice,
			SRP:         c.batch.SRP,
		})
	}
	return lines, nil
}

// creditDestination lands quantity at the destination under the source
// batch's reference so one physical lot stays one logical batch across
// locations.
func (s *Service) creditDestination(ctx context.Context, tx TxRepository, input Input, source inventory.Batch, qty int64, number string, now time.Time) (int64, error) {
	var destID int64
	var remaining int64

	dest, err := tx.FindBatchByReference(ctx, source.ProductID, input.DestLocationID, source.Reference)
	switch {
	case err == nil:
		if dest.ProductID != source.ProductID {
			return 0, ErrBatchMismatch
		}
		destID = dest.ID
		remaining, err = tx.IncrementBatch(ctx, dest.ID, qty)
		if err != nil {
			return 0, err
		}
	case errors.Is(err, inventory.ErrBatchNotFound):
		destID, err = tx.InsertBatch(ctx, inventory.Batch{
			ProductID:      source.ProductID,
			LocationID:     input.DestLocationID,
			Reference:      source.Reference,
			Quantity:       qty,
			Available:      qty,
			UnitPrice:      source.UnitPrice,
			SRP:            source.SRP,
			ExpirationDate: source.ExpirationDate,
			EntryDate:      source.EntryDate,
			SourceRef:      number,
		})
		if err != nil {
			return 0, err
		}
		remaining = qty
	default:
		return 0, err
	}

	if _, err := tx.InsertMovement(ctx, inventory.Movement{
		ProductID:   source.ProductID,
		BatchID:     destID,
		Type:        inventory.MovementIn,
		Qty:         qty,
		Remaining:   remaining,
		ReferenceNo: number,
		Notes:       input.Notes,
		ActorID:     input.ActorID,
		OccurredAt:  now,
	}); err != nil {
		return 0, err
	}
	return destID, nil
}

// Get fetches one transfer with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	if id <= 0 {
		return Transfer{}, ErrNotFound
	}
	return s.repo.GetTransfer(ctx, id)
}

// List lists transfers newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Transfer, error) {
	return s.repo.ListTransfers(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, number string, input Input, lineCount int) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "transfer:post",
		Entity:   "transfer",
		EntityID: number,
		Meta: map[string]any{
			"source_location_id": input.SourceLocationID,
			"dest_location_id":   input.DestLocationID,
			"lines":              lineCount,
		},
	})
}
