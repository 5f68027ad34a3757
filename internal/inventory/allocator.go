package inventory

import (
	"context"
	"fmt"
	"time"
)

// AllocateWithin performs a FIFO allocation using an already-open transaction.
// Candidate batches are walked in expiration order (nil expirations last),
// ties broken by entry date then batch id, and each decrement is guarded by a
// compare-and-set so two concurrent allocations cannot overdraw a batch. Any
// shortfall aborts the walk; the caller's transaction rollback undoes the
// partial decrements.
//
// The transfer engine reuses this walk inside its own transaction, which is
// why it is not a Service method.
func AllocateWithin(ctx context.Context, tx TxRepository, input AllocateInput) (AllocationResult, error) {
	result := AllocationResult{
		ProductID:  input.ProductID,
		LocationID: input.LocationID,
		Requested:  input.Qty,
	}
	if input.Qty < 0 {
		return AllocationResult{}, ErrInvalidQuantity
	}
	if input.Qty == 0 {
		return result, nil
	}

	batches, err := tx.ListBatchesForAllocation(ctx, input.ProductID, input.LocationID)
	if err != nil {
		return AllocationResult{}, fmt.Errorf("inventory: list candidates: %w", err)
	}

	now := time.Now().UTC()
	remaining := input.Qty
	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		take := remaining
		if batch.Available < take {
			take = batch.Available
		}
		if take <= 0 {
			continue
		}
		left, err := tx.DecrementBatch(ctx, batch.ID, take)
		if err != nil {
			return AllocationResult{}, err
		}
		if _, err := tx.InsertMovement(ctx, Movement{
			ProductID:   input.ProductID,
			BatchID:     batch.ID,
			Type:        MovementOut,
			Qty:         take,
			Remaining:   left,
			ReferenceNo: input.ReferenceNo,
			Notes:       input.Notes,
			ActorID:     input.ActorID,
			OccurredAt:  now,
		}); err != nil {
			return AllocationResult{}, fmt.Errorf("inventory: record movement: %w", err)
		}
		result.Lines = append(result.Lines, AllocationLine{
			BatchID:        batch.ID,
			BatchReference: batch.Reference,
			Qty:            take,
			SRP:            batch.SRP,
		})
		remaining -= take
	}

	if remaining > 0 {
		return AllocationResult{}, ErrInsufficientStock
	}
	return result, nil
}

// fifoBefore reports whether a should be consumed before b. This mirrors the
// ORDER BY used by ListBatchesForAllocation and exists for in-memory
// repository implementations and the reconciliation survivor election.
func fifoBefore(a, b Batch) bool {
	switch {
	case a.ExpirationDate == nil && b.ExpirationDate != nil:
		return false
	case a.ExpirationDate != nil && b.ExpirationDate == nil:
		return true
	case a.ExpirationDate != nil && b.ExpirationDate != nil:
		if !a.ExpirationDate.Equal(*b.ExpirationDate) {
			return a.ExpirationDate.Before(*b.ExpirationDate)
		}
	}
	if !a.EntryDate.Equal(b.EntryDate) {
		return a.EntryDate.Before(b.EntryDate)
	}
	return a.ID < b.ID
}
