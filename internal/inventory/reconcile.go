package inventory

import (
	"context"
	"fmt"
	"time"
)

// ReconcileReport summarises one reconciliation sweep.
type ReconcileReport struct {
	References int
	Merged     int
}

// ReconcileDuplicateReferences folds batches sharing a reference into one
// canonical row. The lowest-id batch survives; each duplicate has its ledger
// entries and transfer lines repointed to the survivor, its quantities
// absorbed, and is then removed. Each reference merges in its own
// transaction so one bad reference cannot wedge the whole sweep.
//
// The ledger keeps both sides of every merge: an ADJUSTMENT entry zeroing the
// retired duplicate and a SYNC entry crediting the survivor.
func (s *Service) ReconcileDuplicateReferences(ctx context.Context) (ReconcileReport, error) {
	refs, err := s.repo.DuplicateReferences(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("inventory: scan duplicates: %w", err)
	}

	report := ReconcileReport{References: len(refs)}
	for _, ref := range refs {
		merged, err := s.mergeReference(ctx, ref)
		if err != nil {
			return report, fmt.Errorf("inventory: merge reference %q: %w", ref, err)
		}
		report.Merged += merged
	}
	return report, nil
}

func (s *Service) mergeReference(ctx context.Context, reference string) (int, error) {
	merged := 0
	var productID, locationID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		merged = 0
		batches, err := tx.ListBatchesByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if len(batches) < 2 {
			return nil
		}

		survivor := batches[0]
		productID, locationID = survivor.ProductID, survivor.LocationID
		now := time.Now().UTC()
		for _, dup := range batches[1:] {
			if dup.ProductID != survivor.ProductID || dup.LocationID != survivor.LocationID {
				// Same reference across products or locations is legitimate
				// cross-location stock; leave those rows alone.
				continue
			}
			if _, err := tx.InsertMovement(ctx, Movement{
				ProductID:   dup.ProductID,
				BatchID:     dup.ID,
				Type:        MovementAdjustment,
				Qty:         dup.Available,
				Remaining:   0,
				ReferenceNo: reference,
				Reason:      "duplicate batch retired",
				OccurredAt:  now,
			}); err != nil {
				return err
			}
			if _, err := tx.RepointMovements(ctx, dup.ID, survivor.ID); err != nil {
				return err
			}
			if _, err := tx.RepointTransferLines(ctx, dup.ID, survivor.ID); err != nil {
				return err
			}
			remaining, err := tx.AbsorbBatch(ctx, survivor.ID, dup.Available, dup.Quantity)
			if err != nil {
				return err
			}
			if _, err := tx.InsertMovement(ctx, Movement{
				ProductID:   survivor.ProductID,
				BatchID:     survivor.ID,
				Type:        MovementSync,
				Qty:         dup.Available,
				Remaining:   remaining,
				ReferenceNo: reference,
				Reason:      "duplicate batch merged",
				OccurredAt:  now,
			}); err != nil {
				return err
			}
			if err := tx.DeleteBatch(ctx, dup.ID); err != nil {
				return err
			}
			merged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if merged > 0 {
		s.invalidateAggregate(ctx, productID, locationID)
	}
	return merged, nil
}
