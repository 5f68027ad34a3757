package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RestoreWithin puts previously consumed quantity back onto the ledger inside
// an already-open transaction. Provenance resolution, in order:
//
//  1. exactly one OUT entry matches (product, reference_no): restore onto
//     that batch;
//  2. several entries match: restore onto the oldest-remaining of their
//     batches by the consumption ordering, flagged as a fallback;
//  3. no entry matches: restore onto the most recently created batch for the
//     product at the location, flagged as a fallback;
//  4. no batch exists at all: synthesize a new batch with a generated
//     RET-<timestamp>-<product> reference.
//
// Every restoration writes exactly one IN ledger entry; fallback paths carry
// provenance_fallback so audits can tell exact from approximate restorations.
func RestoreWithin(ctx context.Context, tx TxRepository, input RestoreInput) (RestoreResult, error) {
	if input.Qty <= 0 {
		return RestoreResult{}, ErrInvalidQuantity
	}

	batch, fallback, err := resolveRestoreTarget(ctx, tx, input)
	if err != nil && !errors.Is(err, ErrBatchNotFound) {
		return RestoreResult{}, err
	}

	now := time.Now().UTC()
	result := RestoreResult{ProvenanceFallback: fallback}

	if errors.Is(err, ErrBatchNotFound) {
		synthesized := Batch{
			ProductID:  input.ProductID,
			LocationID: input.LocationID,
			Reference:  fmt.Sprintf("RET-%d-%d", now.Unix(), input.ProductID),
			Quantity:   input.Qty,
			Available:  input.Qty,
			UnitPrice:  input.UnitPrice,
			SRP:        input.UnitPrice,
			EntryDate:  now,
			SourceRef:  input.ReferenceNo,
		}
		id, err := tx.InsertBatch(ctx, synthesized)
		if err != nil {
			return RestoreResult{}, fmt.Errorf("inventory: synthesize return batch: %w", err)
		}
		result.BatchID = id
		result.BatchReference = synthesized.Reference
		result.Remaining = input.Qty
		result.ProvenanceFallback = true
		result.Synthesized = true
	} else {
		remaining, err := tx.IncrementBatch(ctx, batch.ID, input.Qty)
		if err != nil {
			return RestoreResult{}, fmt.Errorf("inventory: restore batch %d: %w", batch.ID, err)
		}
		result.BatchID = batch.ID
		result.BatchReference = batch.Reference
		result.Remaining = remaining
	}

	if _, err := tx.InsertMovement(ctx, Movement{
		ProductID:          input.ProductID,
		BatchID:            result.BatchID,
		Type:               MovementIn,
		Qty:                input.Qty,
		Remaining:          result.Remaining,
		ReferenceNo:        input.ReferenceNo,
		Notes:              input.Notes,
		ActorID:            input.ActorID,
		ProvenanceFallback: result.ProvenanceFallback,
		OccurredAt:         now,
	}); err != nil {
		return RestoreResult{}, fmt.Errorf("inventory: record restoration: %w", err)
	}
	return result, nil
}

// resolveRestoreTarget finds the batch to credit. ErrBatchNotFound means no
// batch exists for the product at the location and a synthetic one is needed.
func resolveRestoreTarget(ctx context.Context, tx TxRepository, input RestoreInput) (Batch, bool, error) {
	consumptions, err := tx.FindConsumptions(ctx, input.ProductID, input.ReferenceNo)
	if err != nil {
		return Batch{}, false, fmt.Errorf("inventory: lookup consumption: %w", err)
	}

	switch len(consumptions) {
	case 0:
		// Ledger entry missing: fall through to the nearest-batch fallback.
	case 1:
		batch, err := tx.GetBatchForUpdate(ctx, consumptions[0].BatchID)
		if err == nil {
			return batch, false, nil
		}
		if !errors.Is(err, ErrBatchNotFound) {
			return Batch{}, false, err
		}
		// Original batch merged or retired since the sale; fall back.
	default:
		// Ambiguous provenance: credit the oldest-remaining batch by the same
		// ordering consumption uses, and flag it for review.
		var target Batch
		found := false
		for _, m := range consumptions {
			batch, err := tx.GetBatchForUpdate(ctx, m.BatchID)
			if errors.Is(err, ErrBatchNotFound) {
				continue
			}
			if err != nil {
				return Batch{}, false, err
			}
			if !found || fifoBefore(batch, target) {
				target = batch
				found = true
			}
		}
		if found {
			return target, true, nil
		}
	}

	latest, err := tx.LatestBatch(ctx, input.ProductID, input.LocationID)
	if err != nil {
		return Batch{}, false, err
	}
	return latest, true, nil
}
