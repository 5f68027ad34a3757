package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/botica-pos/botica/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	LatestBatch(ctx context.Context, productID, locationID int64) (Batch, error)
	SumAvailable(ctx context.Context, productID, locationID int64) (int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListExpiring(ctx context.Context, locationID int64, before time.Time, limit int) ([]Batch, error)
	DuplicateReferences(ctx context.Context) ([]string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives ledger-level counters.
type MetricsPort interface {
	ObserveAllocation(outcome string)
	ObserveProvenanceFallback()
}

// Service coordinates all batch-ledger operations. Batches and ledger rows
// are mutated exclusively through it; every mutation appends its ledger entry
// in the same transaction.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	aggregate   *AggregateView
	metrics     MetricsPort
}

// NewService builds Service. audit, idem, aggregate and metrics may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, aggregate *AggregateView, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, aggregate: aggregate, metrics: metrics}
}

// Allocate consumes stock FIFO for one product at one location. A zero
// quantity succeeds with an empty allocation; a shortfall fails atomically
// with ErrInsufficientStock and leaves every batch untouched.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (AllocationResult, error) {
	if input.ProductID == 0 || input.LocationID == 0 {
		return AllocationResult{}, errors.New("inventory: product and location required")
	}
	if input.Qty < 0 {
		return AllocationResult{}, ErrInvalidQuantity
	}
	if input.Qty == 0 {
		return AllocationResult{ProductID: input.ProductID, LocationID: input.LocationID}, nil
	}

	insertedKey := ""
	if s.idempotency != nil && input.ReferenceNo != "" {
		key := fmt.Sprintf("OUT:%s:%d:%d", input.ReferenceNo, input.ProductID, input.LocationID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return AllocationResult{}, err
		}
		insertedKey = key
	}

	var result AllocationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.ProductExists(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrProductNotFound
		}
		result, err = AllocateWithin(ctx, tx, input)
		return err
	})
	if err != nil {
		if insertedKey != "" {
			_ = s.idempotency.Delete(ctx, insertedKey)
		}
		if errors.Is(err, ErrInsufficientStock) && s.metrics != nil {
			s.metrics.ObserveAllocation("shortfall")
		}
		return AllocationResult{}, err
	}

	s.invalidateAggregate(ctx, input.ProductID, input.LocationID)
	if s.metrics != nil {
		s.metrics.ObserveAllocation("ok")
	}
	s.recordAudit(ctx, input.ActorID, "inventory:allocate", fmt.Sprintf("%d:%d", input.ProductID, input.LocationID), map[string]any{
		"qty":          input.Qty,
		"reference_no": input.ReferenceNo,
		"batches":      len(result.Lines),
	})
	return result, nil
}

// CreateBatch registers a new physical lot, e.g. from goods receipt.
func (s *Service) CreateBatch(ctx context.Context, input CreateBatchInput) (Batch, error) {
	if input.ProductID == 0 || input.LocationID == 0 {
		return Batch{}, errors.New("inventory: product and location required")
	}
	if input.Qty <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if input.UnitPrice.IsNegative() || input.SRP.IsNegative() {
		return Batch{}, errors.New("inventory: price must be >= 0")
	}
	now := time.Now().UTC()
	reference := input.Reference
	if reference == "" {
		reference = fmt.Sprintf("BAT-%d", now.UnixNano())
	}

	var created Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if ok, err := tx.ProductExists(ctx, input.ProductID); err != nil {
			return err
		} else if !ok {
			return ErrProductNotFound
		}
		if ok, err := tx.LocationExists(ctx, input.LocationID); err != nil {
			return err
		} else if !ok {
			return ErrLocationNotFound
		}
		created = Batch{
			ProductID:      input.ProductID,
			LocationID:     input.LocationID,
			Reference:      reference,
			Quantity:       input.Qty,
			Available:      input.Qty,
			UnitPrice:      input.UnitPrice,
			SRP:            input.SRP,
			ExpirationDate: input.ExpirationDate,
			EntryDate:      now,
			SourceRef:      input.SourceRef,
		}
		id, err := tx.InsertBatch(ctx, created)
		if err != nil {
			return err
		}
		created.ID = id
		_, err = tx.InsertMovement(ctx, Movement{
			ProductID:   input.ProductID,
			BatchID:     id,
			Type:        MovementIn,
			Qty:         input.Qty,
			Remaining:   input.Qty,
			ReferenceNo: input.SourceRef,
			Notes:       input.Notes,
			ActorID:     input.ActorID,
			OccurredAt:  now,
		})
		return err
	})
	if err != nil {
		return Batch{}, err
	}

	s.invalidateAggregate(ctx, input.ProductID, input.LocationID)
	s.recordAudit(ctx, input.ActorID, "inventory:receive", reference, map[string]any{
		"product_id":  input.ProductID,
		"location_id": input.LocationID,
		"qty":         input.Qty,
	})
	return created, nil
}

// Adjust sets one batch's available quantity to an absolute value, bypassing
// FIFO selection. The ledger entry carries the signed delta direction and the
// human-supplied reason.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (AdjustmentResult, error) {
	if input.BatchID == 0 {
		return AdjustmentResult{}, ErrBatchNotFound
	}
	if input.NewQty < 0 {
		return AdjustmentResult{}, ErrInvalidQuantity
	}
	if input.Reason == "" {
		return AdjustmentResult{}, errors.New("inventory: adjustment reason required")
	}

	var result AdjustmentResult
	var productID, locationID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		if input.ProductID != 0 && batch.ProductID != input.ProductID {
			return ErrBatchNotFound
		}
		productID = batch.ProductID
		locationID = batch.LocationID
		delta := input.NewQty - batch.Available
		result = AdjustmentResult{BatchID: batch.ID, OldQty: batch.Available, NewQty: input.NewQty, Delta: delta}
		if delta == 0 {
			return nil
		}
		remaining, err := tx.SetBatchAvailable(ctx, batch.ID, input.NewQty)
		if err != nil {
			return err
		}
		movementType := MovementIn
		qty := delta
		if delta < 0 {
			movementType = MovementOut
			qty = -delta
		}
		result.Type = movementType
		_, err = tx.InsertMovement(ctx, Movement{
			ProductID:  batch.ProductID,
			BatchID:    batch.ID,
			Type:       movementType,
			Qty:        qty,
			Remaining:  remaining,
			Reason:     input.Reason,
			Notes:      input.Notes,
			ActorID:    input.ActorID,
			OccurredAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		return AdjustmentResult{}, err
	}

	if result.Delta != 0 {
		s.invalidateAggregate(ctx, productID, locationID)
	}
	s.recordAudit(ctx, input.ActorID, "inventory:adjust", fmt.Sprintf("batch:%d", input.BatchID), map[string]any{
		"old_qty": result.OldQty,
		"new_qty": result.NewQty,
		"reason":  input.Reason,
	})
	return result, nil
}

// Restore credits previously consumed quantity back onto the ledger. Used by
// the returns module on approval.
func (s *Service) Restore(ctx context.Context, input RestoreInput) (RestoreResult, error) {
	if input.ProductID == 0 || input.LocationID == 0 {
		return RestoreResult{}, errors.New("inventory: product and location required")
	}
	var result RestoreResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = RestoreWithin(ctx, tx, input)
		return err
	})
	if err != nil {
		return RestoreResult{}, err
	}

	s.invalidateAggregate(ctx, input.ProductID, input.LocationID)
	if result.ProvenanceFallback && s.metrics != nil {
		s.metrics.ObserveProvenanceFallback()
	}
	s.recordAudit(ctx, input.ActorID, "inventory:restore", input.ReferenceNo, map[string]any{
		"product_id":          input.ProductID,
		"qty":                 input.Qty,
		"batch_id":            result.BatchID,
		"provenance_fallback": result.ProvenanceFallback,
	})
	return result, nil
}

// AnchorBatch returns the most recently created batch for the product at the
// location. POS callers use it as an explicit audit anchor when they must log
// against a batch that no longer holds stock; it never authorizes consuming
// quantity.
func (s *Service) AnchorBatch(ctx context.Context, productID, locationID int64) (Batch, error) {
	if productID == 0 || locationID == 0 {
		return Batch{}, errors.New("inventory: product and location required")
	}
	return s.repo.LatestBatch(ctx, productID, locationID)
}

// StockOnHand answers "how much is available" for one product at one
// location, served through the aggregate view when configured.
func (s *Service) StockOnHand(ctx context.Context, productID, locationID int64) (int64, error) {
	if productID == 0 || locationID == 0 {
		return 0, errors.New("inventory: product and location required")
	}
	if s.aggregate != nil {
		return s.aggregate.StockOnHand(ctx, productID, locationID)
	}
	return s.repo.SumAvailable(ctx, productID, locationID)
}

// GetBatch fetches a single batch.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	if id <= 0 {
		return Batch{}, ErrBatchNotFound
	}
	return s.repo.GetBatch(ctx, id)
}

// ListBatches lists batches matching the filter.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	return s.repo.ListBatches(ctx, filter)
}

// Movements lists ledger history.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

// ExpiringBatches lists non-exhausted batches that expire within the window.
func (s *Service) ExpiringBatches(ctx context.Context, locationID int64, within time.Duration, limit int) ([]Batch, error) {
	return s.repo.ListExpiring(ctx, locationID, time.Now().UTC().Add(within), limit)
}

func (s *Service) invalidateAggregate(ctx context.Context, productID, locationID int64) {
	if s.aggregate != nil {
		s.aggregate.Invalidate(ctx, productID, locationID)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_batch",
		EntityID: entityID,
		Meta:     meta,
	})
}
