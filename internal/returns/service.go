package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/botica-pos/botica/internal/inventory"
	"github.com/botica-pos/botica/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReturn(ctx context.Context, id int64) (Return, error)
	ListReturns(ctx context.Context, filter Filter) ([]Return, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator drops cached stock totals after an approved return.
type Invalidator interface {
	Invalidate(ctx context.Context, productID, locationID int64)
}

// Service runs the return lifecycle: file, then approve or reject. Approval
// is the only path that puts quantity back onto the ledger.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	approvals *shared.ApprovalRecorder
	aggregate Invalidator
}

// NewService builds Service. audit, approvals and aggregate may be nil.
func NewService(repo RepositoryPort, audit AuditPort, approvals *shared.ApprovalRecorder, aggregate Invalidator) *Service {
	return &Service{repo: repo, audit: audit, approvals: approvals, aggregate: aggregate}
}

func approvalRef(number string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("returns:"+number))
}

// File registers a pending return. When the original sale's ledger entries
// are found they must include the filing location; a sale whose provenance
// cannot be determined is accepted and flagged for manual review at approval
// time.
func (s *Service) File(ctx context.Context, input FileInput) (Return, error) {
	if input.LocationID == 0 {
		return Return{}, errors.New("returns: location required")
	}
	if len(input.Lines) == 0 {
		return Return{}, ErrEmptyReturn
	}
	for _, line := range input.Lines {
		if line.Qty <= 0 {
			return Return{}, inventory.ErrInvalidQuantity
		}
	}

	now := time.Now().UTC()
	number := input.Number
	if number == "" {
		number = fmt.Sprintf("RTN-%d", now.UnixNano())
	}

	var filed Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.LocationExists(ctx, input.LocationID)
		if err != nil {
			return err
		}
		if !ok {
			return inventory.ErrLocationNotFound
		}
		if err := s.checkSaleLocation(ctx, tx, input); err != nil {
			return err
		}

		filed = Return{
			Number:         number,
			OriginalTxnRef: input.OriginalTxnRef,
			LocationID:     input.LocationID,
			Status:         StatusPending,
			Reason:         input.Reason,
			Notes:          input.Notes,
			ActorID:        input.ActorID,
			CreatedAt:      now,
		}
		id, err := tx.InsertReturn(ctx, filed)
		if err != nil {
			return err
		}
		filed.ID = id
		for _, lineInput := range input.Lines {
			line := Line{ReturnID: id, ProductID: lineInput.ProductID, Qty: lineInput.Qty, UnitPrice: lineInput.UnitPrice}
			lineID, err := tx.InsertReturnLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			filed.Lines = append(filed.Lines, line)
		}
		return nil
	})
	if err != nil {
		return Return{}, err
	}

	if s.approvals != nil {
		_ = s.approvals.EnsureSubmit(ctx, "returns", approvalRef(number), input.ActorID, input.Reason)
	}
	s.recordAudit(ctx, input.ActorID, "returns:file", number, map[string]any{
		"original_txn_ref": input.OriginalTxnRef,
		"location_id":      input.LocationID,
		"lines":            len(filed.Lines),
	})
	return filed, nil
}

// checkSaleLocation verifies the original sale touched the filing location.
// A reference with no ledger trace cannot be disproved, so it passes.
func (s *Service) checkSaleLocation(ctx context.Context, tx TxRepository, input FileInput) error {
	if input.OriginalTxnRef == "" {
		return nil
	}
	traced := false
	for _, line := range input.Lines {
		consumptions, err := tx.FindConsumptions(ctx, line.ProductID, input.OriginalTxnRef)
		if err != nil {
			return err
		}
		for _, m := range consumptions {
			batch, err := tx.GetBatchForUpdate(ctx, m.BatchID)
			if errors.Is(err, inventory.ErrBatchNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			traced = true
			if batch.LocationID == input.LocationID {
				return nil
			}
		}
	}
	if traced {
		return ErrWrongLocation
	}
	return nil
}

// Approve restores the returned quantities onto the ledger and closes the
// return. Approving a decided return fails without touching stock.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (Return, error) {
	decided, err := s.decide(ctx, id, actorID, StatusApproved)
	if err != nil {
		return Return{}, err
	}

	if s.aggregate != nil {
		for _, line := range decided.Lines {
			s.aggregate.Invalidate(ctx, line.ProductID, decided.LocationID)
		}
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  "returns",
			RefID:   approvalRef(decided.Number),
			ActorID: actorID,
			Action:  shared.ApprovalApprove,
		})
	}
	s.recordAudit(ctx, actorID, "returns:approve", decided.Number, map[string]any{"lines": len(decided.Lines)})
	return decided, nil
}

// Reject closes the return without stock changes.
func (s *Service) Reject(ctx context.Context, id, actorID int64, note string) (Return, error) {
	decided, err := s.decide(ctx, id, actorID, StatusRejected)
	if err != nil {
		return Return{}, err
	}

	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  "returns",
			RefID:   approvalRef(decided.Number),
			ActorID: actorID,
			Action:  shared.ApprovalReject,
			Note:    note,
		})
	}
	s.recordAudit(ctx, actorID, "returns:reject", decided.Number, map[string]any{"note": note})
	return decided, nil
}

func (s *Service) decide(ctx context.Context, id, actorID int64, target Status) (Return, error) {
	if id <= 0 {
		return Return{}, ErrNotFound
	}
	var decided Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ret, err := tx.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ret.Status.Terminal() {
			return ErrInvalidStateTransition
		}

		if target == StatusApproved {
			for _, line := range ret.Lines {
				if _, err := inventory.RestoreWithin(ctx, tx, inventory.RestoreInput{
					ProductID:   line.ProductID,
					LocationID:  ret.LocationID,
					Qty:         line.Qty,
					UnitPrice:   line.UnitPrice,
					ReferenceNo: ret.OriginalTxnRef,
					Notes:       ret.Reason,
					ActorID:     actorID,
				}); err != nil {
					return err
				}
			}
		}

		now := time.Now().UTC()
		if err := tx.UpdateReturnStatus(ctx, id, target, actorID, now); err != nil {
			return err
		}
		ret.Status = target
		ret.DecidedBy = actorID
		ret.DecidedAt = &now
		decided = ret
		return nil
	})
	if err != nil {
		return Return{}, err
	}
	return decided, nil
}

// Get fetches one return with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Return, error) {
	if id <= 0 {
		return Return{}, ErrNotFound
	}
	return s.repo.GetReturn(ctx, id)
}

// List lists returns newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Return, error) {
	return s.repo.ListReturns(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, number string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "return",
		EntityID: number,
		Meta:     meta,
	})
}
