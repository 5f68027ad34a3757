package inventory

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	batches        map[int64]Batch
	movements      []Movement
	nextBatchID    int64
	nextMovementID int64
	products       map[int64]bool
	locations      map[int64]bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches:   make(map[int64]Batch),
		products:  map[int64]bool{1: true, 2: true},
		locations: map[int64]bool{1: true, 2: true},
	}
}

func (r *memoryRepo) clone() *memoryRepo {
	cp := &memoryRepo{
		batches:        make(map[int64]Batch, len(r.batches)),
		movements:      append([]Movement(nil), r.movements...),
		nextBatchID:    r.nextBatchID,
		nextMovementID: r.nextMovementID,
		products:       r.products,
		locations:      r.locations,
	}
	for id, b := range r.batches {
		cp.batches[id] = b
	}
	return cp
}

// WithTx mirrors transactional rollback: the callback works on a copy and the
// copy only replaces live state when the callback succeeds.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	staged := r.clone()
	if err := fn(ctx, &memoryTx{repo: staged}); err != nil {
		return err
	}
	*r = *staged
	return nil
}

func (r *memoryRepo) GetBatch(ctx context.Context, id int64) (Batch, error) {
	if b, ok := r.batches[id]; ok {
		return b, nil
	}
	return Batch{}, ErrBatchNotFound
}

func (r *memoryRepo) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	out := []Batch{}
	for _, b := range r.batches {
		if filter.ProductID != 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != 0 && b.LocationID != filter.LocationID {
			continue
		}
		if !filter.IncludeExhausted && b.Available <= 0 {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return fifoBefore(out[i], out[j]) })
	return out, nil
}

func (r *memoryRepo) LatestBatch(ctx context.Context, productID, locationID int64) (Batch, error) {
	return latestBatchIn(r.batches, productID, locationID)
}

func (r *memoryRepo) SumAvailable(ctx context.Context, productID, locationID int64) (int64, error) {
	var total int64
	for _, b := range r.batches {
		if b.ProductID == productID && b.LocationID == locationID {
			total += b.Available
		}
	}
	return total, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	out := []Movement{}
	for _, m := range r.movements {
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.BatchID != 0 && m.BatchID != filter.BatchID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *memoryRepo) ListExpiring(ctx context.Context, locationID int64, before time.Time, limit int) ([]Batch, error) {
	out := []Batch{}
	for _, b := range r.batches {
		if b.Available <= 0 || b.ExpirationDate == nil {
			continue
		}
		if locationID != 0 && b.LocationID != locationID {
			continue
		}
		if b.ExpirationDate.After(before) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return fifoBefore(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) DuplicateReferences(ctx context.Context) ([]string, error) {
	counts := map[string]int{}
	for _, b := range r.batches {
		counts[b.Reference]++
	}
	refs := []string{}
	for ref, n := range counts {
		if n > 1 {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

func latestBatchIn(batches map[int64]Batch, productID, locationID int64) (Batch, error) {
	var latest Batch
	found := false
	for _, b := range batches {
		if b.ProductID != productID || b.LocationID != locationID {
			continue
		}
		if !found || b.EntryDate.After(latest.EntryDate) || (b.EntryDate.Equal(latest.EntryDate) && b.ID > latest.ID) {
			latest = b
			found = true
		}
	}
	if !found {
		return Batch{}, ErrBatchNotFound
	}
	return latest, nil
}

func (tx *memoryTx) ListBatchesForAllocation(ctx context.Context, productID, locationID int64) ([]Batch, error) {
	out := []Batch{}
	for _, b := range tx.repo.batches {
		if b.ProductID == productID && b.LocationID == locationID && b.Available > 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return fifoBefore(out[i], out[j]) })
	return out, nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	if b, ok := tx.repo.batches[id]; ok {
		return b, nil
	}
	return Batch{}, ErrBatchNotFound
}

func (tx *memoryTx) DecrementBatch(ctx context.Context, id, qty int64) (int64, error) {
	b, ok := tx.repo.batches[id]
	if !ok || b.Available < qty {
		return 0, ErrInsufficientStock
	}
	b.Available -= qty
	tx.repo.batches[id] = b
	return b.Available, nil
}

func (tx *memoryTx) IncrementBatch(ctx context.Context, id, qty int64) (int64, error) {
	b, ok := tx.repo.batches[id]
	if !ok {
		return 0, ErrBatchNotFound
	}
	b.Available += qty
	if b.Available > b.Quantity {
		b.Quantity = b.Available
	}
	tx.repo.batches[id] = b
	return b.Available, nil
}

func (tx *memoryTx) SetBatchAvailable(ctx context.Context, id, qty int64) (int64, error) {
	b, ok := tx.repo.batches[id]
	if !ok {
		return 0, ErrBatchNotFound
	}
	b.Available = qty
	if b.Available > b.Quantity {
		b.Quantity = b.Available
	}
	tx.repo.batches[id] = b
	return b.Available, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	for _, existing := range tx.repo.batches {
		if existing.ProductID == batch.ProductID && existing.LocationID == batch.LocationID && existing.Reference == batch.Reference {
			return 0, ErrDuplicateReference
		}
	}
	tx.repo.nextBatchID++
	batch.ID = tx.repo.nextBatchID
	tx.repo.batches[batch.ID] = batch
	return batch.ID, nil
}

func (tx *memoryTx) FindBatchByReference(ctx context.Context, productID, locationID int64, reference string) (Batch, error) {
	var match Batch
	found := false
	for _, b := range tx.repo.batches {
		if b.ProductID == productID && b.LocationID == locationID && b.Reference == reference {
			if !found || b.ID < match.ID {
				match = b
				found = true
			}
		}
	}
	if !found {
		return Batch{}, ErrBatchNotFound
	}
	return match, nil
}

func (tx *memoryTx) LatestBatch(ctx context.Context, productID, locationID int64) (Batch, error) {
	return latestBatchIn(tx.repo.batches, productID, locationID)
}

func (tx *memoryTx) FindConsumptions(ctx context.Context, productID int64, referenceNo string) ([]Movement, error) {
	if referenceNo == "" {
		return nil, nil
	}
	out := []Movement{}
	for _, m := range tx.repo.movements {
		if m.ProductID == productID && m.ReferenceNo == referenceNo && m.Type == MovementOut {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextMovementID++
	m.ID = tx.repo.nextMovementID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) ProductExists(ctx context.Context, id int64) (bool, error) {
	return tx.repo.products[id], nil
}

func (tx *memoryTx) LocationExists(ctx context.Context, id int64) (bool, error) {
	return tx.repo.locations[id], nil
}

func (tx *memoryTx) ListBatchesByReferenceForUpdate(ctx context.Context, reference string) ([]Batch, error) {
	out := []Batch{}
	for _, b := range tx.repo.batches {
		if b.Reference == reference {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) RepointMovements(ctx context.Context, fromBatchID, toBatchID int64) (int64, error) {
	var moved int64
	for i, m := range tx.repo.movements {
		if m.BatchID == fromBatchID {
			tx.repo.movements[i].BatchID = toBatchID
			moved++
		}
	}
	return moved, nil
}

func (tx *memoryTx) RepointTransferLines(ctx context.Context, fromBatchID, toBatchID int64) (int64, error) {
	return 0, nil
}

func (tx *memoryTx) AbsorbBatch(ctx context.Context, id, availableDelta, quantityDelta int64) (int64, error) {
	b, ok := tx.repo.batches[id]
	if !ok {
		return 0, ErrBatchNotFound
	}
	b.Available += availableDelta
	b.Quantity += quantityDelta
	tx.repo.batches[id] = b
	return b.Available, nil
}

func (tx *memoryTx) DeleteBatch(ctx context.Context, id int64) error {
	delete(tx.repo.batches, id)
	return nil
}

func seedBatch(t *testing.T, repo *memoryRepo, b Batch) Batch {
	t.Helper()
	repo.nextBatchID++
	b.ID = repo.nextBatchID
	if b.Quantity == 0 {
		b.Quantity = b.Available
	}
	if b.EntryDate.IsZero() {
		b.EntryDate = time.Now().UTC()
	}
	repo.batches[b.ID] = b
	return b
}

func daysFromNow(days int) *time.Time {
	t := time.Now().UTC().AddDate(0, 0, days)
	return &t
}

func TestCreateBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, CreateBatchInput{
		ProductID:  1,
		LocationID: 1,
		Reference:  "LOT-001",
		Qty:        50,
		UnitPrice:  decimal.RequireFromString("12.50"),
		SRP:        decimal.RequireFromString("18.00"),
	})
	require.NoError(t, err)
	require.Equal(t, int64(50), batch.Available)
	require.Equal(t, int64(50), batch.Quantity)

	movements, err := repo.ListMovements(ctx, MovementFilter{BatchID: batch.ID})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, MovementIn, movements[0].Type)
	require.Equal(t, int64(50), movements[0].Qty)
	require.Equal(t, int64(50), movements[0].Remaining)
}

func TestCreateBatchDuplicateReference(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	input := CreateBatchInput{ProductID: 1, LocationID: 1, Reference: "LOT-001", Qty: 10}
	_, err := svc.CreateBatch(ctx, input)
	require.NoError(t, err)

	_, err = svc.CreateBatch(ctx, input)
	require.ErrorIs(t, err, ErrDuplicateReference)
}

func TestCreateBatchReferenceScopedPerProductLocation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, LocationID: 1, Reference: "LOT-001", Qty: 10})
	require.NoError(t, err)

	// Same reference is fine at another location or for another product.
	_, err = svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, LocationID: 2, Reference: "LOT-001", Qty: 5})
	require.NoError(t, err)
	_, err = svc.CreateBatch(ctx, CreateBatchInput{ProductID: 2, LocationID: 1, Reference: "LOT-001", Qty: 5})
	require.NoError(t, err)
}

func TestCreateBatchRejectsBadInput(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, LocationID: 1, Qty: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateBatch(ctx, CreateBatchInput{ProductID: 99, LocationID: 1, Qty: 5})
	require.ErrorIs(t, err, ErrProductNotFound)

	_, err = svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, LocationID: 99, Qty: 5})
	require.ErrorIs(t, err, ErrLocationNotFound)
}

func TestAdjustSetsAbsoluteQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	batch := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})

	result, err := svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, NewQty: 4, Reason: "cycle count"})
	require.NoError(t, err)
	require.Equal(t, int64(10), result.OldQty)
	require.Equal(t, int64(4), result.NewQty)
	require.Equal(t, int64(-6), result.Delta)
	require.Equal(t, MovementOut, result.Type)

	movements, err := repo.ListMovements(ctx, MovementFilter{BatchID: batch.ID})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, MovementOut, movements[0].Type)
	require.Equal(t, int64(6), movements[0].Qty)
	require.Equal(t, int64(4), movements[0].Remaining)
	require.Equal(t, "cycle count", movements[0].Reason)
}

func TestAdjustUpwardWritesInbound(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	batch := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 4})

	result, err := svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, NewQty: 9, Reason: "found stock"})
	require.NoError(t, err)
	require.Equal(t, int64(5), result.Delta)
	require.Equal(t, MovementIn, result.Type)
	require.Equal(t, int64(9), repo.batches[batch.ID].Available)
}

func TestAdjustNoopOnEqualQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	batch := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})

	result, err := svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, NewQty: 10, Reason: "cycle count"})
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Delta)

	movements, err := repo.ListMovements(ctx, MovementFilter{BatchID: batch.ID})
	require.NoError(t, err)
	require.Empty(t, movements)
}

func TestAdjustInvalidatesCacheWithoutProductHint(t *testing.T) {
	repo := newMemoryRepo()
	view, _ := newTestAggregate(t, repo)
	svc := NewService(repo, nil, nil, view, nil)
	ctx := context.Background()

	batch := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})

	total, err := svc.StockOnHand(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(10), total)

	// No ProductID on the input: the service resolves it from the batch row.
	_, err = svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, NewQty: 4, Reason: "cycle count"})
	require.NoError(t, err)

	total, err = svc.StockOnHand(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
}

func TestAdjustRequiresReason(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.Adjust(context.Background(), AdjustInput{BatchID: 1, NewQty: 5})
	require.Error(t, err)

	_, err = svc.Adjust(context.Background(), AdjustInput{BatchID: 1, NewQty: -1, Reason: "x"})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestRestoreExactProvenance(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	batch := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})

	_, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 3, ReferenceNo: "SALE-1"})
	require.NoError(t, err)
	require.Equal(t, int64(7), repo.batches[batch.ID].Available)

	result, err := svc.Restore(ctx, RestoreInput{ProductID: 1, LocationID: 1, Qty: 3, ReferenceNo: "SALE-1"})
	require.NoError(t, err)
	require.Equal(t, batch.ID, result.BatchID)
	require.False(t, result.ProvenanceFallback)
	require.Equal(t, int64(10), repo.batches[batch.ID].Available)
}

func TestRestoreAmbiguousProvenancePicksOldest(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	older := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 5, EntryDate: now.Add(-48 * time.Hour)})
	newer := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-B", Available: 5, EntryDate: now})

	_, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 7, ReferenceNo: "SALE-1"})
	require.NoError(t, err)

	result, err := svc.Restore(ctx, RestoreInput{ProductID: 1, LocationID: 1, Qty: 7, ReferenceNo: "SALE-1"})
	require.NoError(t, err)
	require.Equal(t, older.ID, result.BatchID)
	require.True(t, result.ProvenanceFallback)
	require.Equal(t, int64(7), repo.batches[older.ID].Available)
	require.Equal(t, int64(3), repo.batches[newer.ID].Available)
}

func TestRestoreUnknownReferenceFallsBackToLatest(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 5, EntryDate: now.Add(-48 * time.Hour)})
	latest := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-B", Available: 5, EntryDate: now})

	result, err := svc.Restore(ctx, RestoreInput{ProductID: 1, LocationID: 1, Qty: 2, ReferenceNo: "UNKNOWN"})
	require.NoError(t, err)
	require.Equal(t, latest.ID, result.BatchID)
	require.True(t, result.ProvenanceFallback)
	require.False(t, result.Synthesized)
	require.Equal(t, int64(7), repo.batches[latest.ID].Available)
}

func TestRestoreSynthesizesBatchWhenNoneExist(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	result, err := svc.Restore(ctx, RestoreInput{
		ProductID:   1,
		LocationID:  1,
		Qty:         4,
		UnitPrice:   decimal.RequireFromString("9.99"),
		ReferenceNo: "SALE-GONE",
	})
	require.NoError(t, err)
	require.True(t, result.Synthesized)
	require.True(t, result.ProvenanceFallback)
	require.Contains(t, result.BatchReference, "RET-")
	require.Equal(t, int64(4), result.Remaining)

	batch := repo.batches[result.BatchID]
	require.Equal(t, int64(4), batch.Available)
	require.Equal(t, int64(4), batch.Quantity)
}

func TestRestoreFlagsLedgerEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 5})

	_, err := svc.Restore(ctx, RestoreInput{ProductID: 1, LocationID: 1, Qty: 2, ReferenceNo: "UNKNOWN"})
	require.NoError(t, err)

	movements, err := repo.ListMovements(ctx, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, MovementIn, movements[0].Type)
	require.True(t, movements[0].ProvenanceFallback)
}

func TestAllocateRestoreRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})

	_, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 3, ReferenceNo: "SALE-9"})
	require.NoError(t, err)
	total, err := svc.StockOnHand(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(7), total)

	_, err = svc.Restore(ctx, RestoreInput{ProductID: 1, LocationID: 1, Qty: 3, ReferenceNo: "SALE-9"})
	require.NoError(t, err)
	total, err = svc.StockOnHand(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(10), total)
}

func TestAnchorBatchReturnsLatest(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 0, EntryDate: now.Add(-time.Hour)})
	latest := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-B", Available: 0, EntryDate: now})

	batch, err := svc.AnchorBatch(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, latest.ID, batch.ID)

	_, err = svc.AnchorBatch(ctx, 2, 1)
	require.ErrorIs(t, err, ErrBatchNotFound)
}
