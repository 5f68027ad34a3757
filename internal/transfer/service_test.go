package transfer

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/botica-pos/botica/internal/inventory"
)

type memoryRepo struct {
	batches        map[int64]inventory.Batch
	movements      []inventory.Movement
	transfers      map[int64]Transfer
	lines          []Line
	nextBatchID    int64
	nextMovementID int64
	nextTransferID int64
	nextLineID     int64
	locations      map[int64]bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches:   make(map[int64]inventory.Batch),
		transfers: make(map[int64]Transfer),
		locations: map[int64]bool{1: true, 2: true},
	}
}

func (r *memoryRepo) clone() *memoryRepo {
	cp := &memoryRepo{
		batches:        make(map[int64]inventory.Batch, len(r.batches)),
		movements:      append([]inventory.Movement(nil), r.movements...),
		transfers:      make(map[int64]Transfer, len(r.transfers)),
		lines:          append([]Line(nil), r.lines...),
		nextBatchID:    r.nextBatchID,
		nextMovementID: r.nextMovementID,
		nextTransferID: r.nextTransferID,
		nextLineID:     r.nextLineID,
		locations:      r.locations,
	}
	for id, b := range r.batches {
		cp.batches[id] = b
	}
	for id, t := range r.transfers {
		cp.transfers[id] = t
	}
	return cp
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	staged := r.clone()
	if err := fn(ctx, &memoryTx{repo: staged}); err != nil {
		return err
	}
	*r = *staged
	return nil
}

func (r *memoryRepo) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	for _, line := range r.lines {
		if line.TransferID == id {
			t.Lines = append(t.Lines, line)
		}
	}
	return t, nil
}

func (r *memoryRepo) ListTransfers(ctx context.Context, filter Filter) ([]Transfer, error) {
	out := []Transfer{}
	for _, t := range r.transfers {
		if filter.LocationID != 0 && t.SourceLocationID != filter.LocationID && t.DestLocationID != filter.LocationID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func consumptionOrder(a, b inventory.Batch) bool {
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

func (tx *memoryTx) ListBatchesForAllocation(ctx context.Context, productID, locationID int64) ([]inventory.Batch, error) {
	out := []inventory.Batch{}
	for _, b := range tx.repo.batches {
		if b.ProductID == productID && b.LocationID == locationID && b.Available > 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return consumptionOrder(out[i], out[j]) })
	return out, nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, id int64) (inventory.Batch, error) {
	if b, ok := tx.repo.batches[id]; ok {
		return b, nil
	}
	return inventory.Batch{}, inventory.ErrBatchNotFound
}

func (tx *memoryTx) DecrementBatch(ctx context.Context, id, qty int64) (int64, error) {
	b, ok := tx.repo.batches[id]
	if !ok || b.Available < qty {
		return 0, inventory.ErrInsufficientStock
	}
	b.Available -= qty
	tx.repo.batches[id] = b
	return b.Available, nil
}

func (tx *memoryTx) IncrementBatch(ctx context.Context, id, qty int64) (int64, error) {
	b, ok := tx.repo.batches[id]
	if !ok {
		return 0, inventory.ErrBatchNotFound
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
		return 0, inventory.ErrBatchNotFound
	}
	b.Available = qty
	if b.Available > b.Quantity {
		b.Quantity = b.Available
	}
	tx.repo.batches[id] = b
	return b.Available, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch inventory.Batch) (int64, error) {
	tx.repo.nextBatchID++
	batch.ID = tx.repo.nextBatchID
	tx.repo.batches[batch.ID] = batch
	return batch.ID, nil
}

func (tx *memoryTx) FindBatchByReference(ctx context.Context, productID, locationID int64, reference string) (inventory.Batch, error) {
	var match inventory.Batch
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
		return inventory.Batch{}, inventory.ErrBatchNotFound
	}
	return match, nil
}

func (tx *memoryTx) LatestBatch(ctx context.Context, productID, locationID int64) (inventory.Batch, error) {
	var latest inventory.Batch
	found := false
	for _, b := range tx.repo.batches {
		if b.ProductID != productID || b.LocationID != locationID {
			continue
		}
		if !found || b.EntryDate.After(latest.EntryDate) {
			latest = b
			found = true
		}
	}
	if !found {
		return inventory.Batch{}, inventory.ErrBatchNotFound
	}
	return latest, nil
}

func (tx *memoryTx) FindConsumptions(ctx context.Context, productID int64, referenceNo string) ([]inventory.Movement, error) {
	out := []inventory.Movement{}
	for _, m := range tx.repo.movements {
		if m.ProductID == productID && m.ReferenceNo == referenceNo && m.Type == inventory.MovementOut {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	tx.repo.nextMovementID++
	m.ID = tx.repo.nextMovementID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) ProductExists(ctx context.Context, id int64) (bool, error) {
	return true, nil
}

func (tx *memoryTx) LocationExists(ctx context.Context, id int64) (bool, error) {
	return tx.repo.locations[id], nil
}

func (tx *memoryTx) ListBatchesByReferenceForUpdate(ctx context.Context, reference string) ([]inventory.Batch, error) {
	out := []inventory.Batch{}
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
	var moved int64
	for i, line := range tx.repo.lines {
		if line.BatchID == fromBatchID {
			tx.repo.lines[i].BatchID = toBatchID
			moved++
		}
	}
	return moved, nil
}

func (tx *memoryTx) AbsorbBatch(ctx context.Context, id, availableDelta, quantityDelta int64) (int64, error) {
	b, ok := tx.repo.batches[id]
	if !ok {
		return 0, inventory.ErrBatchNotFound
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

func (tx *memoryTx) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	tx.repo.nextTransferID++
	t.ID = tx.repo.nextTransferID
	tx.repo.transfers[t.ID] = t
	return t.ID, nil
}

func (tx *memoryTx) InsertTransferLine(ctx context.Context, line Line) (int64, error) {
	tx.repo.nextLineID++
	line.ID = tx.repo.nextLineID
	tx.repo.lines = append(tx.repo.lines, line)
	return line.ID, nil
}

func seedBatch(t *testing.T, repo *memoryRepo, b inventory.Batch) inventory.Batch {
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

func sumAvailable(repo *memoryRepo, productID int64) int64 {
	var total int64
	for _, b := range repo.batches {
		if b.ProductID == productID {
			total += b.Available
		}
	}
	return total
}

func TestTransferConservesQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	source := seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 20})

	posted, err := svc.Post(ctx, Input{
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines:            []LineInput{{ProductID: 1, Qty: 5}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.Len(t, posted.Lines, 1)

	require.Equal(t, int64(15), repo.batches[source.ID].Available)
	require.Equal(t, int64(20), sumAvailable(repo, 1))

	dest := repo.batches[posted.Lines[0].DestBatchID]
	require.Equal(t, int64(2), dest.LocationID)
	require.Equal(t, int64(5), dest.Available)
}

func TestTransferPreservesBatchIdentity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	exp := time.Now().UTC().AddDate(0, 6, 0)
	entry := time.Now().UTC().Add(-72 * time.Hour)
	seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10, ExpirationDate: &exp, EntryDate: entry})

	posted, err := svc.Post(ctx, Input{
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines:            []LineInput{{ProductID: 1, Qty: 4}},
	})
	require.NoError(t, err)

	dest := repo.batches[posted.Lines[0].DestBatchID]
	require.Equal(t, "LOT-A", dest.Reference)
	require.NotNil(t, dest.ExpirationDate)
	require.True(t, dest.ExpirationDate.Equal(exp))
	require.True(t, dest.EntryDate.Equal(entry))
}

func TestTransferMergesIntoExistingDestBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})
	dest := seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 2, Reference: "LOT-A", Available: 3})

	posted, err := svc.Post(ctx, Input{
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines:            []LineInput{{ProductID: 1, Qty: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, dest.ID, posted.Lines[0].DestBatchID)
	require.Equal(t, int64(7), repo.batches[dest.ID].Available)
}

func TestTransferSharedReferenceOtherProductNotMerged(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})
	other := seedBatch(t, repo, inventory.Batch{ProductID: 2, LocationID: 2, Reference: "LOT-A", Available: 3})

	posted, err := svc.Post(ctx, Input{
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines:            []LineInput{{ProductID: 1, Qty: 4}},
	})
	require.NoError(t, err)

	require.NotEqual(t, other.ID, posted.Lines[0].DestBatchID)
	require.Equal(t, int64(3), repo.batches[other.ID].Available)
	require.Equal(t, int64(3), sumAvailable(repo, 2))

	dest := repo.batches[posted.Lines[0].DestBatchID]
	require.Equal(t, int64(1), dest.ProductID)
	require.Equal(t, int64(4), dest.Available)
	require.Equal(t, int64(10), sumAvailable(repo, 1))
}

func TestTransferSpansMultipleSourceBatches(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	exp1 := time.Now().UTC().AddDate(0, 1, 0)
	exp2 := time.Now().UTC().AddDate(0, 3, 0)
	first := seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-1", Available: 3, ExpirationDate: &exp1})
	second := seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-2", Available: 5, ExpirationDate: &exp2})

	posted, err := svc.Post(ctx, Input{
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines:            []LineInput{{ProductID: 1, Qty: 6}},
	})
	require.NoError(t, err)
	require.Len(t, posted.Lines, 2)
	require.Equal(t, first.ID, posted.Lines[0].BatchID)
	require.Equal(t, int64(3), posted.Lines[0].Qty)
	require.Equal(t, second.ID, posted.Lines[1].BatchID)
	require.Equal(t, int64(3), posted.Lines[1].Qty)
	require.Equal(t, int64(8), sumAvailable(repo, 1))
}

func TestTransferShortfallRollsBack(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	batch := seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 4})

	_, err := svc.Post(ctx, Input{
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines:            []LineInput{{ProductID: 1, Qty: 10}},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	require.Equal(t, int64(4), repo.batches[batch.ID].Available)
	require.Empty(t, repo.transfers)
	require.Empty(t, repo.lines)
	require.Empty(t, repo.movements)
}

func TestTransferPartialLineFailureRollsBackAll(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})
	seedBatch(t, repo, inventory.Batch{ProductID: 2, LocationID: 1, Reference: "LOT-B", Available: 1})

	_, err := svc.Post(ctx, Input{
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines: []LineInput{
			{ProductID: 1, Qty: 5},
			{ProductID: 2, Qty: 3},
		},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Equal(t, int64(10), sumAvailable(repo, 1))
	require.Equal(t, int64(1), sumAvailable(repo, 2))
	require.Empty(t, repo.transfers)
}

func TestTransferPinnedBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	pinned := seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})
	seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-B", Available: 10})

	posted, err := svc.Post(ctx, Input{
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines:            []LineInput{{BatchID: pinned.ID, Qty: 6}},
	})
	require.NoError(t, err)
	require.Len(t, posted.Lines, 1)
	require.Equal(t, pinned.ID, posted.Lines[0].BatchID)
	require.Equal(t, int64(4), repo.batches[pinned.ID].Available)
}

func TestTransferPinnedBatchWrongLocation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	elsewhere := seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 2, Reference: "LOT-A", Available: 10})

	_, err := svc.Post(ctx, Input{
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines:            []LineInput{{BatchID: elsewhere.ID, Qty: 2}},
	})
	require.ErrorIs(t, err, ErrBatchMismatch)
}

func TestTransferSameLocationRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Post(context.Background(), Input{
		SourceLocationID: 1,
		DestLocationID:   1,
		Lines:            []LineInput{{ProductID: 1, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrSameLocation)
}

func TestTransferWritesLedgerBothSides(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	source := seedBatch(t, repo, inventory.Batch{ProductID: 1, LocationID: 1, Reference: "LOT-A", Available: 10})

	posted, err := svc.Post(ctx, Input{
		Number:           "TRF-77",
		SourceLocationID: 1,
		DestLocationID:   2,
		Lines:            []LineInput{{ProductID: 1, Qty: 4}},
	})
	require.NoError(t, err)
	require.Len(t, repo.movements, 2)

	out := repo.movements[0]
	require.Equal(t, inventory.MovementOut, out.Type)
	require.Equal(t, source.ID, out.BatchID)
	require.Equal(t, "TRF-77", out.ReferenceNo)
	require.Equal(t, int64(6), out.Remaining)

	in := repo.movements[1]
	require.Equal(t, inventory.MovementIn, in.Type)
	require.Equal(t, posted.Lines[0].DestBatchID, in.BatchID)
	require.Equal(t, "TRF-77", in.ReferenceNo)
	require.Equal(t, int64(4), in.Remaining)
}
