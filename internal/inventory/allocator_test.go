package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllocateConsumesSoonestExpiryFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	soon := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-SOON", Available: 5, ExpirationDate: daysFromNow(30)})
	later := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-LATER", Available: 10, ExpirationDate: daysFromNow(90)})

	result, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 7, ReferenceNo: "SALE-1"})
	require.NoError(t, err)
	require.Equal(t, int64(7), result.Allocated())
	require.Len(t, result.Lines, 2)
	require.Equal(t, soon.ID, result.Lines[0].BatchID)
	require.Equal(t, int64(5), result.Lines[0].Qty)
	require.Equal(t, later.ID, result.Lines[1].BatchID)
	require.Equal(t, int64(2), result.Lines[1].Qty)

	require.Equal(t, int64(0), repo.batches[soon.ID].Available)
	require.Equal(t, int64(8), repo.batches[later.ID].Available)
}

func TestAllocateOrdersNilExpiryLast(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	noExpiry := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-NOEXP", Available: 5, EntryDate: time.Now().UTC().Add(-time.Hour)})
	dated := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-DATED", Available: 5, ExpirationDate: daysFromNow(365)})

	result, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 6, ReferenceNo: "SALE-1"})
	require.NoError(t, err)
	require.Equal(t, dated.ID, result.Lines[0].BatchID)
	require.Equal(t, noExpiry.ID, result.Lines[1].BatchID)
}

func TestAllocateTieBreaksByEntryDateThenID(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	exp := daysFromNow(60)
	now := time.Now().UTC()
	earlier := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-1", Available: 3, ExpirationDate: exp, EntryDate: now.Add(-2 * time.Hour)})
	later := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-2", Available: 3, ExpirationDate: exp, EntryDate: now})

	result, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 4, ReferenceNo: "SALE-1"})
	require.NoError(t, err)
	require.Equal(t, earlier.ID, result.Lines[0].BatchID)
	require.Equal(t, later.ID, result.Lines[1].BatchID)
}

func TestAllocateShortfallLeavesStockUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	b1 := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-1", Available: 4})
	b2 := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-2", Available: 2})

	_, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 10, ReferenceNo: "SALE-1"})
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.Equal(t, int64(4), repo.batches[b1.ID].Available)
	require.Equal(t, int64(2), repo.batches[b2.ID].Available)

	movements, err := repo.ListMovements(ctx, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	require.Empty(t, movements)
}

func TestAllocateZeroQuantityIsNoop(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-1", Available: 4})

	result, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 0})
	require.NoError(t, err)
	require.Empty(t, result.Lines)

	movements, err := repo.ListMovements(ctx, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	require.Empty(t, movements)
}

func TestAllocateNegativeQuantityRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.Allocate(context.Background(), AllocateInput{ProductID: 1, LocationID: 1, Qty: -1})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAllocateSkipsExhaustedBatches(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-EMPTY", Available: 0, ExpirationDate: daysFromNow(10)})
	live := seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-LIVE", Available: 5, ExpirationDate: daysFromNow(20)})

	result, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 3, ReferenceNo: "SALE-1"})
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	require.Equal(t, live.ID, result.Lines[0].BatchID)
}

func TestAllocateWritesLedgerPerBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-1", Available: 5, ExpirationDate: daysFromNow(10)})
	seedBatch(t, repo, Batch{ProductID: 1, LocationID: 1, Reference: "LOT-2", Available: 5, ExpirationDate: daysFromNow(20)})

	_, err := svc.Allocate(ctx, AllocateInput{ProductID: 1, LocationID: 1, Qty: 7, ReferenceNo: "SALE-1", ActorID: 42})
	require.NoError(t, err)

	movements, err := repo.ListMovements(ctx, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, m := range movements {
		require.Equal(t, MovementOut, m.Type)
		require.Equal(t, "SALE-1", m.ReferenceNo)
		require.Equal(t, int64(42), m.ActorID)
	}
	require.Equal(t, int64(0), movements[0].Remaining)
	require.Equal(t, int64(3), movements[1].Remaining)
}

func TestFifoBefore(t *testing.T) {
	now := time.Now().UTC()
	exp1 := now.AddDate(0, 0, 10)
	exp2 := now.AddDate(0, 0, 20)

	a := Batch{ID: 1, ExpirationDate: &exp1, EntryDate: now}
	b := Batch{ID: 2, ExpirationDate: &exp2, EntryDate: now}
	c := Batch{ID: 3, EntryDate: now.Add(-time.Hour)}

	require.True(t, fifoBefore(a, b))
	require.False(t, fifoBefore(b, a))
	require.True(t, fifoBefore(a, c))
	require.False(t, fifoBefore(c, a))
	require.True(t, fifoBefore(Batch{ID: 1, EntryDate: now}, Batch{ID: 2, EntryDate: now}))
}
