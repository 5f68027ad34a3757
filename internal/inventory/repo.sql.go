package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-pos/botica/internal/platform/db"
)

// Repository persists batches and ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the allocator,
// the restoration path and the reconciliation merge. Transfer and returns
// embed it so their writes share one transaction with the batch mutations.
type TxRepository interface {
	ListBatchesForAllocation(ctx context.Context, productID, locationID int64) ([]Batch, error)
	GetBatchForUpdate(ctx context.Context, id int64) (Batch, error)
	DecrementBatch(ctx context.Context, id, qty int64) (int64, error)
	IncrementBatch(ctx context.Context, id, qty int64) (int64, error)
	SetBatchAvailable(ctx context.Context, id, qty int64) (int64, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	FindBatchByReference(ctx context.Context, productID, locationID int64, reference string) (Batch, error)
	LatestBatch(ctx context.Context, productID, locationID int64) (Batch, error)
	FindConsumptions(ctx context.Context, productID int64, referenceNo string) ([]Movement, error)
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	ProductExists(ctx context.Context, id int64) (bool, error)
	LocationExists(ctx context.Context, id int64) (bool, error)

	ListBatchesByReferenceForUpdate(ctx context.Context, reference string) ([]Batch, error)
	RepointMovements(ctx context.Context, fromBatchID, toBatchID int64) (int64, error)
	RepointTransferLines(ctx context.Context, fromBatchID, toBatchID int64) (int64, error)
	AbsorbBatch(ctx context.Context, id, availableDelta, quantityDelta int64) (int64, error)
	DeleteBatch(ctx context.Context, id int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an already-open transaction. Transfer and returns use
// it to compose batch mutations with their own tables atomically.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction with
// bounded retry on serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const batchColumns = `id, product_id, location_id, reference, quantity, available, unit_price, srp, expiration_date, entry_date, source_ref, created_at, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ProductID, &b.LocationID, &b.Reference, &b.Quantity, &b.Available, &b.UnitPrice, &b.SRP, &b.ExpirationDate, &b.EntryDate, &b.SourceRef, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.LocationID, &b.Reference, &b.Quantity, &b.Available, &b.UnitPrice, &b.SRP, &b.ExpirationDate, &b.EntryDate, &b.SourceRef, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetBatch fetches one batch outside a transaction.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	if r == nil {
		return Batch{}, errors.New("inventory repository not initialised")
	}
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id))
}

// ListBatches lists batches matching the filter, consumption order first.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	clauses := []string{"1=1"}
	args := []any{}
	idx := 1
	if filter.ProductID != 0 {
		clauses = append(clauses, fmt.Sprintf("product_id=$%d", idx))
		args = append(args, filter.ProductID)
		idx++
	}
	if filter.LocationID != 0 {
		clauses = append(clauses, fmt.Sprintf("location_id=$%d", idx))
		args = append(args, filter.LocationID)
		idx++
	}
	if !filter.IncludeExhausted {
		clauses = append(clauses, "available > 0")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + batchColumns + ` FROM batches WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY expiration_date ASC NULLS LAST, entry_date ASC, id ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// LatestBatch returns the most recently created batch for the product at the
// location regardless of remaining stock.
func (r *Repository) LatestBatch(ctx context.Context, productID, locationID int64) (Batch, error) {
	if r == nil {
		return Batch{}, errors.New("inventory repository not initialised")
	}
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches
WHERE product_id=$1 AND location_id=$2
ORDER BY entry_date DESC, id DESC LIMIT 1`, productID, locationID))
}

// SumAvailable derives stock on hand from the batch rows.
func (r *Repository) SumAvailable(ctx context.Context, productID, locationID int64) (int64, error) {
	if r == nil {
		return 0, errors.New("inventory repository not initialised")
	}
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(available), 0) FROM batches WHERE product_id=$1 AND location_id=$2`, productID, locationID).Scan(&total)
	return total, err
}

// ListMovements lists ledger entries newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	clauses := []string{"1=1"}
	args := []any{}
	idx := 1
	if filter.ProductID != 0 {
		clauses = append(clauses, fmt.Sprintf("m.product_id=$%d", idx))
		args = append(args, filter.ProductID)
		idx++
	}
	if filter.LocationID != 0 {
		clauses = append(clauses, fmt.Sprintf("b.location_id=$%d", idx))
		args = append(args, filter.LocationID)
		idx++
	}
	if filter.BatchID != 0 {
		clauses = append(clauses, fmt.Sprintf("m.batch_id=$%d", idx))
		args = append(args, filter.BatchID)
		idx++
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, fmt.Sprintf("m.occurred_at >= $%d", idx))
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, fmt.Sprintf("m.occurred_at <= $%d", idx))
		args = append(args, filter.To)
		idx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT m.id, m.product_id, m.batch_id, m.movement_type, m.qty, m.remaining, m.reference_no, m.reason, m.notes, m.actor_id, m.provenance_fallback, m.occurred_at
FROM movements m JOIN batches b ON b.id = m.batch_id
WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY m.occurred_at DESC, m.id DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &m.Type, &m.Qty, &m.Remaining, &m.ReferenceNo, &m.Reason, &m.Notes, &m.ActorID, &m.ProvenanceFallback, &m.OccurredAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

// ListExpiring returns non-exhausted batches expiring before the cutoff.
func (r *Repository) ListExpiring(ctx context.Context, locationID int64, before time.Time, limit int) ([]Batch, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE available > 0 AND expiration_date IS NOT NULL AND expiration_date <= $1 AND ($2 = 0 OR location_id = $2)
ORDER BY expiration_date ASC, id ASC LIMIT $3`, before, locationID, limit)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

// StockPairs lists every product/location pair that currently holds stock.
func (r *Repository) StockPairs(ctx context.Context) ([]StockPair, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT product_id, location_id FROM batches WHERE available > 0 ORDER BY product_id, location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pairs := []StockPair{}
	for rows.Next() {
		var pair StockPair
		if err := rows.Scan(&pair.ProductID, &pair.LocationID); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// DuplicateReferences lists batch references shared by more than one live row.
func (r *Repository) DuplicateReferences(ctx context.Context) ([]string, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT reference FROM batches GROUP BY reference HAVING COUNT(*) > 1 ORDER BY reference`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *txRepository) ListBatchesForAllocation(ctx context.Context, productID, locationID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE product_id=$1 AND location_id=$2 AND available > 0
ORDER BY expiration_date ASC NULLS LAST, entry_date ASC, id ASC
FOR UPDATE`, productID, locationID)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1 FOR UPDATE`, id))
}

// DecrementBatch takes qty from the batch, guarded so a concurrent writer
// cannot push available below zero. No row affected means the guard failed.
func (r *txRepository) DecrementBatch(ctx context.Context, id, qty int64) (int64, error) {
	var remaining int64
	err := r.tx.QueryRow(ctx, `UPDATE batches SET available = available - $2, updated_at = NOW()
WHERE id = $1 AND available >= $2
RETURNING available`, id, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientStock
		}
		return 0, err
	}
	return remaining, nil
}

// IncrementBatch credits qty back. Quantity is raised when the credit would
// exceed it so available <= quantity always holds.
func (r *txRepository) IncrementBatch(ctx context.Context, id, qty int64) (int64, error) {
	var remaining int64
	err := r.tx.QueryRow(ctx, `UPDATE batches SET available = available + $2, quantity = GREATEST(quantity, available + $2), updated_at = NOW()
WHERE id = $1
RETURNING available`, id, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrBatchNotFound
		}
		return 0, err
	}
	return remaining, nil
}

func (r *txRepository) SetBatchAvailable(ctx context.Context, id, qty int64) (int64, error) {
	var remaining int64
	err := r.tx.QueryRow(ctx, `UPDATE batches SET available = $2, quantity = GREATEST(quantity, $2), updated_at = NOW()
WHERE id = $1
RETURNING available`, id, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrBatchNotFound
		}
		return 0, err
	}
	return remaining, nil
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batches (product_id, location_id, reference, quantity, available, unit_price, srp, expiration_date, entry_date, source_ref, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()) RETURNING id`,
		batch.ProductID, batch.LocationID, batch.Reference, batch.Quantity, batch.Available, batch.UnitPrice, batch.SRP, batch.ExpirationDate, batch.EntryDate, batch.SourceRef).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateReference
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) FindBatchByReference(ctx context.Context, productID, locationID int64, reference string) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches
WHERE product_id=$1 AND location_id=$2 AND reference=$3
ORDER BY id ASC LIMIT 1
FOR UPDATE`, productID, locationID, reference))
}

func (r *txRepository) LatestBatch(ctx context.Context, productID, locationID int64) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches
WHERE product_id=$1 AND location_id=$2
ORDER BY entry_date DESC, id DESC LIMIT 1
FOR UPDATE`, productID, locationID))
}

func (r *txRepository) FindConsumptions(ctx context.Context, productID int64, referenceNo string) ([]Movement, error) {
	if referenceNo == "" {
		return nil, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, batch_id, movement_type, qty, remaining, reference_no, reason, notes, actor_id, provenance_fallback, occurred_at
FROM movements
WHERE product_id=$1 AND reference_no=$2 AND movement_type='OUT'
ORDER BY occurred_at ASC, id ASC`, productID, referenceNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.BatchID, &m.Type, &m.Qty, &m.Remaining, &m.ReferenceNo, &m.Reason, &m.Notes, &m.ActorID, &m.ProvenanceFallback, &m.OccurredAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO movements (product_id, batch_id, movement_type, qty, remaining, reference_no, reason, notes, actor_id, provenance_fallback, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		m.ProductID, m.BatchID, string(m.Type), m.Qty, m.Remaining, m.ReferenceNo, m.Reason, m.Notes, nullInt(m.ActorID), m.ProvenanceFallback, m.OccurredAt).Scan(&id)
	return id, err
}

func (r *txRepository) ProductExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepository) LocationExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM locations WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepository) ListBatchesByReferenceForUpdate(ctx context.Context, reference string) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE reference=$1
ORDER BY id ASC
FOR UPDATE`, reference)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

func (r *txRepository) RepointMovements(ctx context.Context, fromBatchID, toBatchID int64) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE movements SET batch_id=$2 WHERE batch_id=$1`, fromBatchID, toBatchID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) RepointTransferLines(ctx context.Context, fromBatchID, toBatchID int64) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE transfer_lines SET batch_id=$2 WHERE batch_id=$1`, fromBatchID, toBatchID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AbsorbBatch folds a duplicate's quantities into the survivor.
func (r *txRepository) AbsorbBatch(ctx context.Context, id, availableDelta, quantityDelta int64) (int64, error) {
	var remaining int64
	err := r.tx.QueryRow(ctx, `UPDATE batches SET available = available + $2, quantity = quantity + $3, updated_at = NOW()
WHERE id = $1
RETURNING available`, id, availableDelta, quantityDelta).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrBatchNotFound
		}
		return 0, err
	}
	return remaining, nil
}

func (r *txRepository) DeleteBatch(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM batches WHERE id=$1`, id)
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
