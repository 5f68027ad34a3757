package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-pos/botica/internal/inventory"
	"github.com/botica-pos/botica/internal/platform/db"
)

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository extends the inventory transaction surface with transfer
// tables, so batch mutations and transfer rows commit together.
type TxRepository interface {
	inventory.TxRepository
	InsertTransfer(ctx context.Context, t Transfer) (int64, error)
	InsertTransferLine(ctx context.Context, line Line) (int64, error)
}

type txRepository struct {
	inventory.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction with
// bounded retry on serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfer repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

func (r *txRepository) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transfers (number, source_location_id, dest_location_id, status, notes, actor_id, posted_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		t.Number, t.SourceLocationID, t.DestLocationID, string(t.Status), t.Notes, nullInt(t.ActorID), t.PostedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertTransferLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transfer_lines (transfer_id, product_id, batch_id, dest_batch_id, qty, unit_price, srp)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		line.TransferID, line.ProductID, line.BatchID, line.DestBatchID, line.Qty, line.UnitPrice, line.SRP).Scan(&id)
	return id, err
}

const transferColumns = `id, number, source_location_id, dest_location_id, status, notes, actor_id, posted_at, created_at`

// GetTransfer fetches a transfer and its lines.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	if r == nil {
		return Transfer{}, errors.New("transfer repository not initialised")
	}
	var t Transfer
	var actorID *int64
	err := r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, id).
		Scan(&t.ID, &t.Number, &t.SourceLocationID, &t.DestLocationID, &t.Status, &t.Notes, &actorID, &t.PostedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	if actorID != nil {
		t.ActorID = *actorID
	}

	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id, product_id, batch_id, dest_batch_id, qty, unit_price, srp
FROM transfer_lines WHERE transfer_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.TransferID, &line.ProductID, &line.BatchID, &line.DestBatchID, &line.Qty, &line.UnitPrice, &line.SRP); err != nil {
			return Transfer{}, err
		}
		t.Lines = append(t.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

// ListTransfers lists transfer headers newest first.
func (r *Repository) ListTransfers(ctx context.Context, filter Filter) ([]Transfer, error) {
	if r == nil {
		return nil, errors.New("transfer repository not initialised")
	}
	clauses := []string{"1=1"}
	args := []any{}
	idx := 1
	if filter.LocationID != 0 {
		clauses = append(clauses, fmt.Sprintf("(source_location_id=$%d OR dest_location_id=$%d)", idx, idx))
		args = append(args, filter.LocationID)
		idx++
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, fmt.Sprintf("posted_at >= $%d", idx))
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, fmt.Sprintf("posted_at <= $%d", idx))
		args = append(args, filter.To)
		idx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY posted_at DESC, id DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	transfers := []Transfer{}
	for rows.Next() {
		var t Transfer
		var actorID *int64
		var postedAt, createdAt time.Time
		if err := rows.Scan(&t.ID, &t.Number, &t.SourceLocationID, &t.DestLocationID, &t.Status, &t.Notes, &actorID, &postedAt, &createdAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			t.ActorID = *actorID
		}
		t.PostedAt = postedAt
		t.CreatedAt = createdAt
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transfers, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
