package returns

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

// Repository persists returns in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository extends the inventory transaction surface with return tables,
// so approvals restore stock and flip status in one transaction.
type TxRepository interface {
	inventory.TxRepository
	InsertReturn(ctx context.Context, ret Return) (int64, error)
	InsertReturnLine(ctx context.Context, line Line) (int64, error)
	GetReturnForUpdate(ctx context.Context, id int64) (Return, error)
	UpdateReturnStatus(ctx context.Context, id int64, status Status, decidedBy int64, decidedAt time.Time) error
}

type txRepository struct {
	inventory.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction with
// bounded retry on serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("returns repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

func (r *txRepository) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO returns (number, original_txn_ref, location_id, status, reason, notes, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		ret.Number, ret.OriginalTxnRef, ret.LocationID, string(ret.Status), ret.Reason, ret.Notes, nullInt(ret.ActorID)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertReturnLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO return_lines (return_id, product_id, qty, unit_price)
VALUES ($1,$2,$3,$4) RETURNING id`,
		line.ReturnID, line.ProductID, line.Qty, line.UnitPrice).Scan(&id)
	return id, err
}

func (r *txRepository) GetReturnForUpdate(ctx context.Context, id int64) (Return, error) {
	ret, err := scanReturn(r.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM returns WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Return{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, return_id, product_id, qty, unit_price FROM return_lines WHERE return_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Return{}, err
	}
	ret.Lines, err = collectLines(rows)
	if err != nil {
		return Return{}, err
	}
	return ret, nil
}

func (r *txRepository) UpdateReturnStatus(ctx context.Context, id int64, status Status, decidedBy int64, decidedAt time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE returns SET status=$2, decided_by=$3, decided_at=$4 WHERE id=$1`,
		id, string(status), nullInt(decidedBy), decidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const returnColumns = `id, number, original_txn_ref, location_id, status, reason, notes, actor_id, decided_by, decided_at, created_at`

func scanReturn(row pgx.Row) (Return, error) {
	var ret Return
	var actorID, decidedBy *int64
	err := row.Scan(&ret.ID, &ret.Number, &ret.OriginalTxnRef, &ret.LocationID, &ret.Status, &ret.Reason, &ret.Notes, &actorID, &decidedBy, &ret.DecidedAt, &ret.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Return{}, ErrNotFound
		}
		return Return{}, err
	}
	if actorID != nil {
		ret.ActorID = *actorID
	}
	if decidedBy != nil {
		ret.DecidedBy = *decidedBy
	}
	return ret, nil
}

func collectLines(rows pgx.Rows) ([]Line, error) {
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.ReturnID, &line.ProductID, &line.Qty, &line.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// GetReturn fetches a return and its lines.
func (r *Repository) GetReturn(ctx context.Context, id int64) (Return, error) {
	if r == nil {
		return Return{}, errors.New("returns repository not initialised")
	}
	ret, err := scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM returns WHERE id=$1`, id))
	if err != nil {
		return Return{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, return_id, product_id, qty, unit_price FROM return_lines WHERE return_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Return{}, err
	}
	ret.Lines, err = collectLines(rows)
	if err != nil {
		return Return{}, err
	}
	return ret, nil
}

// ListReturns lists return headers newest first.
func (r *Repository) ListReturns(ctx context.Context, filter Filter) ([]Return, error) {
	if r == nil {
		return nil, errors.New("returns repository not initialised")
	}
	clauses := []string{"1=1"}
	args := []any{}
	idx := 1
	if filter.LocationID != 0 {
		clauses = append(clauses, fmt.Sprintf("location_id=$%d", idx))
		args = append(args, filter.LocationID)
		idx++
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status=$%d", idx))
		args = append(args, string(filter.Status))
		idx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + returnColumns + ` FROM returns WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, filter.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Return{}
	for rows.Next() {
		var ret Return
		var actorID, decidedBy *int64
		if err := rows.Scan(&ret.ID, &ret.Number, &ret.OriginalTxnRef, &ret.LocationID, &ret.Status, &ret.Reason, &ret.Notes, &actorID, &decidedBy, &ret.DecidedAt, &ret.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			ret.ActorID = *actorID
		}
		if decidedBy != nil {
			ret.DecidedBy = *decidedBy
		}
		out = append(out, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
