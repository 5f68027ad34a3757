package products

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-pos/botica/internal/masterdata/shared"
	"github.com/botica-pos/botica/internal/platform/db"
)

// ErrNotFound indicates a missing product.
var ErrNotFound = errors.New("product not found")

// ErrDuplicateSKU indicates an SKU collision.
var ErrDuplicateSKU = errors.New("product SKU already exists")

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, id int64, product Product) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `id, sku, barcode, name, generic_name, category, unit, default_srp, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	query := `SELECT ` + columns + ` FROM products WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM products WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		cond := ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR sku ILIKE $` + strconv.Itoa(argCount) + ` OR barcode = $` + strconv.Itoa(argCount+1) + `)`
		query += cond
		countQuery += cond
		argCount++
		args = append(args, "%"+filters.Search+"%", filters.Search)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filters.Offset())
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.GenericName, &p.Category, &p.Unit, &p.DefaultSRP, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.GenericName, &p.Category, &p.Unit, &p.DefaultSRP, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO products (sku, barcode, name, generic_name, category, unit, default_srp, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING `+columns,
		product.SKU, product.Barcode, product.Name, product.GenericName, product.Category, product.Unit, product.DefaultSRP).
		Scan(&product.ID, &product.SKU, &product.Barcode, &product.Name, &product.GenericName, &product.Category, &product.Unit, &product.DefaultSRP, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Product{}, ErrDuplicateSKU
		}
		return Product{}, err
	}
	return product, nil
}

func (r *repository) Update(ctx context.Context, id int64, product Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET sku=$2, barcode=$3, name=$4, generic_name=$5, category=$6, unit=$7, default_srp=$8, updated_at=NOW()
WHERE id=$1`, id, product.SKU, product.Barcode, product.Name, product.GenericName, product.Category, product.Unit, product.DefaultSRP)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateSKU
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func sortOrder(sortBy, sortDir string) string {
	column := "name"
	switch sortBy {
	case "sku":
		column = "sku"
	case "category":
		column = "category"
	case "created_at":
		column = "created_at"
	}
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	return column + " " + dir
}
