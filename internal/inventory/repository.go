package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetPositionForUpdate(ctx context.Context, ownerID, productID string) (Position, error)
	UpsertPosition(ctx context.Context, pos Position) error
	ListBatchesForUpdate(ctx context.Context, ownerID, productID string) ([]Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	UpdateBatchQty(ctx context.Context, id int64, qty float64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	db dbtx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepo{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const positionColumns = `owner_id, product_id, qty_on_hand::float8, qty_available::float8, qty_allocated::float8,
qty_borrowed::float8, qty_lent::float8, unit_cost::float8, market_value::float8, costing_policy,
reorder_level::float8, status, updated_at`

func scanPosition(row pgx.Row) (Position, error) {
	var p Position
	var policy, status string
	err := row.Scan(&p.OwnerID, &p.ProductID, &p.QtyOnHand, &p.QtyAvailable, &p.QtyAllocated,
		&p.QtyBorrowed, &p.QtyLent, &p.UnitCost, &p.MarketValue, &policy,
		&p.ReorderLevel, &status, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Position{}, ErrNotFound
		}
		return Position{}, err
	}
	p.Policy = CostingPolicy(policy)
	p.Status = StockStatus(status)
	return p, nil
}

// GetPosition loads one position without locking.
func (r *Repository) GetPosition(ctx context.Context, ownerID, productID string) (Position, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM inventory_positions
WHERE owner_id=$1 AND product_id=$2`, ownerID, productID)
	return scanPosition(row)
}

// ListPositions returns the positions of an owner ordered by product.
func (r *Repository) ListPositions(ctx context.Context, ownerID string) ([]Position, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+positionColumns+` FROM inventory_positions
WHERE owner_id=$1 ORDER BY product_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListBatches returns every lot of a position.
func (r *Repository) ListBatches(ctx context.Context, ownerID, productID string) ([]Batch, error) {
	return listBatches(ctx, r.pool, ownerID, productID, false)
}

// ListMovements returns the movement log newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.OwnerID != "" {
		add("owner_id=$%d", filter.OwnerID)
	}
	if filter.ProductID != "" {
		add("product_id=$%d", filter.ProductID)
	}
	if filter.Reference != "" {
		add("reference=$%d", filter.Reference)
	}
	query := `SELECT id, owner_id, product_id, direction, kind, qty::float8, unit_cost::float8, reference, posted_at
FROM inventory_movements`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY posted_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var dir, kind string
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.ProductID, &dir, &kind, &m.Qty, &m.UnitCost, &m.Reference, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Direction = Direction(dir)
		m.Kind = MovementKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepo) GetPositionForUpdate(ctx context.Context, ownerID, productID string) (Position, error) {
	row := r.db.QueryRow(ctx, `SELECT `+positionColumns+` FROM inventory_positions
WHERE owner_id=$1 AND product_id=$2 FOR UPDATE`, ownerID, productID)
	return scanPosition(row)
}

func (r *txRepo) UpsertPosition(ctx context.Context, p Position) error {
	_, err := r.db.Exec(ctx, `INSERT INTO inventory_positions
(owner_id, product_id, qty_on_hand, qty_available, qty_allocated, qty_borrowed, qty_lent,
 unit_cost, market_value, costing_policy, reorder_level, status, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (owner_id, product_id) DO UPDATE SET
 qty_on_hand=EXCLUDED.qty_on_hand, qty_available=EXCLUDED.qty_available,
 qty_allocated=EXCLUDED.qty_allocated, qty_borrowed=EXCLUDED.qty_borrowed,
 qty_lent=EXCLUDED.qty_lent, unit_cost=EXCLUDED.unit_cost, market_value=EXCLUDED.market_value,
 reorder_level=EXCLUDED.reorder_level, status=EXCLUDED.status, updated_at=EXCLUDED.updated_at`,
		p.OwnerID, p.ProductID, p.QtyOnHand, p.QtyAvailable, p.QtyAllocated, p.QtyBorrowed, p.QtyLent,
		p.UnitCost, p.MarketValue, string(p.Policy), p.ReorderLevel, string(p.Status), p.UpdatedAt)
	return err
}

func (r *txRepo) ListBatchesForUpdate(ctx context.Context, ownerID, productID string) ([]Batch, error) {
	return listBatches(ctx, r.db, ownerID, productID, true)
}

func (r *txRepo) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO inventory_batches
(owner_id, product_id, qty, unit_cost, origin_reference, received_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		b.OwnerID, b.ProductID, b.Qty, b.UnitCost, b.OriginReference, b.ReceivedAt).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateBatchQty(ctx context.Context, id int64, qty float64) error {
	_, err := r.db.Exec(ctx, `UPDATE inventory_batches SET qty=$2 WHERE id=$1`, id, qty)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO inventory_movements
(owner_id, product_id, direction, kind, qty, unit_cost, reference, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		m.OwnerID, m.ProductID, string(m.Direction), string(m.Kind), m.Qty, m.UnitCost, m.Reference, m.PostedAt).Scan(&id)
	return id, err
}

func listBatches(ctx context.Context, db dbtx, ownerID, productID string, lock bool) ([]Batch, error) {
	query := `SELECT id, owner_id, product_id, qty::float8, unit_cost::float8, origin_reference, received_at
FROM inventory_batches WHERE owner_id=$1 AND product_id=$2 ORDER BY received_at, id`
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := db.Query(ctx, query, ownerID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.ProductID, &b.Qty, &b.UnitCost, &b.OriginReference, &b.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
