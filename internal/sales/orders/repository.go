package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-distribution/internal/platform/db"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (SalesOrder, error)
	List(ctx context.Context, filter ListFilter) ([]SalesOrder, error)
	ListNumbers(ctx context.Context, prefix string) ([]string, error)
}

type TxRepository interface {
	Insert(ctx context.Context, order SalesOrder) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (SalesOrder, error)
	UpdateStatus(ctx context.Context, order SalesOrder) error
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const orderColumns = `id, doc_number, seller_id, customer_id, order_date, status, notes, COALESCE(created_by, 0),
approved_at, cancelled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (SalesOrder, error) {
	var o SalesOrder
	var status string
	err := row.Scan(&o.ID, &o.DocNumber, &o.SellerID, &o.CustomerID, &o.OrderDate, &status, &o.Notes, &o.CreatedBy,
		&o.ApprovedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalesOrder{}, ErrNotFound
		}
		return SalesOrder{}, err
	}
	o.Status = SalesOrderStatus(status)
	return o, nil
}

func (r *repository) loadLines(ctx context.Context, o *SalesOrder) error {
	rows, err := r.db.Query(ctx, `SELECT line_order, product_id, product_name, quantity::float8, unit_price::float8
FROM sales_order_lines WHERE sales_order_id=$1 ORDER BY line_order`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var l SalesOrderLine
		if err := rows.Scan(&l.LineOrder, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice); err != nil {
			return err
		}
		o.Lines = append(o.Lines, l)
	}
	return rows.Err()
}

func (r *repository) get(ctx context.Context, query string, id uuid.UUID) (SalesOrder, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return SalesOrder{}, err
	}
	if err := r.loadLines(ctx, &o); err != nil {
		return SalesOrder{}, err
	}
	return o, nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id=$1`, id)
}

func (r *repository) GetForUpdate(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id=$1 FOR UPDATE`, id)
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]SalesOrder, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.SellerID != "" {
		add("seller_id=$%d", filter.SellerID)
	}
	if filter.CustomerID != "" {
		add("customer_id=$%d", filter.CustomerID)
	}
	if filter.Status != "" {
		add("status=$%d", string(filter.Status))
	}
	query := `SELECT ` + orderColumns + ` FROM sales_orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SalesOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *repository) ListNumbers(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT doc_number FROM sales_orders WHERE doc_number LIKE $1`, prefix+"-%")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repository) Insert(ctx context.Context, o SalesOrder) error {
	_, err := r.db.Exec(ctx, `INSERT INTO sales_orders (id, doc_number, seller_id, customer_id, order_date, status, notes,
created_by, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,0),$9,$10)`,
		o.ID, o.DocNumber, o.SellerID, o.CustomerID, o.OrderDate, string(o.Status), o.Notes, o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	for _, l := range o.Lines {
		if _, err := r.db.Exec(ctx, `INSERT INTO sales_order_lines (sales_order_id, line_order, product_id, product_name,
quantity, unit_price) VALUES ($1,$2,$3,$4,$5,$6)`, o.ID, l.LineOrder, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice); err != nil {
			return fmt.Errorf("insert line %d: %w", l.LineOrder, err)
		}
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, o SalesOrder) error {
	tag, err := r.db.Exec(ctx, `UPDATE sales_orders SET status=$2, approved_at=$3, cancelled_at=$4, updated_at=$5 WHERE id=$1`,
		o.ID, string(o.Status), o.ApprovedAt, o.CancelledAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
