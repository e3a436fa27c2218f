package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-distribution/internal/platform/db"
)

// Repository reads delivery notes and opens transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (DeliveryNote, error)
	List(ctx context.Context, filter ListFilter) ([]DeliveryNote, error)
	// ListStalled returns pending notes carrying approval markers untouched since before.
	ListStalled(ctx context.Context, before time.Time, limit int) ([]DeliveryNote, error)
	ListNumbers(ctx context.Context, prefix string) ([]string, error)
}

// TxRepository writes delivery notes inside a transaction.
type TxRepository interface {
	Insert(ctx context.Context, note DeliveryNote) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (DeliveryNote, error)
	Update(ctx context.Context, note DeliveryNote) error
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

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const noteColumns = `id, doc_number, sales_order_id, seller_id, customer_id, status, notes, workflow_id, receivable_id,
reversal_workflow_id, COALESCE(created_by, 0), approved_at, delivered_at, cancelled_at, created_at, updated_at`

func scanNote(row pgx.Row) (DeliveryNote, error) {
	var n DeliveryNote
	var status string
	err := row.Scan(&n.ID, &n.DocNumber, &n.SalesOrderID, &n.SellerID, &n.CustomerID, &status, &n.Notes,
		&n.WorkflowID, &n.ReceivableID, &n.ReversalWorkflowID, &n.CreatedBy, &n.ApprovedAt, &n.DeliveredAt,
		&n.CancelledAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeliveryNote{}, ErrNotFound
		}
		return DeliveryNote{}, err
	}
	n.Status = NoteStatus(status)
	return n, nil
}

func (r *repository) loadLines(ctx context.Context, notes []DeliveryNote) error {
	if len(notes) == 0 {
		return nil
	}
	ids := make([]string, len(notes))
	index := make(map[uuid.UUID]int, len(notes))
	for i, n := range notes {
		ids[i] = n.ID.String()
		index[n.ID] = i
	}
	rows, err := r.db.Query(ctx, `SELECT delivery_note_id, line_order, product_id, product_name, quantity::float8,
unit_price::float8 FROM delivery_note_lines WHERE delivery_note_id = ANY($1::uuid[]) ORDER BY delivery_note_id, line_order`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			noteID uuid.UUID
			l      DeliveryNoteLine
		)
		if err := rows.Scan(&noteID, &l.LineOrder, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice); err != nil {
			return err
		}
		i := index[noteID]
		notes[i].Lines = append(notes[i].Lines, l)
	}
	return rows.Err()
}

func (r *repository) get(ctx context.Context, query string, id uuid.UUID) (DeliveryNote, error) {
	n, err := scanNote(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return DeliveryNote{}, err
	}
	notes := []DeliveryNote{n}
	if err := r.loadLines(ctx, notes); err != nil {
		return DeliveryNote{}, err
	}
	return notes[0], nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (DeliveryNote, error) {
	return r.get(ctx, `SELECT `+noteColumns+` FROM delivery_notes WHERE id=$1`, id)
}

func (r *repository) GetForUpdate(ctx context.Context, id uuid.UUID) (DeliveryNote, error) {
	return r.get(ctx, `SELECT `+noteColumns+` FROM delivery_notes WHERE id=$1 FOR UPDATE`, id)
}

func (r *repository) list(ctx context.Context, query string, args ...interface{}) ([]DeliveryNote, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []DeliveryNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]DeliveryNote, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.SalesOrderID != uuid.Nil {
		add("sales_order_id=$%d", filter.SalesOrderID)
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
	query := `SELECT ` + noteColumns + ` FROM delivery_notes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.list(ctx, query, args...)
}

func (r *repository) ListStalled(ctx context.Context, before time.Time, limit int) ([]DeliveryNote, error) {
	return r.list(ctx, `SELECT `+noteColumns+` FROM delivery_notes
WHERE status=$1 AND (workflow_id IS NOT NULL OR receivable_id IS NOT NULL) AND updated_at < $2
ORDER BY updated_at LIMIT $3`, string(NoteStatusPending), before, limit)
}

func (r *repository) ListNumbers(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT doc_number FROM delivery_notes WHERE doc_number LIKE $1`, prefix+"-%")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *repository) Insert(ctx context.Context, n DeliveryNote) error {
	_, err := r.db.Exec(ctx, `INSERT INTO delivery_notes (id, doc_number, sales_order_id, seller_id, customer_id, status,
notes, created_by, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,0),$9,$10)`,
		n.ID, n.DocNumber, n.SalesOrderID, n.SellerID, n.CustomerID, string(n.Status), n.Notes, n.CreatedBy,
		n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return err
	}
	for _, l := range n.Lines {
		if _, err := r.db.Exec(ctx, `INSERT INTO delivery_note_lines (delivery_note_id, line_order, product_id, product_name,
quantity, unit_price) VALUES ($1,$2,$3,$4,$5,$6)`, n.ID, l.LineOrder, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice); err != nil {
			return fmt.Errorf("insert line %d: %w", l.LineOrder, err)
		}
	}
	return nil
}

func (r *repository) Update(ctx context.Context, n DeliveryNote) error {
	tag, err := r.db.Exec(ctx, `UPDATE delivery_notes SET status=$2, workflow_id=$3, receivable_id=$4,
reversal_workflow_id=$5, approved_at=$6, delivered_at=$7, cancelled_at=$8, updated_at=$9 WHERE id=$1`,
		n.ID, string(n.Status), n.WorkflowID, n.ReceivableID, n.ReversalWorkflowID, n.ApprovedAt, n.DeliveredAt,
		n.CancelledAt, n.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
