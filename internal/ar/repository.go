package ar

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

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for AR.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	db dbtx
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

// Amounts travel as text so decimal.Decimal scans them losslessly.
const receivableColumns = `id, delivery_ref, customer_id, seller_id, total::text, paid::text, remaining::text,
status, due_at, created_at, updated_at`

func scanReceivable(row pgx.Row) (Receivable, error) {
	var r Receivable
	var status string
	err := row.Scan(&r.ID, &r.DeliveryRef, &r.CustomerID, &r.SellerID, &r.Total, &r.Paid, &r.Remaining,
		&status, &r.DueAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receivable{}, ErrNotFound
		}
		return Receivable{}, err
	}
	r.Status = ReceivableStatus(status)
	return r, nil
}

// GetReceivable loads one receivable.
func (r *Repository) GetReceivable(ctx context.Context, id uuid.UUID) (Receivable, error) {
	return scanReceivable(r.pool.QueryRow(ctx, `SELECT `+receivableColumns+` FROM receivables WHERE id=$1`, id))
}

// GetReceivableByDelivery loads the receivable of a delivery.
func (r *Repository) GetReceivableByDelivery(ctx context.Context, deliveryRef string) (Receivable, error) {
	return scanReceivable(r.pool.QueryRow(ctx, `SELECT `+receivableColumns+` FROM receivables WHERE delivery_ref=$1`, deliveryRef))
}

// ListReceivables returns receivables matching filter ordered by creation.
func (r *Repository) ListReceivables(ctx context.Context, filter ReceivableFilter) ([]Receivable, error) {
	var (
		where []string
		args  []any
	)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		where = append(where, fmt.Sprintf("seller_id=$%d", len(args)))
	}
	if filter.Outstanding {
		where = append(where, "status <> 'PAID'")
	}
	query := `SELECT ` + receivableColumns + ` FROM receivables`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Receivable
	for rows.Next() {
		rec, err := scanReceivable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const receiptColumns = `id, number, customer_id, amount::text, method, note, status, COALESCE(created_by, 0),
approved_at, created_at, updated_at`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rc Receipt
	var status string
	err := row.Scan(&rc.ID, &rc.Number, &rc.CustomerID, &rc.Amount, &rc.Method, &rc.Note, &status,
		&rc.CreatedBy, &rc.ApprovedAt, &rc.CreatedAt, &rc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrNotFound
		}
		return Receipt{}, err
	}
	rc.Status = ReceiptStatus(status)
	return rc, nil
}

func loadAllocations(ctx context.Context, q dbtx, rc *Receipt) error {
	rows, err := q.Query(ctx, `SELECT receivable_id, delivery_ref, amount::text FROM receipt_allocations
WHERE receipt_id=$1 ORDER BY seq`, rc.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	rc.Allocations = rc.Allocations[:0]
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ReceivableID, &a.DeliveryRef, &a.Amount); err != nil {
			return err
		}
		rc.Allocations = append(rc.Allocations, a)
	}
	return rows.Err()
}

// GetReceipt loads one receipt with its allocations.
func (r *Repository) GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	rc, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id=$1`, id))
	if err != nil {
		return Receipt{}, err
	}
	if err := loadAllocations(ctx, r.pool, &rc); err != nil {
		return Receipt{}, err
	}
	return rc, nil
}

// ListReceipts returns receipts newest first without allocations.
func (r *Repository) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, error) {
	var (
		where []string
		args  []any
	)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	query := `SELECT ` + receiptColumns + ` FROM receipts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// ListNumbers returns receipt numbers issued under prefix.
func (r *Repository) ListNumbers(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT number FROM receipts WHERE number LIKE $1`, prefix+"-%")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *txRepo) InsertReceivable(ctx context.Context, rec Receivable) error {
	_, err := t.db.Exec(ctx, `INSERT INTO receivables (id, delivery_ref, customer_id, seller_id, total, paid, remaining,
status, due_at, created_at, updated_at) VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7::numeric,$8,$9,$10,$11)`,
		rec.ID, rec.DeliveryRef, rec.CustomerID, rec.SellerID, rec.Total.String(), rec.Paid.String(), rec.Remaining.String(),
		string(rec.Status), rec.DueAt, rec.CreatedAt, rec.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrReceivableExists, rec.DeliveryRef)
	}
	return err
}

func (t *txRepo) GetReceivableForUpdate(ctx context.Context, id uuid.UUID) (Receivable, error) {
	return scanReceivable(t.db.QueryRow(ctx, `SELECT `+receivableColumns+` FROM receivables WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateReceivable(ctx context.Context, rec Receivable) error {
	tag, err := t.db.Exec(ctx, `UPDATE receivables SET paid=$2::numeric, remaining=$3::numeric, status=$4, updated_at=$5 WHERE id=$1`,
		rec.ID, rec.Paid.String(), rec.Remaining.String(), string(rec.Status), rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertReceipt(ctx context.Context, rc Receipt) error {
	_, err := t.db.Exec(ctx, `INSERT INTO receipts (id, number, customer_id, amount, method, note, status, created_by,
created_at, updated_at) VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,NULLIF($8,0),$9,$10)`,
		rc.ID, rc.Number, rc.CustomerID, rc.Amount.String(), rc.Method, rc.Note, string(rc.Status), rc.CreatedBy,
		rc.CreatedAt, rc.UpdatedAt)
	if err != nil {
		return err
	}
	for i, a := range rc.Allocations {
		if _, err := t.db.Exec(ctx, `INSERT INTO receipt_allocations (receipt_id, seq, receivable_id, delivery_ref, amount)
VALUES ($1,$2,$3,$4,$5::numeric)`, rc.ID, i+1, a.ReceivableID, a.DeliveryRef, a.Amount.String()); err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}
	}
	return nil
}

func (t *txRepo) GetReceiptForUpdate(ctx context.Context, id uuid.UUID) (Receipt, error) {
	rc, err := scanReceipt(t.db.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Receipt{}, err
	}
	if err := loadAllocations(ctx, t.db, &rc); err != nil {
		return Receipt{}, err
	}
	return rc, nil
}

func (t *txRepo) UpdateReceipt(ctx context.Context, rc Receipt) error {
	tag, err := t.db.Exec(ctx, `UPDATE receipts SET status=$2, approved_at=$3, updated_at=$4 WHERE id=$1`,
		rc.ID, string(rc.Status), rc.ApprovedAt, rc.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
