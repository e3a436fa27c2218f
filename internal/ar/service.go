package ar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-distribution/internal/numbering"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

// ReceiptPrefix prefixes payment receipt numbers.
const ReceiptPrefix = "RCPT"

// RepositoryPort defines data access methods for AR.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceivable(ctx context.Context, id uuid.UUID) (Receivable, error)
	GetReceivableByDelivery(ctx context.Context, deliveryRef string) (Receivable, error)
	ListReceivables(ctx context.Context, filter ReceivableFilter) ([]Receivable, error)
	GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error)
	ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, error)
	ListNumbers(ctx context.Context, prefix string) ([]string, error)
}

// TxRepository is the transactional view used by mutations.
type TxRepository interface {
	InsertReceivable(ctx context.Context, r Receivable) error
	GetReceivableForUpdate(ctx context.Context, id uuid.UUID) (Receivable, error)
	UpdateReceivable(ctx context.Context, r Receivable) error
	InsertReceipt(ctx context.Context, rc Receipt) error
	GetReceiptForUpdate(ctx context.Context, id uuid.UUID) (Receipt, error)
	UpdateReceipt(ctx context.Context, rc Receipt) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder observes settlement activity.
type Recorder interface {
	PaymentApplied(amount float64)
}

// Service handles receivables and payment receipts.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	approvals shared.ApprovalPort
	locker    shared.Locker
	recorder  Recorder
	numbers   *numbering.Generator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort, approvals shared.ApprovalPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		audit:     audit,
		approvals: approvals,
		numbers:   numbering.NewGenerator(repo, ReceiptPrefix),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetLocker installs the per-receivable lock.
func (s *Service) SetLocker(l shared.Locker) {
	s.locker = l
}

// SetRecorder installs a metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// CreateReceivable opens the single receivable of a delivery.
func (s *Service) CreateReceivable(ctx context.Context, in CreateReceivableInput) (Receivable, error) {
	if in.DeliveryRef == "" || in.CustomerID == "" || in.SellerID == "" {
		return Receivable{}, ErrInvalidReceivable
	}
	total := in.Total.Round(moneyPlaces)
	if !total.IsPositive() {
		return Receivable{}, ErrInvalidAmount
	}
	now := s.now()
	rec := Receivable{
		ID:          uuid.New(),
		DeliveryRef: in.DeliveryRef,
		CustomerID:  in.CustomerID,
		SellerID:    in.SellerID,
		Total:       total,
		Paid:        decimal.Zero,
		Remaining:   total,
		Status:      ReceivableOutstanding,
		DueAt:       in.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rec.DueAt.IsZero() {
		rec.DueAt = now
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertReceivable(ctx, rec)
	})
	if err != nil {
		return Receivable{}, err
	}
	s.record(ctx, "receivable:create", "receivable", rec.ID.String(), map[string]any{
		"delivery_ref": rec.DeliveryRef,
		"total":        rec.Total.StringFixed(moneyPlaces),
	})
	return rec, nil
}

// ApplyPayment adds amount to a receivable. Calling it twice applies twice;
// receipts guarantee a single call per allocation.
func (s *Service) ApplyPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (Receivable, error) {
	amount = amount.Round(moneyPlaces)
	if !amount.IsPositive() {
		return Receivable{}, ErrInvalidAmount
	}
	release, err := shared.LockKeys(ctx, s.locker, shared.ReceivableLockKey(id.String()))
	if err != nil {
		return Receivable{}, err
	}
	defer release()

	var out Receivable
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetReceivableForUpdate(ctx, id)
		if err != nil {
			return err
		}
		rec.applyPayment(amount)
		rec.UpdatedAt = s.now()
		if err := tx.UpdateReceivable(ctx, rec); err != nil {
			return fmt.Errorf("update receivable: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return Receivable{}, err
	}
	s.observe(amount)
	s.record(ctx, "receivable:pay", "receivable", id.String(), map[string]any{
		"amount":    amount.StringFixed(moneyPlaces),
		"remaining": out.Remaining.StringFixed(moneyPlaces),
	})
	return out, nil
}

// GetReceivable returns one receivable.
func (s *Service) GetReceivable(ctx context.Context, id uuid.UUID) (Receivable, error) {
	return s.repo.GetReceivable(ctx, id)
}

// GetReceivableByDelivery returns the receivable opened for a delivery.
func (s *Service) GetReceivableByDelivery(ctx context.Context, deliveryRef string) (Receivable, error) {
	return s.repo.GetReceivableByDelivery(ctx, deliveryRef)
}

// ListReceivables returns receivables matching filter, oldest first.
func (s *Service) ListReceivables(ctx context.Context, filter ReceivableFilter) ([]Receivable, error) {
	return s.repo.ListReceivables(ctx, filter)
}

// ListOutstanding returns the unpaid receivables of a customer, oldest first.
func (s *Service) ListOutstanding(ctx context.Context, customerID string) ([]Receivable, error) {
	return s.repo.ListReceivables(ctx, ReceivableFilter{CustomerID: customerID, Outstanding: true})
}

// Aging groups remaining amounts by days past due as of asOf.
func (s *Service) Aging(ctx context.Context, customerID string, asOf time.Time) (AgingBucket, error) {
	receivables, err := s.repo.ListReceivables(ctx, ReceivableFilter{CustomerID: customerID, Outstanding: true})
	if err != nil {
		return AgingBucket{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	var bucket AgingBucket
	for _, r := range receivables {
		days := int(asOf.Sub(r.DueAt).Hours() / 24)
		switch {
		case days <= 0:
			bucket.Current = bucket.Current.Add(r.Remaining)
		case days <= 30:
			bucket.Bucket30 = bucket.Bucket30.Add(r.Remaining)
		case days <= 60:
			bucket.Bucket60 = bucket.Bucket60.Add(r.Remaining)
		case days <= 90:
			bucket.Bucket90 = bucket.Bucket90.Add(r.Remaining)
		default:
			bucket.Bucket120 = bucket.Bucket120.Add(r.Remaining)
		}
	}
	return bucket, nil
}

func (s *Service) observe(amount decimal.Decimal) {
	if s.recorder != nil {
		s.recorder.PaymentApplied(amount.InexactFloat64())
	}
}

func (s *Service) record(ctx context.Context, action, entity, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   "ar:" + action,
		Entity:   entity,
		EntityID: id,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit ar", slog.String("action", action), slog.Any("error", err))
	}
}
