package ar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps AR state in process. Transactions are serialized
// and applied only when the callback succeeds.
type MemoryRepository struct {
	mu          sync.Mutex
	receivables map[uuid.UUID]Receivable
	receipts    map[uuid.UUID]Receipt
}

// NewMemoryRepository builds an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		receivables: make(map[uuid.UUID]Receivable),
		receipts:    make(map[uuid.UUID]Receipt),
	}
}

type memoryTx struct {
	receivables map[uuid.UUID]Receivable
	receipts    map[uuid.UUID]Receipt
}

// WithTx runs fn against a copy of the state and commits it on success.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{
		receivables: make(map[uuid.UUID]Receivable, len(m.receivables)),
		receipts:    make(map[uuid.UUID]Receipt, len(m.receipts)),
	}
	for k, v := range m.receivables {
		tx.receivables[k] = v
	}
	for k, v := range m.receipts {
		tx.receipts[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.receivables = tx.receivables
	m.receipts = tx.receipts
	return nil
}

// GetReceivable returns one receivable.
func (m *MemoryRepository) GetReceivable(_ context.Context, id uuid.UUID) (Receivable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.receivables[id]
	if !ok {
		return Receivable{}, ErrNotFound
	}
	return rec, nil
}

// GetReceivableByDelivery returns the receivable of a delivery.
func (m *MemoryRepository) GetReceivableByDelivery(_ context.Context, deliveryRef string) (Receivable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.receivables {
		if rec.DeliveryRef == deliveryRef {
			return rec, nil
		}
	}
	return Receivable{}, ErrNotFound
}

// ListReceivables returns receivables matching filter ordered by creation.
func (m *MemoryRepository) ListReceivables(_ context.Context, filter ReceivableFilter) ([]Receivable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Receivable
	for _, rec := range m.receivables {
		if filter.CustomerID != "" && rec.CustomerID != filter.CustomerID {
			continue
		}
		if filter.SellerID != "" && rec.SellerID != filter.SellerID {
			continue
		}
		if filter.Outstanding && rec.Status == ReceivablePaid {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].DeliveryRef < out[j].DeliveryRef
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetReceipt returns one receipt.
func (m *MemoryRepository) GetReceipt(_ context.Context, id uuid.UUID) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.receipts[id]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	return rc, nil
}

// ListReceipts returns receipts matching filter, newest first.
func (m *MemoryRepository) ListReceipts(_ context.Context, filter ReceiptFilter) ([]Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Receipt
	for _, rc := range m.receipts {
		if filter.CustomerID != "" && rc.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && rc.Status != filter.Status {
			continue
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Number > out[j].Number
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListNumbers returns receipt numbers issued under prefix.
func (m *MemoryRepository) ListNumbers(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, rc := range m.receipts {
		if strings.HasPrefix(rc.Number, prefix+"-") {
			out = append(out, rc.Number)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertReceivable(_ context.Context, rec Receivable) error {
	for _, existing := range tx.receivables {
		if existing.DeliveryRef == rec.DeliveryRef {
			return fmt.Errorf("%w: %s", ErrReceivableExists, rec.DeliveryRef)
		}
	}
	tx.receivables[rec.ID] = rec
	return nil
}

func (tx *memoryTx) GetReceivableForUpdate(_ context.Context, id uuid.UUID) (Receivable, error) {
	rec, ok := tx.receivables[id]
	if !ok {
		return Receivable{}, ErrNotFound
	}
	return rec, nil
}

func (tx *memoryTx) UpdateReceivable(_ context.Context, rec Receivable) error {
	if _, ok := tx.receivables[rec.ID]; !ok {
		return ErrNotFound
	}
	tx.receivables[rec.ID] = rec
	return nil
}

func (tx *memoryTx) InsertReceipt(_ context.Context, rc Receipt) error {
	for _, existing := range tx.receipts {
		if existing.Number == rc.Number {
			return fmt.Errorf("ar: receipt number %s already used", rc.Number)
		}
	}
	rc.Allocations = append([]Allocation(nil), rc.Allocations...)
	tx.receipts[rc.ID] = rc
	return nil
}

func (tx *memoryTx) GetReceiptForUpdate(_ context.Context, id uuid.UUID) (Receipt, error) {
	rc, ok := tx.receipts[id]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	return rc, nil
}

func (tx *memoryTx) UpdateReceipt(_ context.Context, rc Receipt) error {
	if _, ok := tx.receipts[rc.ID]; !ok {
		return ErrNotFound
	}
	tx.receipts[rc.ID] = rc
	return nil
}
