package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps sales orders in process.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]SalesOrder
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[uuid.UUID]SalesOrder)}
}

type memoryTx struct {
	orders map[uuid.UUID]SalesOrder
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{orders: make(map[uuid.UUID]SalesOrder, len(m.orders))}
	for k, v := range m.orders {
		tx.orders[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.orders = tx.orders
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (SalesOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return SalesOrder{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryRepository) List(_ context.Context, filter ListFilter) ([]SalesOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SalesOrder
	for _, o := range m.orders {
		if filter.SellerID != "" && o.SellerID != filter.SellerID {
			continue
		}
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocNumber > out[j].DocNumber })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListNumbers(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, o := range m.orders {
		if strings.HasPrefix(o.DocNumber, prefix+"-") {
			out = append(out, o.DocNumber)
		}
	}
	return out, nil
}

func (tx *memoryTx) Insert(_ context.Context, o SalesOrder) error {
	for _, existing := range tx.orders {
		if existing.DocNumber == o.DocNumber {
			return fmt.Errorf("orders: doc number %s already used", o.DocNumber)
		}
	}
	o.Lines = append([]SalesOrderLine(nil), o.Lines...)
	tx.orders[o.ID] = o
	return nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id uuid.UUID) (SalesOrder, error) {
	o, ok := tx.orders[id]
	if !ok {
		return SalesOrder{}, ErrNotFound
	}
	return o, nil
}

func (tx *memoryTx) UpdateStatus(_ context.Context, o SalesOrder) error {
	if _, ok := tx.orders[o.ID]; !ok {
		return ErrNotFound
	}
	tx.orders[o.ID] = o
	return nil
}
