package delivery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps delivery notes in process.
type MemoryRepository struct {
	mu    sync.Mutex
	notes map[uuid.UUID]DeliveryNote
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{notes: make(map[uuid.UUID]DeliveryNote)}
}

type memoryTx struct {
	notes map[uuid.UUID]DeliveryNote
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{notes: make(map[uuid.UUID]DeliveryNote, len(m.notes))}
	for k, v := range m.notes {
		tx.notes[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.notes = tx.notes
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (DeliveryNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return DeliveryNote{}, ErrNotFound
	}
	return n, nil
}

func (m *MemoryRepository) List(_ context.Context, filter ListFilter) ([]DeliveryNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeliveryNote
	for _, n := range m.notes {
		if filter.SalesOrderID != uuid.Nil && n.SalesOrderID != filter.SalesOrderID {
			continue
		}
		if filter.SellerID != "" && n.SellerID != filter.SellerID {
			continue
		}
		if filter.CustomerID != "" && n.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocNumber > out[j].DocNumber })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListStalled(_ context.Context, before time.Time, limit int) ([]DeliveryNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeliveryNote
	for _, n := range m.notes {
		if n.approvalStarted() && n.UpdatedAt.Before(before) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListNumbers(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, n := range m.notes {
		if strings.HasPrefix(n.DocNumber, prefix+"-") {
			out = append(out, n.DocNumber)
		}
	}
	return out, nil
}

func (tx *memoryTx) Insert(_ context.Context, n DeliveryNote) error {
	for _, existing := range tx.notes {
		if existing.DocNumber == n.DocNumber {
			return fmt.Errorf("delivery: doc number %s already used", n.DocNumber)
		}
	}
	n.Lines = append([]DeliveryNoteLine(nil), n.Lines...)
	tx.notes[n.ID] = n
	return nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, id uuid.UUID) (DeliveryNote, error) {
	n, ok := tx.notes[id]
	if !ok {
		return DeliveryNote{}, ErrNotFound
	}
	return n, nil
}

func (tx *memoryTx) Update(_ context.Context, n DeliveryNote) error {
	if _, ok := tx.notes[n.ID]; !ok {
		return ErrNotFound
	}
	tx.notes[n.ID] = n
	return nil
}
