package inventory

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps inventory state in process. Transactions are
// serialized and applied only when the callback succeeds.
type MemoryRepository struct {
	mu        sync.Mutex
	positions map[string]Position
	batches   map[int64]Batch
	movements []Movement
	nextBatch int64
	nextMove  int64
}

// NewMemoryRepository builds an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		positions: make(map[string]Position),
		batches:   make(map[int64]Batch),
	}
}

func positionKey(ownerID, productID string) string {
	return ownerID + "\x00" + productID
}

// WithTx runs fn against a copy of the state and commits it on success.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		positions: make(map[string]Position, len(r.positions)),
		batches:   make(map[int64]Batch, len(r.batches)),
		movements: append([]Movement(nil), r.movements...),
		nextBatch: r.nextBatch,
		nextMove:  r.nextMove,
	}
	for k, v := range r.positions {
		tx.positions[k] = v
	}
	for k, v := range r.batches {
		tx.batches[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.positions = tx.positions
	r.batches = tx.batches
	r.movements = tx.movements
	r.nextBatch = tx.nextBatch
	r.nextMove = tx.nextMove
	return nil
}

// GetPosition returns one position.
func (r *MemoryRepository) GetPosition(_ context.Context, ownerID, productID string) (Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[positionKey(ownerID, productID)]
	if !ok {
		return Position{}, ErrNotFound
	}
	return pos, nil
}

// ListPositions returns the positions of an owner ordered by product.
func (r *MemoryRepository) ListPositions(_ context.Context, ownerID string) ([]Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Position
	for _, p := range r.positions {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ListBatches returns every lot of a position.
func (r *MemoryRepository) ListBatches(_ context.Context, ownerID, productID string) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return collectBatches(r.batches, ownerID, productID), nil
}

// ListMovements returns the movement log newest first.
func (r *MemoryRepository) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Movement
	for i := len(r.movements) - 1; i >= 0; i-- {
		m := r.movements[i]
		if filter.OwnerID != "" && m.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		if filter.Reference != "" && m.Reference != filter.Reference {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

type memoryTx struct {
	positions map[string]Position
	batches   map[int64]Batch
	movements []Movement
	nextBatch int64
	nextMove  int64
}

func (tx *memoryTx) GetPositionForUpdate(_ context.Context, ownerID, productID string) (Position, error) {
	pos, ok := tx.positions[positionKey(ownerID, productID)]
	if !ok {
		return Position{}, ErrNotFound
	}
	return pos, nil
}

func (tx *memoryTx) UpsertPosition(_ context.Context, pos Position) error {
	tx.positions[positionKey(pos.OwnerID, pos.ProductID)] = pos
	return nil
}

func (tx *memoryTx) ListBatchesForUpdate(_ context.Context, ownerID, productID string) ([]Batch, error) {
	return collectBatches(tx.batches, ownerID, productID), nil
}

func (tx *memoryTx) InsertBatch(_ context.Context, b Batch) (int64, error) {
	tx.nextBatch++
	b.ID = tx.nextBatch
	tx.batches[b.ID] = b
	return b.ID, nil
}

func (tx *memoryTx) UpdateBatchQty(_ context.Context, id int64, qty float64) error {
	b, ok := tx.batches[id]
	if !ok {
		return ErrNotFound
	}
	b.Qty = qty
	tx.batches[id] = b
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) (int64, error) {
	tx.nextMove++
	m.ID = tx.nextMove
	tx.movements = append(tx.movements, m)
	return m.ID, nil
}

func collectBatches(all map[int64]Batch, ownerID, productID string) []Batch {
	var out []Batch
	for _, b := range all {
		if b.OwnerID == ownerID && b.ProductID == productID {
			out = append(out, b)
		}
	}
	sortOldestFirst(out)
	return out
}
