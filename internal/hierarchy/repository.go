package hierarchy

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores owners in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListOwners returns every owner.
func (r *Repository) ListOwners(ctx context.Context) ([]Owner, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(parent_id, '') FROM owners ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Owner
	for rows.Next() {
		var o Owner
		if err := rows.Scan(&o.ID, &o.Name, &o.ParentID); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertOwner inserts or updates an owner.
func (r *Repository) UpsertOwner(ctx context.Context, o Owner) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO owners (id, name, parent_id) VALUES ($1, $2, NULLIF($3, ''))
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, parent_id=EXCLUDED.parent_id`, o.ID, o.Name, o.ParentID)
	return err
}

// MemoryRepository keeps owners in process.
type MemoryRepository struct {
	mu     sync.RWMutex
	owners map[string]Owner
}

// NewMemoryRepository builds a MemoryRepository seeded with owners.
func NewMemoryRepository(owners ...Owner) *MemoryRepository {
	m := &MemoryRepository{owners: make(map[string]Owner, len(owners))}
	for _, o := range owners {
		m.owners[o.ID] = o
	}
	return m
}

// ListOwners returns every owner ordered by id.
func (m *MemoryRepository) ListOwners(context.Context) ([]Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Owner, 0, len(m.owners))
	for _, o := range m.owners {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertOwner inserts or updates an owner.
func (m *MemoryRepository) UpsertOwner(_ context.Context, o Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[o.ID] = o
	return nil
}
