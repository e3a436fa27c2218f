package hierarchy

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const qtyEpsilon = 0.0001

// Config tunes traversal.
type Config struct {
	MaxDepth    int
	Parallelism int
}

// Service resolves shortages along owner parent chains.
type Service struct {
	repo        RepositoryPort
	stock       StockReader
	maxDepth    int
	parallelism int
	logger      *slog.Logger
	loads       singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, stock StockReader, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, maxDepth: cfg.MaxDepth, parallelism: cfg.Parallelism, logger: logger}
}

// Load returns the current hierarchy. Concurrent callers share one load.
func (s *Service) Load(ctx context.Context) (Hierarchy, error) {
	v, err, _ := s.loads.Do("owners", func() (interface{}, error) {
		owners, err := s.repo.ListOwners(ctx)
		if err != nil {
			return nil, err
		}
		h := make(Hierarchy, len(owners))
		for _, o := range owners {
			h[o.ID] = o
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Hierarchy), nil
}

// RegisterOwner stores an owner after checking its parent chain stays acyclic
// and within the depth cap.
func (s *Service) RegisterOwner(ctx context.Context, owner Owner) error {
	if owner.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidOwner)
	}
	if owner.ParentID == owner.ID {
		return fmt.Errorf("%w: owner %s cannot be its own parent", ErrHierarchyCycle, owner.ID)
	}
	h, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if owner.ParentID != "" {
		if _, ok := h[owner.ParentID]; !ok {
			return fmt.Errorf("%w: parent %s", ErrOwnerNotFound, owner.ParentID)
		}
	}
	candidate := make(Hierarchy, len(h)+1)
	for k, v := range h {
		candidate[k] = v
	}
	candidate[owner.ID] = owner
	if _, err := s.walk(candidate, owner.ID, nil); err != nil {
		return err
	}
	return s.repo.UpsertOwner(ctx, owner)
}

// Ancestors returns the parent chain of an owner, nearest first.
func (s *Service) Ancestors(ctx context.Context, ownerID string) ([]Owner, error) {
	h, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := s.walk(h, ownerID, nil)
	if err != nil {
		return nil, err
	}
	return chain[1:], nil
}

// FindBottleneck walks from start towards the root comparing on-hand to need.
// It stops at the first owner that covers the need and returns the last owner
// that did not, or nil when start itself covers it.
func (s *Service) FindBottleneck(ctx context.Context, start, productID string, need float64) (*Bottleneck, error) {
	h, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return s.findIn(ctx, h, start, productID, need)
}

func (s *Service) findIn(ctx context.Context, h Hierarchy, start, productID string, need float64) (*Bottleneck, error) {
	var (
		last *Bottleneck
		path []string
	)
	_, err := s.walk(h, start, func(depth int, o Owner) (bool, error) {
		onHand, err := s.stock.OnHand(ctx, o.ID, productID)
		if err != nil {
			return false, err
		}
		path = append(path, o.ID)
		if onHand+qtyEpsilon >= need {
			return false, nil
		}
		last = &Bottleneck{
			OwnerID:   o.ID,
			OwnerName: o.Name,
			ProductID: productID,
			Needed:    need,
			OnHand:    onHand,
			Depth:     depth,
			Path:      append([]string(nil), path...),
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

// ResolveShortages finds the bottleneck of every need concurrently. Results
// keep the order of needs.
func (s *Service) ResolveShortages(ctx context.Context, start string, needs []Need) ([]Resolution, error) {
	h, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Resolution, len(needs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, n := range needs {
		i, n := i, n
		g.Go(func() error {
			b, err := s.findIn(ctx, h, start, n.ProductID, n.Qty)
			if err != nil {
				return fmt.Errorf("product %s: %w", n.ProductID, err)
			}
			out[i] = Resolution{Need: n, Bottleneck: b}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// walk visits start and its ancestors. visit returns false to stop early.
// Revisiting an owner or exceeding the depth cap fails the walk.
func (s *Service) walk(h Hierarchy, start string, visit func(depth int, o Owner) (bool, error)) ([]Owner, error) {
	seen := make(map[string]bool)
	var chain []Owner
	for id, depth := start, 0; id != ""; depth++ {
		if seen[id] {
			return nil, fmt.Errorf("%w: owner %s revisited after %d steps", ErrHierarchyCycle, id, depth)
		}
		if depth >= s.maxDepth {
			return nil, fmt.Errorf("%w: %d levels from %s", ErrHierarchyTooDeep, s.maxDepth, start)
		}
		seen[id] = true
		o, ok := h[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrOwnerNotFound, id)
		}
		chain = append(chain, o)
		if visit != nil {
			more, err := visit(depth, o)
			if err != nil {
				return nil, err
			}
			if !more {
				break
			}
		}
		id = o.ParentID
	}
	return chain, nil
}
