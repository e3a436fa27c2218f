// Command seed loads a demo distribution network: a four level owner chain
// and opening stock at the distributor. Reruns are safe.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/odyssey-erp/odyssey-distribution/internal/app"
	"github.com/odyssey-erp/odyssey-distribution/internal/hierarchy"
	"github.com/odyssey-erp/odyssey-distribution/internal/inventory"
	"github.com/odyssey-erp/odyssey-distribution/internal/platform/db"
	"github.com/odyssey-erp/odyssey-distribution/internal/shared"
)

var owners = []hierarchy.Owner{
	{ID: "principal", Name: "PT Sumber Makmur"},
	{ID: "distributor", Name: "CV Distribusi Jaya", ParentID: "principal"},
	{ID: "wholesaler", Name: "Grosir Sentosa", ParentID: "distributor"},
	{ID: "shop", Name: "Toko Berkah", ParentID: "wholesaler"},
}

type openingStock struct {
	owner    string
	product  string
	qty      float64
	unitCost float64
	policy   inventory.CostingPolicy
}

var stock = []openingStock{
	{"principal", "SOAP-100G", 5000, 1.10, inventory.PolicyFIFO},
	{"principal", "RICE-5KG", 800, 8.40, inventory.PolicyFIFO},
	{"distributor", "SOAP-100G", 600, 1.25, inventory.PolicyWeightedAverage},
	{"distributor", "RICE-5KG", 120, 9.00, inventory.PolicyWeightedAverage},
	{"distributor", "OIL-1L", 300, 2.15, inventory.PolicyWeightedAverage},
	{"wholesaler", "SOAP-100G", 40, 1.60, inventory.PolicyWeightedAverage},
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// Seeding runs without Redis; postgres keys make credits replay-safe.
	cfg.IdempotencyBackend = "postgres"

	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	services := app.NewPostgresServices(pool, nil, cfg, logger, nil)

	fmt.Println("→ Seeding owners...")
	for _, o := range owners {
		if err := services.Hierarchy.RegisterOwner(ctx, o); err != nil {
			log.Fatalf("register owner %s: %v", o.ID, err)
		}
	}

	fmt.Println("→ Seeding opening stock...")
	for _, s := range stock {
		_, err := services.Inventory.Credit(ctx, inventory.CreditInput{
			OwnerID:   s.owner,
			ProductID: s.product,
			Qty:       s.qty,
			UnitCost:  s.unitCost,
			Policy:    s.policy,
			Reference: "seed:opening",
			Kind:      inventory.KindAdjustment,
		})
		switch {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			fmt.Printf("  %s/%s already seeded\n", s.owner, s.product)
		case err != nil:
			log.Fatalf("credit %s/%s: %v", s.owner, s.product, err)
		}
	}
	fmt.Println("✓ Seed complete")
}
