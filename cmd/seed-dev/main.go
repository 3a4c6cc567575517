// seed-dev loads a minimal development dataset: a few categories and one
// demo purchase order with mixed lines (categorized, uncategorized,
// multi-quantity) so preview/mint/explode can be exercised end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/resaleops/synergy_backend/config"
	"github.com/resaleops/synergy_backend/models"
	"github.com/shopspring/decimal"
)

func main() {
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := context.Background()

	categories := []models.NewCategory{
		{Label: "Laptops", Prefix: "LAP", Icon: "laptop", Color: "blue"},
		{Label: "Phones", Prefix: "PHN", Icon: "phone", Color: "green"},
		{Label: "General", Prefix: "GEN", Icon: "box", Color: "gray"},
	}
	for _, input := range categories {
		if _, err := models.CreateCategory(ctx, &input); err != nil {
			// Re-running the seed is fine; duplicate prefixes are expected.
			fmt.Printf("category %s: %v\n", input.Prefix, err)
		} else {
			fmt.Printf("category %s created\n", input.Prefix)
		}
	}

	rawJSON := json.RawMessage(`{"specs": {"cpu": "i5-1135G7", "ram_gb": 16}, "item_notes": "light scratches on lid"}`)
	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		PoNumber:   "PO-DEV-0001",
		VendorName: "Dev Liquidators LLC",
		Lines: []models.NewPoLine{
			{ProductNameRaw: "Dell Latitude 5420", Qty: 3, UnitCost: decimal.NewFromInt(120), Msrp: decimal.NewFromInt(899), CategoryGuess: "Laptops", RawJson: rawJSON},
			{ProductNameRaw: "iPhone 12 64GB", Qty: 2, UnitCost: decimal.NewFromInt(150), Msrp: decimal.NewFromInt(599), CategoryGuess: "PHN"},
			{ProductNameRaw: "Mystery pallet leftovers", Qty: 5, UnitCost: decimal.NewFromInt(4)},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create demo PO: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("demo PO %s created with %d lines\n", po.PoNumber, len(po.Lines))
}
