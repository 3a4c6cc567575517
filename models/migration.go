package models

import (
	"log"

	"github.com/resaleops/synergy_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Category{},
		&PurchaseOrder{}, &PoLine{},
		&InventoryItem{},
		&IdPrefixCounter{},
		&SynergyEvent{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
