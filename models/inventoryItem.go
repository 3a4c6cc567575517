package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InventoryItemStatus string

const (
	ItemStatusIntake  InventoryItemStatus = "INTAKE"
	ItemStatusTesting InventoryItemStatus = "TESTING"
	ItemStatusTested  InventoryItemStatus = "TESTED"
	ItemStatusReady   InventoryItemStatus = "READY"
	ItemStatusHold    InventoryItemStatus = "HOLD"
	ItemStatusInStore InventoryItemStatus = "IN_STORE"
	ItemStatusListed  InventoryItemStatus = "LISTED"
	ItemStatusSold    InventoryItemStatus = "SOLD"
)

// InventoryItem is one physical unit, created by the explosion engine. The
// synergy code is unique across all items; its numbering space is shared with
// line-level codes under the same prefix.
type InventoryItem struct {
	ID              uuid.UUID           `gorm:"primary_key" json:"id"`
	SynergyCode     string              `gorm:"size:50;not null;uniqueIndex" json:"synergy_code"`
	PurchaseOrderId uuid.UUID           `gorm:"index;not null" json:"purchase_order_id"`
	PoLineId        uuid.UUID           `gorm:"index;not null" json:"po_line_id"`
	CategoryId      uuid.UUID           `gorm:"index;not null" json:"category_id"`
	CostUnit        decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"cost_unit"`
	Msrp            decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"msrp"`
	Status          InventoryItemStatus `gorm:"type:enum('INTAKE','TESTING','TESTED','READY','HOLD','IN_STORE','LISTED','SOLD');default:INTAKE;not null" json:"status"`
	Specs           json.RawMessage     `gorm:"type:json" json:"specs"`
	TesterComment   *string             `gorm:"type:text" json:"tester_comment"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (item *InventoryItem) BeforeCreate(tx *gorm.DB) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return nil
}
