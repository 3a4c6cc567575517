package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/resaleops/synergy_backend/config"
	"github.com/resaleops/synergy_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PurchaseOrder struct {
	ID         uuid.UUID `gorm:"primary_key" json:"id"`
	PoNumber   string    `gorm:"size:100;not null;index" json:"po_number" binding:"required"`
	VendorName string    `gorm:"size:255" json:"vendor_name"`
	Notes      string    `gorm:"type:text" json:"notes"`
	Lines      []PoLine  `gorm:"foreignKey:PurchaseOrderId;constraint:OnDelete:CASCADE" json:"lines"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PoLine is one purchase-order line. Qty counts physical units; SynergyId is
// nil until minted. RawJson is the opaque payload handed over by the import
// pipeline (specs, item_notes) and is copied verbatim onto exploded items.
type PoLine struct {
	ID              uuid.UUID       `gorm:"primary_key" json:"id"`
	PurchaseOrderId uuid.UUID       `gorm:"index;not null" json:"purchase_order_id"`
	ProductNameRaw  string          `gorm:"size:500" json:"product_name_raw"`
	Upc             string          `gorm:"size:50" json:"upc"`
	Asin            string          `gorm:"size:20" json:"asin"`
	Qty             int             `gorm:"not null;default:1" json:"qty"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	Msrp            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"msrp"`
	CategoryGuess   *uuid.UUID      `gorm:"index" json:"category_id"`
	SynergyId       *string         `gorm:"size:50;index" json:"synergy_id"`
	RawJson         json.RawMessage `gorm:"type:json" json:"raw_json"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchaseOrder struct {
	PoNumber   string      `json:"po_number" binding:"required"`
	VendorName string      `json:"vendor_name"`
	Notes      string      `json:"notes"`
	Lines      []NewPoLine `json:"lines"`
}

type NewPoLine struct {
	ProductNameRaw string          `json:"product_name_raw" binding:"required"`
	Upc            string          `json:"upc"`
	Asin           string          `json:"asin"`
	Qty            int             `json:"qty"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Msrp           decimal.Decimal `json:"msrp"`
	CategoryGuess  string          `json:"category_guess"`
	RawJson        json.RawMessage `json:"raw_json"`
}

func (po *PurchaseOrder) BeforeCreate(tx *gorm.DB) error {
	if po.ID == uuid.Nil {
		po.ID = uuid.New()
	}
	return nil
}

func (line *PoLine) BeforeCreate(tx *gorm.DB) error {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	return nil
}

// CreatePurchaseOrder persists a PO and its lines. Category guesses are
// resolved through ResolveCategoryPrefix; unresolvable guesses leave the
// line uncategorized rather than failing the import.
func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	po := PurchaseOrder{
		PoNumber:   input.PoNumber,
		VendorName: input.VendorName,
		Notes:      input.Notes,
	}

	lines, err := mapNewPoLines(ctx, input.Lines)
	if err != nil {
		return nil, err
	}
	po.Lines = lines

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&po).Error; err != nil {
		return nil, err
	}
	return &po, nil
}

// AddPoLines appends lines to an existing PO.
func AddPoLines(ctx context.Context, poId uuid.UUID, inputs []NewPoLine) ([]PoLine, error) {
	db := config.GetDB()

	var po PurchaseOrder
	if err := db.WithContext(ctx).Where("id = ?", poId).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	lines, err := mapNewPoLines(ctx, inputs)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		lines[i].PurchaseOrderId = poId
	}
	if len(lines) == 0 {
		return lines, nil
	}
	if err := db.WithContext(ctx).Create(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

func mapNewPoLines(ctx context.Context, inputs []NewPoLine) ([]PoLine, error) {
	lines := make([]PoLine, 0, len(inputs))
	for _, in := range inputs {
		qty := in.Qty
		if qty < 1 {
			qty = 1
		}
		line := PoLine{
			ProductNameRaw: in.ProductNameRaw,
			Upc:            in.Upc,
			Asin:           in.Asin,
			Qty:            qty,
			UnitCost:       in.UnitCost,
			Msrp:           in.Msrp,
			RawJson:        in.RawJson,
		}
		if in.CategoryGuess != "" {
			ref, err := ResolveCategoryPrefix(ctx, in.CategoryGuess)
			if err == nil {
				id := ref.Id
				line.CategoryGuess = &id
			} else if !errors.Is(err, utils.ErrorRecordNotFound) {
				return nil, err
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func GetPurchaseOrder(ctx context.Context, poId uuid.UUID) (*PurchaseOrder, error) {
	var po PurchaseOrder
	db := config.GetDB()
	if err := db.WithContext(ctx).Preload("Lines").Where("id = ?", poId).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &po, nil
}

// DeletePurchaseOrder removes a PO with its lines and items. This is the only
// path that deletes inventory items; counters are intentionally left
// untouched so freed sequence numbers are never handed out again.
func DeletePurchaseOrder(ctx context.Context, poId uuid.UUID) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("purchase_order_id = ?", poId).Delete(&InventoryItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("purchase_order_id = ?", poId).Delete(&PoLine{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", poId).Delete(&PurchaseOrder{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		return nil
	})
}
