package models

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/resaleops/synergy_backend/config"
	"github.com/resaleops/synergy_backend/utils"
	"gorm.io/gorm"
)

// SynergyPreview is the projected allocation for one line. Codes are what a
// mint would assign if committed right now; a concurrent mint invalidates
// them the instant it commits.
type SynergyPreview struct {
	LineId         uuid.UUID `json:"line_id"`
	ProductNameRaw string    `json:"product_name_raw"`
	Prefix         string    `json:"prefix"`
	Qty            int       `json:"qty"`
	Codes          []string  `json:"codes"`
	Note           string    `json:"note,omitempty"`
}

type previewLineRow struct {
	ID             uuid.UUID
	Qty            int
	ProductNameRaw string
	Prefix         *string
}

// PreviewSynergyCodes projects the codes that would be minted for the given
// lines. No locks, no writes: each distinct prefix gets a local counter
// seeded from TrueMaxSeq and advanced in memory in stable line order, so
// lines sharing a prefix never overlap within one preview call. Lines
// without a resolvable prefix get an empty code list and a note instead of
// failing the batch.
func PreviewSynergyCodes(ctx context.Context, poId uuid.UUID, lineIds []uuid.UUID) ([]*SynergyPreview, error) {
	if len(lineIds) == 0 {
		return []*SynergyPreview{}, nil
	}

	db := config.GetDB()
	tx := db.WithContext(ctx)

	var rows []previewLineRow
	if err := tx.Table("po_lines pl").
		Select("pl.id, pl.qty, pl.product_name_raw, c.prefix").
		Joins("LEFT JOIN categories c ON c.id = pl.category_guess").
		Where("pl.purchase_order_id = ?", poId).
		Where("pl.id IN ?", lineIds).
		Order("pl.created_at ASC, pl.id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	return assignPreviewCodes(rows, func(prefix string) (int64, error) {
		return TrueMaxSeq(tx, prefix)
	})
}

// assignPreviewCodes runs the in-memory allocation over already-fetched
// lines. maxSeqForPrefix is consulted once per distinct prefix.
func assignPreviewCodes(rows []previewLineRow, maxSeqForPrefix func(prefix string) (int64, error)) ([]*SynergyPreview, error) {
	seqByPrefix := make(map[string]int64)

	previews := make([]*SynergyPreview, 0, len(rows))
	for _, row := range rows {
		qty := row.Qty
		if qty < 1 {
			qty = 1
		}
		prefix := ""
		if row.Prefix != nil {
			prefix = strings.TrimSpace(*row.Prefix)
		}

		preview := &SynergyPreview{
			LineId:         row.ID,
			ProductNameRaw: row.ProductNameRaw,
			Prefix:         prefix,
			Qty:            qty,
			Codes:          []string{},
		}
		if prefix == "" {
			preview.Note = "No category prefix; cannot preview."
			previews = append(previews, preview)
			continue
		}

		last, seen := seqByPrefix[prefix]
		if !seen {
			maxSeq, err := maxSeqForPrefix(prefix)
			if err != nil {
				return nil, err
			}
			last = maxSeq
		}
		for i := 0; i < qty; i++ {
			last++
			preview.Codes = append(preview.Codes, FormatSynergyCode(prefix, last))
		}
		seqByPrefix[prefix] = last

		previews = append(previews, preview)
	}
	return previews, nil
}

// MintSynergyIds assigns one code to each unminted line of a PO that has a
// resolvable prefix, all in one transaction. With overwrite, existing
// line-level codes are cleared first and fresh ones allocated; the counter
// only ever advances, so cleared codes are never reissued.
func MintSynergyIds(ctx context.Context, poId uuid.UUID, lineIds []uuid.UUID, overwrite bool) (int, error) {
	actor, _ := utils.GetActorNameFromContext(ctx)

	updated := 0
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if overwrite {
			clear := tx.Model(&PoLine{}).Where("purchase_order_id = ?", poId)
			if len(lineIds) > 0 {
				clear = clear.Where("id IN ?", lineIds)
			}
			if err := clear.Update("synergy_id", nil).Error; err != nil {
				return err
			}
		}

		query := tx.Table("po_lines pl").
			Select("pl.id, pl.qty, pl.product_name_raw, c.prefix").
			Joins("LEFT JOIN categories c ON c.id = pl.category_guess").
			Where("pl.purchase_order_id = ?", poId).
			Where("pl.synergy_id IS NULL")
		if len(lineIds) > 0 {
			query = query.Where("pl.id IN ?", lineIds)
		}

		var rows []previewLineRow
		if err := query.Order("pl.created_at ASC, pl.id ASC").Scan(&rows).Error; err != nil {
			return err
		}

		for _, row := range rows {
			prefix := ""
			if row.Prefix != nil {
				prefix = strings.TrimSpace(*row.Prefix)
			}
			if prefix == "" {
				continue
			}

			lineId := row.ID
			poIdCopy := poId
			code, err := AllocateSynergyCode(tx, prefix, SynergyAlloc{
				ActorName: actor,
				PoId:      &poIdCopy,
				PoLineId:  &lineId,
			})
			if err != nil {
				return err
			}
			if err := tx.Model(&PoLine{}).Where("id = ?", lineId).Update("synergy_id", code).Error; err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// MintStats reports how many units remain to explode for a PO. The math is
// per-line so it stays correct when quantities change after a partial
// explosion or lines are added, removed or split.
type MintStats struct {
	TotalQty int `json:"total_qty"`
	Minted   int `json:"minted"`
	Pending  int `json:"pending"`
}

func GetMintStats(ctx context.Context, poId uuid.UUID) (*MintStats, error) {
	db := config.GetDB()

	var stats MintStats
	err := db.WithContext(ctx).Raw(`
WITH line_totals AS (
  SELECT pl.id AS line_id, COALESCE(pl.qty, 1) AS qty
  FROM po_lines pl
  WHERE pl.purchase_order_id = ?
    AND COALESCE(pl.qty, 1) > 0
    AND pl.category_guess IS NOT NULL
),
minted AS (
  SELECT ii.po_line_id AS line_id, COUNT(*) AS minted
  FROM inventory_items ii
  WHERE ii.purchase_order_id = ?
  GROUP BY ii.po_line_id
)
SELECT
  COALESCE(SUM(lt.qty), 0) AS total_qty,
  COALESCE(SUM(COALESCE(m.minted, 0)), 0) AS minted,
  COALESCE(SUM(GREATEST(lt.qty - COALESCE(m.minted, 0), 0)), 0) AS pending
FROM line_totals lt
LEFT JOIN minted m ON m.line_id = lt.line_id`, poId, poId).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
