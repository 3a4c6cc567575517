package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/resaleops/synergy_backend/config"
	"github.com/resaleops/synergy_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ExplodeState string

const (
	ExplodeStateDone    ExplodeState = "done"
	ExplodeStatePartial ExplodeState = "partial"
	ExplodeStateAlready ExplodeState = "already"
)

type ExplodeResult struct {
	Created int          `json:"created"`
	Skipped int          `json:"skipped"`
	State   ExplodeState `json:"state"`
}

func classifyExplodeState(created, skipped int) ExplodeState {
	if created > 0 && skipped == 0 {
		return ExplodeStateDone
	}
	if created > 0 {
		return ExplodeStatePartial
	}
	return ExplodeStateAlready
}

type explodeLineRow struct {
	ID         uuid.UUID
	Qty        int
	UnitCost   decimal.Decimal
	Msrp       decimal.Decimal
	CategoryId *uuid.UUID
	Prefix     *string
	SynergyId  *string
	RawJson    json.RawMessage
}

// linePayload is what the import pipeline attached to a line and what gets
// copied onto every generated item.
type linePayload struct {
	Specs         json.RawMessage
	TesterComment *string
}

func parseLinePayload(raw json.RawMessage) linePayload {
	payload := linePayload{Specs: json.RawMessage(`{}`)}
	if len(raw) == 0 {
		return payload
	}
	var decoded struct {
		Specs     json.RawMessage `json:"specs"`
		ItemNotes *string         `json:"item_notes"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return payload
	}
	if len(decoded.Specs) > 0 && string(decoded.Specs) != "null" {
		payload.Specs = decoded.Specs
	}
	payload.TesterComment = decoded.ItemNotes
	return payload
}

// ExplodeByLine materializes one InventoryItem per purchased unit for every
// line of a PO, in a single transaction. Per line: need = qty - have, where
// have counts items that already exist, so re-invocation creates nothing new
// once a line is fully exploded. A line-level code that no item has consumed
// yet is reused verbatim for the first unit, preserving the convention that
// a single-unit line's item code equals the line's own code. Lines without a
// category/prefix contribute their quantity to skipped and never abort the
// batch.
//
// A best-effort Redis lock keeps two explosions of the same PO from
// contending on the counter row; correctness never depends on it. The DB
// row lock inside the allocator is the real guarantee.
func ExplodeByLine(ctx context.Context, poId uuid.UUID) (*ExplodeResult, error) {
	releaseLock := obtainExplodeLock(ctx, poId)
	defer releaseLock()

	actor, _ := utils.GetActorNameFromContext(ctx)

	result := &ExplodeResult{}
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existingCounts, existingCodes, err := existingItemState(tx, poId)
		if err != nil {
			return err
		}

		var rows []explodeLineRow
		if err := tx.Table("po_lines pl").
			Select("pl.id, COALESCE(pl.qty, 1) AS qty, pl.unit_cost, pl.msrp, pl.category_guess AS category_id, c.prefix, pl.synergy_id, pl.raw_json").
			Joins("LEFT JOIN categories c ON c.id = pl.category_guess").
			Where("pl.purchase_order_id = ?", poId).
			Order("pl.created_at ASC, pl.id ASC").
			Scan(&rows).Error; err != nil {
			return err
		}

		for _, line := range rows {
			qty := line.Qty
			if qty < 1 {
				qty = 1
			}
			prefix := ""
			if line.Prefix != nil {
				prefix = strings.TrimSpace(*line.Prefix)
			}
			if line.CategoryId == nil || prefix == "" {
				result.Skipped += qty
				continue
			}

			have := existingCounts[line.ID]
			need := qty - have
			if need <= 0 {
				result.Skipped += qty
				continue
			}

			payload := parseLinePayload(line.RawJson)

			for i := 0; i < need; i++ {
				var code string
				if line.SynergyId != nil && *line.SynergyId != "" && !existingCodes[*line.SynergyId] {
					code = *line.SynergyId
					existingCodes[code] = true
				} else {
					lineId := line.ID
					poIdCopy := poId
					allocated, err := AllocateSynergyCode(tx, prefix, SynergyAlloc{
						ActorName: actor,
						PoId:      &poIdCopy,
						PoLineId:  &lineId,
					})
					if err != nil {
						return err
					}
					code = allocated
				}

				item := InventoryItem{
					SynergyCode:     code,
					PurchaseOrderId: poId,
					PoLineId:        line.ID,
					CategoryId:      *line.CategoryId,
					CostUnit:        line.UnitCost,
					Msrp:            line.Msrp,
					Status:          ItemStatusIntake,
					Specs:           payload.Specs,
					TesterComment:   payload.TesterComment,
				}
				if err := tx.Create(&item).Error; err != nil {
					return err
				}
				result.Created++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.State = classifyExplodeState(result.Created, result.Skipped)
	return result, nil
}

// ExplodeGroup explodes every line of a PO that carries the given category
// (or every uncategorized line when categoryId is nil) under one prefix.
// Unlike ExplodeByLine it ignores pre-minted line codes and existing item
// counts; it exists for bulk intake of a uniform lot.
func ExplodeGroup(ctx context.Context, poId uuid.UUID, categoryId *uuid.UUID, defaultPrefix string) (int, error) {
	actor, _ := utils.GetActorNameFromContext(ctx)

	prefix := strings.TrimSpace(defaultPrefix)
	if prefix == "" {
		prefix = "GEN"
	}

	db := config.GetDB()
	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if categoryId != nil {
			var category Category
			if err := tx.Where("id = ?", *categoryId).First(&category).Error; err == nil && category.Prefix != "" {
				prefix = category.Prefix
			}
		}

		query := tx.Model(&PoLine{}).Where("purchase_order_id = ?", poId)
		if categoryId != nil {
			query = query.Where("category_guess = ?", *categoryId)
		} else {
			query = query.Where("category_guess IS NULL")
		}

		var lines []PoLine
		if err := query.Order("created_at ASC, id ASC").Find(&lines).Error; err != nil {
			return err
		}

		for _, line := range lines {
			qty := line.Qty
			if qty < 1 {
				qty = 1
			}
			payload := parseLinePayload(line.RawJson)

			for i := 0; i < qty; i++ {
				lineId := line.ID
				poIdCopy := poId
				code, err := AllocateSynergyCode(tx, prefix, SynergyAlloc{
					ActorName: actor,
					PoId:      &poIdCopy,
					PoLineId:  &lineId,
				})
				if err != nil {
					return err
				}

				var catId uuid.UUID
				if line.CategoryGuess != nil {
					catId = *line.CategoryGuess
				}
				item := InventoryItem{
					SynergyCode:     code,
					PurchaseOrderId: poId,
					PoLineId:        line.ID,
					CategoryId:      catId,
					CostUnit:        line.UnitCost,
					Msrp:            line.Msrp,
					Status:          ItemStatusIntake,
					Specs:           payload.Specs,
					TesterComment:   payload.TesterComment,
				}
				if err := tx.Create(&item).Error; err != nil {
					return err
				}
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func existingItemState(tx *gorm.DB, poId uuid.UUID) (map[uuid.UUID]int, map[string]bool, error) {
	type lineCount struct {
		PoLineId uuid.UUID
		N        int
	}
	var counts []lineCount
	if err := tx.Model(&InventoryItem{}).
		Select("po_line_id, COUNT(*) AS n").
		Where("purchase_order_id = ?", poId).
		Group("po_line_id").
		Scan(&counts).Error; err != nil {
		return nil, nil, err
	}
	existingCounts := make(map[uuid.UUID]int, len(counts))
	for _, c := range counts {
		existingCounts[c.PoLineId] = c.N
	}

	var codes []string
	if err := tx.Model(&InventoryItem{}).
		Where("purchase_order_id = ?", poId).
		Pluck("synergy_code", &codes).Error; err != nil {
		return nil, nil, err
	}
	existingCodes := make(map[string]bool, len(codes))
	for _, code := range codes {
		existingCodes[code] = true
	}
	return existingCounts, existingCodes, nil
}

// obtainExplodeLock tries a short advisory lock keyed by PO. On any failure
// it logs and returns a no-op release; the caller proceeds regardless.
func obtainExplodeLock(ctx context.Context, poId uuid.UUID) func() {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}
	}

	lock, err := locker.Obtain(ctx, fmt.Sprintf("explode:%s", poId), 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		logger.Warn("could not obtain redis lock for explode; proceeding without it")
		return func() {}
	} else if err != nil {
		logger.Warn("error obtaining redis lock for explode; proceeding without it: " + err.Error())
		return func() {}
	}
	return func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			logger.Warn("failed to release redis explode lock: " + releaseErr.Error())
		}
	}
}
