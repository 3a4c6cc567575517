package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/resaleops/synergy_backend/config"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type SynergyEventType string

const (
	SynergyEventMint           SynergyEventType = "mint"
	SynergyEventResetToDefault SynergyEventType = "reset_to_default"
	SynergyEventManualSetNext  SynergyEventType = "manual_set_next"
)

// SynergyEvent is the append-only audit trail of every mint, counter reset
// and manual override. Rows are created once and never updated or deleted.
type SynergyEvent struct {
	ID          uuid.UUID        `gorm:"primary_key" json:"id"`
	CreatedAt   time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
	ActorName   *string          `gorm:"size:100" json:"actor_name"`
	PoId        *uuid.UUID       `gorm:"index" json:"po_id"`
	PoLineId    *uuid.UUID       `gorm:"index" json:"po_line_id"`
	InventoryId *uuid.UUID       `gorm:"index" json:"inventory_id"`
	Prefix      string           `gorm:"size:20;not null;index" json:"prefix"`
	Code        string           `gorm:"size:50;not null;index" json:"code"`
	Seq         int64            `gorm:"not null" json:"seq"`
	EventType   SynergyEventType `gorm:"type:enum('mint','reset_to_default','manual_set_next');not null" json:"event_type"`
	Meta        json.RawMessage  `gorm:"type:json" json:"meta"`
}

func (e *SynergyEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// LogSynergyEvent appends one audit row inside the caller's transaction.
// Callers on the allocation path must treat a returned error as
// non-fatal: a logging outage must never block inventory allocation.
func LogSynergyEvent(tx *gorm.DB, event *SynergyEvent) error {
	if event.Meta == nil {
		event.Meta = json.RawMessage(`{}`)
	}
	return tx.Create(event).Error
}

func metaJSON(meta map[string]any) json.RawMessage {
	if meta == nil {
		return json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

type SynergyEventFilter struct {
	Prefix string
	PoId   *uuid.UUID
	Code   string
	Limit  int
	Offset int
}

// SynergyEventView is an event row joined with the PO number for display.
type SynergyEventView struct {
	SynergyEvent
	PoNumber *string `json:"po_number"`
}

// ListSynergyEvents returns the audit log newest first, optionally filtered
// by prefix, PO or exact code.
func ListSynergyEvents(ctx context.Context, filter SynergyEventFilter) ([]*SynergyEventView, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	db := config.GetDB()
	query := db.WithContext(ctx).
		Table("synergy_events e").
		Select("e.*, po.po_number").
		Joins("LEFT JOIN purchase_orders po ON po.id = e.po_id")

	if filter.Prefix != "" {
		query = query.Where("e.prefix = ?", filter.Prefix)
	}
	if filter.PoId != nil {
		query = query.Where("e.po_id = ?", *filter.PoId)
	}
	if filter.Code != "" {
		query = query.Where("e.code = ?", filter.Code)
	}

	var events []*SynergyEventView
	if err := query.Order("e.created_at DESC").Limit(limit).Offset(offset).Scan(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// SynergyPrefixOverview is one row of the settings-modal overview: the
// counter pointer plus mint statistics for a prefix.
type SynergyPrefixOverview struct {
	Prefix       string     `json:"prefix"`
	NextSeq      int64      `json:"next_seq"`
	NextCode     *string    `json:"next_code"`
	MintedCount  int64      `json:"minted_count"`
	MaxMintedSeq *int64     `json:"max_minted_seq"`
	LastMintedAt *time.Time `json:"last_minted_at"`
}

// SynergyOverview reports every prefix counter with aggregated mint stats
// from the audit log. Prefixes whose data predates the audit log fall back
// to TrueMaxSeq so "0 minted" is not misleading.
func SynergyOverview(ctx context.Context) ([]*SynergyPrefixOverview, error) {
	db := config.GetDB()

	var counters []IdPrefixCounter
	if err := db.WithContext(ctx).Order("prefix ASC").Find(&counters).Error; err != nil {
		return nil, err
	}

	type mintStats struct {
		Prefix       string
		MintedCount  int64
		MaxMintedSeq *int64
		LastMintedAt *time.Time
	}
	var stats []mintStats
	if err := db.WithContext(ctx).
		Model(&SynergyEvent{}).
		Select(
			"prefix, "+
				"SUM(CASE WHEN event_type = 'mint' THEN 1 ELSE 0 END) AS minted_count, "+
				"MAX(CASE WHEN event_type = 'mint' THEN seq ELSE NULL END) AS max_minted_seq, "+
				"MAX(CASE WHEN event_type = 'mint' THEN created_at ELSE NULL END) AS last_minted_at").
		Group("prefix").
		Scan(&stats).Error; err != nil {
		return nil, err
	}
	statsByPrefix := make(map[string]mintStats, len(stats))
	for _, s := range stats {
		statsByPrefix[s.Prefix] = s
	}

	items := make([]*SynergyPrefixOverview, 0, len(counters))
	for _, counter := range counters {
		item := &SynergyPrefixOverview{
			Prefix:  counter.Prefix,
			NextSeq: counter.NextSeq,
		}
		if counter.NextSeq > 0 {
			code := FormatSynergyCode(counter.Prefix, counter.NextSeq)
			item.NextCode = &code
		}
		if s, ok := statsByPrefix[counter.Prefix]; ok {
			item.MintedCount = s.MintedCount
			item.MaxMintedSeq = s.MaxMintedSeq
			item.LastMintedAt = s.LastMintedAt
		}
		if item.MintedCount == 0 && (item.MaxMintedSeq == nil || *item.MaxMintedSeq == 0) {
			trueMax, err := TrueMaxSeq(db.WithContext(ctx), counter.Prefix)
			if err != nil {
				return nil, err
			}
			if trueMax > 0 {
				item.MintedCount = trueMax
				item.MaxMintedSeq = &trueMax
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// ExportSynergyEventsExcel renders the (filtered) audit log as a spreadsheet
// for offline review.
func ExportSynergyEventsExcel(ctx context.Context, filter SynergyEventFilter) (*excelize.File, error) {
	events, err := ListSynergyEvents(ctx, filter)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "Events"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{"CreatedAt", "EventType", "Prefix", "Code", "Seq", "Actor", "PoNumber", "Meta"}
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}

	for row, e := range events {
		actor := ""
		if e.ActorName != nil {
			actor = *e.ActorName
		}
		poNumber := ""
		if e.PoNumber != nil {
			poNumber = *e.PoNumber
		}
		values := []any{
			e.CreatedAt.Format(time.RFC3339),
			string(e.EventType),
			e.Prefix,
			e.Code,
			e.Seq,
			actor,
			poNumber,
			string(e.Meta),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}
