package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/resaleops/synergy_backend/config"
	"github.com/resaleops/synergy_backend/utils"
	"gorm.io/gorm"
)

// synergySeqWidth is the fixed zero-padding width of the sequence segment.
// Applied uniformly to every code the system emits.
const synergySeqWidth = 5

// FormatSynergyCode renders a code as {PREFIX}-{SEQ} with fixed-width
// zero padding, e.g. LAP-00008.
func FormatSynergyCode(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%0*d", prefix, synergySeqWidth, seq)
}

// ParseSynergyCodeSeq extracts the numeric suffix of a code. Returns an
// error when the code has no parseable sequence segment.
func ParseSynergyCodeSeq(code string) (int64, error) {
	idx := strings.LastIndex(code, "-")
	if idx < 0 || idx == len(code)-1 {
		return 0, fmt.Errorf("code %q has no sequence segment", code)
	}
	seq, err := strconv.ParseInt(code[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("code %q has no numeric sequence: %w", code, err)
	}
	return seq, nil
}

// SynergyAlloc carries the audit context of an allocation.
type SynergyAlloc struct {
	ActorName   string
	PoId        *uuid.UUID
	PoLineId    *uuid.UUID
	InventoryId *uuid.UUID
}

// AllocateSynergyCode reserves the next sequence for a prefix, formats the
// code and appends a mint event, all inside the caller's transaction. The
// returned code has never been returned before for that prefix.
//
// A counter-store failure aborts the allocation (and with it the caller's
// transaction); an audit-log failure is logged and swallowed so a logging
// outage cannot block allocation.
func AllocateSynergyCode(tx *gorm.DB, prefix string, alloc SynergyAlloc) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", errors.New("prefix is required")
	}

	seq, err := GetAndReserveSeq(tx, prefix)
	if err != nil {
		return "", err
	}
	code := FormatSynergyCode(prefix, seq)

	event := &SynergyEvent{
		EventType:   SynergyEventMint,
		Prefix:      prefix,
		Code:        code,
		Seq:         seq,
		PoId:        alloc.PoId,
		PoLineId:    alloc.PoLineId,
		InventoryId: alloc.InventoryId,
		Meta:        metaJSON(map[string]any{"source": "allocator"}),
	}
	if alloc.ActorName != "" {
		event.ActorName = &alloc.ActorName
	}
	if logErr := LogSynergyEvent(tx, event); logErr != nil {
		config.LogError(config.GetLogger(), "synergyAllocator.go", "AllocateSynergyCode", "LogSynergyEvent", code, logErr)
	}

	return code, nil
}

// PeekNextSynergyCode reports the code the next allocation would return,
// without reserving anything. Advisory only: a concurrent mint invalidates
// it the moment it commits.
func PeekNextSynergyCode(ctx context.Context, prefix string) (string, error) {
	db := config.GetDB()
	tx := db.WithContext(ctx)

	next, err := GetCurrentNextSeq(tx, prefix)
	if err != nil {
		return "", err
	}
	if next == 0 {
		trueMax, err := TrueMaxSeq(tx, prefix)
		if err != nil {
			return "", err
		}
		next = trueMax + 1
	}
	return FormatSynergyCode(prefix, next), nil
}

// TakeSynergyCode reserves one code outside any line/item context, e.g. for
// a hand-labelled unit.
func TakeSynergyCode(ctx context.Context, prefix string) (string, error) {
	actor, _ := utils.GetActorNameFromContext(ctx)

	var code string
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var allocErr error
		code, allocErr = AllocateSynergyCode(tx, prefix, SynergyAlloc{ActorName: actor})
		return allocErr
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// ResetPrefixToDefault repairs a counter that has drifted behind reality
// (e.g. after out-of-band data edits): next_seq becomes TrueMaxSeq + 1.
func ResetPrefixToDefault(ctx context.Context, prefix string, actorName string) (int64, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return 0, errors.New("prefix is required")
	}

	var safeNext int64
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trueMax, err := TrueMaxSeq(tx, prefix)
		if err != nil {
			return err
		}
		safeNext = trueMax + 1

		if err := UpsertNextSeq(tx, prefix, safeNext); err != nil {
			return err
		}

		event := &SynergyEvent{
			EventType: SynergyEventResetToDefault,
			Prefix:    prefix,
			Seq:       safeNext,
			Code:      FormatSynergyCode(prefix, safeNext),
			Meta:      metaJSON(map[string]any{"safe_next": safeNext}),
		}
		if actorName != "" {
			event.ActorName = &actorName
		}
		return LogSynergyEvent(tx, event)
	})
	if err != nil {
		return 0, err
	}
	return safeNext, nil
}

// UnsafeNextSeqError rejects a manual override below the safe floor. The
// computed minimum travels with the error so the UI can offer it.
type UnsafeNextSeqError struct {
	Prefix    string
	Requested int64
	SafeNext  int64
}

func (e *UnsafeNextSeqError) Error() string {
	return fmt.Sprintf(
		"cannot set next sequence for prefix %s to %d because IDs up to %d may already exist; the minimum safe value is %d",
		e.Prefix, e.Requested, e.SafeNext-1, e.SafeNext,
	)
}

// ManualSetNext sets the counter explicitly. Any value below
// max(TrueMaxSeq+1, current next_seq) is rejected with UnsafeNextSeqError,
// never silently clamped. Accepted changes are audit-logged with old value,
// new value and the supplied reason.
func ManualSetNext(ctx context.Context, prefix string, next int64, actorName string, reason string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return errors.New("prefix is required")
	}
	if next < 1 {
		return errors.New("next must be >= 1")
	}

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		oldNext, err := GetCurrentNextSeq(tx, prefix)
		if err != nil {
			return err
		}
		trueMax, err := TrueMaxSeq(tx, prefix)
		if err != nil {
			return err
		}

		safeMinNext := trueMax + 1
		if oldNext > safeMinNext {
			safeMinNext = oldNext
		}
		if next < safeMinNext {
			return &UnsafeNextSeqError{Prefix: prefix, Requested: next, SafeNext: safeMinNext}
		}

		if err := UpsertNextSeq(tx, prefix, next); err != nil {
			return err
		}

		event := &SynergyEvent{
			EventType: SynergyEventManualSetNext,
			Prefix:    prefix,
			Seq:       next,
			Code:      FormatSynergyCode(prefix, next),
			Meta: metaJSON(map[string]any{
				"old_next": oldNext,
				"new_next": next,
				"reason":   reason,
			}),
		}
		if actorName != "" {
			event.ActorName = &actorName
		}
		return LogSynergyEvent(tx, event)
	})
}
