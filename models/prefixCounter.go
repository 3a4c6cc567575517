package models

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdPrefixCounter holds the next unissued sequence number per prefix.
// next_seq only ever moves forward; deleting data never rewinds it.
type IdPrefixCounter struct {
	Prefix  string `gorm:"primary_key;size:20" json:"prefix"`
	NextSeq int64  `gorm:"not null;default:1" json:"next_seq"`
}

// TrueMaxSeq scans both code-bearing tables for the highest sequence in use
// under a prefix. This is the source of truth the counter is seeded and
// repaired from; 0 means no codes exist yet.
func TrueMaxSeq(tx *gorm.DB, prefix string) (int64, error) {
	pattern := prefix + "-%"

	var maxSeq int64
	err := tx.Raw(`
SELECT GREATEST(
  COALESCE((SELECT MAX(CAST(SUBSTRING_INDEX(synergy_id, '-', -1) AS UNSIGNED))
            FROM po_lines
            WHERE synergy_id LIKE ?), 0),
  COALESCE((SELECT MAX(CAST(SUBSTRING_INDEX(synergy_code, '-', -1) AS UNSIGNED))
            FROM inventory_items
            WHERE synergy_code LIKE ?), 0)
)`, pattern, pattern).Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq, nil
}

// GetAndReserveSeq returns the next sequence for a prefix and advances the
// counter, holding a FOR UPDATE lock on the counter row for the remainder of
// the caller's transaction. Concurrent reservations for the same prefix
// serialize on that lock. A missing counter row is lazily seeded from
// TrueMaxSeq, so the counter recovers after out-of-band imports.
func GetAndReserveSeq(tx *gorm.DB, prefix string) (int64, error) {
	var counter IdPrefixCounter
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("prefix = ?", prefix).
		First(&counter).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		trueMax, scanErr := TrueMaxSeq(tx, prefix)
		if scanErr != nil {
			return 0, scanErr
		}
		// Claim the row, then re-read under lock. Two first-time seeders of
		// the same prefix serialize on the primary key: the loser's insert
		// is ignored and its locked re-read observes the winner's counter
		// instead of its own stale seed.
		if insErr := tx.Exec(
			"INSERT IGNORE INTO id_prefix_counters (prefix, next_seq) VALUES (?, ?)",
			prefix, trueMax+1,
		).Error; insErr != nil {
			return 0, insErr
		}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("prefix = ?", prefix).
			First(&counter).Error
	}
	if err != nil {
		return 0, err
	}

	reserved := counter.NextSeq
	if err := UpsertNextSeq(tx, prefix, reserved+1); err != nil {
		return 0, err
	}
	return reserved, nil
}

// UpsertNextSeq writes the counter unconditionally. Callers are responsible
// for holding the row lock (allocation path) or for having computed a safe
// value (reset and manual override paths).
func UpsertNextSeq(tx *gorm.DB, prefix string, nextSeq int64) error {
	return tx.Exec(`
INSERT INTO id_prefix_counters (prefix, next_seq) VALUES (?, ?)
ON DUPLICATE KEY UPDATE next_seq = VALUES(next_seq)`, prefix, nextSeq).Error
}

// GetCurrentNextSeq reads the counter without locking. Returns 0 when no
// counter row exists yet.
func GetCurrentNextSeq(tx *gorm.DB, prefix string) (int64, error) {
	var counter IdPrefixCounter
	err := tx.Where("prefix = ?", prefix).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.NextSeq, nil
}
