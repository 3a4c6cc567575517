package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/resaleops/synergy_backend/config"
	"github.com/resaleops/synergy_backend/utils"
	"gorm.io/gorm"
)

// Category is the source of ID prefixes. Prefix is unique and uppercase;
// the UI decoration (icon, color) rides along for the front end.
type Category struct {
	ID        uuid.UUID `gorm:"primary_key" json:"id"`
	Label     string    `gorm:"size:100;not null" json:"label"`
	Prefix    string    `gorm:"size:20;not null;uniqueIndex" json:"prefix"`
	Notes     string    `gorm:"type:text" json:"notes"`
	IconKey   string    `gorm:"size:50" json:"icon"`
	ColorKey  string    `gorm:"size:50" json:"color"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCategory struct {
	Label  string `json:"label" binding:"required"`
	Prefix string `json:"prefix" binding:"required"`
	Notes  string `json:"notes"`
	Icon   string `json:"icon"`
	Color  string `json:"color"`
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func CreateCategory(ctx context.Context, input *NewCategory) (*Category, error) {
	prefix := strings.ToUpper(strings.TrimSpace(input.Prefix))
	if prefix == "" {
		return nil, errors.New("prefix is required")
	}

	db := config.GetDB()

	var count int64
	if err := db.WithContext(ctx).Model(&Category{}).Where("prefix = ?", prefix).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("prefix already in use: " + prefix)
	}

	category := Category{
		Label:    strings.TrimSpace(input.Label),
		Prefix:   prefix,
		Notes:    input.Notes,
		IconKey:  input.Icon,
		ColorKey: input.Color,
	}
	if err := db.WithContext(ctx).Create(&category).Error; err != nil {
		return nil, err
	}
	invalidateCategoryPrefixCache()
	return &category, nil
}

func ListCategories(ctx context.Context) ([]*Category, error) {
	db := config.GetDB()
	var categories []*Category
	if err := db.WithContext(ctx).Order("label ASC").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

// UpdateCategory applies the non-empty fields of input. Changing the prefix
// does not rewrite already-issued codes; old codes stay valid and the new
// prefix starts its own counter.
func UpdateCategory(ctx context.Context, catId uuid.UUID, input *NewCategory) (*Category, error) {
	db := config.GetDB()

	var category Category
	if err := db.WithContext(ctx).Where("id = ?", catId).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	if label := strings.TrimSpace(input.Label); label != "" {
		category.Label = label
	}
	if prefix := strings.ToUpper(strings.TrimSpace(input.Prefix)); prefix != "" && prefix != category.Prefix {
		var count int64
		if err := db.WithContext(ctx).Model(&Category{}).
			Where("prefix = ? AND id <> ?", prefix, catId).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, errors.New("prefix already in use: " + prefix)
		}
		category.Prefix = prefix
	}
	if input.Notes != "" {
		category.Notes = input.Notes
	}
	if input.Icon != "" {
		category.IconKey = input.Icon
	}
	if input.Color != "" {
		category.ColorKey = input.Color
	}

	if err := db.WithContext(ctx).Save(&category).Error; err != nil {
		return nil, err
	}
	invalidateCategoryPrefixCache()
	return &category, nil
}

// DeleteCategory removes a category. Lines keep their (now dangling) guess
// as NULL via the FK-less schema; items keep their codes because codes are
// strings, not references.
func DeleteCategory(ctx context.Context, catId uuid.UUID) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PoLine{}).Where("category_guess = ?", catId).Update("category_guess", nil).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", catId).Delete(&Category{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		invalidateCategoryPrefixCache()
		return nil
	})
}

// categoryRef is the slim projection the import pipeline resolves guesses to.
type categoryRef struct {
	Id     uuid.UUID `json:"id"`
	Label  string    `json:"label"`
	Prefix string    `json:"prefix"`
}

const categoryPrefixMapKey = "categoryPrefixMap"

// categoryPrefixMap returns every category keyed by uppercase prefix, via a
// best-effort Redis cache. A cold or absent cache falls through to the DB.
func categoryPrefixMap(ctx context.Context) (map[string]categoryRef, error) {
	var cached map[string]categoryRef
	if ok, err := config.GetRedisObject(categoryPrefixMapKey, &cached); err == nil && ok {
		return cached, nil
	}

	db := config.GetDB()
	var categories []Category
	if err := db.WithContext(ctx).Find(&categories).Error; err != nil {
		return nil, err
	}

	byPrefix := make(map[string]categoryRef, len(categories))
	for _, c := range categories {
		byPrefix[strings.ToUpper(c.Prefix)] = categoryRef{Id: c.ID, Label: c.Label, Prefix: c.Prefix}
	}

	if err := config.SetRedisObject(categoryPrefixMapKey, byPrefix, 10*time.Minute); err != nil {
		config.LogError(config.GetLogger(), "category.go", "categoryPrefixMap", "SetRedisObject", categoryPrefixMapKey, err)
	}
	return byPrefix, nil
}

func invalidateCategoryPrefixCache() {
	if err := config.RemoveRedisKey(categoryPrefixMapKey); err != nil {
		config.LogError(config.GetLogger(), "category.go", "invalidateCategoryPrefixCache", "RemoveRedisKey", categoryPrefixMapKey, err)
	}
}

// ResolveCategoryPrefix maps a free-form guess from the import pipeline to a
// category. Match order: exact prefix, exact label (case-insensitive), then
// label starts-with. Returns utils.ErrorRecordNotFound when nothing matches;
// callers on the import path tolerate that and leave the line uncategorized.
func ResolveCategoryPrefix(ctx context.Context, guess string) (*categoryRef, error) {
	guess = strings.TrimSpace(guess)
	if guess == "" {
		return nil, utils.ErrorRecordNotFound
	}

	byPrefix, err := categoryPrefixMap(ctx)
	if err != nil {
		return nil, err
	}

	if ref, ok := byPrefix[strings.ToUpper(guess)]; ok {
		return &ref, nil
	}

	lowered := strings.ToLower(guess)
	for _, ref := range byPrefix {
		if strings.ToLower(ref.Label) == lowered {
			return &ref, nil
		}
	}
	for _, ref := range byPrefix {
		if strings.HasPrefix(strings.ToLower(ref.Label), lowered) {
			return &ref, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}
