package repository

import (
	"context"
	"time"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RosterRepository struct {
	db *gorm.DB
}

func NewRosterRepository(db *gorm.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

func (r *RosterRepository) Create(ctx context.Context, roster *entity.Roster) error {
	return r.db.WithContext(ctx).Create(roster).Error
}

func (r *RosterRepository) FindByID(ctx context.Context, id string) (*entity.Roster, error) {
	var roster entity.Roster
	err := r.db.WithContext(ctx).
		Preload("Attributes").
		First(&roster, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &roster, nil
}

// Lock 行锁（SELECT ... FOR UPDATE），SQLite 下忽略
func (r *RosterRepository) Lock(ctx context.Context, id string) (*entity.Roster, error) {
	var roster entity.Roster
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&roster, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	var attrs []entity.RosterAttribute
	if err := r.db.WithContext(ctx).Where("roster_id = ?", id).Find(&attrs).Error; err != nil {
		return nil, err
	}
	roster.Attributes = attrs
	return &roster, nil
}

// LoadTree 加载整棵成本树：成员、晋升、行项及其选配
func (r *RosterRepository) LoadTree(ctx context.Context, id string) (*entity.Roster, error) {
	var roster entity.Roster
	err := r.db.WithContext(ctx).
		Preload("Attributes").
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, created_at ASC")
		}).
		Preload("Members.FighterType").
		Preload("Members.Advancements").
		Preload("Members.LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, created_at ASC")
		}).
		Preload("Members.LineItems.Equipment").
		Preload("Members.LineItems.Equipment.Upgrades").
		Preload("Members.LineItems.Profiles").
		Preload("Members.LineItems.Accessories").
		Preload("Members.LineItems.Upgrades").
		First(&roster, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &roster, nil
}

func (r *RosterRepository) ListByOwner(ctx context.Context, ownerID string) ([]entity.Roster, error) {
	var rosters []entity.Roster
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND archived_at IS NULL", ownerID).
		Order("created_at DESC").
		Find(&rosters).Error
	return rosters, err
}

// UpdateFacts 写入缓存列
func (r *RosterRepository) UpdateFacts(ctx context.Context, id string, rating, stash int, dirty bool) error {
	return r.db.WithContext(ctx).Model(&entity.Roster{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"rating_current":       rating,
			"stash_rating_current": stash,
			"dirty":                dirty,
		}).Error
}

func (r *RosterRepository) UpdateCurrency(ctx context.Context, id string, currency int) error {
	return r.db.WithContext(ctx).Model(&entity.Roster{}).Where("id = ?", id).
		Update("currency_current", currency).Error
}

func (r *RosterRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&entity.Roster{}).Where("id = ?", id).
		Update("status", status).Error
}

func (r *RosterRepository) Archive(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&entity.Roster{}).Where("id = ?", id).
		Update("archived_at", at).Error
}

func (r *RosterRepository) MarkDirty(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.Roster{}).Where("id IN ?", ids).
		Update("dirty", true).Error
}

// ListDirty 待修复的名册
func (r *RosterRepository) ListDirty(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.Roster{}).
		Where("dirty = ? AND archived_at IS NULL", true).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
