package repository

import (
	"context"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) Create(ctx context.Context, m *entity.Member) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
}

func (r *MemberRepository) FindByID(ctx context.Context, id string) (*entity.Member, error) {
	var m entity.Member
	err := r.db.WithContext(ctx).
		Preload("FighterType").
		First(&m, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// Lock 行锁，必须在名册锁之后获取
func (r *MemberRepository) Lock(ctx context.Context, id string) (*entity.Member, error) {
	var m entity.Member
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&m, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// LoadSubtree 成员及其晋升、行项
func (r *MemberRepository) LoadSubtree(ctx context.Context, id string) (*entity.Member, error) {
	var m entity.Member
	err := r.db.WithContext(ctx).
		Preload("FighterType").
		Preload("Advancements").
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, created_at ASC")
		}).
		Preload("LineItems.Equipment").
		Preload("LineItems.Equipment.Upgrades").
		Preload("LineItems.Profiles").
		Preload("LineItems.Accessories").
		Preload("LineItems.Upgrades").
		First(&m, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// FindStash 名册的 stash 成员，不存在返回 ErrNotFound
func (r *MemberRepository) FindStash(ctx context.Context, rosterID string) (*entity.Member, error) {
	var m entity.Member
	err := r.db.WithContext(ctx).
		Where("roster_id = ? AND is_stash = ?", rosterID, true).
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// ListSpawnedBy 由行项派生出的成员
func (r *MemberRepository) ListSpawnedBy(ctx context.Context, itemID string) ([]entity.Member, error) {
	var members []entity.Member
	err := r.db.WithContext(ctx).Where("spawned_by_item_id = ?", itemID).Find(&members).Error
	return members, err
}

func (r *MemberRepository) Update(ctx context.Context, m *entity.Member) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(m).Error
}

func (r *MemberRepository) UpdateFacts(ctx context.Context, id string, rating int, dirty bool) error {
	return r.db.WithContext(ctx).Model(&entity.Member{}).Where("id = ?", id).
		Updates(map[string]interface{}{"rating_current": rating, "dirty": dirty}).Error
}

func (r *MemberRepository) MarkDirty(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.Member{}).Where("id IN ?", ids).
		Update("dirty", true).Error
}

// Delete 删除成员及其行项、晋升
func (r *MemberRepository) Delete(ctx context.Context, id string) error {
	db := r.db.WithContext(ctx)
	var itemIDs []string
	if err := db.Model(&entity.LineItem{}).Where("member_id = ?", id).Pluck("id", &itemIDs).Error; err != nil {
		return err
	}
	if err := deleteSelections(db, itemIDs); err != nil {
		return err
	}
	if err := db.Where("member_id = ?", id).Delete(&entity.LineItem{}).Error; err != nil {
		return err
	}
	if err := db.Where("member_id = ?", id).Delete(&entity.Advancement{}).Error; err != nil {
		return err
	}
	return db.Delete(&entity.Member{}, "id = ?", id).Error
}

// ========== Advancement ==========

func (r *MemberRepository) CreateAdvancement(ctx context.Context, a *entity.Advancement) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *MemberRepository) FindAdvancement(ctx context.Context, id string) (*entity.Advancement, error) {
	var a entity.Advancement
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (r *MemberRepository) UpdateAdvancement(ctx context.Context, a *entity.Advancement) error {
	return r.db.WithContext(ctx).Save(a).Error
}

// AffectedMember 受原型价格变动影响的成员
type AffectedMember struct {
	MemberID string
	RosterID string
}

// FindAffectedByFighterType 基础成本依赖该原型价格的成员
// 手填成本、派生成员与 stash 不依赖目录价格
func (r *MemberRepository) FindAffectedByFighterType(ctx context.Context, fighterTypeID string) ([]AffectedMember, error) {
	var rows []AffectedMember
	err := r.db.WithContext(ctx).Model(&entity.Member{}).
		Select("id AS member_id, roster_id").
		Where("fighter_type_id = ? AND cost_override IS NULL AND spawned_by_item_id IS NULL AND is_stash = ?", fighterTypeID, false).
		Scan(&rows).Error
	return rows, err
}
