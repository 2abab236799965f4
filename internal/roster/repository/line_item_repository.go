package repository

import (
	"context"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"gorm.io/gorm"
)

type LineItemRepository struct {
	db *gorm.DB
}

func NewLineItemRepository(db *gorm.DB) *LineItemRepository {
	return &LineItemRepository{db: db}
}

// Create 创建行项，连同 Profiles / Accessories / Upgrades 选配
func (r *LineItemRepository) Create(ctx context.Context, item *entity.LineItem) error {
	return r.db.WithContext(ctx).Omit("Equipment").Create(item).Error
}

func (r *LineItemRepository) FindByID(ctx context.Context, id string) (*entity.LineItem, error) {
	var item entity.LineItem
	err := r.db.WithContext(ctx).
		Preload("Equipment").
		Preload("Equipment.Upgrades").
		Preload("Profiles").
		Preload("Accessories").
		Preload("Upgrades").
		First(&item, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// ListLinkedChildren 捆绑子项
func (r *LineItemRepository) ListLinkedChildren(ctx context.Context, parentID string) ([]entity.LineItem, error) {
	var items []entity.LineItem
	err := r.db.WithContext(ctx).Where("linked_parent_id = ?", parentID).Find(&items).Error
	return items, err
}

func (r *LineItemRepository) Update(ctx context.Context, item *entity.LineItem) error {
	return r.db.WithContext(ctx).Model(&entity.LineItem{}).Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"cost_override":       item.CostOverride,
			"total_cost_override": item.TotalCostOverride,
			"sort_order":          item.SortOrder,
		}).Error
}

func (r *LineItemRepository) UpdateFacts(ctx context.Context, id string, rating int, dirty bool) error {
	return r.db.WithContext(ctx).Model(&entity.LineItem{}).Where("id = ?", id).
		Updates(map[string]interface{}{"rating_current": rating, "dirty": dirty}).Error
}

func (r *LineItemRepository) MarkDirty(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.LineItem{}).Where("id IN ?", ids).
		Update("dirty", true).Error
}

// ReplaceComposition 替换行项的副模式、配件、升级选配
func (r *LineItemRepository) ReplaceComposition(ctx context.Context, itemID string,
	profiles []entity.LineItemProfile, accessories []entity.LineItemAccessory, upgrades []entity.LineItemUpgrade) error {
	db := r.db.WithContext(ctx)
	if err := deleteSelections(db, []string{itemID}); err != nil {
		return err
	}
	if len(profiles) > 0 {
		if err := db.Create(&profiles).Error; err != nil {
			return err
		}
	}
	if len(accessories) > 0 {
		if err := db.Create(&accessories).Error; err != nil {
			return err
		}
	}
	if len(upgrades) > 0 {
		if err := db.Create(&upgrades).Error; err != nil {
			return err
		}
	}
	return nil
}

// Delete 删除行项及其选配
func (r *LineItemRepository) Delete(ctx context.Context, id string) error {
	db := r.db.WithContext(ctx)
	if err := deleteSelections(db, []string{id}); err != nil {
		return err
	}
	return db.Delete(&entity.LineItem{}, "id = ?", id).Error
}

func deleteSelections(db *gorm.DB, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	if err := db.Where("line_item_id IN ?", itemIDs).Delete(&entity.LineItemProfile{}).Error; err != nil {
		return err
	}
	if err := db.Where("line_item_id IN ?", itemIDs).Delete(&entity.LineItemAccessory{}).Error; err != nil {
		return err
	}
	return db.Where("line_item_id IN ?", itemIDs).Delete(&entity.LineItemUpgrade{}).Error
}

// AffectedItem 受目录价格变动影响的行项及其祖先
type AffectedItem struct {
	ItemID   string
	MemberID string
	RosterID string
}

func (r *LineItemRepository) affectedBase(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("roster_line_items AS li").
		Select("li.id AS item_id, li.member_id AS member_id, m.roster_id AS roster_id").
		Joins("JOIN roster_members AS m ON m.id = li.member_id").
		Where("li.from_default = ? AND li.linked_parent_id IS NULL AND li.total_cost_override IS NULL", false)
}

// FindAffectedByEquipment 直接引用该装备的行项
func (r *LineItemRepository) FindAffectedByEquipment(ctx context.Context, equipmentID string) ([]AffectedItem, error) {
	var rows []AffectedItem
	err := r.affectedBase(ctx).Where("li.equipment_id = ?", equipmentID).Scan(&rows).Error
	return rows, err
}

// FindAffectedByProfile 选中该副模式的行项
func (r *LineItemRepository) FindAffectedByProfile(ctx context.Context, profileID string) ([]AffectedItem, error) {
	var rows []AffectedItem
	err := r.affectedBase(ctx).
		Where("EXISTS (SELECT 1 FROM roster_line_item_profiles p WHERE p.line_item_id = li.id AND p.profile_id = ?)", profileID).
		Scan(&rows).Error
	return rows, err
}

// FindAffectedByAccessory 装配该配件的行项
func (r *LineItemRepository) FindAffectedByAccessory(ctx context.Context, accessoryID string) ([]AffectedItem, error) {
	var rows []AffectedItem
	err := r.affectedBase(ctx).
		Where("EXISTS (SELECT 1 FROM roster_line_item_accessories a WHERE a.line_item_id = li.id AND a.accessory_id = ?)", accessoryID).
		Scan(&rows).Error
	return rows, err
}

// FindAffectedByUpgrade 同一装备上选中了位置不低于 position 的升级的行项
// 累计模式下这些选择都包含该升级的价格；独立模式下多出的行项差额为 0
func (r *LineItemRepository) FindAffectedByUpgrade(ctx context.Context, equipmentID string, position int) ([]AffectedItem, error) {
	var rows []AffectedItem
	err := r.affectedBase(ctx).
		Where("li.equipment_id = ?", equipmentID).
		Where(`EXISTS (SELECT 1 FROM roster_line_item_upgrades su
			JOIN catalogue_equipment_upgrades u ON u.id = su.upgrade_id
			WHERE su.line_item_id = li.id AND u.position >= ?)`, position).
		Scan(&rows).Error
	return rows, err
}
