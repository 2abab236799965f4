package repository

import (
	"context"
	"fmt"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogueRepository 目录只读视图（实现 pricing.Catalogue）以及价格维护
type CatalogueRepository struct {
	db *gorm.DB
}

func NewCatalogueRepository(db *gorm.DB) *CatalogueRepository {
	return &CatalogueRepository{db: db}
}

var _ pricing.Catalogue = (*CatalogueRepository)(nil)

// templateTable 模板类别对应的表与价格列
func templateTable(kind pricing.Kind) (model interface{}, column string, err error) {
	switch kind {
	case pricing.KindFighter:
		return &entity.FighterType{}, "base_cost", nil
	case pricing.KindEquipment:
		return &entity.Equipment{}, "base_price", nil
	case pricing.KindProfile:
		return &entity.EquipmentProfile{}, "cost", nil
	case pricing.KindAccessory:
		return &entity.EquipmentAccessory{}, "cost", nil
	case pricing.KindUpgrade:
		return &entity.EquipmentUpgrade{}, "cost", nil
	}
	return nil, "", fmt.Errorf("unknown template kind %q", kind)
}

type templateRow struct {
	Name  string
	Price int
}

func (r *CatalogueRepository) Template(ctx context.Context, ref pricing.Ref) (pricing.Template, bool, error) {
	model, column, err := templateTable(ref.Kind)
	if err != nil {
		return pricing.Template{}, false, err
	}
	var rows []templateRow
	err = r.db.WithContext(ctx).Model(model).
		Select("name, "+column+" AS price").
		Where("id = ?", ref.ID).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return pricing.Template{}, false, err
	}
	if len(rows) == 0 {
		return pricing.Template{}, false, nil
	}
	return pricing.Template{Ref: ref, Name: rows[0].Name, BasePrice: rows[0].Price}, true, nil
}

func (r *CatalogueRepository) CatalogueOverrides(ctx context.Context, ref pricing.Ref) ([]pricing.CatalogueOverride, error) {
	var rows []entity.PriceOverride
	err := r.db.WithContext(ctx).
		Where("target_kind = ? AND target_id = ?", string(ref.Kind), ref.ID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]pricing.CatalogueOverride, 0, len(rows))
	for _, o := range rows {
		out = append(out, pricing.CatalogueOverride{
			ID:            o.ID,
			FighterTypeID: o.FighterTypeID,
			FactionID:     o.FactionID,
			Price:         o.Price,
			CreatedAt:     o.CreatedAt,
		})
	}
	return out, nil
}

func (r *CatalogueRepository) ExpansionOverrides(ctx context.Context, ref pricing.Ref) ([]pricing.ScopedExpansionOverride, error) {
	var rows []entity.ExpansionOverride
	err := r.db.WithContext(ctx).
		Where("target_kind = ? AND target_id = ?", string(ref.Kind), ref.ID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]pricing.ScopedExpansionOverride, 0, len(rows))
	for _, o := range rows {
		out = append(out, pricing.ScopedExpansionOverride{
			ID:              o.ID,
			FactionID:       o.FactionID,
			FighterCategory: o.FighterCategory,
			AttributeKey:    o.AttributeKey,
			AttributeValue:  o.AttributeValue,
			Price:           o.Price,
			CreatedAt:       o.CreatedAt,
		})
	}
	return out, nil
}

// ========== 模板查询 ==========

func (r *CatalogueRepository) FindFighterType(ctx context.Context, id string) (*entity.FighterType, error) {
	var ft entity.FighterType
	err := r.db.WithContext(ctx).
		Preload("Defaults", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		First(&ft, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ft, nil
}

// FindStashType 目录中的 stash 原型
func (r *CatalogueRepository) FindStashType(ctx context.Context) (*entity.FighterType, error) {
	var ft entity.FighterType
	if err := r.db.WithContext(ctx).Where("is_stash = ?", true).Order("id ASC").First(&ft).Error; err != nil {
		return nil, translate(err)
	}
	return &ft, nil
}

func (r *CatalogueRepository) FindEquipment(ctx context.Context, id string) (*entity.Equipment, error) {
	var eq entity.Equipment
	err := r.db.WithContext(ctx).
		Preload("Profiles").
		Preload("Upgrades", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Links").
		First(&eq, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &eq, nil
}

func (r *CatalogueRepository) FindUpgrade(ctx context.Context, id string) (*entity.EquipmentUpgrade, error) {
	var u entity.EquipmentUpgrade
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *CatalogueRepository) FindAccessories(ctx context.Context, ids []string) ([]entity.EquipmentAccessory, error) {
	var list []entity.EquipmentAccessory
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error
	return list, err
}

// ========== 价格维护 ==========

// UpdateTemplatePrice 更新模板默认价，返回旧价格
func (r *CatalogueRepository) UpdateTemplatePrice(ctx context.Context, ref pricing.Ref, price int) (int, error) {
	tpl, ok, err := r.lockedTemplate(ctx, ref)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	model, column, _ := templateTable(ref.Kind)
	err = r.db.WithContext(ctx).Model(model).Where("id = ?", ref.ID).Update(column, price).Error
	if err != nil {
		return 0, err
	}
	return tpl.BasePrice, nil
}

func (r *CatalogueRepository) lockedTemplate(ctx context.Context, ref pricing.Ref) (pricing.Template, bool, error) {
	model, column, err := templateTable(ref.Kind)
	if err != nil {
		return pricing.Template{}, false, err
	}
	var rows []templateRow
	err = r.db.WithContext(ctx).Model(model).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("name, "+column+" AS price").
		Where("id = ?", ref.ID).
		Limit(1).
		Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return pricing.Template{}, false, err
	}
	return pricing.Template{Ref: ref, Name: rows[0].Name, BasePrice: rows[0].Price}, true, nil
}

// OverrideRecord 覆盖记录定位信息
type OverrideRecord struct {
	ID        string
	Target    pricing.Ref
	Price     int
	Expansion bool
}

// FindOverride 在原型/派系覆盖与条件解锁覆盖中查找
func (r *CatalogueRepository) FindOverride(ctx context.Context, id string) (*OverrideRecord, error) {
	var po entity.PriceOverride
	err := r.db.WithContext(ctx).First(&po, "id = ?", id).Error
	if err == nil {
		return &OverrideRecord{ID: po.ID, Target: pricing.Ref{Kind: pricing.Kind(po.TargetKind), ID: po.TargetID}, Price: po.Price}, nil
	}
	if err = translate(err); err != ErrNotFound {
		return nil, err
	}
	var eo entity.ExpansionOverride
	if err := r.db.WithContext(ctx).First(&eo, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &OverrideRecord{ID: eo.ID, Target: pricing.Ref{Kind: pricing.Kind(eo.TargetKind), ID: eo.TargetID}, Price: eo.Price, Expansion: true}, nil
}

// UpdateOverridePrice 更新覆盖价格
func (r *CatalogueRepository) UpdateOverridePrice(ctx context.Context, rec *OverrideRecord, price int) error {
	var model interface{} = &entity.PriceOverride{}
	if rec.Expansion {
		model = &entity.ExpansionOverride{}
	}
	return r.db.WithContext(ctx).Model(model).Where("id = ?", rec.ID).Update("price", price).Error
}

// CreateOverride 新建原型/派系覆盖
func (r *CatalogueRepository) CreateOverride(ctx context.Context, o *entity.PriceOverride) error {
	return r.db.WithContext(ctx).Create(o).Error
}

// CreateExpansion 新建条件解锁覆盖
func (r *CatalogueRepository) CreateExpansion(ctx context.Context, o *entity.ExpansionOverride) error {
	return r.db.WithContext(ctx).Create(o).Error
}
