package entity

import "time"

// 装备升级模式
const (
	UpgradeModeCumulative  = "cumulative"  // 选择第 N 级时累计 0..N 级的价格
	UpgradeModeIndependent = "independent" // 每个升级单独计价
)

// Faction 派系（house）
type Faction struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Faction) TableName() string {
	return "catalogue_factions"
}

// FighterType 战士原型（archetype），BaseCost 为通用默认价
type FighterType struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	FactionID *string   `json:"faction_id,omitempty" gorm:"size:32;index"`
	Category  string    `json:"category" gorm:"size:32;not null;default:ganger"` // leader/champion/ganger/juve/exotic_beast/stash
	BaseCost  int       `json:"base_cost" gorm:"not null"`
	IsStash   bool      `json:"is_stash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Defaults []FighterTypeDefault `json:"defaults,omitempty" gorm:"foreignKey:FighterTypeID"`
}

func (FighterType) TableName() string {
	return "catalogue_fighter_types"
}

// FighterTypeDefault 原型自带装备，实例化为零成本行项
type FighterTypeDefault struct {
	ID            string `json:"id" gorm:"primaryKey;size:32"`
	FighterTypeID string `json:"fighter_type_id" gorm:"size:32;not null;index"`
	EquipmentID   string `json:"equipment_id" gorm:"size:32;not null"`
	SortOrder     int    `json:"sort_order" gorm:"default:0"`
}

func (FighterTypeDefault) TableName() string {
	return "catalogue_fighter_type_defaults"
}

// Equipment 装备模板
type Equipment struct {
	ID                  string    `json:"id" gorm:"primaryKey;size:32"`
	Name                string    `json:"name" gorm:"size:128;not null"`
	Category            string    `json:"category" gorm:"size:32"`
	BasePrice           int       `json:"base_price" gorm:"not null"`
	UpgradeMode         string    `json:"upgrade_mode" gorm:"size:16;not null;default:cumulative"`
	SpawnsFighterTypeID *string   `json:"spawns_fighter_type_id,omitempty" gorm:"size:32"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	Profiles []EquipmentProfile `json:"profiles,omitempty" gorm:"foreignKey:EquipmentID"`
	Upgrades []EquipmentUpgrade `json:"upgrades,omitempty" gorm:"foreignKey:EquipmentID"`
	Links    []EquipmentLink    `json:"links,omitempty" gorm:"foreignKey:EquipmentID"`
}

func (Equipment) TableName() string {
	return "catalogue_equipment"
}

// IsCumulative 升级是否按位置累计计价
func (e *Equipment) IsCumulative() bool {
	return e.UpgradeMode != UpgradeModeIndependent
}

// EquipmentProfile 武器副模式（alternate firing mode），Cost 为 0 表示标准模式
type EquipmentProfile struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	EquipmentID string    `json:"equipment_id" gorm:"size:32;not null;index"`
	Name        string    `json:"name" gorm:"size:128;not null"`
	Cost        int       `json:"cost" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (EquipmentProfile) TableName() string {
	return "catalogue_equipment_profiles"
}

// EquipmentAccessory 武器配件
type EquipmentAccessory struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	Cost      int       `json:"cost" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EquipmentAccessory) TableName() string {
	return "catalogue_equipment_accessories"
}

// EquipmentUpgrade 装备升级，Position 从 0 开始
type EquipmentUpgrade struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	EquipmentID string    `json:"equipment_id" gorm:"size:32;not null;index"`
	Name        string    `json:"name" gorm:"size:128;not null"`
	Position    int       `json:"position" gorm:"not null;default:0"`
	Cost        int       `json:"cost" gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (EquipmentUpgrade) TableName() string {
	return "catalogue_equipment_upgrades"
}

// EquipmentLink 捆绑装备：挂载 EquipmentID 时自动挂载 LinkedEquipmentID（零成本）
type EquipmentLink struct {
	ID                string `json:"id" gorm:"primaryKey;size:32"`
	EquipmentID       string `json:"equipment_id" gorm:"size:32;not null;index"`
	LinkedEquipmentID string `json:"linked_equipment_id" gorm:"size:32;not null"`
}

func (EquipmentLink) TableName() string {
	return "catalogue_equipment_links"
}

// PriceOverride 原型/派系专属价格
type PriceOverride struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	TargetKind    string    `json:"target_kind" gorm:"size:16;not null;uniqueIndex:idx_price_override_key"`
	TargetID      string    `json:"target_id" gorm:"size:32;not null;uniqueIndex:idx_price_override_key"`
	FighterTypeID *string   `json:"fighter_type_id,omitempty" gorm:"size:32;uniqueIndex:idx_price_override_key"`
	FactionID     *string   `json:"faction_id,omitempty" gorm:"size:32;uniqueIndex:idx_price_override_key"`
	Price         int       `json:"price" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (PriceOverride) TableName() string {
	return "catalogue_price_overrides"
}

// ExpansionOverride 条件解锁价格，所有非空条件都满足才生效
type ExpansionOverride struct {
	ID              string    `json:"id" gorm:"primaryKey;size:32"`
	Name            string    `json:"name" gorm:"size:128"`
	TargetKind      string    `json:"target_kind" gorm:"size:16;not null;index:idx_expansion_target"`
	TargetID        string    `json:"target_id" gorm:"size:32;not null;index:idx_expansion_target"`
	FactionID       *string   `json:"faction_id,omitempty" gorm:"size:32"`
	FighterCategory *string   `json:"fighter_category,omitempty" gorm:"size:32"`
	AttributeKey    *string   `json:"attribute_key,omitempty" gorm:"size:64"`
	AttributeValue  *string   `json:"attribute_value,omitempty" gorm:"size:128"`
	Price           int       `json:"price" gorm:"not null"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (ExpansionOverride) TableName() string {
	return "catalogue_expansion_overrides"
}
