package entity

import "time"

// 名册状态
const (
	RosterStatusDraft     = "draft"     // 草稿，价格变动只标脏
	RosterStatusCommitted = "committed" // 战役进行中，价格变动需记账并调整资金
)

// Roster 名册（gang）
// RatingCurrent / StashRatingCurrent / CurrencyCurrent / Dirty 为缓存列
type Roster struct {
	ID                 string     `json:"id" gorm:"primaryKey;size:32"`
	Name               string     `json:"name" gorm:"size:128;not null"`
	OwnerID            string     `json:"owner_id" gorm:"size:32;not null;index"`
	FactionID          string     `json:"faction_id" gorm:"size:32;not null"`
	Status             string     `json:"status" gorm:"size:16;not null;default:draft"`
	ArchivedAt         *time.Time `json:"archived_at,omitempty"`
	RatingCurrent      int        `json:"rating_current" gorm:"column:rating_current;not null;default:0"`
	StashRatingCurrent int        `json:"stash_rating_current" gorm:"column:stash_rating_current;not null;default:0"`
	CurrencyCurrent    int        `json:"currency_current" gorm:"column:currency_current;not null;default:0"`
	Dirty              bool       `json:"dirty" gorm:"column:dirty;not null;index"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Members    []Member          `json:"members,omitempty" gorm:"foreignKey:RosterID"`
	Attributes []RosterAttribute `json:"attributes,omitempty" gorm:"foreignKey:RosterID"`
}

func (Roster) TableName() string {
	return "rosters"
}

// IsCommitted 是否处于战役模式
func (r *Roster) IsCommitted() bool {
	return r.Status == RosterStatusCommitted
}

// AttributeMap 名册属性（用于条件解锁价格匹配）
func (r *Roster) AttributeMap() map[string]string {
	attrs := make(map[string]string, len(r.Attributes))
	for _, a := range r.Attributes {
		attrs[a.Key] = a.Value
	}
	return attrs
}

// RosterAttribute 名册属性，如 alignment=law_abiding
type RosterAttribute struct {
	ID       string `json:"id" gorm:"primaryKey;size:32"`
	RosterID string `json:"roster_id" gorm:"size:32;not null;uniqueIndex:idx_roster_attr_key"`
	Key      string `json:"key" gorm:"size:64;not null;uniqueIndex:idx_roster_attr_key"`
	Value    string `json:"value" gorm:"size:128;not null"`
}

func (RosterAttribute) TableName() string {
	return "roster_attributes"
}

// Member 名册成员（fighter）
type Member struct {
	ID              string     `json:"id" gorm:"primaryKey;size:32"`
	RosterID        string     `json:"roster_id" gorm:"size:32;not null;index"`
	Name            string     `json:"name" gorm:"size:128;not null"`
	FighterTypeID   string     `json:"fighter_type_id" gorm:"size:32;not null;index"`
	SortOrder       int        `json:"sort_order" gorm:"default:0"`
	IsStash         bool       `json:"is_stash"`
	CostOverride    *int       `json:"cost_override,omitempty"`
	SpawnedByItemID *string    `json:"spawned_by_item_id,omitempty" gorm:"size:32;index"`
	XP              int        `json:"xp" gorm:"not null;default:0"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
	RatingCurrent   int        `json:"rating_current" gorm:"column:rating_current;not null;default:0"`
	Dirty           bool       `json:"dirty" gorm:"column:dirty;not null"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	FighterType  *FighterType  `json:"fighter_type,omitempty" gorm:"foreignKey:FighterTypeID"`
	LineItems    []LineItem    `json:"line_items,omitempty" gorm:"foreignKey:MemberID"`
	Advancements []Advancement `json:"advancements,omitempty" gorm:"foreignKey:MemberID"`
}

func (Member) TableName() string {
	return "roster_members"
}

// IsActive 未归档
func (m *Member) IsActive() bool {
	return m.ArchivedAt == nil
}

// IsLinked 由装备派生出的成员，基础成本为 0
func (m *Member) IsLinked() bool {
	return m.SpawnedByItemID != nil
}

// AdvancementCost 有效晋升的成本累计
func (m *Member) AdvancementCost() int {
	total := 0
	for _, a := range m.Advancements {
		if a.ReversedAt == nil {
			total += a.CostIncrease
		}
	}
	return total
}

// LineItem 装备行项
type LineItem struct {
	ID                string    `json:"id" gorm:"primaryKey;size:32"`
	MemberID          string    `json:"member_id" gorm:"size:32;not null;index"`
	EquipmentID       string    `json:"equipment_id" gorm:"size:32;not null;index"`
	SortOrder         int       `json:"sort_order" gorm:"default:0"`
	FromDefault       bool      `json:"from_default"`
	LinkedParentID    *string   `json:"linked_parent_id,omitempty" gorm:"size:32;index"`
	CostOverride      *int      `json:"cost_override,omitempty"`
	TotalCostOverride *int      `json:"total_cost_override,omitempty"`
	RatingCurrent     int       `json:"rating_current" gorm:"column:rating_current;not null;default:0"`
	Dirty             bool      `json:"dirty" gorm:"column:dirty;not null"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Equipment   *Equipment          `json:"equipment,omitempty" gorm:"foreignKey:EquipmentID"`
	Profiles    []LineItemProfile   `json:"profiles,omitempty" gorm:"foreignKey:LineItemID"`
	Accessories []LineItemAccessory `json:"accessories,omitempty" gorm:"foreignKey:LineItemID"`
	Upgrades    []LineItemUpgrade   `json:"upgrades,omitempty" gorm:"foreignKey:LineItemID"`
}

func (LineItem) TableName() string {
	return "roster_line_items"
}

// IsZeroCost 默认装备与捆绑子项恒为零成本
func (li *LineItem) IsZeroCost() bool {
	return li.FromDefault || li.LinkedParentID != nil
}

// LineItemProfile 行项已选副模式
type LineItemProfile struct {
	ID         string `json:"id" gorm:"primaryKey;size:32"`
	LineItemID string `json:"line_item_id" gorm:"size:32;not null;index"`
	ProfileID  string `json:"profile_id" gorm:"size:32;not null;index"`
}

func (LineItemProfile) TableName() string {
	return "roster_line_item_profiles"
}

// LineItemAccessory 行项已装配件
type LineItemAccessory struct {
	ID          string `json:"id" gorm:"primaryKey;size:32"`
	LineItemID  string `json:"line_item_id" gorm:"size:32;not null;index"`
	AccessoryID string `json:"accessory_id" gorm:"size:32;not null;index"`
}

func (LineItemAccessory) TableName() string {
	return "roster_line_item_accessories"
}

// LineItemUpgrade 行项已选升级
type LineItemUpgrade struct {
	ID         string `json:"id" gorm:"primaryKey;size:32"`
	LineItemID string `json:"line_item_id" gorm:"size:32;not null;index"`
	UpgradeID  string `json:"upgrade_id" gorm:"size:32;not null;index"`
}

func (LineItemUpgrade) TableName() string {
	return "roster_line_item_upgrades"
}

// Advancement 成员晋升，ReversedAt 非空表示已撤销
type Advancement struct {
	ID           string     `json:"id" gorm:"primaryKey;size:32"`
	MemberID     string     `json:"member_id" gorm:"size:32;not null;index"`
	Name         string     `json:"name" gorm:"size:128;not null"`
	XPCost       int        `json:"xp_cost" gorm:"not null;default:0"`
	CostIncrease int        `json:"cost_increase" gorm:"not null;default:0"`
	ReversedAt   *time.Time `json:"reversed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (Advancement) TableName() string {
	return "roster_advancements"
}
