package testutil

import (
	"testing"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"gorm.io/gorm"
)

func create(t *testing.T, db *gorm.DB, v interface{}) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("Failed to seed %T: %v", v, err)
	}
}

// SeedFighterType 战士原型
func SeedFighterType(t *testing.T, db *gorm.DB, id, name, category string, cost int) *entity.FighterType {
	t.Helper()
	ft := &entity.FighterType{ID: id, Name: name, Category: category, BaseCost: cost}
	create(t, db, ft)
	return ft
}

// SeedStashType 仓库原型，新建名册时自动创建 stash 成员
func SeedStashType(t *testing.T, db *gorm.DB) *entity.FighterType {
	t.Helper()
	ft := &entity.FighterType{ID: "stash", Name: "Stash", Category: "stash", IsStash: true}
	create(t, db, ft)
	return ft
}

// SeedDefault 原型自带装备
func SeedDefault(t *testing.T, db *gorm.DB, fighterTypeID, equipmentID string) {
	t.Helper()
	create(t, db, &entity.FighterTypeDefault{ID: fighterTypeID + "-" + equipmentID, FighterTypeID: fighterTypeID, EquipmentID: equipmentID})
}

// SeedEquipment 装备模板（累计升级模式）
func SeedEquipment(t *testing.T, db *gorm.DB, id, name string, price int) *entity.Equipment {
	t.Helper()
	eq := &entity.Equipment{ID: id, Name: name, Category: "weapon", BasePrice: price, UpgradeMode: entity.UpgradeModeCumulative}
	create(t, db, eq)
	return eq
}

// SeedSpawningEquipment 挂载时派生一名成员的装备，如战兽
func SeedSpawningEquipment(t *testing.T, db *gorm.DB, id, name string, price int, spawns string) *entity.Equipment {
	t.Helper()
	eq := &entity.Equipment{ID: id, Name: name, Category: "beast", BasePrice: price, UpgradeMode: entity.UpgradeModeCumulative, SpawnsFighterTypeID: &spawns}
	create(t, db, eq)
	return eq
}

func SeedUpgrade(t *testing.T, db *gorm.DB, id, equipmentID string, position, cost int) *entity.EquipmentUpgrade {
	t.Helper()
	up := &entity.EquipmentUpgrade{ID: id, EquipmentID: equipmentID, Name: id, Position: position, Cost: cost}
	create(t, db, up)
	return up
}

func SeedProfile(t *testing.T, db *gorm.DB, id, equipmentID string, cost int) *entity.EquipmentProfile {
	t.Helper()
	p := &entity.EquipmentProfile{ID: id, EquipmentID: equipmentID, Name: id, Cost: cost}
	create(t, db, p)
	return p
}

func SeedAccessory(t *testing.T, db *gorm.DB, id string, cost int) *entity.EquipmentAccessory {
	t.Helper()
	a := &entity.EquipmentAccessory{ID: id, Name: id, Cost: cost}
	create(t, db, a)
	return a
}

// SeedLink 挂载 equipmentID 时自动挂载 linkedID
func SeedLink(t *testing.T, db *gorm.DB, equipmentID, linkedID string) {
	t.Helper()
	create(t, db, &entity.EquipmentLink{ID: equipmentID + "-" + linkedID, EquipmentID: equipmentID, LinkedEquipmentID: linkedID})
}

// SeedOverride 原型/派系专属价格
func SeedOverride(t *testing.T, db *gorm.DB, id, kind, targetID string, fighterTypeID, factionID *string, price int) *entity.PriceOverride {
	t.Helper()
	o := &entity.PriceOverride{ID: id, TargetKind: kind, TargetID: targetID, FighterTypeID: fighterTypeID, FactionID: factionID, Price: price}
	create(t, db, o)
	return o
}
