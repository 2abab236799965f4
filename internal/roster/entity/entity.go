// Package entity holds the gorm models of the catalogue, the cost tree and
// the roster ledger.
package entity

// Models 需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&Faction{},
		&FighterType{},
		&FighterTypeDefault{},
		&Equipment{},
		&EquipmentProfile{},
		&EquipmentAccessory{},
		&EquipmentUpgrade{},
		&EquipmentLink{},
		&PriceOverride{},
		&ExpansionOverride{},
		&Roster{},
		&RosterAttribute{},
		&Member{},
		&LineItem{},
		&LineItemProfile{},
		&LineItemAccessory{},
		&LineItemUpgrade{},
		&Advancement{},
		&LedgerEntry{},
		&PendingSettlement{},
	}
}
