package service

import (
	"context"
	"fmt"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
)

// calculator 从实时成本树计算评分，不读写缓存列
type calculator struct {
	res *pricing.Resolver
}

func ownerContext(r *entity.Roster, m *entity.Member) pricing.OwnerContext {
	oc := pricing.OwnerContext{
		FighterTypeID: m.FighterTypeID,
		FactionID:     r.FactionID,
		Attributes:    r.AttributeMap(),
	}
	if m.FighterType != nil {
		oc.FighterCategory = m.FighterType.Category
	}
	return oc
}

// itemCost 行项成本：基础价 + 副模式 + 配件 + 升级
func (c calculator) itemCost(ctx context.Context, item *entity.LineItem, oc pricing.OwnerContext) (int, error) {
	if item.IsZeroCost() {
		return 0, nil
	}
	if item.TotalCostOverride != nil {
		return *item.TotalCostOverride, nil
	}

	total, err := c.res.Price(ctx, pricing.Ref{Kind: pricing.KindEquipment, ID: item.EquipmentID}, oc, item.CostOverride)
	if err != nil {
		return 0, err
	}
	for _, p := range item.Profiles {
		price, err := c.res.Price(ctx, pricing.Ref{Kind: pricing.KindProfile, ID: p.ProfileID}, oc, nil)
		if err != nil {
			return 0, err
		}
		total += price
	}
	for _, a := range item.Accessories {
		price, err := c.res.Price(ctx, pricing.Ref{Kind: pricing.KindAccessory, ID: a.AccessoryID}, oc, nil)
		if err != nil {
			return 0, err
		}
		total += price
	}
	upgrades, err := c.upgradeCost(ctx, item, oc)
	if err != nil {
		return 0, err
	}
	return total + upgrades, nil
}

// upgradeCost 累计模式：选中位置 p 计入所有位置 <= p 的升级；独立模式：逐个计价
func (c calculator) upgradeCost(ctx context.Context, item *entity.LineItem, oc pricing.OwnerContext) (int, error) {
	if len(item.Upgrades) == 0 {
		return 0, nil
	}
	if item.Equipment == nil {
		return 0, fmt.Errorf("%w: equipment:%s", ErrDanglingReference, item.EquipmentID)
	}
	eq := item.Equipment
	byID := make(map[string]entity.EquipmentUpgrade, len(eq.Upgrades))
	for _, u := range eq.Upgrades {
		byID[u.ID] = u
	}

	var priced []entity.EquipmentUpgrade
	if eq.IsCumulative() {
		maxPos := -1
		for _, sel := range item.Upgrades {
			u, ok := byID[sel.UpgradeID]
			if !ok {
				return 0, fmt.Errorf("%w: upgrade:%s", ErrDanglingReference, sel.UpgradeID)
			}
			if u.Position > maxPos {
				maxPos = u.Position
			}
		}
		for _, u := range eq.Upgrades {
			if u.Position <= maxPos {
				priced = append(priced, u)
			}
		}
	} else {
		for _, sel := range item.Upgrades {
			u, ok := byID[sel.UpgradeID]
			if !ok {
				return 0, fmt.Errorf("%w: upgrade:%s", ErrDanglingReference, sel.UpgradeID)
			}
			priced = append(priced, u)
		}
	}

	total := 0
	for _, u := range priced {
		price, err := c.res.Price(ctx, pricing.Ref{Kind: pricing.KindUpgrade, ID: u.ID}, oc, nil)
		if err != nil {
			return 0, err
		}
		total += price
	}
	return total, nil
}

// memberBase 成员基础成本：手填 > 派生成员为 0 > stash 为 0 > 目录价
func (c calculator) memberBase(ctx context.Context, m *entity.Member, oc pricing.OwnerContext) (int, error) {
	if m.CostOverride != nil {
		return *m.CostOverride, nil
	}
	if m.IsLinked() || m.IsStash {
		return 0, nil
	}
	return c.res.Price(ctx, pricing.Ref{Kind: pricing.KindFighter, ID: m.FighterTypeID}, oc, nil)
}

type memberCost struct {
	Base         int
	Advancements int
	Rating       int
	Items        map[string]int
}

// member 需要已加载 LineItems（含选配与装备升级）与 Advancements
func (c calculator) member(ctx context.Context, r *entity.Roster, m *entity.Member) (memberCost, error) {
	oc := ownerContext(r, m)
	base, err := c.memberBase(ctx, m, oc)
	if err != nil {
		return memberCost{}, err
	}
	mc := memberCost{
		Base:         base,
		Advancements: m.AdvancementCost(),
		Items:        make(map[string]int, len(m.LineItems)),
	}
	mc.Rating = mc.Base + mc.Advancements
	for i := range m.LineItems {
		cost, err := c.itemCost(ctx, &m.LineItems[i], oc)
		if err != nil {
			return memberCost{}, err
		}
		mc.Items[m.LineItems[i].ID] = cost
		mc.Rating += cost
	}
	return mc, nil
}

type rosterCost struct {
	Rating  int
	Stash   int
	Members map[string]memberCost
}

// roster 需要已加载整棵树；归档成员不计入名册
func (c calculator) roster(ctx context.Context, r *entity.Roster) (rosterCost, error) {
	rc := rosterCost{Members: make(map[string]memberCost, len(r.Members))}
	for i := range r.Members {
		m := &r.Members[i]
		mc, err := c.member(ctx, r, m)
		if err != nil {
			return rosterCost{}, err
		}
		rc.Members[m.ID] = mc
		if !m.IsActive() {
			continue
		}
		if m.IsStash {
			rc.Stash += mc.Rating
		} else {
			rc.Rating += mc.Rating
		}
	}
	return rc, nil
}
