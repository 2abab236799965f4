package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gyrinx-app/gyrinx-sub001/internal/config"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
	"go.uber.org/zap"
)

// TreeService 成本树变更。每个操作：结构变更 → 计算自身差额 → 交给传播引擎
type TreeService struct {
	*engine
}

func newID() string {
	return uuid.New().String()[:32]
}

// ========== Roster ==========

type CreateRosterInput struct {
	Name       string            `json:"name" binding:"required"`
	FactionID  string            `json:"faction_id" binding:"required"`
	Currency   int               `json:"currency"`
	Attributes map[string]string `json:"attributes"`
}

// CreateRoster 新建名册（含 stash 成员），创建与首次重算在同一事务内
func (s *TreeService) CreateRoster(ctx context.Context, ownerID string, input *CreateRosterInput) (*entity.Roster, error) {
	roster := &entity.Roster{
		ID:              newID(),
		Name:            input.Name,
		OwnerID:         ownerID,
		FactionID:       input.FactionID,
		Status:          entity.RosterStatusDraft,
		CurrencyCurrent: input.Currency,
		Dirty:           true,
	}
	for k, v := range input.Attributes {
		roster.Attributes = append(roster.Attributes, entity.RosterAttribute{ID: newID(), RosterID: roster.ID, Key: k, Value: v})
	}

	var u *unitOfWork
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Roster.Create(ctx, roster); err != nil {
			return err
		}
		u = newUnit(ctx, tx)
		stashType, err := tx.Catalogue.FindStashType(ctx)
		switch {
		case err == nil:
			stash := &entity.Member{
				ID:            newID(),
				RosterID:      roster.ID,
				Name:          "Stash",
				FighterTypeID: stashType.ID,
				IsStash:       true,
				SortOrder:     -1,
				Dirty:         true,
			}
			if err := tx.Member.Create(ctx, stash); err != nil {
				return err
			}
		case errors.Is(err, repository.ErrNotFound):
		default:
			return err
		}
		_, _, err = u.refreshRoster(roster.ID, UpdaterRecompute)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create roster: %w", err)
	}
	s.publish(ctx, u)
	return s.repos.Roster.FindByID(ctx, roster.ID)
}

// CommitRoster 草稿转为战役模式，之后的目录价格变动会记账并调整资金
func (s *TreeService) CommitRoster(ctx context.Context, rosterID string) error {
	return s.mutate(ctx, rosterID, func(u *unitOfWork) error {
		return u.repos.Roster.UpdateStatus(u.ctx, rosterID, entity.RosterStatusCommitted)
	})
}

func (s *TreeService) ArchiveRoster(ctx context.Context, rosterID string) error {
	return s.mutate(ctx, rosterID, func(u *unitOfWork) error {
		return u.repos.Roster.Archive(u.ctx, rosterID, time.Now())
	})
}

func (s *TreeService) ListRosters(ctx context.Context, ownerID string) ([]entity.Roster, error) {
	return s.repos.Roster.ListByOwner(ctx, ownerID)
}

func (s *TreeService) GetRosterTree(ctx context.Context, rosterID string) (*entity.Roster, error) {
	return s.repos.Roster.LoadTree(ctx, rosterID)
}

// OwnerOf 节点所属名册的所有者，接口鉴权使用
func (s *TreeService) OwnerOf(ctx context.Context, node NodeRef) (string, error) {
	rosterID, err := rosterOf(ctx, s.repos, node)
	if err != nil {
		return "", err
	}
	r, err := s.repos.Roster.FindByID(ctx, rosterID)
	if err != nil {
		return "", err
	}
	return r.OwnerID, nil
}

// AdvancementOwner 晋升记录所属名册的所有者
func (s *TreeService) AdvancementOwner(ctx context.Context, advancementID string) (string, error) {
	adv, err := s.repos.Member.FindAdvancement(ctx, advancementID)
	if err != nil {
		return "", err
	}
	return s.OwnerOf(ctx, MemberNode(adv.MemberID))
}

func activeRoster(u *unitOfWork, rosterID string) (*entity.Roster, error) {
	r, err := u.owner(rosterID)
	if err != nil {
		return nil, err
	}
	if r.ArchivedAt != nil {
		return nil, ErrRosterArchived
	}
	return r, nil
}

// ========== Member ==========

type CreateMemberInput struct {
	Name          string `json:"name" binding:"required"`
	FighterTypeID string `json:"fighter_type_id" binding:"required"`
	CostOverride  *int   `json:"cost_override"`
	SortOrder     int    `json:"sort_order"`
}

// CreateMember 新建成员及其原型默认装备（零成本），重算后把成员评分推到名册
func (s *TreeService) CreateMember(ctx context.Context, rosterID string, input *CreateMemberInput) (*entity.Member, error) {
	var memberID string
	err := s.mutate(ctx, rosterID, func(u *unitOfWork) error {
		if _, err := activeRoster(u, rosterID); err != nil {
			return err
		}
		m, err := s.spawnMember(u, rosterID, input.FighterTypeID, input.Name, input.CostOverride, nil, input.SortOrder)
		if err != nil {
			return err
		}
		memberID = m.ID
		_, mc, err := u.refreshMember(m.ID, UpdaterRecompute)
		if err != nil {
			return err
		}
		return s.propagate(u, Delta{Node: RosterNode(rosterID), Amount: mc.Rating})
	})
	if err != nil {
		return nil, fmt.Errorf("create member: %w", err)
	}
	return s.repos.Member.FindByID(ctx, memberID)
}

// spawnMember 写入成员与默认装备行项（均为 dirty），不计算
func (s *TreeService) spawnMember(u *unitOfWork, rosterID, fighterTypeID, name string, costOverride *int, spawnedBy *string, sortOrder int) (*entity.Member, error) {
	ft, err := u.repos.Catalogue.FindFighterType(u.ctx, fighterTypeID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: fighter:%s", ErrDanglingReference, fighterTypeID)
	}
	if err != nil {
		return nil, err
	}
	if ft.IsStash {
		return nil, fmt.Errorf("%w: stash archetype cannot be added as a member", ErrInvalidInput)
	}
	if name == "" {
		name = ft.Name
	}
	m := &entity.Member{
		ID:              newID(),
		RosterID:        rosterID,
		Name:            name,
		FighterTypeID:   ft.ID,
		SortOrder:       sortOrder,
		CostOverride:    costOverride,
		SpawnedByItemID: spawnedBy,
		Dirty:           true,
	}
	if err := u.repos.Member.Create(u.ctx, m); err != nil {
		return nil, err
	}
	for _, d := range ft.Defaults {
		item := &entity.LineItem{
			ID:          newID(),
			MemberID:    m.ID,
			EquipmentID: d.EquipmentID,
			SortOrder:   d.SortOrder,
			FromDefault: true,
			Dirty:       true,
		}
		if err := u.repos.LineItem.Create(u.ctx, item); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *TreeService) lockMember(u *unitOfWork, memberID string) (*entity.Member, error) {
	m, err := u.repos.Member.Lock(u.ctx, memberID)
	if err != nil {
		return nil, err
	}
	if _, err := activeRoster(u, m.RosterID); err != nil {
		return nil, err
	}
	return m, nil
}

// withMember 先定位成员所属名册，再在名册锁内锁成员
func (s *TreeService) withMember(ctx context.Context, memberID string, fn func(u *unitOfWork, m *entity.Member) error) error {
	m, err := s.repos.Member.FindByID(ctx, memberID)
	if err != nil {
		return err
	}
	return s.mutate(ctx, m.RosterID, func(u *unitOfWork) error {
		locked, err := s.lockMember(u, memberID)
		if err != nil {
			return err
		}
		return fn(u, locked)
	})
}

func (s *TreeService) withItem(ctx context.Context, itemID string, fn func(u *unitOfWork, m *entity.Member, item *entity.LineItem) error) error {
	item, err := s.repos.LineItem.FindByID(ctx, itemID)
	if err != nil {
		return err
	}
	return s.withMember(ctx, item.MemberID, func(u *unitOfWork, m *entity.Member) error {
		fresh, err := u.repos.LineItem.FindByID(u.ctx, itemID)
		if err != nil {
			return err
		}
		return fn(u, m, fresh)
	})
}

// ArchiveMember 归档成员，名册减去其评分
func (s *TreeService) ArchiveMember(ctx context.Context, memberID string) error {
	err := s.withMember(ctx, memberID, func(u *unitOfWork, m *entity.Member) error {
		if !m.IsActive() {
			return nil
		}
		if m.IsStash {
			return fmt.Errorf("%w: stash cannot be archived", ErrInvalidInput)
		}
		now := time.Now()
		m.ArchivedAt = &now
		if err := u.repos.Member.Update(u.ctx, m); err != nil {
			return err
		}
		// 成员已脏时名册必然也脏，传播会改为重算名册
		return s.propagate(u, Delta{Node: RosterNode(m.RosterID), Amount: -m.RatingCurrent})
	})
	if err != nil {
		return fmt.Errorf("archive member: %w", err)
	}
	return nil
}

// RestoreMember 恢复成员，名册加上其评分（成员缓存已脏时先修复）
func (s *TreeService) RestoreMember(ctx context.Context, memberID string) error {
	err := s.withMember(ctx, memberID, func(u *unitOfWork, m *entity.Member) error {
		if m.IsActive() {
			return nil
		}
		m.ArchivedAt = nil
		if err := u.repos.Member.Update(u.ctx, m); err != nil {
			return err
		}
		rating := m.RatingCurrent
		if m.Dirty {
			_, mc, err := u.refreshMember(m.ID, UpdaterPropagation)
			if err != nil {
				return err
			}
			rating = mc.Rating
		}
		return s.propagate(u, Delta{Node: RosterNode(m.RosterID), Amount: rating})
	})
	if err != nil {
		return fmt.Errorf("restore member: %w", err)
	}
	return nil
}

// ========== Line item ==========

type AttachLineItemInput struct {
	EquipmentID       string   `json:"equipment_id" binding:"required"`
	ProfileIDs        []string `json:"profile_ids"`
	AccessoryIDs      []string `json:"accessory_ids"`
	UpgradeIDs        []string `json:"upgrade_ids"`
	CostOverride      *int     `json:"cost_override"`
	TotalCostOverride *int     `json:"total_cost_override"`
	SortOrder         int      `json:"sort_order"`
}

// AttachLineItem 挂载装备：创建行项、捆绑子项（零成本）与派生成员，
// 各自重算后把差额交给传播引擎
func (s *TreeService) AttachLineItem(ctx context.Context, memberID string, input *AttachLineItemInput) (*entity.LineItem, error) {
	var itemID string
	err := s.withMember(ctx, memberID, func(u *unitOfWork, m *entity.Member) error {
		eq, err := u.repos.Catalogue.FindEquipment(u.ctx, input.EquipmentID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: equipment:%s", ErrDanglingReference, input.EquipmentID)
		}
		if err != nil {
			return err
		}
		if eq.SpawnsFighterTypeID != nil && m.IsLinked() {
			return fmt.Errorf("%w: %s spawns a fighter but %s was itself spawned", ErrLinkDepthExceeded, eq.ID, m.ID)
		}
		linked := make([]*entity.Equipment, 0, len(eq.Links))
		for _, l := range eq.Links {
			child, err := u.repos.Catalogue.FindEquipment(u.ctx, l.LinkedEquipmentID)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: equipment:%s", ErrDanglingReference, l.LinkedEquipmentID)
			}
			if err != nil {
				return err
			}
			if len(child.Links) > 0 || child.SpawnsFighterTypeID != nil {
				return fmt.Errorf("%w: linked equipment %s has its own links", ErrLinkDepthExceeded, child.ID)
			}
			linked = append(linked, child)
		}

		item := &entity.LineItem{
			ID:                newID(),
			MemberID:          m.ID,
			EquipmentID:       eq.ID,
			SortOrder:         input.SortOrder,
			CostOverride:      input.CostOverride,
			TotalCostOverride: input.TotalCostOverride,
			Dirty:             true,
		}
		if err := composeItem(item, eq, input.ProfileIDs, input.AccessoryIDs, input.UpgradeIDs); err != nil {
			return err
		}
		if err := s.checkAccessories(u, input.AccessoryIDs); err != nil {
			return err
		}
		if err := u.repos.LineItem.Create(u.ctx, item); err != nil {
			return err
		}
		itemID = item.ID
		for _, child := range linked {
			parent := item.ID
			li := &entity.LineItem{
				ID:             newID(),
				MemberID:       m.ID,
				EquipmentID:    child.ID,
				SortOrder:      input.SortOrder,
				LinkedParentID: &parent,
				Dirty:          true,
			}
			if err := u.repos.LineItem.Create(u.ctx, li); err != nil {
				return err
			}
			if _, _, err := u.refreshItem(li.ID, UpdaterRecompute); err != nil {
				return err
			}
		}

		_, cost, err := u.refreshItem(item.ID, UpdaterRecompute)
		if err != nil {
			return err
		}
		deltas := []Delta{{Node: MemberNode(m.ID), Amount: cost}}

		if eq.SpawnsFighterTypeID != nil {
			spawnedBy := item.ID
			child, err := s.spawnMember(u, m.RosterID, *eq.SpawnsFighterTypeID, "", nil, &spawnedBy, m.SortOrder)
			if err != nil {
				return err
			}
			_, mc, err := u.refreshMember(child.ID, UpdaterRecompute)
			if err != nil {
				return err
			}
			deltas = append(deltas, Delta{Node: RosterNode(m.RosterID), Amount: mc.Rating})
		}
		return s.propagate(u, deltas...)
	})
	if err != nil {
		return nil, fmt.Errorf("attach line item: %w", err)
	}
	return s.repos.LineItem.FindByID(ctx, itemID)
}

// composeItem 校验选配属于该装备并写入 item
func composeItem(item *entity.LineItem, eq *entity.Equipment, profileIDs, accessoryIDs, upgradeIDs []string) error {
	profiles := make(map[string]bool, len(eq.Profiles))
	for _, p := range eq.Profiles {
		profiles[p.ID] = true
	}
	upgrades := make(map[string]bool, len(eq.Upgrades))
	for _, up := range eq.Upgrades {
		upgrades[up.ID] = true
	}

	item.Profiles = nil
	item.Accessories = nil
	item.Upgrades = nil
	for _, id := range profileIDs {
		if !profiles[id] {
			return fmt.Errorf("%w: profile %s does not belong to %s", ErrInvalidInput, id, eq.ID)
		}
		item.Profiles = append(item.Profiles, entity.LineItemProfile{ID: newID(), LineItemID: item.ID, ProfileID: id})
	}
	for _, id := range accessoryIDs {
		item.Accessories = append(item.Accessories, entity.LineItemAccessory{ID: newID(), LineItemID: item.ID, AccessoryID: id})
	}
	for _, id := range upgradeIDs {
		if !upgrades[id] {
			return fmt.Errorf("%w: upgrade %s does not belong to %s", ErrInvalidInput, id, eq.ID)
		}
		item.Upgrades = append(item.Upgrades, entity.LineItemUpgrade{ID: newID(), LineItemID: item.ID, UpgradeID: id})
	}
	return nil
}

func (s *TreeService) checkAccessories(u *unitOfWork, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := u.repos.Catalogue.FindAccessories(u.ctx, ids)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(found))
	for _, a := range found {
		have[a.ID] = true
	}
	for _, id := range ids {
		if !have[id] {
			return fmt.Errorf("%w: accessory:%s", ErrDanglingReference, id)
		}
	}
	return nil
}

// DetachLineItem 卸下装备：删除行项、捆绑子项与派生成员，减去其缓存评分
func (s *TreeService) DetachLineItem(ctx context.Context, itemID string) error {
	err := s.withItem(ctx, itemID, func(u *unitOfWork, m *entity.Member, item *entity.LineItem) error {
		children, err := u.repos.LineItem.ListLinkedChildren(u.ctx, item.ID)
		if err != nil {
			return err
		}
		spawned, err := u.repos.Member.ListSpawnedBy(u.ctx, item.ID)
		if err != nil {
			return err
		}

		removed := item.RatingCurrent
		for _, c := range children {
			removed += c.RatingCurrent
			if err := u.repos.LineItem.Delete(u.ctx, c.ID); err != nil {
				return err
			}
		}
		if err := u.repos.LineItem.Delete(u.ctx, item.ID); err != nil {
			return err
		}
		deltas := []Delta{{Node: MemberNode(m.ID), Amount: -removed}}

		spawnedRating := 0
		for _, sm := range spawned {
			if sm.IsActive() {
				spawnedRating += sm.RatingCurrent
			}
			if err := u.repos.Member.Delete(u.ctx, sm.ID); err != nil {
				return err
			}
		}
		if spawnedRating != 0 {
			deltas = append(deltas, Delta{Node: RosterNode(m.RosterID), Amount: -spawnedRating})
		}
		return s.propagate(u, deltas...)
	})
	if err != nil {
		return fmt.Errorf("detach line item: %w", err)
	}
	return nil
}

type CompositionInput struct {
	ProfileIDs   []string `json:"profile_ids"`
	AccessoryIDs []string `json:"accessory_ids"`
	UpgradeIDs   []string `json:"upgrade_ids"`
}

// UpdateComposition 替换行项的副模式、配件与升级
func (s *TreeService) UpdateComposition(ctx context.Context, itemID string, input *CompositionInput) error {
	err := s.withItem(ctx, itemID, func(u *unitOfWork, m *entity.Member, item *entity.LineItem) error {
		if item.Equipment == nil {
			return fmt.Errorf("%w: equipment:%s", ErrDanglingReference, item.EquipmentID)
		}
		eq, err := u.repos.Catalogue.FindEquipment(u.ctx, item.EquipmentID)
		if err != nil {
			return err
		}
		if err := composeItem(item, eq, input.ProfileIDs, input.AccessoryIDs, input.UpgradeIDs); err != nil {
			return err
		}
		if err := s.checkAccessories(u, input.AccessoryIDs); err != nil {
			return err
		}
		if err := u.repos.LineItem.ReplaceComposition(u.ctx, item.ID, item.Profiles, item.Accessories, item.Upgrades); err != nil {
			return err
		}
		return s.propagateItemChange(u, item.ID)
	})
	if err != nil {
		return fmt.Errorf("update composition: %w", err)
	}
	return nil
}

// propagateItemChange 按新结构计算行项成本，差额 = 新成本 - 缓存值
func (s *TreeService) propagateItemChange(u *unitOfWork, itemID string) error {
	item, cost, err := computeItem(u.ctx, u.repos, u.resolver, itemID)
	if err != nil {
		return err
	}
	return s.propagate(u, Delta{Node: LineItemNode(itemID), Amount: cost - item.RatingCurrent})
}

// ========== Override ==========

// 覆盖字段
const (
	OverrideCost      = "cost"       // 行项基础价手填 / 成员基础成本手填
	OverrideTotalCost = "total_cost" // 行项总价手填
)

type SetOverrideInput struct {
	Target NodeRef `json:"target" binding:"required"`
	Field  string  `json:"field" binding:"required,oneof=cost total_cost"`
	Value  *int    `json:"value"` // nil 清除覆盖
}

// SetOverride 设置或清除手填价格
func (s *TreeService) SetOverride(ctx context.Context, input *SetOverrideInput) error {
	var err error
	switch input.Target.Kind {
	case NodeLineItem:
		err = s.withItem(ctx, input.Target.ID, func(u *unitOfWork, _ *entity.Member, item *entity.LineItem) error {
			switch input.Field {
			case OverrideCost:
				item.CostOverride = input.Value
			case OverrideTotalCost:
				item.TotalCostOverride = input.Value
			default:
				return fmt.Errorf("%w: field %q", ErrInvalidInput, input.Field)
			}
			if err := u.repos.LineItem.Update(u.ctx, item); err != nil {
				return err
			}
			return s.propagateItemChange(u, item.ID)
		})
	case NodeMember:
		if input.Field != OverrideCost {
			return fmt.Errorf("set override: %w: member supports only %q", ErrInvalidInput, OverrideCost)
		}
		err = s.withMember(ctx, input.Target.ID, func(u *unitOfWork, m *entity.Member) error {
			r, err := u.owner(m.RosterID)
			if err != nil {
				return err
			}
			withType, err := u.repos.Member.FindByID(u.ctx, m.ID)
			if err != nil {
				return err
			}
			calc := calculator{res: u.resolver}
			oc := ownerContext(r, withType)
			before, err := calc.memberBase(u.ctx, withType, oc)
			if err != nil {
				return err
			}
			m.CostOverride = input.Value
			withType.CostOverride = input.Value
			if err := u.repos.Member.Update(u.ctx, m); err != nil {
				return err
			}
			after, err := calc.memberBase(u.ctx, withType, oc)
			if err != nil {
				return err
			}
			return s.propagate(u, Delta{Node: MemberNode(m.ID), Amount: after - before})
		})
	default:
		return fmt.Errorf("set override: %w: target kind %q", ErrInvalidInput, input.Target.Kind)
	}
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	return nil
}

// ========== Advancement ==========

type AdvancementInput struct {
	Name         string `json:"name" binding:"required"`
	XPCost       int    `json:"xp_cost" binding:"min=0"`
	CostIncrease int    `json:"cost_increase"`
}

// ApplyAdvancement 购买晋升：扣除经验，成员评分增加 CostIncrease，写账本
func (s *TreeService) ApplyAdvancement(ctx context.Context, memberID string, input *AdvancementInput) (*entity.Advancement, error) {
	var adv *entity.Advancement
	err := s.withMember(ctx, memberID, func(u *unitOfWork, m *entity.Member) error {
		if m.XP < input.XPCost {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientXP, m.XP, input.XPCost)
		}
		adv = &entity.Advancement{
			ID:           newID(),
			MemberID:     m.ID,
			Name:         input.Name,
			XPCost:       input.XPCost,
			CostIncrease: input.CostIncrease,
		}
		if err := u.repos.Member.CreateAdvancement(u.ctx, adv); err != nil {
			return err
		}
		m.XP -= input.XPCost
		if err := u.repos.Member.Update(u.ctx, m); err != nil {
			return err
		}
		if _, err := u.repos.Ledger.Append(u.ctx, &entity.LedgerEntry{
			ID:          newID(),
			RosterID:    m.RosterID,
			Kind:        entity.LedgerKindAdvancement,
			ChangeID:    adv.ID,
			ItemRef:     m.ID,
			RatingDelta: input.CostIncrease,
			XPDelta:     -input.XPCost,
			Note:        input.Name,
		}); err != nil {
			return err
		}
		return s.propagate(u, Delta{Node: MemberNode(m.ID), Amount: input.CostIncrease})
	})
	if err != nil {
		return nil, fmt.Errorf("apply advancement: %w", err)
	}
	return adv, nil
}

// ReverseAdvancement 撤销晋升：返还经验，成员评分减少
func (s *TreeService) ReverseAdvancement(ctx context.Context, advancementID string) error {
	adv, err := s.repos.Member.FindAdvancement(ctx, advancementID)
	if err != nil {
		return fmt.Errorf("reverse advancement: %w", err)
	}
	err = s.withMember(ctx, adv.MemberID, func(u *unitOfWork, m *entity.Member) error {
		fresh, err := u.repos.Member.FindAdvancement(u.ctx, advancementID)
		if err != nil {
			return err
		}
		if fresh.ReversedAt != nil {
			return nil
		}
		now := time.Now()
		fresh.ReversedAt = &now
		if err := u.repos.Member.UpdateAdvancement(u.ctx, fresh); err != nil {
			return err
		}
		m.XP += fresh.XPCost
		if err := u.repos.Member.Update(u.ctx, m); err != nil {
			return err
		}
		if _, err := u.repos.Ledger.Append(u.ctx, &entity.LedgerEntry{
			ID:          newID(),
			RosterID:    m.RosterID,
			Kind:        entity.LedgerKindAdvancementReversal,
			ChangeID:    fresh.ID,
			ItemRef:     m.ID,
			RatingDelta: -fresh.CostIncrease,
			XPDelta:     fresh.XPCost,
			Note:        fresh.Name,
		}); err != nil {
			return err
		}
		return s.propagate(u, Delta{Node: MemberNode(m.ID), Amount: -fresh.CostIncrease})
	})
	if err != nil {
		return fmt.Errorf("reverse advancement: %w", err)
	}
	return nil
}

// GrantXP 战役结算后增加经验（不影响评分）
func (s *TreeService) GrantXP(ctx context.Context, memberID string, xp int) error {
	return s.withMember(ctx, memberID, func(u *unitOfWork, m *entity.Member) error {
		if xp < 0 && m.XP+xp < 0 {
			return fmt.Errorf("%w: have %d", ErrInsufficientXP, m.XP)
		}
		m.XP += xp
		return u.repos.Member.Update(u.ctx, m)
	})
}

// ========== Currency ==========

type AdjustCurrencyInput struct {
	Amount int    `json:"amount" binding:"required"`
	Note   string `json:"note"`
}

// AdjustCurrency 用户发起的资金变动。除 allow 策略外，余额不足一律拒绝
func (s *TreeService) AdjustCurrency(ctx context.Context, rosterID string, input *AdjustCurrencyInput) (int, error) {
	var balance int
	err := s.mutate(ctx, rosterID, func(u *unitOfWork) error {
		r, err := u.repos.Roster.FindByID(u.ctx, rosterID)
		if err != nil {
			return err
		}
		if r.ArchivedAt != nil {
			return ErrRosterArchived
		}
		next := r.CurrencyCurrent + input.Amount
		if next < 0 && input.Amount < 0 && s.cfg.NegativeBalancePolicy != config.BalancePolicyAllow {
			return fmt.Errorf("%w: balance %d, adjustment %d", ErrNegativeBalanceRejected, r.CurrencyCurrent, input.Amount)
		}
		if _, err := u.repos.Ledger.Append(u.ctx, &entity.LedgerEntry{
			ID:            newID(),
			RosterID:      rosterID,
			Kind:          entity.LedgerKindCurrency,
			ChangeID:      uuid.New().String(),
			CurrencyDelta: input.Amount,
			Note:          input.Note,
		}); err != nil {
			return err
		}
		balance = next
		return u.repos.Roster.UpdateCurrency(u.ctx, rosterID, next)
	})
	if err != nil {
		s.logger.Debug("adjust currency failed", zap.String("roster_id", rosterID), zap.Error(err))
		return 0, fmt.Errorf("adjust currency: %w", err)
	}
	return balance, nil
}
