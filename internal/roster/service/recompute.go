package service

import (
	"context"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
)

// 全量重算：从实时成本树自底向上计算。
// compute* 只读；refresh* 在 unitOfWork 内把结果写回，
// 仅写入已脏或数值有变化的节点。

func computeItem(ctx context.Context, repos *repository.Repositories, res *pricing.Resolver, itemID string) (*entity.LineItem, int, error) {
	item, err := repos.LineItem.FindByID(ctx, itemID)
	if err != nil {
		return nil, 0, err
	}
	m, err := repos.Member.FindByID(ctx, item.MemberID)
	if err != nil {
		return nil, 0, err
	}
	r, err := repos.Roster.FindByID(ctx, m.RosterID)
	if err != nil {
		return nil, 0, err
	}
	cost, err := calculator{res: res}.itemCost(ctx, item, ownerContext(r, m))
	if err != nil {
		return nil, 0, err
	}
	return item, cost, nil
}

func computeMember(ctx context.Context, repos *repository.Repositories, res *pricing.Resolver, memberID string) (*entity.Member, memberCost, error) {
	m, err := repos.Member.LoadSubtree(ctx, memberID)
	if err != nil {
		return nil, memberCost{}, err
	}
	r, err := repos.Roster.FindByID(ctx, m.RosterID)
	if err != nil {
		return nil, memberCost{}, err
	}
	mc, err := calculator{res: res}.member(ctx, r, m)
	if err != nil {
		return nil, memberCost{}, err
	}
	return m, mc, nil
}

func computeRoster(ctx context.Context, repos *repository.Repositories, res *pricing.Resolver, rosterID string) (*entity.Roster, rosterCost, error) {
	r, err := repos.Roster.LoadTree(ctx, rosterID)
	if err != nil {
		return nil, rosterCost{}, err
	}
	rc, err := calculator{res: res}.roster(ctx, r)
	if err != nil {
		return nil, rosterCost{}, err
	}
	return r, rc, nil
}

func (u *unitOfWork) refreshItem(itemID string, by Updater) (*entity.LineItem, int, error) {
	item, cost, err := computeItem(u.ctx, u.repos, u.resolver, itemID)
	if err != nil {
		return nil, 0, err
	}
	countRecompute(NodeLineItem, true)
	if item.Dirty || cost != item.RatingCurrent {
		if err := u.writeItem(item.ID, cost, by); err != nil {
			return nil, 0, err
		}
	}
	return item, cost, nil
}

func (u *unitOfWork) persistMember(m *entity.Member, mc memberCost, by Updater) error {
	for i := range m.LineItems {
		item := &m.LineItems[i]
		cost := mc.Items[item.ID]
		if item.Dirty || cost != item.RatingCurrent {
			if err := u.writeItem(item.ID, cost, by); err != nil {
				return err
			}
		}
	}
	if m.Dirty || mc.Rating != m.RatingCurrent {
		return u.writeMember(m.ID, mc.Rating, by)
	}
	return nil
}

func (u *unitOfWork) refreshMember(memberID string, by Updater) (*entity.Member, memberCost, error) {
	m, mc, err := computeMember(u.ctx, u.repos, u.resolver, memberID)
	if err != nil {
		return nil, memberCost{}, err
	}
	countRecompute(NodeMember, true)
	if err := u.persistMember(m, mc, by); err != nil {
		return nil, memberCost{}, err
	}
	return m, mc, nil
}

func (u *unitOfWork) refreshRoster(rosterID string, by Updater) (*entity.Roster, rosterCost, error) {
	r, rc, err := computeRoster(u.ctx, u.repos, u.resolver, rosterID)
	if err != nil {
		return nil, rosterCost{}, err
	}
	countRecompute(NodeRoster, true)
	for i := range r.Members {
		m := &r.Members[i]
		if err := u.persistMember(m, rc.Members[m.ID], by); err != nil {
			return nil, rosterCost{}, err
		}
	}
	if r.Dirty || rc.Rating != r.RatingCurrent || rc.Stash != r.StashRatingCurrent {
		if err := u.writeRoster(r.ID, rc.Rating, rc.Stash, by); err != nil {
			return nil, rosterCost{}, err
		}
	}
	return r, rc, nil
}
