package service

import (
	"context"
	"fmt"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
)

// Updater 写缓存列的路径。一次逻辑操作中每个节点只能由一种路径写入
type Updater int

const (
	UpdaterPropagation Updater = iota + 1
	UpdaterReconciler
	UpdaterRecompute
)

func (u Updater) String() string {
	switch u {
	case UpdaterPropagation:
		return "propagation"
	case UpdaterReconciler:
		return "reconciler"
	case UpdaterRecompute:
		return "recompute"
	}
	return fmt.Sprintf("updater(%d)", int(u))
}

// unitOfWork 一个事务内的逻辑操作
type unitOfWork struct {
	ctx      context.Context
	repos    *repository.Repositories
	resolver *pricing.Resolver
	claims   map[NodeRef]Updater
	touched  map[string]struct{}
	owners   map[string]*entity.Roster
}

func newUnit(ctx context.Context, tx *repository.Repositories) *unitOfWork {
	return &unitOfWork{
		ctx:      ctx,
		repos:    tx,
		resolver: pricing.NewResolver(pricing.Memoize(tx.Catalogue)),
		claims:   make(map[NodeRef]Updater),
		touched:  make(map[string]struct{}),
		owners:   make(map[string]*entity.Roster),
	}
}

func (u *unitOfWork) claim(node NodeRef, by Updater) error {
	if prev, ok := u.claims[node]; ok && prev != by {
		return fmt.Errorf("%w: %s written by %s, then %s", ErrUpdaterConflict, node, prev, by)
	}
	u.claims[node] = by
	return nil
}

func (u *unitOfWork) touch(rosterID string) {
	u.touched[rosterID] = struct{}{}
}

// owner 名册的派系与属性（用于定价上下文），一次操作内不变
func (u *unitOfWork) owner(rosterID string) (*entity.Roster, error) {
	if r, ok := u.owners[rosterID]; ok {
		return r, nil
	}
	r, err := u.repos.Roster.FindByID(u.ctx, rosterID)
	if err != nil {
		return nil, err
	}
	u.owners[rosterID] = r
	return r, nil
}

func (u *unitOfWork) writeItem(id string, rating int, by Updater) error {
	if err := u.claim(LineItemNode(id), by); err != nil {
		return err
	}
	return u.repos.LineItem.UpdateFacts(u.ctx, id, rating, false)
}

func (u *unitOfWork) writeMember(id string, rating int, by Updater) error {
	if err := u.claim(MemberNode(id), by); err != nil {
		return err
	}
	return u.repos.Member.UpdateFacts(u.ctx, id, rating, false)
}

func (u *unitOfWork) writeRoster(id string, rating, stash int, by Updater) error {
	if err := u.claim(RosterNode(id), by); err != nil {
		return err
	}
	u.touch(id)
	return u.repos.Roster.UpdateFacts(u.ctx, id, rating, stash, false)
}

// markDirty 只置脏，不计算差额
func (u *unitOfWork) markDirty(by Updater, items, members, rosters []string) error {
	for _, id := range items {
		if err := u.claim(LineItemNode(id), by); err != nil {
			return err
		}
	}
	for _, id := range members {
		if err := u.claim(MemberNode(id), by); err != nil {
			return err
		}
	}
	for _, id := range rosters {
		if err := u.claim(RosterNode(id), by); err != nil {
			return err
		}
		u.touch(id)
	}
	if err := u.repos.LineItem.MarkDirty(u.ctx, items); err != nil {
		return err
	}
	if err := u.repos.Member.MarkDirty(u.ctx, members); err != nil {
		return err
	}
	return u.repos.Roster.MarkDirty(u.ctx, rosters)
}
