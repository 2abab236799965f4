package service

import (
	"go.uber.org/zap"
)

// Delta 施加到某节点缓存评分上的带符号差额。
// Node 为名册时 Stash 决定写入 stash_rating 还是 rating。
type Delta struct {
	Node   NodeRef
	Amount int
	Stash  bool
}

type rosterDelta struct {
	rating int
	stash  int
}

// propagate 把差额从起始节点逐级推到名册：行项 → 成员 → 名册，每个节点只写一次。
// 途经的节点写回后 dirty=false。遇到已脏的节点不在脏数据上叠加差额，
// 而是重算该节点子树并把 (重算值 - 原缓存值) 作为新的差额继续向上。
// 归档成员吸收差额，不再传给名册。
func (e *engine) propagate(u *unitOfWork, deltas ...Delta) error {
	var itemOrder, memberOrder, rosterOrder []string
	items := make(map[string]int)
	members := make(map[string]int)
	rosters := make(map[string]*rosterDelta)

	addMember := func(id string, amount int) {
		if _, ok := members[id]; !ok {
			memberOrder = append(memberOrder, id)
		}
		members[id] += amount
	}
	addRoster := func(id string, amount int, stash bool) {
		rd, ok := rosters[id]
		if !ok {
			rd = &rosterDelta{}
			rosters[id] = rd
			rosterOrder = append(rosterOrder, id)
		}
		if stash {
			rd.stash += amount
		} else {
			rd.rating += amount
		}
	}

	for _, d := range deltas {
		switch d.Node.Kind {
		case NodeLineItem:
			if _, ok := items[d.Node.ID]; !ok {
				itemOrder = append(itemOrder, d.Node.ID)
			}
			items[d.Node.ID] += d.Amount
		case NodeMember:
			addMember(d.Node.ID, d.Amount)
		case NodeRoster:
			addRoster(d.Node.ID, d.Amount, d.Stash)
		}
	}

	for _, id := range itemOrder {
		item, err := u.repos.LineItem.FindByID(u.ctx, id)
		if err != nil {
			return err
		}
		contribution := items[id]
		if item.Dirty {
			_, fresh, err := u.refreshItem(id, UpdaterPropagation)
			if err != nil {
				return err
			}
			contribution = fresh - item.RatingCurrent
			e.staleFallback(LineItemNode(id))
		} else if contribution != 0 {
			if err := u.writeItem(id, item.RatingCurrent+contribution, UpdaterPropagation); err != nil {
				return err
			}
			propagationsTotal.WithLabelValues("incremental").Inc()
		}
		addMember(item.MemberID, contribution)
	}

	for _, id := range memberOrder {
		m, err := u.repos.Member.FindByID(u.ctx, id)
		if err != nil {
			return err
		}
		contribution := members[id]
		if m.Dirty {
			_, mc, err := u.refreshMember(id, UpdaterPropagation)
			if err != nil {
				return err
			}
			contribution = mc.Rating - m.RatingCurrent
			e.staleFallback(MemberNode(id))
		} else if contribution != 0 {
			if err := u.writeMember(id, m.RatingCurrent+contribution, UpdaterPropagation); err != nil {
				return err
			}
			propagationsTotal.WithLabelValues("incremental").Inc()
		}
		if !m.IsActive() {
			continue
		}
		addRoster(m.RosterID, contribution, m.IsStash)
	}

	for _, id := range rosterOrder {
		r, err := u.repos.Roster.FindByID(u.ctx, id)
		if err != nil {
			return err
		}
		rd := rosters[id]
		if r.Dirty {
			if _, _, err := u.refreshRoster(id, UpdaterPropagation); err != nil {
				return err
			}
			e.staleFallback(RosterNode(id))
			continue
		}
		if rd.rating == 0 && rd.stash == 0 {
			continue
		}
		if err := u.writeRoster(id, r.RatingCurrent+rd.rating, r.StashRatingCurrent+rd.stash, UpdaterPropagation); err != nil {
			return err
		}
		propagationsTotal.WithLabelValues("incremental").Inc()
	}
	return nil
}

// staleFallback 祖先已脏，局部恢复，不向调用方报告
func (e *engine) staleFallback(node NodeRef) {
	propagationsTotal.WithLabelValues("fallback").Inc()
	e.logger.Warn("stale cache during propagation, recomputed subtree", zap.String("node", node.String()))
}
