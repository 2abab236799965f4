package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"go.uber.org/zap"
)

// FactsService 缓存读取与全量重算
type FactsService struct {
	*engine
	reconciler *Reconciler
}

// Facts O(1) 读取缓存；节点已脏时返回 ErrFactsUnavailable，从不计算
func (s *FactsService) Facts(ctx context.Context, node NodeRef) (Facts, error) {
	f, err := s.cached(ctx, node)
	if err != nil {
		return Facts{}, err
	}
	if f.Dirty {
		factsReadsTotal.WithLabelValues("unavailable").Inc()
		return f, ErrFactsUnavailable
	}
	factsReadsTotal.WithLabelValues("hit").Inc()
	return f, nil
}

func (s *FactsService) cached(ctx context.Context, node NodeRef) (Facts, error) {
	switch node.Kind {
	case NodeRoster:
		r, err := s.repos.Roster.FindByID(ctx, node.ID)
		if err != nil {
			return Facts{}, err
		}
		return Facts{Rating: r.RatingCurrent, StashRating: r.StashRatingCurrent, Currency: r.CurrencyCurrent, Dirty: r.Dirty}, nil
	case NodeMember:
		m, err := s.repos.Member.FindByID(ctx, node.ID)
		if err != nil {
			return Facts{}, err
		}
		return Facts{Rating: m.RatingCurrent, Dirty: m.Dirty}, nil
	case NodeLineItem:
		item, err := s.repos.LineItem.FindByID(ctx, node.ID)
		if err != nil {
			return Facts{}, err
		}
		return Facts{Rating: item.RatingCurrent, Dirty: item.Dirty}, nil
	}
	return Facts{}, fmt.Errorf("%w: node kind %q", ErrInvalidInput, node.Kind)
}

// Recompute 全量重算。persist=true 时在名册锁内写回缓存并清除 dirty；
// 行项/成员的值若有变化，其祖先被置脏（不做增量传播）。总是返回新计算的值。
func (s *FactsService) Recompute(ctx context.Context, node NodeRef, persist bool) (Facts, error) {
	if !persist {
		return s.compute(ctx, node)
	}
	rosterID, err := rosterOf(ctx, s.repos, node)
	if err != nil {
		return Facts{}, err
	}
	var out Facts
	err = s.mutate(ctx, rosterID, func(u *unitOfWork) error {
		switch node.Kind {
		case NodeRoster:
			r, rc, err := u.refreshRoster(node.ID, UpdaterRecompute)
			if err != nil {
				return err
			}
			out = Facts{Rating: rc.Rating, StashRating: rc.Stash, Currency: r.CurrencyCurrent}
		case NodeMember:
			m, mc, err := u.refreshMember(node.ID, UpdaterRecompute)
			if err != nil {
				return err
			}
			out = Facts{Rating: mc.Rating}
			if mc.Rating != m.RatingCurrent {
				return u.markDirty(UpdaterRecompute, nil, nil, []string{m.RosterID})
			}
		case NodeLineItem:
			item, cost, err := u.refreshItem(node.ID, UpdaterRecompute)
			if err != nil {
				return err
			}
			out = Facts{Rating: cost}
			if cost != item.RatingCurrent {
				return u.markDirty(UpdaterRecompute, nil, []string{item.MemberID}, []string{rosterID})
			}
		}
		return nil
	})
	if err != nil {
		return Facts{}, fmt.Errorf("recompute %s: %w", node, err)
	}
	return out, nil
}

// compute 只读重算，不加锁不写入
func (s *FactsService) compute(ctx context.Context, node NodeRef) (Facts, error) {
	res := pricing.NewResolver(pricing.Memoize(s.repos.Catalogue))
	countRecompute(node.Kind, false)
	switch node.Kind {
	case NodeRoster:
		r, rc, err := computeRoster(ctx, s.repos, res, node.ID)
		if err != nil {
			return Facts{}, err
		}
		return Facts{Rating: rc.Rating, StashRating: rc.Stash, Currency: r.CurrencyCurrent}, nil
	case NodeMember:
		_, mc, err := computeMember(ctx, s.repos, res, node.ID)
		if err != nil {
			return Facts{}, err
		}
		return Facts{Rating: mc.Rating}, nil
	case NodeLineItem:
		_, cost, err := computeItem(ctx, s.repos, res, node.ID)
		if err != nil {
			return Facts{}, err
		}
		return Facts{Rating: cost}, nil
	}
	return Facts{}, fmt.Errorf("%w: node kind %q", ErrInvalidInput, node.Kind)
}

// ReadOrRecompute 缓存可用则返回缓存，否则只读重算；从不写入
func (s *FactsService) ReadOrRecompute(ctx context.Context, node NodeRef) (Facts, string, error) {
	f, err := s.Facts(ctx, node)
	if err == nil {
		return f, "cache", nil
	}
	if !errors.Is(err, ErrFactsUnavailable) {
		return Facts{}, "", err
	}
	factsReadsTotal.WithLabelValues("fallback").Inc()
	fresh, err := s.compute(ctx, node)
	if err != nil {
		return Facts{}, "", err
	}
	return fresh, "recompute", nil
}

func (s *FactsService) rating(ctx context.Context, node NodeRef, allowFallback bool) (*RatingView, error) {
	if allowFallback {
		f, source, err := s.ReadOrRecompute(ctx, node)
		if err != nil {
			return nil, err
		}
		return viewOf(node.ID, f, source), nil
	}
	f, err := s.Facts(ctx, node)
	if errors.Is(err, ErrFactsUnavailable) {
		return &RatingView{ID: node.ID, Recalculating: true, Source: "cache"}, nil
	}
	if err != nil {
		return nil, err
	}
	return viewOf(node.ID, f, "cache"), nil
}

// GetRosterRating {rating, stash_rating, currency, wealth}
func (s *FactsService) GetRosterRating(ctx context.Context, rosterID string, allowFallback bool) (*RatingView, error) {
	return s.rating(ctx, RosterNode(rosterID), allowFallback)
}

func (s *FactsService) GetMemberRating(ctx context.Context, memberID string, allowFallback bool) (*RatingView, error) {
	return s.rating(ctx, MemberNode(memberID), allowFallback)
}

func (s *FactsService) GetLineItemRating(ctx context.Context, itemID string, allowFallback bool) (*RatingView, error) {
	return s.rating(ctx, LineItemNode(itemID), allowFallback)
}

// WarmRosters 批量重算并写回脏名册，供列表页在读取前预热
func (s *FactsService) WarmRosters(ctx context.Context, ids []string) (int, error) {
	warmed := 0
	for _, id := range ids {
		var did bool
		err := s.mutate(ctx, id, func(u *unitOfWork) error {
			r, err := u.repos.Roster.FindByID(u.ctx, id)
			if err != nil {
				return err
			}
			if !r.Dirty {
				return nil
			}
			did = true
			_, _, err = u.refreshRoster(id, UpdaterRecompute)
			return err
		})
		if err != nil {
			return warmed, fmt.Errorf("warm roster %s: %w", id, err)
		}
		if did {
			warmed++
		}
	}
	return warmed, nil
}

// RepairDirty 先继续遗留的待结算记录（记账并调整资金），再修复最多 limit 个脏名册。
// 仍有待结算记录的名册不重算，避免评分领先于资金。单个失败记录日志后继续
func (s *FactsService) RepairDirty(ctx context.Context, limit int) (int, error) {
	repaired := 0
	outs, err := s.reconciler.ResumePending(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, o := range outs {
		if o.Outcome != OutcomeFailed {
			repaired++
		}
	}

	ids, err := s.repos.Roster.ListDirty(ctx, limit)
	if err != nil {
		return repaired, fmt.Errorf("list dirty rosters: %w", err)
	}
	for _, id := range ids {
		pending, err := s.repos.Settlement.CountByRoster(ctx, id)
		if err != nil {
			return repaired, fmt.Errorf("count pending settlements: %w", err)
		}
		if pending > 0 {
			continue
		}
		n, err := s.WarmRosters(ctx, []string{id})
		if err != nil {
			s.logger.Warn("repair dirty roster failed", zap.String("roster_id", id), zap.Error(err))
			continue
		}
		repaired += n
	}
	if repaired > 0 {
		s.logger.Info("repaired dirty rosters", zap.Int("count", repaired))
	}
	return repaired, nil
}
