package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gyrinx-app/gyrinx-sub001/internal/config"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PriceChange 一次目录价格编辑。OverrideID 为空表示模板默认价变动；
// OverrideAdded 表示新建覆盖，旧价为覆盖不存在时的解析结果
type PriceChange struct {
	ID            string      `json:"id"`
	Target        pricing.Ref `json:"target"`
	OverrideID    string      `json:"override_id,omitempty"`
	OverrideAdded bool        `json:"override_added,omitempty"`
	OldPrice      int         `json:"old_price"`
	NewPrice      int         `json:"new_price"`
}

// before 变动前的目录视图
func (c PriceChange) before(cat pricing.Catalogue) pricing.Catalogue {
	return pricing.Overlay(cat, pricing.Substitution{
		Target:     c.Target,
		OverrideID: c.OverrideID,
		Price:      c.OldPrice,
		Hide:       c.OverrideAdded,
	})
}

// after 变动刚生效时的目录视图，之后对同一记录的编辑由各自的变动结算
func (c PriceChange) after(cat pricing.Catalogue) pricing.Catalogue {
	return pricing.Overlay(cat, pricing.Substitution{
		Target:     c.Target,
		OverrideID: c.OverrideID,
		Price:      c.NewPrice,
	})
}

func changeFromPending(p entity.PendingSettlement) (PriceChange, *affected) {
	change := PriceChange{
		ID:            p.ChangeID,
		Target:        pricing.Ref{Kind: pricing.Kind(p.TargetKind), ID: p.TargetID},
		OverrideID:    p.OverrideID,
		OverrideAdded: p.OverrideAdded,
		OldPrice:      p.OldPrice,
		NewPrice:      p.NewPrice,
	}
	return change, &affected{items: p.ItemIDs, members: p.MemberIDs}
}

// 名册对账结果
const (
	OutcomeDraft    = "draft"    // 草稿名册，仅标脏
	OutcomeSettled  = "settled"  // 已记账
	OutcomeRejected = "rejected" // 记账但资金调整被拒绝
	OutcomeFailed   = "failed"   // 重试耗尽，保持脏状态
	OutcomeArchived = "archived"
)

// RosterOutcome 单个名册的对账结果
type RosterOutcome struct {
	RosterID      string `json:"roster_id"`
	ChangeID      string `json:"change_id,omitempty"`
	Outcome       string `json:"outcome"`
	Entries       int    `json:"entries"`
	RatingDelta   int    `json:"rating_delta"`
	CurrencyDelta int    `json:"currency_delta"`
	Shortfall     int    `json:"shortfall"`
	Error         string `json:"error,omitempty"`
}

// ReconcileResult 一次价格变动的对账汇总
type ReconcileResult struct {
	Change   PriceChange     `json:"change"`
	Items    int             `json:"items"`
	Members  int             `json:"members"`
	Rosters  []RosterOutcome `json:"rosters"`
	Duration time.Duration   `json:"duration"`
}

// Failed 对账失败的名册
func (r *ReconcileResult) Failed() []string {
	var ids []string
	for _, o := range r.Rosters {
		if o.Outcome == OutcomeFailed {
			ids = append(ids, o.RosterID)
		}
	}
	return ids
}

// Reconciler 目录价格变动对账：先在编辑事务内标脏，再逐名册结算
type Reconciler struct {
	*engine
}

// affected 某名册内受影响的节点
type affected struct {
	items   []string
	members []string
}

// invalidation 标脏阶段的产物，交给 settle
type invalidation struct {
	change  PriceChange
	rosters map[string]*affected
	order   []string
	items   int
	members int
}

// invalidate 找出依赖该模板的行项/成员，连同祖先一起置脏，不计算差额，
// 并为每个受影响名册写一行待结算记录。必须与价格写入在同一事务内执行。
func (r *Reconciler) invalidate(ctx context.Context, tx *repository.Repositories, change PriceChange) (*invalidation, error) {
	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	inv := &invalidation{change: change, rosters: make(map[string]*affected)}
	get := func(rosterID string) *affected {
		a, ok := inv.rosters[rosterID]
		if !ok {
			a = &affected{}
			inv.rosters[rosterID] = a
			inv.order = append(inv.order, rosterID)
		}
		return a
	}

	var items []repository.AffectedItem
	var err error
	switch change.Target.Kind {
	case pricing.KindEquipment:
		items, err = tx.LineItem.FindAffectedByEquipment(ctx, change.Target.ID)
	case pricing.KindProfile:
		items, err = tx.LineItem.FindAffectedByProfile(ctx, change.Target.ID)
	case pricing.KindAccessory:
		items, err = tx.LineItem.FindAffectedByAccessory(ctx, change.Target.ID)
	case pricing.KindUpgrade:
		var up *entity.EquipmentUpgrade
		up, err = tx.Catalogue.FindUpgrade(ctx, change.Target.ID)
		if err == nil {
			items, err = tx.LineItem.FindAffectedByUpgrade(ctx, up.EquipmentID, up.Position)
		}
	case pricing.KindFighter:
		var members []repository.AffectedMember
		members, err = tx.Member.FindAffectedByFighterType(ctx, change.Target.ID)
		for _, m := range members {
			a := get(m.RosterID)
			a.members = append(a.members, m.MemberID)
		}
		inv.members = len(members)
	default:
		return nil, fmt.Errorf("%w: template kind %q", ErrInvalidInput, change.Target.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("find affected by %s: %w", change.Target, err)
	}

	var itemIDs, memberIDs []string
	seenMember := make(map[string]bool)
	for _, it := range items {
		a := get(it.RosterID)
		a.items = append(a.items, it.ItemID)
		itemIDs = append(itemIDs, it.ItemID)
		if !seenMember[it.MemberID] {
			seenMember[it.MemberID] = true
			memberIDs = append(memberIDs, it.MemberID)
		}
	}
	inv.items = len(items)
	for _, a := range inv.rosters {
		for _, id := range a.members {
			if !seenMember[id] {
				seenMember[id] = true
				memberIDs = append(memberIDs, id)
			}
		}
	}
	if len(inv.order) == 0 {
		return inv, nil
	}

	u := newUnit(ctx, tx)
	if err := u.markDirty(UpdaterReconciler, itemIDs, memberIDs, inv.order); err != nil {
		return nil, err
	}

	pending := make([]entity.PendingSettlement, 0, len(inv.order))
	for _, rosterID := range inv.order {
		a := inv.rosters[rosterID]
		pending = append(pending, entity.PendingSettlement{
			ChangeID:      change.ID,
			RosterID:      rosterID,
			TargetKind:    string(change.Target.Kind),
			TargetID:      change.Target.ID,
			OverrideID:    change.OverrideID,
			OverrideAdded: change.OverrideAdded,
			OldPrice:      change.OldPrice,
			NewPrice:      change.NewPrice,
			ItemIDs:       a.items,
			MemberIDs:     a.members,
		})
	}
	if err := tx.Settlement.CreateBatch(ctx, pending); err != nil {
		return nil, fmt.Errorf("record pending settlements: %w", err)
	}
	return inv, nil
}

// settle 逐名册结算，各名册是独立的失败单元：失败只记录并重试，不影响其他名册。
// 返回的 error 只反映调用方取消。
func (r *Reconciler) settle(ctx context.Context, inv *invalidation) (*ReconcileResult, error) {
	result := &ReconcileResult{Change: inv.change, Items: inv.items, Members: inv.members}
	if len(inv.order) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ReconcileWorkers)
	for _, rosterID := range inv.order {
		rosterID := rosterID
		a := inv.rosters[rosterID]
		g.Go(func() error {
			out := r.settleWithRetry(gctx, inv.change, rosterID, a)
			reconcileRostersTotal.WithLabelValues(out.Outcome).Inc()
			mu.Lock()
			result.Rosters = append(result.Rosters, out)
			mu.Unlock()
			return gctx.Err()
		})
	}
	err := g.Wait()
	sort.Slice(result.Rosters, func(i, j int) bool {
		return result.Rosters[i].RosterID < result.Rosters[j].RosterID
	})
	return result, err
}

// settleWithRetry 重试耗尽时待结算记录保留，由 ResumePending 继续
func (r *Reconciler) settleWithRetry(ctx context.Context, change PriceChange, rosterID string, a *affected) RosterOutcome {
	backoff := r.cfg.ReconcileRetryBackoff
	var lastErr error
	for attempt := 0; attempt <= r.cfg.ReconcileRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return RosterOutcome{RosterID: rosterID, ChangeID: change.ID, Outcome: OutcomeFailed, Error: ctx.Err().Error()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		out, err := r.settleRoster(ctx, change, rosterID, a)
		if err == nil || errors.Is(err, ErrNegativeBalanceRejected) {
			return out
		}
		lastErr = err
		// 目录数据错误重试无意义
		if errors.Is(err, ErrDanglingReference) || errors.Is(err, repository.ErrNotFound) {
			break
		}
		r.logger.Warn("reconcile roster failed, retrying",
			zap.String("change_id", change.ID),
			zap.String("roster_id", rosterID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	r.logger.Error("reconcile roster gave up, settlement left pending",
		zap.String("change_id", change.ID),
		zap.String("roster_id", rosterID),
		zap.Error(lastErr),
	)
	if err := r.repos.Settlement.RecordFailure(context.WithoutCancel(ctx), change.ID, rosterID, lastErr.Error()); err != nil {
		r.logger.Warn("record settlement failure", zap.String("roster_id", rosterID), zap.Error(err))
	}
	return RosterOutcome{RosterID: rosterID, ChangeID: change.ID, Outcome: OutcomeFailed, Error: lastErr.Error()}
}

// settleRoster 在名册锁内：对比旧价/新价算出每个节点的差额，
// 写账本（唯一键去重）并按策略调整资金，最后由 Reconciler 重算已脏的节点。
// 已提交名册在同一事务内刷新缓存：提交时缓存、账本、资金三者一致，不留给读路径修复。
// 草稿名册保持脏状态，下次读取时修复。任一终态都在同一事务内删除待结算记录。
func (r *Reconciler) settleRoster(ctx context.Context, change PriceChange, rosterID string, a *affected) (RosterOutcome, error) {
	out := RosterOutcome{RosterID: rosterID, ChangeID: change.ID}
	rejected := false
	err := r.mutate(ctx, rosterID, func(u *unitOfWork) error {
		roster, err := u.owner(rosterID)
		if err != nil {
			return err
		}
		if err := u.repos.Settlement.Delete(u.ctx, change.ID, rosterID); err != nil {
			return err
		}
		switch {
		case roster.ArchivedAt != nil:
			out.Outcome = OutcomeArchived
			return nil
		case !roster.IsCommitted():
			out.Outcome = OutcomeDraft
			return nil
		}

		oldCalc := calculator{res: u.resolver.With(change.before(u.repos.Catalogue))}
		newCalc := calculator{res: u.resolver.With(change.after(u.repos.Catalogue))}

		balance := roster.CurrencyCurrent
		record := func(itemRef string, oldCost, newCost int) error {
			delta := newCost - oldCost
			if delta == 0 {
				return nil
			}
			applied, shortfall, rej := applyPolicy(r.cfg.NegativeBalancePolicy, balance, -delta)
			inserted, err := u.repos.Ledger.Append(u.ctx, &entity.LedgerEntry{
				ID:            newID(),
				RosterID:      rosterID,
				Kind:          entity.LedgerKindPriceChange,
				ChangeID:      change.ID,
				ItemRef:       itemRef,
				TemplateRef:   change.Target.String(),
				OldPrice:      change.OldPrice,
				NewPrice:      change.NewPrice,
				RatingDelta:   delta,
				CurrencyDelta: applied,
				Shortfall:     shortfall,
				Rejected:      rej,
			})
			if err != nil {
				return err
			}
			if !inserted {
				return nil
			}
			out.Entries++
			out.RatingDelta += delta
			out.CurrencyDelta += applied
			out.Shortfall += shortfall
			if rej {
				rejected = true
			}
			if shortfall != 0 {
				r.logger.Warn("currency adjustment clamped",
					zap.String("roster_id", rosterID),
					zap.String("change_id", change.ID),
					zap.String("item_ref", itemRef),
					zap.Int("shortfall", shortfall),
				)
			}
			balance += applied
			return nil
		}

		for _, itemID := range a.items {
			item, err := u.repos.LineItem.FindByID(u.ctx, itemID)
			if errors.Is(err, repository.ErrNotFound) {
				continue // 已被卸下
			}
			if err != nil {
				return err
			}
			m, err := u.repos.Member.FindByID(u.ctx, item.MemberID)
			if err != nil {
				return err
			}
			if !m.IsActive() {
				continue
			}
			oc := ownerContext(roster, m)
			oldCost, err := oldCalc.itemCost(u.ctx, item, oc)
			if err != nil {
				return err
			}
			newCost, err := newCalc.itemCost(u.ctx, item, oc)
			if err != nil {
				return err
			}
			if err := record(item.ID, oldCost, newCost); err != nil {
				return err
			}
		}
		for _, memberID := range a.members {
			m, err := u.repos.Member.FindByID(u.ctx, memberID)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !m.IsActive() {
				continue
			}
			oc := ownerContext(roster, m)
			oldCost, err := oldCalc.memberBase(u.ctx, m, oc)
			if err != nil {
				return err
			}
			newCost, err := newCalc.memberBase(u.ctx, m, oc)
			if err != nil {
				return err
			}
			if err := record(m.ID, oldCost, newCost); err != nil {
				return err
			}
		}

		if balance != roster.CurrencyCurrent {
			if err := u.repos.Roster.UpdateCurrency(u.ctx, rosterID, balance); err != nil {
				return err
			}
		}
		// 缓存与账本同一提交
		if _, _, err := u.refreshRoster(rosterID, UpdaterReconciler); err != nil {
			return err
		}
		out.Outcome = OutcomeSettled
		if rejected {
			out.Outcome = OutcomeRejected
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	if rejected {
		return out, fmt.Errorf("%w: roster %s", ErrNegativeBalanceRejected, rosterID)
	}
	return out, nil
}

// applyPolicy 计算资金调整实际生效的部分。
// clamp：余额最低降到 0（已为负则不再下降），未吸收部分为 shortfall；
// reject：会变负时整笔不生效；allow：照单全收。
func applyPolicy(policy string, balance, adj int) (applied, shortfall int, rejected bool) {
	next := balance + adj
	if adj >= 0 || next >= 0 {
		return adj, 0, false
	}
	switch policy {
	case config.BalancePolicyAllow:
		return adj, 0, false
	case config.BalancePolicyReject:
		return 0, 0, true
	default:
		floor := balance
		if floor > 0 {
			floor = 0
		}
		applied = floor - balance
		return applied, applied - adj, false
	}
}

// OnPriceChanged 价格已由外部写入并提交时调用：单独开启事务标脏，再逐名册结算。
// 经由 CatalogueService 的价格编辑在写价格的同一事务内标脏。
func (r *Reconciler) OnPriceChanged(ctx context.Context, change PriceChange) (*ReconcileResult, error) {
	start := time.Now()
	defer func() { reconcileDuration.Observe(time.Since(start).Seconds()) }()

	var inv *invalidation
	err := r.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		inv, err = r.invalidate(ctx, tx, change)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("invalidate %s: %w", change.Target, mapLockError(err))
	}
	r.publishStale(inv)
	result, err := r.settle(ctx, inv)
	if result != nil {
		result.Duration = time.Since(start)
	}
	return result, err
}

// ResumePending 继续结算重试耗尽或进程中断遗留的待结算记录，按创建顺序逐行执行。
// 账本唯一键保证与正在进行的结算并发时不会重复记账。
func (r *Reconciler) ResumePending(ctx context.Context, limit int) ([]RosterOutcome, error) {
	rows, err := r.repos.Settlement.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending settlements: %w", err)
	}
	outs := make([]RosterOutcome, 0, len(rows))
	for _, p := range rows {
		if err := ctx.Err(); err != nil {
			return outs, err
		}
		change, a := changeFromPending(p)
		out := r.settleWithRetry(ctx, change, p.RosterID, a)
		reconcileRostersTotal.WithLabelValues(out.Outcome).Inc()
		outs = append(outs, out)
	}
	if len(outs) > 0 {
		r.logger.Info("resumed pending settlements", zap.Int("count", len(outs)))
	}
	return outs, nil
}

func (r *Reconciler) publishStale(inv *invalidation) {
	if r.hub == nil {
		return
	}
	for _, id := range inv.order {
		r.hub.PublishRatingStale(id, inv.change.ID)
	}
}
