package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
	"go.uber.org/zap"
)

// CatalogueService 目录价格维护，写价格并在同一事务内交给 Reconciler 标脏
type CatalogueService struct {
	*engine
	reconciler *Reconciler
}

type UpdatePriceInput struct {
	Price int `json:"price" binding:"min=0"`
}

// UpdateTemplatePrice 修改模板默认价
func (s *CatalogueService) UpdateTemplatePrice(ctx context.Context, ref pricing.Ref, price int) (*ReconcileResult, error) {
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("update template price: %w: kind %q", ErrInvalidInput, ref.Kind)
	}
	return s.edit(ctx, func(tx *repository.Repositories) (PriceChange, error) {
		old, err := tx.Catalogue.UpdateTemplatePrice(ctx, ref, price)
		if err != nil {
			return PriceChange{}, err
		}
		return PriceChange{Target: ref, OldPrice: old, NewPrice: price}, nil
	})
}

// UpdateOverridePrice 修改原型/派系覆盖或条件解锁覆盖的价格
func (s *CatalogueService) UpdateOverridePrice(ctx context.Context, overrideID string, price int) (*ReconcileResult, error) {
	return s.edit(ctx, func(tx *repository.Repositories) (PriceChange, error) {
		rec, err := tx.Catalogue.FindOverride(ctx, overrideID)
		if err != nil {
			return PriceChange{}, err
		}
		if err := tx.Catalogue.UpdateOverridePrice(ctx, rec, price); err != nil {
			return PriceChange{}, err
		}
		return PriceChange{Target: rec.Target, OverrideID: rec.ID, OldPrice: rec.Price, NewPrice: price}, nil
	})
}

func (s *CatalogueService) edit(ctx context.Context, write func(tx *repository.Repositories) (PriceChange, error)) (*ReconcileResult, error) {
	start := time.Now()
	defer func() { reconcileDuration.Observe(time.Since(start).Seconds()) }()

	var inv *invalidation
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		change, err := write(tx)
		if err != nil {
			return err
		}
		change.ID = uuid.New().String()
		// 新覆盖可能取代另一条覆盖，不能按默认价判断是否变动
		if change.OldPrice == change.NewPrice && !change.OverrideAdded {
			inv = &invalidation{change: change}
			return nil
		}
		inv, err = s.reconciler.invalidate(ctx, tx, change)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("price edit: %w", mapLockError(err))
	}

	s.logger.Info("catalogue price changed",
		zap.String("change_id", inv.change.ID),
		zap.String("target", inv.change.Target.String()),
		zap.String("override_id", inv.change.OverrideID),
		zap.Int("old_price", inv.change.OldPrice),
		zap.Int("new_price", inv.change.NewPrice),
		zap.Int("rosters", len(inv.order)),
	)
	s.reconciler.publishStale(inv)
	result, err := s.reconciler.settle(ctx, inv)
	if result != nil {
		result.Duration = time.Since(start)
	}
	return result, err
}

type CreateOverrideInput struct {
	TargetKind    pricing.Kind `json:"target_kind" binding:"required"`
	TargetID      string       `json:"target_id" binding:"required"`
	FighterTypeID *string      `json:"fighter_type_id"`
	FactionID     *string      `json:"faction_id"`
	Price         int          `json:"price" binding:"min=0"`
}

// CreateOverride 新建原型/派系覆盖并对账。旧价视图中隐藏该覆盖，
// 因此受影响的所有者回落到原先生效的覆盖或默认价。
func (s *CatalogueService) CreateOverride(ctx context.Context, input *CreateOverrideInput) (*entity.PriceOverride, *ReconcileResult, error) {
	if !input.TargetKind.Valid() {
		return nil, nil, fmt.Errorf("create override: %w: kind %q", ErrInvalidInput, input.TargetKind)
	}
	o := &entity.PriceOverride{
		ID:            newID(),
		TargetKind:    string(input.TargetKind),
		TargetID:      input.TargetID,
		FighterTypeID: input.FighterTypeID,
		FactionID:     input.FactionID,
		Price:         input.Price,
	}
	ref := pricing.Ref{Kind: input.TargetKind, ID: input.TargetID}
	result, err := s.edit(ctx, func(tx *repository.Repositories) (PriceChange, error) {
		tpl, ok, err := tx.Catalogue.Template(ctx, ref)
		if err != nil {
			return PriceChange{}, err
		}
		if !ok {
			return PriceChange{}, fmt.Errorf("%w: %s", ErrDanglingReference, ref)
		}
		if err := tx.Catalogue.CreateOverride(ctx, o); err != nil {
			return PriceChange{}, err
		}
		return PriceChange{Target: ref, OverrideID: o.ID, OverrideAdded: true, OldPrice: tpl.BasePrice, NewPrice: o.Price}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return o, result, nil
}
