package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gyrinx-app/gyrinx-sub001/internal/config"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/repository"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/sse"
	"github.com/gyrinx-app/gyrinx-sub001/internal/shared/lock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Facts      *FactsService
	Tree       *TreeService
	Reconciler *Reconciler
	Catalogue  *CatalogueService
	Export     *ExportService
	Ledger     *LedgerService
}

// NewServices 创建服务集合；hub 可为 nil
func NewServices(repos *repository.Repositories, locker lock.Locker, cfg config.EngineConfig, logger *zap.Logger, hub *sse.Hub) *Services {
	e := &engine{
		repos:  repos,
		locker: locker,
		cfg:    cfg,
		logger: logger,
		hub:    hub,
	}
	reconciler := &Reconciler{engine: e}
	return &Services{
		Facts:      &FactsService{engine: e, reconciler: reconciler},
		Tree:       &TreeService{engine: e},
		Reconciler: reconciler,
		Catalogue:  &CatalogueService{engine: e, reconciler: reconciler},
		Export:     &ExportService{engine: e},
		Ledger:     &LedgerService{engine: e},
	}
}

// engine 各服务共享的依赖
type engine struct {
	repos  *repository.Repositories
	locker lock.Locker
	cfg    config.EngineConfig
	logger *zap.Logger
	hub    *sse.Hub
}

func rosterLockKey(rosterID string) string {
	return "roster:" + rosterID
}

// mutate 在名册锁 + 事务内执行 fn，提交后推送评分事件
func (e *engine) mutate(ctx context.Context, rosterID string, fn func(u *unitOfWork) error) error {
	lease, err := e.locker.Acquire(ctx, rosterLockKey(rosterID), e.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("%w: roster %s", ErrConcurrentModification, rosterID)
		}
		return err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			e.logger.Warn("release roster lock", zap.String("roster_id", rosterID), zap.Error(err))
		}
	}()

	var u *unitOfWork
	err = e.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := setLockTimeout(tx.DB(), e.cfg.LockTimeout.Milliseconds()); err != nil {
			return err
		}
		if _, err := tx.Roster.Lock(ctx, rosterID); err != nil {
			return err
		}
		u = newUnit(ctx, tx)
		u.touch(rosterID)
		return fn(u)
	})
	if err != nil {
		return mapLockError(err)
	}
	e.publish(ctx, u)
	return nil
}

// setLockTimeout 仅 postgres 支持事务级锁等待超时
func setLockTimeout(tx *gorm.DB, ms int64) error {
	if tx.Dialector.Name() != "postgres" || ms <= 0 {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)).Error
}

func (e *engine) publish(ctx context.Context, u *unitOfWork) {
	if e.hub == nil || u == nil {
		return
	}
	for id := range u.touched {
		r, err := e.repos.Roster.FindByID(ctx, id)
		if err != nil {
			continue
		}
		if r.Dirty {
			e.hub.PublishRatingStale(id, "")
			continue
		}
		e.hub.PublishRatingUpdate(sse.RatingPayload{
			RosterID:    r.ID,
			Rating:      r.RatingCurrent,
			StashRating: r.StashRatingCurrent,
			Currency:    r.CurrencyCurrent,
			Wealth:      r.RatingCurrent + r.StashRatingCurrent + r.CurrencyCurrent,
		})
	}
}

// rosterOf 节点所属名册
func rosterOf(ctx context.Context, repos *repository.Repositories, node NodeRef) (string, error) {
	switch node.Kind {
	case NodeRoster:
		return node.ID, nil
	case NodeMember:
		m, err := repos.Member.FindByID(ctx, node.ID)
		if err != nil {
			return "", err
		}
		return m.RosterID, nil
	case NodeLineItem:
		item, err := repos.LineItem.FindByID(ctx, node.ID)
		if err != nil {
			return "", err
		}
		m, err := repos.Member.FindByID(ctx, item.MemberID)
		if err != nil {
			return "", err
		}
		return m.RosterID, nil
	}
	return "", fmt.Errorf("%w: node kind %q", ErrInvalidInput, node.Kind)
}
