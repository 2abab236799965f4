package repository

import (
	"context"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append 追加账本条目；同一 (roster, kind, change, item) 已存在时不写入并返回 false
func (r *LedgerRepository) Append(ctx context.Context, e *entity.LedgerEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *LedgerRepository) ListByRoster(ctx context.Context, rosterID string, page, pageSize int) ([]entity.LedgerEntry, int64, error) {
	var entries []entity.LedgerEntry
	var total int64
	db := r.db.WithContext(ctx).Model(&entity.LedgerEntry{}).Where("roster_id = ?", rosterID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error
	return entries, total, err
}

func (r *LedgerRepository) CountByChange(ctx context.Context, rosterID, changeID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.LedgerEntry{}).
		Where("roster_id = ? AND change_id = ?", rosterID, changeID).
		Count(&n).Error
	return n, err
}

// SettlementRepository 待结算 outbox
type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) CreateBatch(ctx context.Context, rows []entity.PendingSettlement) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *SettlementRepository) Delete(ctx context.Context, changeID, rosterID string) error {
	return r.db.WithContext(ctx).
		Where("change_id = ? AND roster_id = ?", changeID, rosterID).
		Delete(&entity.PendingSettlement{}).Error
}

// RecordFailure 记录一次失败的结算尝试
func (r *SettlementRepository) RecordFailure(ctx context.Context, changeID, rosterID, msg string) error {
	return r.db.WithContext(ctx).Model(&entity.PendingSettlement{}).
		Where("change_id = ? AND roster_id = ?", changeID, rosterID).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
}

// ListPending 按创建顺序返回待结算行，同一名册的多次变动保持先后
func (r *SettlementRepository) ListPending(ctx context.Context, limit int) ([]entity.PendingSettlement, error) {
	var rows []entity.PendingSettlement
	err := r.db.WithContext(ctx).
		Order("created_at ASC, change_id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *SettlementRepository) CountByRoster(ctx context.Context, rosterID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.PendingSettlement{}).
		Where("roster_id = ?", rosterID).
		Count(&n).Error
	return n, err
}
