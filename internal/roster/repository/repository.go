package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	db         *gorm.DB
	Roster     *RosterRepository
	Member     *MemberRepository
	LineItem   *LineItemRepository
	Catalogue  *CatalogueRepository
	Ledger     *LedgerRepository
	Settlement *SettlementRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:         db,
		Roster:     NewRosterRepository(db),
		Member:     NewMemberRepository(db),
		LineItem:   NewLineItemRepository(db),
		Catalogue:  NewCatalogueRepository(db),
		Ledger:     NewLedgerRepository(db),
		Settlement: NewSettlementRepository(db),
	}
}

func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// Transaction runs fn with repositories bound to one transaction. Every
// read inside fn must go through tx, never through the outer repositories.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
