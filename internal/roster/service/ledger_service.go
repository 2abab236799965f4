package service

import (
	"context"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/entity"
)

// LedgerService 名册账本查询
type LedgerService struct {
	*engine
}

func (s *LedgerService) List(ctx context.Context, rosterID string, page, pageSize int) ([]entity.LedgerEntry, int64, error) {
	if _, err := s.repos.Roster.FindByID(ctx, rosterID); err != nil {
		return nil, 0, err
	}
	return s.repos.Ledger.ListByRoster(ctx, rosterID, page, pageSize)
}

// CountByChange 某次价格变动在名册上产生的账本条目数
func (s *LedgerService) CountByChange(ctx context.Context, rosterID, changeID string) (int64, error) {
	return s.repos.Ledger.CountByChange(ctx, rosterID, changeID)
}
