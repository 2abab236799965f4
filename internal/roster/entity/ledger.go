package entity

import "time"

// 账本条目类型
const (
	LedgerKindPriceChange         = "price_change"
	LedgerKindAdvancement         = "advancement"
	LedgerKindAdvancementReversal = "advancement_reversal"
	LedgerKindCurrency            = "currency"
)

// LedgerEntry 名册账本（只追加）
// (change_id, roster_id, item_ref, kind) 唯一，保证价格变动对资金的调整只执行一次
type LedgerEntry struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	RosterID      string    `json:"roster_id" gorm:"size:32;not null;index;uniqueIndex:idx_ledger_change"`
	Kind          string    `json:"kind" gorm:"size:32;not null;uniqueIndex:idx_ledger_change"`
	ChangeID      string    `json:"change_id" gorm:"size:36;not null;uniqueIndex:idx_ledger_change"`
	ItemRef       string    `json:"item_ref" gorm:"size:32;not null;default:'';uniqueIndex:idx_ledger_change"`
	TemplateRef   string    `json:"template_ref,omitempty" gorm:"size:64"`
	OldPrice      int       `json:"old_price"`
	NewPrice      int       `json:"new_price"`
	RatingDelta   int       `json:"rating_delta"`
	CurrencyDelta int       `json:"currency_delta"`
	Shortfall     int       `json:"shortfall"`
	XPDelta       int       `json:"xp_delta"`
	Rejected      bool      `json:"rejected"`
	Note          string    `json:"note,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
}

func (LedgerEntry) TableName() string {
	return "roster_ledger_entries"
}

// PendingSettlement 待结算的价格变动（outbox）
// 与价格写入同一事务落库，名册结算成功（或确认无需结算）后在结算事务内删除。
// 重试耗尽的行留给修复任务继续结算。
type PendingSettlement struct {
	ChangeID      string    `json:"change_id" gorm:"primaryKey;size:36"`
	RosterID      string    `json:"roster_id" gorm:"primaryKey;size:32"`
	TargetKind    string    `json:"target_kind" gorm:"size:16;not null"`
	TargetID      string    `json:"target_id" gorm:"size:32;not null"`
	OverrideID    string    `json:"override_id,omitempty" gorm:"size:32"`
	OverrideAdded bool      `json:"override_added"` // 新建覆盖：旧价视图中不存在该覆盖
	OldPrice      int       `json:"old_price"`
	NewPrice      int       `json:"new_price"`
	ItemIDs       []string  `json:"item_ids" gorm:"type:text;serializer:json"`
	MemberIDs     []string  `json:"member_ids" gorm:"type:text;serializer:json"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (PendingSettlement) TableName() string {
	return "roster_pending_settlements"
}
