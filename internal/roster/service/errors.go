package service

import (
	"errors"
	"strings"

	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"github.com/jackc/pgx/v5/pgconn"
)

// 引擎错误
var (
	// ErrDanglingReference 目录引用缺失，不重试
	ErrDanglingReference = pricing.ErrDanglingReference
	// ErrConcurrentModification 未能获得名册/成员锁，可重试
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrNegativeBalanceRejected 资金调整会使余额为负
	ErrNegativeBalanceRejected = errors.New("negative balance rejected")
	// ErrFactsUnavailable 缓存已脏，需要重算
	ErrFactsUnavailable = errors.New("facts unavailable")
	// ErrUpdaterConflict 同一操作内同一节点被两种更新路径写入
	ErrUpdaterConflict = errors.New("cache updater conflict")
	// ErrLinkDepthExceeded 派生/捆绑只允许一层
	ErrLinkDepthExceeded = errors.New("equipment link depth exceeded")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRosterArchived    = errors.New("roster archived")
	ErrInsufficientXP    = errors.New("insufficient xp")
)

// postgres SQLSTATE: lock_not_available / deadlock_detected
const (
	sqlStateLockNotAvailable = "55P03"
	sqlStateDeadlock         = "40P01"
)

// mapLockError 锁超时与死锁统一为 ErrConcurrentModification
func mapLockError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == sqlStateLockNotAvailable || pgErr.Code == sqlStateDeadlock {
			return errors.Join(ErrConcurrentModification, err)
		}
		return err
	}
	// SQLITE_BUSY
	if strings.Contains(err.Error(), "database is locked") {
		return errors.Join(ErrConcurrentModification, err)
	}
	return err
}
