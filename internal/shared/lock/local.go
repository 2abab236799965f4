package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker 进程内锁，单实例部署与测试使用。
// slot 按引用计数回收：持有者与等待者都归零后从 map 删除
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 && l.slots[key] == s {
		delete(l.slots, key)
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, wait time.Duration) (Lease, error) {
	s := l.ref(key)
	select {
	case s.ch <- struct{}{}:
		return &localLease{key: key, s: s, owner: l}, nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.ch <- struct{}{}:
		return &localLease{key: key, s: s, owner: l}, nil
	case <-timer.C:
		l.unref(key, s)
		return nil, ErrNotAcquired
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
}

// size 当前 slot 数
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

type localLease struct {
	key   string
	s     *slot
	owner *LocalLocker
	once  sync.Once
}

func (l *localLease) Key() string { return l.key }

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.s.ch
		l.owner.unref(l.key, l.s)
	})
	return nil
}
