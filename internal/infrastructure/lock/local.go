package lock

import (
	"context"
	"sync"

	"flipwatch/internal/application/port"
)

// Local 进程内互斥锁，未启用 Redis 时使用
type Local struct {
	mu   sync.Mutex
	held map[string]uint64 // key -> 持有者序号
	seq  uint64
}

func NewLocal() *Local {
	return &Local{held: make(map[string]uint64)}
}

// TryLock never blocks. The returned unlock is idempotent and only releases its own hold.
func (l *Local) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, false, nil
	}
	l.seq++
	id := l.seq
	l.held[key] = id

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == id {
				delete(l.held, key)
			}
		})
	}, true, nil
}

// Held 当前持有的锁数量
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

var _ port.SyncLocker = (*Local)(nil)
