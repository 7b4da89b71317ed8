package updatectx

import (
	"context"
	"sync/atomic"
	"time"

	"PCounter/logger"
	"PCounter/module/counter/metrics"
	"PCounter/tools/errs"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

type memEntry struct {
	fields  map[string]struct{}
	expires time.Time
}

// MemoryStore 单实例部署用；过期由 Reap 清理
type MemoryStore struct {
	m   *xsync.Map[Key, *memEntry]
	ttl atomic.Int64
	now func() time.Time
	log *zap.Logger
}

func NewMemoryStore(ttl time.Duration, log *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		m:   xsync.NewMap[Key, *memEntry](),
		now: time.Now,
		log: logger.Or(log).Named("uctx"),
	}
	s.SetTTL(ttl)
	return s
}

func (s *MemoryStore) SetTTL(ttl time.Duration) { s.ttl.Store(int64(ttl)) }

func (s *MemoryStore) Add(_ context.Context, key Key, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	expires := s.now().Add(time.Duration(s.ttl.Load()))
	// entry 写入后不再修改，Range / Claim 读取时无需加锁
	s.m.Compute(key, func(old *memEntry, loaded bool) (*memEntry, xsync.ComputeOp) {
		next := &memEntry{expires: expires}
		if loaded {
			next.fields = make(map[string]struct{}, len(old.fields)+len(fields))
			for f := range old.fields {
				next.fields[f] = struct{}{}
			}
		} else {
			next.fields = make(map[string]struct{}, len(fields))
		}
		for _, f := range fields {
			next.fields[f] = struct{}{}
		}
		return next, xsync.UpdateOp
	})
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, key Key) ([]string, error) {
	e, ok := s.m.LoadAndDelete(key)
	if !ok || len(e.fields) == 0 {
		return nil, errs.ErrContextClaimed.WrapMsg("", "key", key.String())
	}
	out := make([]string, 0, len(e.fields))
	for f := range e.fields {
		out = append(out, f)
	}
	return out, nil
}

// Len 当前 context 数量
func (s *MemoryStore) Len() int { return s.m.Size() }

// Reap 删除过期 context，返回删除数量
func (s *MemoryStore) Reap() int {
	now := s.now()
	var expired []Key
	s.m.Range(func(k Key, e *memEntry) bool {
		if now.After(e.expires) {
			expired = append(expired, k)
		}
		return true
	})
	n := 0
	for _, k := range expired {
		// 复查：Range 之后可能被 Add 续期
		s.m.Compute(k, func(e *memEntry, loaded bool) (*memEntry, xsync.ComputeOp) {
			if !loaded {
				return e, xsync.CancelOp
			}
			if now.After(e.expires) {
				n++
				return e, xsync.DeleteOp
			}
			return e, xsync.CancelOp
		})
	}
	if n > 0 {
		metrics.ContextsReaped.Add(float64(n))
		s.log.Warn("reaped unfinalized update contexts", zap.Int("count", n))
	}
	return n
}

// StartReaper 周期清理，ctx 结束时退出
func (s *MemoryStore) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Reap()
			}
		}
	}()
}
