package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdemStore 消费端幂等表
type IdemStore interface {
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
	// Forget 处理失败时撤销标记，允许重投再次进入
	Forget(ctx context.Context, key string)
}

// memIdem 单进程
type memIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time
	ttl time.Duration
}

// NewMemIdem 清理协程随 ctx 退出
func NewMemIdem(ctx context.Context, defaultTTL time.Duration) IdemStore {
	mi := &memIdem{m: make(map[string]time.Time), ttl: defaultTTL}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				mi.sweep(now)
			}
		}
	}()
	return mi
}

func (mi *memIdem) sweep(now time.Time) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
}

func (mi *memIdem) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := time.Now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

func (mi *memIdem) Forget(_ context.Context, key string) {
	mi.mu.Lock()
	delete(mi.m, key)
	mi.mu.Unlock()
}

// redisIdem 多个 worker 副本共用，SET NX PX
type redisIdem struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdem(rdb redis.UniversalClient, prefix string, defaultTTL time.Duration) IdemStore {
	return &redisIdem{rdb: rdb, prefix: prefix, ttl: defaultTTL}
}

func (ri *redisIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = ri.ttl
	}
	ok, err := ri.rdb.SetNX(ctx, ri.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (ri *redisIdem) Forget(ctx context.Context, key string) {
	_ = ri.rdb.Del(ctx, ri.prefix+key).Err()
}

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// NatsxIdemMiddleware 按 Nats-Msg-Id 跳过已处理的重投；幂等表不可用时放行
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				// 无ID时根据 subject+内容构造一个弱ID
				id = msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
			}
			if seen, err := store.SeenOnce(ctx, id, ttl); err == nil && seen {
				return nil
			}
			if err := next(ctx, msg); err != nil {
				store.Forget(ctx, id)
				return err
			}
			return nil
		}
	}
}
