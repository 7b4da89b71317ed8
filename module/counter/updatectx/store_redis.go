package updatectx

import (
	"context"
	"sync/atomic"
	"time"

	"PCounter/tools/errs"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pcounter:uctx:"

// claimScript SMEMBERS + DEL 在一个脚本内完成，两个并发 finalize 只有一个拿到字段
var claimScript = redis.NewScript(`
local m = redis.call('SMEMBERS', KEYS[1])
if #m > 0 then
  redis.call('DEL', KEYS[1])
end
return m
`)

// RedisStore 每个 context 一个 SET，过期交给 redis
type RedisStore struct {
	rdb redis.UniversalClient
	ttl atomic.Int64
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	s := &RedisStore{rdb: rdb}
	s.SetTTL(ttl)
	return s
}

func redisKey(k Key) string { return redisKeyPrefix + k.String() }

func (s *RedisStore) SetTTL(ttl time.Duration) { s.ttl.Store(int64(ttl)) }

func (s *RedisStore) Add(ctx context.Context, key Key, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	members := make([]any, len(fields))
	for i, f := range fields {
		members[i] = f
	}
	rk := redisKey(key)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, rk, members...)
		p.PExpire(ctx, rk, time.Duration(s.ttl.Load()))
		return nil
	})
	return errs.WrapMsg(err, "update context add", "key", rk)
}

func (s *RedisStore) Claim(ctx context.Context, key Key) ([]string, error) {
	rk := redisKey(key)
	fields, err := claimScript.Run(ctx, s.rdb, []string{rk}).StringSlice()
	if err != nil {
		return nil, errs.WrapMsg(err, "update context claim", "key", rk)
	}
	if len(fields) == 0 {
		return nil, errs.ErrContextClaimed.WrapMsg("", "key", rk)
	}
	return fields, nil
}
