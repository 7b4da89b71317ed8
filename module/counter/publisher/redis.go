package publisher

import (
	"context"
	"encoding/json"

	"PCounter/module/counter/model"
	"PCounter/tools/errs"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher PUBLISH 到 <prefix>:<tenant>，网关按租户订阅
type RedisPublisher struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisPublisher(rdb redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

func (p *RedisPublisher) Channel(tenantID string) string { return p.prefix + ":" + tenantID }

func (p *RedisPublisher) Publish(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errs.WrapMsg(err, "marshal notification")
	}
	ch := p.Channel(n.TenantID)
	return errs.WrapMsg(p.rdb.Publish(ctx, ch, data).Err(), "redis publish notification", "channel", ch)
}
