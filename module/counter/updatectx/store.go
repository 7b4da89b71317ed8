package updatectx

import (
	"context"
	"time"
)

// Key 一个 update context：某租户下某用户在某个上游事件中的变更集合
type Key struct {
	TenantID string
	UserID   string
	EventID  string
}

func (k Key) String() string { return k.TenantID + ":" + k.UserID + ":" + k.EventID }

// Store 只记录变更了哪些字段（model.Field.Encode），不记录值。
// Claim 原子地取出并删除；不存在或已被取走时返回 errs.ErrContextClaimed。
type Store interface {
	Add(ctx context.Context, key Key, fields ...string) error
	Claim(ctx context.Context, key Key) ([]string, error)
	SetTTL(ttl time.Duration)
}
