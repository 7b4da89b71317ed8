package updatectx

import (
	"context"
	"errors"
	"time"

	"PCounter/logger"
	"PCounter/module/counter/metrics"
	"PCounter/module/counter/model"
	"PCounter/module/counter/publisher"
	"PCounter/module/counter/store"
	"PCounter/tools/errs"

	"go.uber.org/zap"
)

// Coordinator 累积每个 (tenant, user, event) 的变更字段，并在事件处理结束时合并成一条通知
type Coordinator struct {
	store    Store
	counters store.CounterDB
	pub      publisher.Publisher
	log      *zap.Logger
	now      func() time.Time
}

func NewCoordinator(s Store, counters store.CounterDB, pub publisher.Publisher, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store:    s,
		counters: counters,
		pub:      pub,
		log:      logger.Or(log).Named("uctx"),
		now:      time.Now,
	}
}

// SetTTL 热更新 context 过期时间
func (c *Coordinator) SetTTL(ttl time.Duration) { c.store.SetTTL(ttl) }

// Accumulate 记录字段变更；context 不存在时创建
func (c *Coordinator) Accumulate(ctx context.Context, tenantID, userID, eventID string, f model.Field) error {
	if tenantID == "" || userID == "" || eventID == "" {
		return errs.ErrArgs.WrapMsg("incomplete update context key", "tenant", tenantID, "user", userID, "event", eventID)
	}
	return c.store.Add(ctx, Key{TenantID: tenantID, UserID: userID, EventID: eventID}, f.Encode())
}

// Finalize 原子地取走 context，读取字段当前值并发出一条 user.stats.update。
// 没有字段或已被其他调用取走时返回 (nil, nil)。
func (c *Coordinator) Finalize(ctx context.Context, tenantID, userID, eventID string) (*model.Notification, error) {
	key := Key{TenantID: tenantID, UserID: userID, EventID: eventID}
	encoded, err := c.store.Claim(ctx, key)
	if errs.ErrContextClaimed.Is(err) {
		metrics.Notifications.WithLabelValues("empty").Inc()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// context 已被取走，读失败的字段只能记日志，其余字段照常发出
	changed := make(map[string]int64, len(encoded))
	var lost []string
	var readErr error
	for _, s := range encoded {
		f, err := model.DecodeField(s)
		if err != nil {
			c.log.Warn("skip bad context field", zap.String("key", key.String()), zap.Error(err))
			continue
		}
		v, _, err := c.counters.Get(ctx, f.Target(tenantID))
		if err != nil {
			lost = append(lost, s)
			readErr = errors.Join(readErr, err)
			continue
		}
		changed[f.NotificationKey()] = v
	}
	if len(lost) > 0 {
		c.log.Error("claimed context fields not notified",
			zap.String("key", key.String()), zap.Strings("claimed", encoded), zap.Strings("lost", lost), zap.Error(readErr))
	}
	if len(changed) == 0 {
		if readErr != nil {
			return nil, errs.WrapMsg(readErr, "read counter for notification", "key", key.String(), "lost", lost)
		}
		metrics.Notifications.WithLabelValues("empty").Inc()
		return nil, nil
	}

	n := &model.Notification{
		TenantID:      tenantID,
		UserID:        userID,
		SourceEventID: eventID,
		EventType:     model.EventTypeUserStatsUpdate,
		ChangedFields: changed,
		CreatedAt:     c.now(),
	}
	metrics.Notifications.WithLabelValues("emitted").Inc()
	if err := c.pub.Publish(ctx, n); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		c.log.Error("publish user stats update failed",
			zap.String("key", key.String()), zap.Error(err))
	}
	return n, nil
}

// FinalizeUsers 逐个用户 finalize，单个用户失败不影响其他用户
func (c *Coordinator) FinalizeUsers(ctx context.Context, tenantID string, userIDs []string, eventID string) []*model.Notification {
	var out []*model.Notification
	for _, u := range userIDs {
		n, err := c.Finalize(ctx, tenantID, u, eventID)
		if err != nil {
			c.log.Error("finalize update context failed",
				zap.String("tenant", tenantID), zap.String("user", u), zap.String("event", eventID), zap.Error(err))
			continue
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}
