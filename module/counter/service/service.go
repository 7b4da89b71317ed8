package service

import (
	"context"
	"time"

	"PCounter/logger"
	"PCounter/module/counter/ledger"
	"PCounter/module/counter/metrics"
	"PCounter/module/counter/model"
	"PCounter/module/counter/store"
	"PCounter/tools/errs"

	"go.uber.org/zap"
)

const defaultStorageTimeout = 5 * time.Second

// Accumulator 记录 per-user 字段变更，由 updatectx.Coordinator 实现
type Accumulator interface {
	Accumulate(ctx context.Context, tenantID, userID, eventID string, f model.Field) error
}

// CounterService 计数变更入口。每次变更：存储侧原子加减（下限 0）→ 写账本 → 记入 update context。
// 跨聚合的级联是多次独立写入，没有事务，偏差由重算修正。
type CounterService struct {
	counters store.CounterDB
	source   store.SourceDB
	ledger   *ledger.Service
	acc      Accumulator
	log      *zap.Logger
	timeout  time.Duration
}

type Option func(*CounterService)

// WithStorageTimeout 单次存储写入的超时
func WithStorageTimeout(d time.Duration) Option {
	return func(s *CounterService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(counters store.CounterDB, source store.SourceDB, l *ledger.Service, acc Accumulator, log *zap.Logger, opts ...Option) *CounterService {
	s := &CounterService{
		counters: counters,
		source:   source,
		ledger:   l,
		acc:      acc,
		log:      logger.Or(log).Named("counter"),
		timeout:  defaultStorageTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// writeCtx 与调用方取消解耦，避免级联写到一半被中断
func (s *CounterService) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func typeLabel(t model.CounterType) string {
	if prefix, _, ok := t.Tally(); ok {
		return prefix[:len(prefix)-1]
	}
	return string(t)
}

// apply 单个计数的原子加减 + 账本 + context
func (s *CounterService) apply(ctx context.Context, t model.Target, delta int64, src model.Source) (model.Result, error) {
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()

	var (
		res model.Result
		err error
	)
	if _, _, tally := t.Type.Tally(); tally {
		res, err = s.counters.IncrTally(wctx, t, delta)
	} else {
		res, err = s.counters.Incr(wctx, t, delta)
	}
	if err != nil {
		return model.Result{}, err
	}
	op := model.OpFor(delta)
	metrics.Mutations.WithLabelValues(typeLabel(t.Type), string(op)).Inc()

	s.ledger.Record(wctx, t, res, op, src)
	s.track(wctx, t, res, src)
	return res, nil
}

// Overwrite 重算写入，账本记为 recalculate
func (s *CounterService) Overwrite(ctx context.Context, t model.Target, value int64, src model.Source) (model.Result, error) {
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()

	res, err := s.counters.Set(wctx, t, value)
	if err != nil {
		return model.Result{}, err
	}
	metrics.Mutations.WithLabelValues(typeLabel(t.Type), string(model.OpRecalculate)).Inc()

	s.ledger.Record(wctx, t, res, model.OpRecalculate, src)
	s.track(wctx, t, res, src)
	return res, nil
}

// track 只记录实际发生变化的 per-user 计数
func (s *CounterService) track(ctx context.Context, t model.Target, res model.Result, src model.Source) {
	if s.acc == nil || res.Effective() == 0 || src.EventID == "" {
		return
	}
	user, ok := model.OwnerOf(t)
	if !ok {
		return
	}
	if err := s.acc.Accumulate(ctx, t.TenantID, user, src.EventID, model.Field{Type: t.Type, EntityID: t.EntityID}); err != nil {
		s.log.Warn("accumulate update context failed",
			zap.String("tenant", t.TenantID), zap.String("user", user), zap.String("event", src.EventID), zap.Error(err))
	}
}

// cascadeStep 级联写入失败只记录，不回滚前面的步骤
func (s *CounterService) cascadeStep(ctx context.Context, t model.Target, delta int64, src model.Source) {
	if _, err := s.apply(ctx, t, delta, src); err != nil {
		metrics.CascadeFailures.Inc()
		s.log.Error("counter cascade step failed",
			zap.String("tenant", t.TenantID), zap.String("type", string(t.Type)), zap.String("entity", t.EntityID),
			zap.Int64("delta", delta), zap.String("event", src.EventID), zap.Error(err))
	}
}

// UpdateUnreadCount 调整 (dialog, user) 未读数，并级联到 userStats：
// 0 <-> 正数 的跳变调整 unreadDialogsCount ±1，totalUnreadCount 按实际变化量调整。
func (s *CounterService) UpdateUnreadCount(ctx context.Context, tenantID, userID, dialogID string, delta int64, src model.Source) (model.Result, error) {
	t := model.Target{TenantID: tenantID, Type: model.UserDialogUnread, EntityID: model.DialogUserKey(dialogID, userID)}
	res, err := s.apply(ctx, t, delta, src)
	if err != nil {
		return model.Result{}, errs.WrapMsg(err, "update unread count", "tenant", tenantID, "dialog", dialogID, "user", userID)
	}
	eff := res.Effective()
	if eff == 0 {
		return res, nil
	}

	switch {
	case res.OldValue == 0 && res.NewValue > 0:
		s.cascadeStep(ctx, model.Target{TenantID: tenantID, Type: model.UserStatsUnreadDialogsCount, EntityID: userID}, 1, src)
	case res.OldValue > 0 && res.NewValue == 0:
		s.cascadeStep(ctx, model.Target{TenantID: tenantID, Type: model.UserStatsUnreadDialogsCount, EntityID: userID}, -1, src)
	}
	s.cascadeStep(ctx, model.Target{TenantID: tenantID, Type: model.UserStatsTotalUnreadCount, EntityID: userID}, eff, src)
	return res, nil
}

// UpdateReactionCount reaction 计数，归零删除
func (s *CounterService) UpdateReactionCount(ctx context.Context, tenantID, messageID, reaction string, delta int64, src model.Source) (model.Result, error) {
	t := model.Target{TenantID: tenantID, Type: model.ReactionCounter(reaction), EntityID: messageID}
	res, err := s.apply(ctx, t, delta, src)
	return res, errs.WrapMsg(err, "update reaction count", "tenant", tenantID, "message", messageID, "reaction", reaction)
}

// UpdateStatusCount 状态计数，归零删除
func (s *CounterService) UpdateStatusCount(ctx context.Context, tenantID, messageID, status string, delta int64, src model.Source) (model.Result, error) {
	t := model.Target{TenantID: tenantID, Type: model.StatusCounter(status), EntityID: messageID}
	res, err := s.apply(ctx, t, delta, src)
	return res, errs.WrapMsg(err, "update status count", "tenant", tenantID, "message", messageID, "status", status)
}

func (s *CounterService) UpdateUserStatsDialogCount(ctx context.Context, tenantID, userID string, delta int64, src model.Source) (model.Result, error) {
	t := model.Target{TenantID: tenantID, Type: model.UserStatsDialogCount, EntityID: userID}
	res, err := s.apply(ctx, t, delta, src)
	return res, errs.WrapMsg(err, "update dialog count", "tenant", tenantID, "user", userID)
}

func (s *CounterService) UpdateUserStatsTotalMessagesCount(ctx context.Context, tenantID, userID string, delta int64, src model.Source) (model.Result, error) {
	t := model.Target{TenantID: tenantID, Type: model.UserStatsTotalMessagesCount, EntityID: userID}
	res, err := s.apply(ctx, t, delta, src)
	return res, errs.WrapMsg(err, "update total messages count", "tenant", tenantID, "user", userID)
}

// GetUserStats / GetPackStats 只读
func (s *CounterService) GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error) {
	return s.counters.GetUserStats(ctx, tenantID, userID)
}

func (s *CounterService) GetPackStats(ctx context.Context, tenantID, packID string) (*model.PackStats, error) {
	return s.counters.GetPackStats(ctx, tenantID, packID)
}
