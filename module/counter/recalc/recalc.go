package recalc

import (
	"context"

	"PCounter/logger"
	"PCounter/module/counter/metrics"
	"PCounter/module/counter/model"
	"PCounter/module/counter/store"
	"PCounter/tools/errs"

	"go.uber.org/zap"
)

// Writer 覆盖写一个计数并记 recalculate 账本，service.CounterService 实现
type Writer interface {
	Overwrite(ctx context.Context, t model.Target, value int64, src model.Source) (model.Result, error)
}

// Engine 从源数据重新计算聚合值，绕过增量路径。所有错误都返回给调用方。
type Engine struct {
	counters store.CounterDB
	source   store.SourceDB
	writer   Writer
	log      *zap.Logger
}

func New(counters store.CounterDB, source store.SourceDB, w Writer, log *zap.Logger) *Engine {
	return &Engine{counters: counters, source: source, writer: w, log: logger.Or(log).Named("recalc")}
}

func done(kind string, err error) error {
	metrics.Recalculations.WithLabelValues(kind, metrics.Result(err)).Inc()
	return err
}

func (e *Engine) write(ctx context.Context, t model.Target, value int64, src model.Source) error {
	if _, err := e.writer.Overwrite(ctx, t, value, src); err != nil {
		return errs.WrapMsg(err, "overwrite counter", "type", t.Type, "entity", t.EntityID)
	}
	return nil
}

// RecalculateUserStats 由成员关系、userDialogStats、消息表重算用户汇总并覆盖写入
func (e *Engine) RecalculateUserStats(ctx context.Context, tenantID, userID string, src model.Source) (*model.UserStats, error) {
	stats, err := e.userStats(ctx, tenantID, userID)
	if err != nil {
		return nil, done("user", errs.ErrRecalculate.WrapMsg(err.Error(), "tenant", tenantID, "user", userID))
	}
	vals := stats.Values()
	for _, ct := range model.UserStatsTypes {
		if err := e.write(ctx, model.Target{TenantID: tenantID, Type: ct, EntityID: userID}, vals[ct], src); err != nil {
			return nil, done("user", err)
		}
	}
	return stats, done("user", nil)
}

func (e *Engine) userStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error) {
	dialogs, err := e.source.DialogsOfUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	unreads, err := e.counters.UserDialogUnreads(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	sent, err := e.source.CountMessagesBySender(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	out := &model.UserStats{TenantID: tenantID, UserID: userID, DialogCount: int64(len(dialogs)), TotalMessagesCount: sent}
	// 只统计仍是成员的会话
	for _, d := range dialogs {
		if n := unreads[d]; n > 0 {
			out.UnreadDialogsCount++
			out.TotalUnreadCount += n
		}
	}
	return out, nil
}

// CalculatePackStats 只计算不写入。Sum* 逐会话累加（跨会话共享的成员/话题会重复计），Unique* 取并集。
func (e *Engine) CalculatePackStats(ctx context.Context, tenantID, packID string) (*model.PackStats, error) {
	dialogs, err := e.source.DialogsOfPack(ctx, tenantID, packID)
	if err != nil {
		return nil, errs.WrapMsg(err, "dialogs of pack", "tenant", tenantID, "pack", packID)
	}
	facts, err := e.source.DialogFacts(ctx, tenantID, dialogs)
	if err != nil {
		return nil, errs.WrapMsg(err, "dialog facts", "tenant", tenantID, "pack", packID)
	}

	out := &model.PackStats{TenantID: tenantID, PackID: packID, DialogCount: int64(len(dialogs))}
	members := make(map[string]struct{})
	topics := make(map[string]struct{})
	for _, f := range facts {
		out.MessageCount += f.MessageCount
		out.SumMemberCount += int64(len(f.Members))
		out.SumTopicCount += int64(len(f.Topics))
		for _, m := range f.Members {
			members[m] = struct{}{}
		}
		for _, t := range f.Topics {
			topics[t] = struct{}{}
		}
	}
	out.UniqueMemberCount = int64(len(members))
	out.UniqueTopicCount = int64(len(topics))
	return out, nil
}

// RecalculatePackStats 计算并覆盖写入 pack 汇总
func (e *Engine) RecalculatePackStats(ctx context.Context, tenantID, packID string, src model.Source) (*model.PackStats, error) {
	stats, err := e.CalculatePackStats(ctx, tenantID, packID)
	if err != nil {
		return nil, done("pack", errs.ErrRecalculate.WrapMsg(err.Error()))
	}
	vals := stats.Values()
	for _, ct := range model.PackStatsTypes {
		if err := e.write(ctx, model.Target{TenantID: tenantID, Type: ct, EntityID: packID}, vals[ct], src); err != nil {
			return nil, done("pack", err)
		}
	}
	return stats, done("pack", nil)
}

// RecalculateUserPackStats 用户在 pack 内所有会话的未读数之和
func (e *Engine) RecalculateUserPackStats(ctx context.Context, tenantID, packID, userID string, src model.Source) (int64, error) {
	dialogs, err := e.source.DialogsOfPack(ctx, tenantID, packID)
	if err != nil {
		return 0, done("user_pack", errs.ErrRecalculate.WrapMsg(err.Error(), "tenant", tenantID, "pack", packID))
	}
	unreads, err := e.counters.UserDialogUnreads(ctx, tenantID, userID)
	if err != nil {
		return 0, done("user_pack", errs.ErrRecalculate.WrapMsg(err.Error(), "tenant", tenantID, "user", userID))
	}
	var sum int64
	for _, d := range dialogs {
		sum += unreads[d]
	}
	t := model.Target{TenantID: tenantID, Type: model.UserPackUnread, EntityID: model.PackUserKey(packID, userID)}
	if err := e.write(ctx, t, sum, src); err != nil {
		return 0, done("user_pack", err)
	}
	return sum, done("user_pack", nil)
}

// RefreshDialogPacks 会话变化后刷新其所属 pack 的汇总，以及 users 的 pack 未读数。
// 单个 pack / 用户失败只记日志，返回第一个错误。
func (e *Engine) RefreshDialogPacks(ctx context.Context, tenantID, dialogID string, users []string, src model.Source) error {
	packs, err := e.source.PacksOfDialog(ctx, tenantID, dialogID)
	if err != nil {
		return errs.WrapMsg(err, "packs of dialog", "tenant", tenantID, "dialog", dialogID)
	}
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, p := range packs {
		if _, err := e.RecalculatePackStats(ctx, tenantID, p, src); err != nil {
			e.log.Error("refresh pack stats failed", zap.String("tenant", tenantID), zap.String("pack", p), zap.Error(err))
			keep(err)
		}
		for _, u := range users {
			if _, err := e.RecalculateUserPackStats(ctx, tenantID, p, u, src); err != nil {
				e.log.Error("refresh user pack stats failed",
					zap.String("tenant", tenantID), zap.String("pack", p), zap.String("user", u), zap.Error(err))
				keep(err)
			}
		}
	}
	return first
}
