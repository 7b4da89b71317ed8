package service

import (
	"context"
	"errors"

	"PCounter/module/counter/metrics"
	"PCounter/module/counter/model"
	"PCounter/tools/errs"

	"go.uber.org/zap"
)

// RemoveMembership 用户退出会话：
// 1. 读取当前未读数 2. 大于 0 时走正常路径扣减（记账本并级联到 userStats）
// 3. 删除 (dialog, user) 行 4. 删除成员关系。
// 第 2 步失败只记录；3、4 步的错误合并返回。
func (s *CounterService) RemoveMembership(ctx context.Context, tenantID, dialogID, userID string, src model.Source) error {
	t := model.Target{TenantID: tenantID, Type: model.UserDialogUnread, EntityID: model.DialogUserKey(dialogID, userID)}

	rctx, cancel := s.writeCtx(ctx)
	unread, _, err := s.counters.Get(rctx, t)
	cancel()
	if err != nil {
		metrics.CascadeFailures.Inc()
		s.log.Error("read unread before membership removal failed",
			zap.String("tenant", tenantID), zap.String("dialog", dialogID), zap.String("user", userID), zap.Error(err))
	}

	if unread > 0 {
		if _, err := s.UpdateUnreadCount(ctx, tenantID, userID, dialogID, -unread, src); err != nil {
			metrics.CascadeFailures.Inc()
			s.log.Error("drain unread on membership removal failed",
				zap.String("tenant", tenantID), zap.String("dialog", dialogID), zap.String("user", userID),
				zap.Int64("unread", unread), zap.Error(err))
		}
	}

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()

	var errList []error
	if err := s.counters.DeleteUserDialog(wctx, tenantID, dialogID, userID); err != nil {
		s.log.Error("delete user dialog stats failed",
			zap.String("tenant", tenantID), zap.String("dialog", dialogID), zap.String("user", userID), zap.Error(err))
		errList = append(errList, err)
	}
	if err := s.source.DeleteMembership(wctx, tenantID, dialogID, userID); err != nil {
		s.log.Error("delete membership failed",
			zap.String("tenant", tenantID), zap.String("dialog", dialogID), zap.String("user", userID), zap.Error(err))
		errList = append(errList, err)
	}
	return errs.WrapMsg(errors.Join(errList...), "remove membership", "tenant", tenantID, "dialog", dialogID, "user", userID)
}
