package store

import (
	"context"

	"PCounter/module/counter/model"
)

// CounterDB 聚合表的原子读改写。所有加减都在存储侧完成下限 0 截断，
// 不做“先读后写”。
type CounterDB interface {
	// Incr 原子加 delta，结果截断到 >= 0，不存在则 upsert
	Incr(ctx context.Context, t model.Target, delta int64) (model.Result, error)
	// IncrTally 同 Incr，结果 <= 0 时删除该行
	IncrTally(ctx context.Context, t model.Target, delta int64) (model.Result, error)
	// Set 覆盖写（重算），返回旧值
	Set(ctx context.Context, t model.Target, value int64) (model.Result, error)
	// Get 当前值；行不存在时 found=false
	Get(ctx context.Context, t model.Target) (value int64, found bool, err error)

	DeleteUserDialog(ctx context.Context, tenantID, dialogID, userID string) error
	// UserDialogUnreads dialogId -> unreadCount，只含存在的行
	UserDialogUnreads(ctx context.Context, tenantID, userID string) (map[string]int64, error)
	GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error)
	GetPackStats(ctx context.Context, tenantID, packID string) (*model.PackStats, error)
}

// HistoryDB 账本，只追加
type HistoryDB interface {
	Insert(ctx context.Context, e *model.HistoryEntry) error
	// Find 按时间倒序
	Find(ctx context.Context, tenantID string, f model.HistoryFilter, limit int) ([]*model.HistoryEntry, error)
}

// SourceDB 成员 / pack 关联 / 消息 / 状态等源数据，其他服务拥有
type SourceDB interface {
	DialogsOfUser(ctx context.Context, tenantID, userID string) ([]string, error)
	MembersOfDialog(ctx context.Context, tenantID, dialogID string) ([]string, error)
	DialogsOfPack(ctx context.Context, tenantID, packID string) ([]string, error)
	PacksOfDialog(ctx context.Context, tenantID, dialogID string) ([]string, error)
	CountMessagesBySender(ctx context.Context, tenantID, userID string) (int64, error)
	// DialogFacts 每个会话的消息数、成员、话题；顺序同入参
	DialogFacts(ctx context.Context, tenantID string, dialogIDs []string) ([]model.DialogFacts, error)
	// PreviousStatus 排除 excludeStatusID 后该用户对该消息的最近状态，没有返回 ""
	PreviousStatus(ctx context.Context, tenantID, messageID, userID, excludeStatusID string) (string, error)
	ListUsers(ctx context.Context, tenantID string) ([]string, error)
	ListPacks(ctx context.Context, tenantID string) ([]string, error)

	// DeleteMembership 唯一的写操作：成员退出时删除成员关系行
	DeleteMembership(ctx context.Context, tenantID, dialogID, userID string) error
}
