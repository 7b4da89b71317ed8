package model

import "time"

// 聚合表：只允许计数引擎写入

const (
	FieldTenantID  = "tenant_id"
	FieldDialogID  = "dialog_id"
	FieldUserID    = "user_id"
	FieldPackID    = "pack_id"
	FieldMessageID = "message_id"
	FieldReaction  = "reaction"
	FieldStatus    = "status"
	FieldCount     = "count"
	FieldUpdatedAt = "updated_at"

	FieldUnreadCount = "unread_count"
)

// UserDialogStats 用户在某个会话的未读数
type UserDialogStats struct {
	TenantID    string    `bson:"tenant_id" json:"tenantId"`
	DialogID    string    `bson:"dialog_id" json:"dialogId"`
	UserID      string    `bson:"user_id" json:"userId"`
	UnreadCount int64     `bson:"unread_count" json:"unreadCount"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updatedAt"`
}

func (*UserDialogStats) GetTableName() string { return "user_dialog_stats" }

// UserStats 用户维度汇总，可整体重算
type UserStats struct {
	TenantID           string    `bson:"tenant_id" json:"tenantId"`
	UserID             string    `bson:"user_id" json:"userId"`
	DialogCount        int64     `bson:"dialog_count" json:"dialogCount"`
	UnreadDialogsCount int64     `bson:"unread_dialogs_count" json:"unreadDialogsCount"`
	TotalUnreadCount   int64     `bson:"total_unread_count" json:"totalUnreadCount"`
	TotalMessagesCount int64     `bson:"total_messages_count" json:"totalMessagesCount"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updatedAt"`
}

func (*UserStats) GetTableName() string { return "user_stats" }

// Values 按 CounterType 取值
func (s *UserStats) Values() map[CounterType]int64 {
	return map[CounterType]int64{
		UserStatsDialogCount:        s.DialogCount,
		UserStatsUnreadDialogsCount: s.UnreadDialogsCount,
		UserStatsTotalUnreadCount:   s.TotalUnreadCount,
		UserStatsTotalMessagesCount: s.TotalMessagesCount,
	}
}

// MessageReactionStats 每条消息每种 reaction 一行，count 归零即删除
type MessageReactionStats struct {
	TenantID  string    `bson:"tenant_id" json:"tenantId"`
	MessageID string    `bson:"message_id" json:"messageId"`
	Reaction  string    `bson:"reaction" json:"reaction"`
	Count     int64     `bson:"count" json:"count"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

func (*MessageReactionStats) GetTableName() string { return "message_reaction_stats" }

// MessageStatusStats 每条消息每种状态一行，count 归零即删除
type MessageStatusStats struct {
	TenantID  string    `bson:"tenant_id" json:"tenantId"`
	MessageID string    `bson:"message_id" json:"messageId"`
	Status    string    `bson:"status" json:"status"`
	Count     int64     `bson:"count" json:"count"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

func (*MessageStatusStats) GetTableName() string { return "message_status_stats" }

// PackStats pack 下所有会话的汇总；Sum* 为逐会话累加（共享成员/话题会重复计），Unique* 为并集
type PackStats struct {
	TenantID          string    `bson:"tenant_id" json:"tenantId"`
	PackID            string    `bson:"pack_id" json:"packId"`
	MessageCount      int64     `bson:"message_count" json:"messageCount"`
	DialogCount       int64     `bson:"dialog_count" json:"dialogCount"`
	SumMemberCount    int64     `bson:"sum_member_count" json:"sumMemberCount"`
	UniqueMemberCount int64     `bson:"unique_member_count" json:"uniqueMemberCount"`
	SumTopicCount     int64     `bson:"sum_topic_count" json:"sumTopicCount"`
	UniqueTopicCount  int64     `bson:"unique_topic_count" json:"uniqueTopicCount"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updatedAt"`
}

func (*PackStats) GetTableName() string { return "pack_stats" }

func (s *PackStats) Values() map[CounterType]int64 {
	return map[CounterType]int64{
		PackMessageCount:      s.MessageCount,
		PackDialogCount:       s.DialogCount,
		PackSumMemberCount:    s.SumMemberCount,
		PackUniqueMemberCount: s.UniqueMemberCount,
		PackSumTopicCount:     s.SumTopicCount,
		PackUniqueTopicCount:  s.UniqueTopicCount,
	}
}

// UserPackStats 用户在 pack 内会话的未读合计
type UserPackStats struct {
	TenantID    string    `bson:"tenant_id" json:"tenantId"`
	PackID      string    `bson:"pack_id" json:"packId"`
	UserID      string    `bson:"user_id" json:"userId"`
	UnreadCount int64     `bson:"unread_count" json:"unreadCount"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updatedAt"`
}

func (*UserPackStats) GetTableName() string { return "user_pack_stats" }
