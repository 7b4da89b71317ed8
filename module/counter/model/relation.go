package model

import "time"

// 以下关系表由其他服务维护，这里只读（成员删除除外）

type DialogMember struct {
	TenantID string    `bson:"tenant_id"`
	DialogID string    `bson:"dialog_id"`
	UserID   string    `bson:"user_id"`
	JoinedAt time.Time `bson:"joined_at"`
}

func (*DialogMember) GetTableName() string { return "dialog_members" }

// PackLink pack -> dialog
type PackLink struct {
	TenantID string    `bson:"tenant_id"`
	PackID   string    `bson:"pack_id"`
	DialogID string    `bson:"dialog_id"`
	LinkedAt time.Time `bson:"linked_at"`
}

func (*PackLink) GetTableName() string { return "pack_links" }

type Message struct {
	TenantID  string    `bson:"tenant_id"`
	MessageID string    `bson:"message_id"`
	DialogID  string    `bson:"dialog_id"`
	SenderID  string    `bson:"sender_id"`
	TopicID   string    `bson:"topic_id,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

func (*Message) GetTableName() string { return "messages" }

type Topic struct {
	TenantID string `bson:"tenant_id"`
	DialogID string `bson:"dialog_id"`
	TopicID  string `bson:"topic_id"`
}

func (*Topic) GetTableName() string { return "topics" }

// MessageStatus 每次状态流转一行，最新一行即当前状态
type MessageStatus struct {
	ID        string    `bson:"_id"`
	TenantID  string    `bson:"tenant_id"`
	MessageID string    `bson:"message_id"`
	UserID    string    `bson:"user_id"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
}

func (*MessageStatus) GetTableName() string { return "message_statuses" }

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// DialogFacts 单个会话的源数据统计，pack 汇总的输入
type DialogFacts struct {
	DialogID     string
	MessageCount int64
	Members      []string
	Topics       []string
}
