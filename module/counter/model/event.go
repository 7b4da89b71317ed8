package model

import "time"

// 上游领域事件类型
const (
	EventMessageCreate       = "message.create"
	EventMessageDelete       = "message.delete"
	EventMessageStatusUpdate = "message.status.update"
	EventReactionAdd         = "message.reaction.add"
	EventReactionRemove      = "message.reaction.remove"
	EventMemberAdd           = "dialog.member.add"
	EventMemberRemove        = "dialog.member.remove"
	EventPackLink            = "pack.dialog.link"
	EventPackUnlink          = "pack.dialog.unlink"

	EventRepair = "counter.repair"
	EventManual = "counter.recalculate"

	ActorSystem   = "system"
	ActorUser     = "user"
	ActorOperator = "operator"
)

// Event 主写入成功后投递给计数流水线的信封
type Event struct {
	Type       string         `json:"type"`
	TenantID   string         `json:"tenantId"`
	EventID    string         `json:"eventId"`
	ActorID    string         `json:"actorId"`
	ActorType  string         `json:"actorType"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data"`
}

func (e *Event) Source() Source {
	return Source{EventType: e.Type, EventID: e.EventID, ActorID: e.ActorID, ActorType: e.ActorType}
}

// MessageCreated message.create
type MessageCreated struct {
	MessageID string `json:"messageId"`
	DialogID  string `json:"dialogId"`
	SenderID  string `json:"senderId"`
	TopicID   string `json:"topicId"`
	Status    string `json:"status"`
}

// MessageDeleted message.delete；UnreadUserIDs 为删除时仍未读该消息的成员
type MessageDeleted struct {
	MessageID     string   `json:"messageId"`
	DialogID      string   `json:"dialogId"`
	SenderID      string   `json:"senderId"`
	UnreadUserIDs []string `json:"unreadUserIds"`
	Statuses      []string `json:"statuses"`
}

// StatusUpdated message.status.update；OldStatus 为空时按最近一条状态推断
type StatusUpdated struct {
	StatusID  string `json:"statusId"`
	MessageID string `json:"messageId"`
	DialogID  string `json:"dialogId"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	OldStatus string `json:"oldStatus"`
}

// ReactionChanged message.reaction.add / remove
type ReactionChanged struct {
	MessageID string `json:"messageId"`
	DialogID  string `json:"dialogId"`
	UserID    string `json:"userId"`
	Reaction  string `json:"reaction"`
}

// MembershipChanged dialog.member.add / remove
type MembershipChanged struct {
	DialogID string `json:"dialogId"`
	UserID   string `json:"userId"`
}

// PackLinkChanged pack.dialog.link / unlink
type PackLinkChanged struct {
	PackID   string `json:"packId"`
	DialogID string `json:"dialogId"`
}
