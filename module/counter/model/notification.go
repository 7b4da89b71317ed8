package model

import (
	"strings"
	"time"

	"PCounter/tools/errs"
)

const EventTypeUserStatsUpdate = "user.stats.update"

// Notification 一个用户在一个上游事件中的合并通知，ChangedFields 为 finalize 时读到的当前值
type Notification struct {
	TenantID      string           `json:"tenantId"`
	UserID        string           `json:"userId"`
	SourceEventID string           `json:"sourceEventId"`
	EventType     string           `json:"eventType"`
	ChangedFields map[string]int64 `json:"changedFields"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// DedupKey 下游按此去重（nats Nats-Msg-Id）
func (n *Notification) DedupKey() string {
	return n.TenantID + ":" + n.UserID + ":" + n.SourceEventID
}

// Field update context 里记录的“哪个计数变了”，不带值
type Field struct {
	Type     CounterType
	EntityID string
}

const fieldSep = "|"

func (f Field) Encode() string { return string(f.Type) + fieldSep + f.EntityID }

func DecodeField(s string) (Field, error) {
	i := strings.Index(s, fieldSep)
	if i <= 0 || i == len(s)-1 {
		return Field{}, errs.ErrArgs.WrapMsg("bad context field", "field", s)
	}
	return Field{Type: CounterType(s[:i]), EntityID: s[i+1:]}, nil
}

func (f Field) Target(tenantID string) Target {
	return Target{TenantID: tenantID, Type: f.Type, EntityID: f.EntityID}
}

// NotificationKey changedFields 中的 key：
// userStats.totalUnreadCount / dialogs.<dialogId>.unreadCount / packs.<packId>.unreadCount
func (f Field) NotificationKey() string {
	switch f.Type {
	case UserDialogUnread:
		if dialog, _, ok := SplitPair(f.EntityID); ok {
			return "dialogs." + dialog + ".unreadCount"
		}
	case UserPackUnread:
		if pack, _, ok := SplitPair(f.EntityID); ok {
			return "packs." + pack + ".unreadCount"
		}
	}
	return string(f.Type)
}
