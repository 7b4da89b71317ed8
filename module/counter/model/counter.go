package model

import (
	"strings"

	"PCounter/tools/errs"
)

// CounterType 计数类型，tally 类型带值后缀（messageReactionStats.<reaction>）
type CounterType string

const (
	UserDialogUnread CounterType = "userDialogStats.unreadCount"

	UserStatsDialogCount        CounterType = "userStats.dialogCount"
	UserStatsUnreadDialogsCount CounterType = "userStats.unreadDialogsCount"
	UserStatsTotalUnreadCount   CounterType = "userStats.totalUnreadCount"
	UserStatsTotalMessagesCount CounterType = "userStats.totalMessagesCount"

	UserPackUnread CounterType = "userPackStats.unreadCount"

	PackMessageCount      CounterType = "packStats.messageCount"
	PackDialogCount       CounterType = "packStats.dialogCount"
	PackSumMemberCount    CounterType = "packStats.sumMemberCount"
	PackUniqueMemberCount CounterType = "packStats.uniqueMemberCount"
	PackSumTopicCount     CounterType = "packStats.sumTopicCount"
	PackUniqueTopicCount  CounterType = "packStats.uniqueTopicCount"

	ReactionPrefix = "messageReactionStats."
	StatusPrefix   = "messageStatusStats."
)

// UserStatsTypes 重算时按此顺序写入
var UserStatsTypes = []CounterType{
	UserStatsDialogCount,
	UserStatsUnreadDialogsCount,
	UserStatsTotalUnreadCount,
	UserStatsTotalMessagesCount,
}

var PackStatsTypes = []CounterType{
	PackMessageCount,
	PackDialogCount,
	PackSumMemberCount,
	PackUniqueMemberCount,
	PackSumTopicCount,
	PackUniqueTopicCount,
}

func ReactionCounter(reaction string) CounterType { return CounterType(ReactionPrefix + reaction) }
func StatusCounter(status string) CounterType     { return CounterType(StatusPrefix + status) }

// Tally 按值计数的行在归零时删除
func (t CounterType) Tally() (prefix, value string, ok bool) {
	s := string(t)
	for _, p := range []string{ReactionPrefix, StatusPrefix} {
		if strings.HasPrefix(s, p) && len(s) > len(p) {
			return p, s[len(p):], true
		}
	}
	return "", "", false
}

// PerUser 属于某个用户的聚合，变更会进入该用户的 update context
func (t CounterType) PerUser() bool {
	switch t {
	case UserDialogUnread, UserPackUnread,
		UserStatsDialogCount, UserStatsUnreadDialogsCount, UserStatsTotalUnreadCount, UserStatsTotalMessagesCount:
		return true
	}
	return false
}

// Target 一个计数值：(tenant, type, entity)
type Target struct {
	TenantID string
	Type     CounterType
	EntityID string
}

func (t Target) Validate() error {
	if t.TenantID == "" || t.Type == "" || t.EntityID == "" {
		return errs.ErrArgs.WrapMsg("incomplete counter target", "tenant", t.TenantID, "type", t.Type, "entity", t.EntityID)
	}
	return nil
}

// DialogUserKey userDialogStats / 复合实体 "{dialogId}:{userId}"
func DialogUserKey(dialogID, userID string) string { return dialogID + ":" + userID }

// PackUserKey userPackStats 的实体 "{packId}:{userId}"
func PackUserKey(packID, userID string) string { return packID + ":" + userID }

// SplitPair 拆复合实体，按最后一个 ':' 切分
func SplitPair(entityID string) (left, right string, ok bool) {
	i := strings.LastIndexByte(entityID, ':')
	if i <= 0 || i == len(entityID)-1 {
		return "", "", false
	}
	return entityID[:i], entityID[i+1:], true
}

// OwnerOf 返回 per-user 计数所属的用户
func OwnerOf(t Target) (string, bool) {
	switch t.Type {
	case UserDialogUnread, UserPackUnread:
		_, user, ok := SplitPair(t.EntityID)
		return user, ok
	default:
		if t.Type.PerUser() {
			return t.EntityID, true
		}
	}
	return "", false
}

type Operation string

const (
	OpIncrement   Operation = "increment"
	OpDecrement   Operation = "decrement"
	OpRecalculate Operation = "recalculate"
)

func OpFor(delta int64) Operation {
	if delta < 0 {
		return OpDecrement
	}
	return OpIncrement
}

// Source 触发变更的上游事件
type Source struct {
	EventType string `json:"eventType" bson:"event_type"`
	EventID   string `json:"eventId" bson:"event_id"`
	ActorID   string `json:"actorId" bson:"actor_id"`
	ActorType string `json:"actorType" bson:"actor_type"`
}

// Result 一次原子变更前后的值
type Result struct {
	OldValue int64 `json:"oldValue"`
	NewValue int64 `json:"newValue"`
}

// Effective 实际生效的变化量（可能因下限 0 被截断）
func (r Result) Effective() int64 { return r.NewValue - r.OldValue }

// Clamp max(0, old+delta)
func Clamp(old, delta int64) int64 {
	if n := old + delta; n > 0 {
		return n
	}
	return 0
}
