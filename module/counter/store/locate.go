package store

import (
	"PCounter/module/counter/model"
	"PCounter/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
)

// Location 计数在存储中的位置：表 + 主键字段 + 数值字段
type Location struct {
	Table string
	Keys  bson.D
	Field string
	Tally bool
}

var (
	userStatsFields = map[model.CounterType]string{
		model.UserStatsDialogCount:        "dialog_count",
		model.UserStatsUnreadDialogsCount: "unread_dialogs_count",
		model.UserStatsTotalUnreadCount:   "total_unread_count",
		model.UserStatsTotalMessagesCount: "total_messages_count",
	}
	packStatsFields = map[model.CounterType]string{
		model.PackMessageCount:      "message_count",
		model.PackDialogCount:       "dialog_count",
		model.PackSumMemberCount:    "sum_member_count",
		model.PackUniqueMemberCount: "unique_member_count",
		model.PackSumTopicCount:     "sum_topic_count",
		model.PackUniqueTopicCount:  "unique_topic_count",
	}
)

// Locate 把 Target 翻译为 Location
func Locate(t model.Target) (Location, error) {
	if err := t.Validate(); err != nil {
		return Location{}, err
	}
	tenant := bson.E{Key: model.FieldTenantID, Value: t.TenantID}

	switch t.Type {
	case model.UserDialogUnread, model.UserPackUnread:
		left, user, ok := model.SplitPair(t.EntityID)
		if !ok {
			return Location{}, errs.ErrArgs.WrapMsg("bad composite entity", "type", t.Type, "entity", t.EntityID)
		}
		if t.Type == model.UserDialogUnread {
			return Location{
				Table: (&model.UserDialogStats{}).GetTableName(),
				Keys:  bson.D{tenant, {Key: model.FieldDialogID, Value: left}, {Key: model.FieldUserID, Value: user}},
				Field: model.FieldUnreadCount,
			}, nil
		}
		return Location{
			Table: (&model.UserPackStats{}).GetTableName(),
			Keys:  bson.D{tenant, {Key: model.FieldPackID, Value: left}, {Key: model.FieldUserID, Value: user}},
			Field: model.FieldUnreadCount,
		}, nil
	}

	if f, ok := userStatsFields[t.Type]; ok {
		return Location{
			Table: (&model.UserStats{}).GetTableName(),
			Keys:  bson.D{tenant, {Key: model.FieldUserID, Value: t.EntityID}},
			Field: f,
		}, nil
	}
	if f, ok := packStatsFields[t.Type]; ok {
		return Location{
			Table: (&model.PackStats{}).GetTableName(),
			Keys:  bson.D{tenant, {Key: model.FieldPackID, Value: t.EntityID}},
			Field: f,
		}, nil
	}

	if prefix, value, ok := t.Type.Tally(); ok {
		loc := Location{Field: model.FieldCount, Tally: true}
		if prefix == model.ReactionPrefix {
			loc.Table = (&model.MessageReactionStats{}).GetTableName()
			loc.Keys = bson.D{tenant, {Key: model.FieldMessageID, Value: t.EntityID}, {Key: model.FieldReaction, Value: value}}
		} else {
			loc.Table = (&model.MessageStatusStats{}).GetTableName()
			loc.Keys = bson.D{tenant, {Key: model.FieldMessageID, Value: t.EntityID}, {Key: model.FieldStatus, Value: value}}
		}
		return loc, nil
	}
	return Location{}, errs.ErrArgs.WrapMsg("unknown counter type", "type", t.Type)
}

// rowKey 内存实现用的行主键
func (l Location) rowKey() string {
	k := l.Table
	for _, e := range l.Keys {
		k += "\x00" + e.Value.(string)
	}
	return k
}
