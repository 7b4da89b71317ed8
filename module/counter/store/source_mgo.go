package store

import (
	"context"
	"errors"

	"PCounter/data/database"
	"PCounter/module/counter/model"
	"PCounter/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSourceDB 读取其他服务维护的关系表
type MongoSourceDB struct {
	DB *mongo.Database
}

func NewMongoSourceDB(db *mongo.Database) *MongoSourceDB {
	return &MongoSourceDB{DB: db}
}

func (s *MongoSourceDB) distinct(ctx context.Context, t database.Table, field string, filter bson.M) ([]string, error) {
	vals, err := database.CollectionOf(s.DB, t).Distinct(ctx, field, filter)
	if err != nil {
		return nil, errs.WrapMsg(err, "distinct", "table", t.GetTableName(), "field", field)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if str, ok := v.(string); ok && str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

func (s *MongoSourceDB) DialogsOfUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	return s.distinct(ctx, &model.DialogMember{}, model.FieldDialogID,
		bson.M{model.FieldTenantID: tenantID, model.FieldUserID: userID})
}

func (s *MongoSourceDB) MembersOfDialog(ctx context.Context, tenantID, dialogID string) ([]string, error) {
	return s.distinct(ctx, &model.DialogMember{}, model.FieldUserID,
		bson.M{model.FieldTenantID: tenantID, model.FieldDialogID: dialogID})
}

func (s *MongoSourceDB) DialogsOfPack(ctx context.Context, tenantID, packID string) ([]string, error) {
	return s.distinct(ctx, &model.PackLink{}, model.FieldDialogID,
		bson.M{model.FieldTenantID: tenantID, model.FieldPackID: packID})
}

func (s *MongoSourceDB) PacksOfDialog(ctx context.Context, tenantID, dialogID string) ([]string, error) {
	return s.distinct(ctx, &model.PackLink{}, model.FieldPackID,
		bson.M{model.FieldTenantID: tenantID, model.FieldDialogID: dialogID})
}

func (s *MongoSourceDB) ListUsers(ctx context.Context, tenantID string) ([]string, error) {
	return s.distinct(ctx, &model.DialogMember{}, model.FieldUserID, bson.M{model.FieldTenantID: tenantID})
}

func (s *MongoSourceDB) ListPacks(ctx context.Context, tenantID string) ([]string, error) {
	return s.distinct(ctx, &model.PackLink{}, model.FieldPackID, bson.M{model.FieldTenantID: tenantID})
}

func (s *MongoSourceDB) CountMessagesBySender(ctx context.Context, tenantID, userID string) (int64, error) {
	n, err := database.CollectionOf(s.DB, &model.Message{}).
		CountDocuments(ctx, bson.M{model.FieldTenantID: tenantID, "sender_id": userID})
	if err != nil {
		return 0, errs.WrapMsg(err, "count messages by sender", "tenant", tenantID, "user", userID)
	}
	return n, nil
}

// DialogFacts 消息数走 $group 聚合，成员/话题走 distinct
func (s *MongoSourceDB) DialogFacts(ctx context.Context, tenantID string, dialogIDs []string) ([]model.DialogFacts, error) {
	if len(dialogIDs) == 0 {
		return nil, nil
	}
	match := bson.M{model.FieldTenantID: tenantID, model.FieldDialogID: bson.M{"$in": dialogIDs}}

	counts := make(map[string]int64, len(dialogIDs))
	cur, err := database.CollectionOf(s.DB, &model.Message{}).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$" + model.FieldDialogID, "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "aggregate message counts", "tenant", tenantID)
	}
	var groups []struct {
		DialogID string `bson:"_id"`
		N        int64  `bson:"n"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, errs.WrapMsg(err, "decode message counts", "tenant", tenantID)
	}
	for _, g := range groups {
		counts[g.DialogID] = g.N
	}

	members, err := s.pairs(ctx, &model.DialogMember{}, model.FieldUserID, match)
	if err != nil {
		return nil, err
	}
	topics, err := s.pairs(ctx, &model.Topic{}, "topic_id", match)
	if err != nil {
		return nil, err
	}

	out := make([]model.DialogFacts, 0, len(dialogIDs))
	for _, d := range dialogIDs {
		out = append(out, model.DialogFacts{
			DialogID:     d,
			MessageCount: counts[d],
			Members:      members[d],
			Topics:       topics[d],
		})
	}
	return out, nil
}

// pairs dialog_id -> 去重后的 field 值
func (s *MongoSourceDB) pairs(ctx context.Context, t database.Table, field string, match bson.M) (map[string][]string, error) {
	cur, err := database.CollectionOf(s.DB, t).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$" + model.FieldDialogID, "vals": bson.M{"$addToSet": "$" + field}}}},
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "aggregate", "table", t.GetTableName(), "field", field)
	}
	var groups []struct {
		DialogID string   `bson:"_id"`
		Vals     []string `bson:"vals"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, errs.WrapMsg(err, "decode aggregate", "table", t.GetTableName())
	}
	out := make(map[string][]string, len(groups))
	for _, g := range groups {
		out[g.DialogID] = g.Vals
	}
	return out, nil
}

// PreviousStatus 依赖索引 (tenant_id, message_id, user_id, created_at desc)；
// 并发写同一 (message,user) 时结果可能滞后，由重算修正
func (s *MongoSourceDB) PreviousStatus(ctx context.Context, tenantID, messageID, userID, excludeStatusID string) (string, error) {
	filter := bson.M{
		model.FieldTenantID:  tenantID,
		model.FieldMessageID: messageID,
		model.FieldUserID:    userID,
	}
	if excludeStatusID != "" {
		ex := bson.A{excludeStatusID}
		if oid, err := primitive.ObjectIDFromHex(excludeStatusID); err == nil {
			ex = append(ex, oid)
		}
		filter["_id"] = bson.M{"$nin": ex}
	}
	var row model.MessageStatus
	err := database.CollectionOf(s.DB, &row).
		FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).
		Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", errs.WrapMsg(err, "previous status", "tenant", tenantID, "message", messageID, "user", userID)
	}
	return row.Status, nil
}

func (s *MongoSourceDB) DeleteMembership(ctx context.Context, tenantID, dialogID, userID string) error {
	_, err := database.CollectionOf(s.DB, &model.DialogMember{}).DeleteOne(ctx, bson.M{
		model.FieldTenantID: tenantID,
		model.FieldDialogID: dialogID,
		model.FieldUserID:   userID,
	})
	return errs.WrapMsg(err, "delete membership", "tenant", tenantID, "dialog", dialogID, "user", userID)
}
