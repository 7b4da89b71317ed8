package store

import (
	"context"
	"errors"
	"time"

	"PCounter/data/database"
	"PCounter/module/counter/model"
	"PCounter/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCounterDB 聚合表的 mongo 实现，所有写入都是单文档 findOneAndUpdate
type MongoCounterDB struct {
	DB *mongo.Database
}

func NewMongoCounterDB(db *mongo.Database) *MongoCounterDB {
	return &MongoCounterDB{DB: db}
}

// clampAdd 管道更新：field = max(0, ifNull(field,0) + delta)
func clampAdd(field string, delta int64, now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			field: bson.M{"$max": bson.A{
				int64(0),
				bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$" + field, int64(0)}}, delta}},
			}},
			model.FieldUpdatedAt: now,
		}}},
	}
}

func (m *MongoCounterDB) Incr(ctx context.Context, t model.Target, delta int64) (model.Result, error) {
	loc, err := Locate(t)
	if err != nil {
		return model.Result{}, err
	}
	return m.incr(ctx, loc, t, delta)
}

func (m *MongoCounterDB) incr(ctx context.Context, loc Location, t model.Target, delta int64) (model.Result, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before).
		SetProjection(bson.M{loc.Field: 1})

	old, err := m.findOneAndUpdate(ctx, loc, clampAdd(loc.Field, delta, time.Now()), opts)
	if err != nil {
		return model.Result{}, errs.WrapMsg(err, "counter incr", "tenant", t.TenantID, "type", t.Type, "entity", t.EntityID)
	}
	return model.Result{OldValue: old, NewValue: model.Clamp(old, delta)}, nil
}

func (m *MongoCounterDB) IncrTally(ctx context.Context, t model.Target, delta int64) (model.Result, error) {
	loc, err := Locate(t)
	if err != nil {
		return model.Result{}, err
	}
	res, err := m.incr(ctx, loc, t, delta)
	if err != nil {
		return res, err
	}
	if res.NewValue <= 0 {
		// 条件删除：并发加过的行不会被误删
		filter := append(bson.D{}, loc.Keys...)
		filter = append(filter, bson.E{Key: loc.Field, Value: bson.M{"$lte": 0}})
		if _, err := m.DB.Collection(loc.Table).DeleteOne(ctx, filter); err != nil {
			return res, errs.WrapMsg(err, "tally delete-if-zero", "tenant", t.TenantID, "type", t.Type, "entity", t.EntityID)
		}
	}
	return res, nil
}

func (m *MongoCounterDB) Set(ctx context.Context, t model.Target, value int64) (model.Result, error) {
	loc, err := Locate(t)
	if err != nil {
		return model.Result{}, err
	}
	if value < 0 {
		value = 0
	}
	update := bson.M{"$set": bson.M{loc.Field: value, model.FieldUpdatedAt: time.Now()}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before).
		SetProjection(bson.M{loc.Field: 1})
	old, err := m.findOneAndUpdate(ctx, loc, update, opts)
	if err != nil {
		return model.Result{}, errs.WrapMsg(err, "counter set", "tenant", t.TenantID, "type", t.Type, "entity", t.EntityID)
	}
	return model.Result{OldValue: old, NewValue: value}, nil
}

// findOneAndUpdate 返回更新前的字段值，文档不存在视为 0
func (m *MongoCounterDB) findOneAndUpdate(ctx context.Context, loc Location, update any, opts *options.FindOneAndUpdateOptions) (int64, error) {
	var before bson.M
	err := m.DB.Collection(loc.Table).FindOneAndUpdate(ctx, loc.Keys, update, opts).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return toInt64(before[loc.Field]), nil
}

func (m *MongoCounterDB) Get(ctx context.Context, t model.Target) (int64, bool, error) {
	loc, err := Locate(t)
	if err != nil {
		return 0, false, err
	}
	var doc bson.M
	err = m.DB.Collection(loc.Table).
		FindOne(ctx, loc.Keys, options.FindOne().SetProjection(bson.M{loc.Field: 1})).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.WrapMsg(err, "counter get", "tenant", t.TenantID, "type", t.Type, "entity", t.EntityID)
	}
	return toInt64(doc[loc.Field]), true, nil
}

func (m *MongoCounterDB) DeleteUserDialog(ctx context.Context, tenantID, dialogID, userID string) error {
	coll := database.CollectionOf(m.DB, &model.UserDialogStats{})
	_, err := coll.DeleteOne(ctx, bson.D{
		{Key: model.FieldTenantID, Value: tenantID},
		{Key: model.FieldDialogID, Value: dialogID},
		{Key: model.FieldUserID, Value: userID},
	})
	return errs.WrapMsg(err, "delete user dialog stats", "tenant", tenantID, "dialog", dialogID, "user", userID)
}

func (m *MongoCounterDB) UserDialogUnreads(ctx context.Context, tenantID, userID string) (map[string]int64, error) {
	coll := database.CollectionOf(m.DB, &model.UserDialogStats{})
	cur, err := coll.Find(ctx, bson.M{model.FieldTenantID: tenantID, model.FieldUserID: userID})
	if err != nil {
		return nil, errs.WrapMsg(err, "find user dialog stats", "tenant", tenantID, "user", userID)
	}
	var rows []model.UserDialogStats
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errs.WrapMsg(err, "decode user dialog stats", "tenant", tenantID, "user", userID)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.DialogID] = r.UnreadCount
	}
	return out, nil
}

func (m *MongoCounterDB) GetUserStats(ctx context.Context, tenantID, userID string) (*model.UserStats, error) {
	out := &model.UserStats{TenantID: tenantID, UserID: userID}
	err := database.CollectionOf(m.DB, out).
		FindOne(ctx, bson.M{model.FieldTenantID: tenantID, model.FieldUserID: userID}).
		Decode(out)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.WrapMsg(err, "get user stats", "tenant", tenantID, "user", userID)
	}
	return out, nil
}

func (m *MongoCounterDB) GetPackStats(ctx context.Context, tenantID, packID string) (*model.PackStats, error) {
	out := &model.PackStats{TenantID: tenantID, PackID: packID}
	err := database.CollectionOf(m.DB, out).
		FindOne(ctx, bson.M{model.FieldTenantID: tenantID, model.FieldPackID: packID}).
		Decode(out)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.WrapMsg(err, "get pack stats", "tenant", tenantID, "pack", packID)
	}
	return out, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
