package store

import (
	"context"

	"PCounter/data/database"
	"PCounter/module/counter/model"
	"PCounter/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoHistoryDB struct {
	DB *mongo.Database
}

func NewMongoHistoryDB(db *mongo.Database) *MongoHistoryDB {
	return &MongoHistoryDB{DB: db}
}

func (h *MongoHistoryDB) coll() *mongo.Collection {
	return database.CollectionOf(h.DB, &model.HistoryEntry{})
}

func (h *MongoHistoryDB) Insert(ctx context.Context, e *model.HistoryEntry) error {
	_, err := h.coll().InsertOne(ctx, e)
	return errs.WrapMsg(err, "insert counter history", "tenant", e.TenantID, "type", e.CounterType, "entity", e.EntityID)
}

func historyQuery(tenantID string, f model.HistoryFilter) bson.D {
	q := bson.D{{Key: model.FieldTenantID, Value: tenantID}}
	if f.CounterType != "" {
		q = append(q, bson.E{Key: "counter_type", Value: f.CounterType})
	}
	if f.EntityID != "" {
		q = append(q, bson.E{Key: "entity_id", Value: f.EntityID})
	}
	if f.SourceEventID != "" {
		q = append(q, bson.E{Key: "source_event_id", Value: f.SourceEventID})
	}
	if f.Operation != "" {
		q = append(q, bson.E{Key: "operation", Value: f.Operation})
	}
	if !f.Since.IsZero() || !f.Until.IsZero() {
		ts := bson.M{}
		if !f.Since.IsZero() {
			ts["$gte"] = f.Since
		}
		if !f.Until.IsZero() {
			ts["$lt"] = f.Until
		}
		q = append(q, bson.E{Key: "timestamp", Value: ts})
	}
	return q
}

func (h *MongoHistoryDB) Find(ctx context.Context, tenantID string, f model.HistoryFilter, limit int) ([]*model.HistoryEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := h.coll().Find(ctx, historyQuery(tenantID, f), opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find counter history", "tenant", tenantID)
	}
	var out []*model.HistoryEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode counter history", "tenant", tenantID)
	}
	return out, nil
}
