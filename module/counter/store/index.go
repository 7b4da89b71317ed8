package store

import (
	"context"
	"fmt"

	"PCounter/module/counter/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func indexModels() map[string][]mongo.IndexModel {
	var (
		uds  model.UserDialogStats
		us   model.UserStats
		mrs  model.MessageReactionStats
		mss  model.MessageStatusStats
		ps   model.PackStats
		ups  model.UserPackStats
		hist model.HistoryEntry
		dm   model.DialogMember
		pl   model.PackLink
		msg  model.Message
		st   model.MessageStatus
	)

	return map[string][]mongo.IndexModel{
		uds.GetTableName(): {
			{
				Keys: bson.D{{model.FieldTenantID, 1},
					{model.FieldDialogID, 1},
					{model.FieldUserID, 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_dialog_user"),
			},
			{
				Keys:    bson.D{{model.FieldTenantID, 1}, {model.FieldUserID, 1}},
				Options: options.Index().SetName("ix_user"),
			},
		},
		us.GetTableName(): {{
			Keys:    bson.D{{model.FieldTenantID, 1}, {model.FieldUserID, 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_user"),
		}},
		mrs.GetTableName(): {{
			Keys: bson.D{{model.FieldTenantID, 1},
				{model.FieldMessageID, 1},
				{model.FieldReaction, 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_msg_reaction"),
		}},
		mss.GetTableName(): {{
			Keys: bson.D{{model.FieldTenantID, 1},
				{model.FieldMessageID, 1},
				{model.FieldStatus, 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_msg_status"),
		}},
		ps.GetTableName(): {{
			Keys:    bson.D{{model.FieldTenantID, 1}, {model.FieldPackID, 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_pack"),
		}},
		ups.GetTableName(): {{
			Keys: bson.D{{model.FieldTenantID, 1},
				{model.FieldPackID, 1},
				{model.FieldUserID, 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_pack_user"),
		}},
		hist.GetTableName(): {
			{
				Keys: bson.D{{model.FieldTenantID, 1},
					{"counter_type", 1},
					{"entity_id", 1},
					{"timestamp", -1}},
				Options: options.Index().SetName("ix_counter_ts"),
			},
			{
				Keys:    bson.D{{model.FieldTenantID, 1}, {"source_event_id", 1}},
				Options: options.Index().SetName("ix_source_event"),
			},
		},
		dm.GetTableName(): {
			{
				Keys:    bson.D{{model.FieldTenantID, 1}, {model.FieldDialogID, 1}, {model.FieldUserID, 1}},
				Options: options.Index().SetName("ix_dialog_user"),
			},
			{
				Keys:    bson.D{{model.FieldTenantID, 1}, {model.FieldUserID, 1}},
				Options: options.Index().SetName("ix_user"),
			},
		},
		pl.GetTableName(): {
			{
				Keys:    bson.D{{model.FieldTenantID, 1}, {model.FieldPackID, 1}, {model.FieldDialogID, 1}},
				Options: options.Index().SetName("ix_pack_dialog"),
			},
			{
				Keys:    bson.D{{model.FieldTenantID, 1}, {model.FieldDialogID, 1}},
				Options: options.Index().SetName("ix_dialog"),
			},
		},
		msg.GetTableName(): {
			{
				Keys:    bson.D{{model.FieldTenantID, 1}, {"sender_id", 1}},
				Options: options.Index().SetName("ix_sender"),
			},
			{
				Keys:    bson.D{{model.FieldTenantID, 1}, {model.FieldDialogID, 1}},
				Options: options.Index().SetName("ix_dialog"),
			},
		},
		st.GetTableName(): {{
			Keys: bson.D{{model.FieldTenantID, 1},
				{model.FieldMessageID, 1},
				{model.FieldUserID, 1},
				{"created_at", -1}},
			Options: options.Index().SetName("ix_msg_user_ts"),
		}},
	}
}

// EnsureIndexes 只创建不存在的索引（按名字判断）
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for collName, indexes := range indexModels() {
		coll := db.Collection(collName)

		existing, err := coll.Indexes().ListSpecifications(ctx)
		if err != nil {
			return fmt.Errorf("list indexes for %s: %w", collName, err)
		}
		existingNames := make(map[string]struct{}, len(existing))
		for _, spec := range existing {
			existingNames[spec.Name] = struct{}{}
		}

		for _, idx := range indexes {
			if _, ok := existingNames[*idx.Options.Name]; ok {
				continue
			}
			if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
				return fmt.Errorf("create index %s on %s: %w", *idx.Options.Name, collName, err)
			}
		}
	}
	return nil
}
