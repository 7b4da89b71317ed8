package database

import "go.mongodb.org/mongo-driver/mongo"

// Table 所有落 mongo 的模型都实现，集合名由模型自己给出
type Table interface {
	GetTableName() string
}

func CollectionOf(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
