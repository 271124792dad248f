package history

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend stores one document per revision. The unique (mindmapId, id)
// index keeps indices gapless even when several processes append.
type MongoBackend struct {
	col *mongo.Collection
}

func NewMongoBackend(col *mongo.Collection) *MongoBackend {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "mindmapId", Value: 1}, {Key: "id", Value: -1}},
		Options: options.Index().SetUnique(true),
	}
	col.Indexes().CreateOne(context.Background(), idx)
	return &MongoBackend{col: col}
}

func (m *MongoBackend) Insert(ctx context.Context, r Revision) error {
	if _, err := m.col.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateRevision
		}
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

func (m *MongoBackend) List(ctx context.Context, mindmapID int64) ([]Revision, error) {
	opts := options.Find().SetSort(bson.D{{Key: "id", Value: -1}})
	cur, err := m.col.Find(ctx, bson.M{"mindmapId": mindmapID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer cur.Close(ctx)
	out := []Revision{}
	for cur.Next(ctx) {
		var r Revision
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, cur.Err()
}

func (m *MongoBackend) Get(ctx context.Context, mindmapID, id int64) (Revision, error) {
	return m.findOne(ctx, bson.M{"mindmapId": mindmapID, "id": id})
}

func (m *MongoBackend) Latest(ctx context.Context, mindmapID int64) (Revision, error) {
	return m.findOne(ctx, bson.M{"mindmapId": mindmapID}, options.FindOne().SetSort(bson.D{{Key: "id", Value: -1}}))
}

func (m *MongoBackend) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (Revision, error) {
	var r Revision
	if err := m.col.FindOne(ctx, filter, opts...).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Revision{}, ErrRevisionNotFound
		}
		return Revision{}, fmt.Errorf("find revision: %w", err)
	}
	return r, nil
}

func (m *MongoBackend) DeleteAll(ctx context.Context, mindmapID int64) (int, error) {
	res, err := m.col.DeleteMany(ctx, bson.M{"mindmapId": mindmapID})
	if err != nil {
		return 0, fmt.Errorf("purge revisions: %w", err)
	}
	return int(res.DeletedCount), nil
}
