package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap"
)

const counterKey = "mindmaps"

// MongoRepo stores mindmap metadata with integer ids drawn from a counter
// collection.
type MongoRepo struct {
	col      *mongo.Collection
	counters *mongo.Collection
}

func NewMongoRepo(col, counters *mongo.Collection) *MongoRepo {
	// ensure an index on "id" for fast lookups (id is unique)
	idxModel := mongo.IndexModel{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)}
	col.Indexes().CreateOne(context.Background(), idxModel)
	return &MongoRepo{col: col, counters: counters}
}

func (m *MongoRepo) nextID(ctx context.Context) (int64, error) {
	var out struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := m.counters.FindOneAndUpdate(ctx, bson.M{"_id": counterKey}, bson.M{"$inc": bson.M{"seq": 1}}, opts).Decode(&out)
	if err != nil {
		return 0, fmt.Errorf("next mindmap id: %w", err)
	}
	return out.Seq, nil
}

func (m *MongoRepo) Create(ctx context.Context, d *mindmap.Document) (int64, error) {
	id, err := m.nextID(ctx)
	if err != nil {
		return 0, err
	}
	d.ID = id
	if _, err := m.col.InsertOne(ctx, d); err != nil {
		return 0, fmt.Errorf("insert mindmap: %w", err)
	}
	return id, nil
}

func (m *MongoRepo) Get(ctx context.Context, id int64) (*mindmap.Document, error) {
	var d mindmap.Document
	err := m.col.FindOne(ctx, bson.M{"id": id}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (m *MongoRepo) List(ctx context.Context, ids []int64) ([]*mindmap.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "lastModified", Value: -1}})
	cur, err := m.col.Find(ctx, bson.M{"id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*mindmap.Document{}
	for cur.Next(ctx) {
		var d mindmap.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, cur.Err()
}

func (m *MongoRepo) Save(ctx context.Context, d *mindmap.Document) error {
	res, err := m.col.ReplaceOne(ctx, bson.M{"id": d.ID}, d)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoRepo) Delete(ctx context.Context, id int64) error {
	res, err := m.col.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
