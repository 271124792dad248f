package collab

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps one document per (mindmapId, collaborator.id) pair.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(col *mongo.Collection) *MongoStore {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "mindmapId", Value: 1}, {Key: "collaborator.id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	col.Indexes().CreateOne(context.Background(), idx)
	return &MongoStore{col: col}
}

func key(mindmapID int64, collaboratorID string) bson.M {
	return bson.M{"mindmapId": mindmapID, "collaborator.id": collaboratorID}
}

func (m *MongoStore) Get(ctx context.Context, mindmapID int64, collaboratorID string) (Collaboration, error) {
	var c Collaboration
	err := m.col.FindOne(ctx, key(mindmapID, collaboratorID)).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Collaboration{}, ErrCollaborationNotFound
		}
		return Collaboration{}, fmt.Errorf("find collaboration: %w", err)
	}
	return c, nil
}

func (m *MongoStore) List(ctx context.Context, mindmapID int64) ([]Collaboration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "collaborator.id", Value: 1}})
	cur, err := m.col.Find(ctx, bson.M{"mindmapId": mindmapID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list collaborations: %w", err)
	}
	defer cur.Close(ctx)
	out := []Collaboration{}
	for cur.Next(ctx) {
		var c Collaboration
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, cur.Err()
}

func (m *MongoStore) ListByCollaborator(ctx context.Context, collaboratorID string) ([]Collaboration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "mindmapId", Value: 1}})
	cur, err := m.col.Find(ctx, bson.M{"collaborator.id": collaboratorID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list collaborations of %s: %w", collaboratorID, err)
	}
	defer cur.Close(ctx)
	out := []Collaboration{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoStore) Put(ctx context.Context, c Collaboration) error {
	_, err := m.col.ReplaceOne(ctx, key(c.MindmapID, c.Collaborator.ID), c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put collaboration: %w", err)
	}
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, mindmapID int64, collaboratorID string) error {
	res, err := m.col.DeleteOne(ctx, key(mindmapID, collaboratorID))
	if err != nil {
		return fmt.Errorf("delete collaboration: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrCollaborationNotFound
	}
	return nil
}

func (m *MongoStore) DeleteAll(ctx context.Context, mindmapID int64) (int, error) {
	res, err := m.col.DeleteMany(ctx, bson.M{"mindmapId": mindmapID})
	if err != nil {
		return 0, fmt.Errorf("purge collaborations: %w", err)
	}
	return int(res.DeletedCount), nil
}
