package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/delivery-service/internal/domain"
)

type pendingDoc struct {
	PendingID string                `bson:"pendingId"`
	Messages  []domain.PendingEntry `bson:"messages"`
}

// MongoQueue keeps one document per (user, device) holding the buffered
// entries as an array.
type MongoQueue struct {
	coll *mongo.Collection
}

func NewMongoQueue(ctx context.Context, db *mongo.Database) (*MongoQueue, error) {
	coll := db.Collection("pending_messages")
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pendingId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("pending_id_uniq"),
	})
	if err != nil {
		return nil, fmt.Errorf("pending index: %w", err)
	}
	return &MongoQueue{coll: coll}, nil
}

func (q *MongoQueue) Enqueue(ctx context.Context, user string, device domain.DeviceClass, entry domain.PendingEntry) error {
	_, err := q.coll.UpdateOne(ctx,
		bson.M{"pendingId": domain.PendingKey(user, device)},
		bson.M{"$push": bson.M{"messages": entry}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrEnqueue, domain.PendingKey(user, device), err)
	}
	return nil
}

func (q *MongoQueue) DrainAll(ctx context.Context, user string, device domain.DeviceClass) ([]domain.PendingEntry, error) {
	var doc pendingDoc
	err := q.coll.FindOneAndUpdate(ctx,
		bson.M{"pendingId": domain.PendingKey(user, device), "messages.0": bson.M{"$exists": true}},
		bson.M{"$set": bson.M{"messages": bson.A{}}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []domain.PendingEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", domain.PendingKey(user, device), err)
	}
	return doc.Messages, nil
}

func (q *MongoQueue) RemoveOne(ctx context.Context, user string, device domain.DeviceClass, messageID string) error {
	_, err := q.coll.UpdateOne(ctx,
		bson.M{"pendingId": domain.PendingKey(user, device)},
		bson.M{"$pull": bson.M{"messages": bson.M{"id": messageID}}},
	)
	return err
}

func (q *MongoQueue) List(ctx context.Context, user string, device domain.DeviceClass) ([]domain.PendingEntry, error) {
	var doc pendingDoc
	err := q.coll.FindOne(ctx, bson.M{"pendingId": domain.PendingKey(user, device)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []domain.PendingEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Messages == nil {
		doc.Messages = []domain.PendingEntry{}
	}
	return doc.Messages, nil
}
