package repository

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

// NewMongoClient connects and pings so that a bad URI fails at startup.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// MongoStore keeps one document per conversation with the messages
// embedded, so every append and status change is a single-document update.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	coll := db.Collection("conversations")
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversationId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("conversation_id_uniq"),
		},
		{
			Keys:    bson.D{{Key: "messages.id", Value: 1}},
			Options: options.Index().SetName("message_id_idx"),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}},
			Options: options.Index().SetName("participants_updated_idx"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("conversation indexes: %w", err)
	}
	return &MongoStore{coll: coll}, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, key string, m domain.Message) error {
	now := time.Now().UTC()
	// When the id is already present the filter misses, the upsert tries to
	// insert a second document for key and the unique index rejects it.
	filter := bson.M{"conversationId": key, "messages.id": bson.M{"$ne": m.ID}}
	update := bson.M{
		"$push":        bson.M{"messages": m},
		"$set":         bson.M{"updatedAt": now},
		"$setOnInsert": bson.M{"participants": domain.Participants(m.From, m.To), "createdAt": now},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, m.ID)
	}
	return err
}

func (s *MongoStore) UpdateStatus(ctx context.Context, messageID string, status domain.Status, at time.Time) (bool, error) {
	changed := false
	for _, from := range status.Below() {
		set := bson.M{"messages.$[m].status": status}
		if from == domain.StatusSent {
			set["messages.$[m].deliveredAt"] = at
		}
		if status == domain.StatusSeen {
			set["messages.$[m].seenAt"] = at
		}
		opts := options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"m.id": messageID, "m.status": from}},
		})
		res, err := s.coll.UpdateOne(ctx, bson.M{"messages.id": messageID}, bson.M{"$set": set}, opts)
		if err != nil {
			return changed, err
		}
		if res.ModifiedCount > 0 {
			changed = true
		}
	}
	return changed, nil
}

func (s *MongoStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var conv domain.Conversation
	err := s.coll.FindOne(ctx,
		bson.M{"messages.id": messageID},
		options.FindOne().SetProjection(bson.M{"messages.$": 1}),
	).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && len(conv.Messages) == 0) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv.Messages[0], nil
}

func (s *MongoStore) FindConversation(ctx context.Context, a, b string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.coll.FindOne(ctx, bson.M{"conversationId": domain.ConversationKey(a, b)}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return emptyConversation(a, b), nil
	}
	if err != nil {
		return nil, err
	}
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	return &conv, nil
}

type summaryDoc struct {
	ConversationID string          `bson:"conversationId"`
	Participants   []string        `bson:"participants"`
	UpdatedAt      time.Time       `bson:"updatedAt"`
	MessageCount   int             `bson:"messageCount"`
	LastMessage    *domain.Message `bson:"lastMessage"`
}

func (s *MongoStore) ListConversations(ctx context.Context, user string) ([]domain.ConversationSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"participants": user}}},
		{{Key: "$sort", Value: bson.M{"updatedAt": -1}}},
		{{Key: "$project", Value: bson.M{
			"conversationId": 1,
			"participants":   1,
			"updatedAt":      1,
			"messageCount":   bson.M{"$size": "$messages"},
			"lastMessage":    bson.M{"$arrayElemAt": bson.A{"$messages", -1}},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.ConversationSummary{}
	for cur.Next(ctx) {
		var d summaryDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, domain.ConversationSummary{
			ConversationID: d.ConversationID,
			Peer:           domain.Peer(d.Participants, user),
			Participants:   d.Participants,
			LastMessage:    d.LastMessage,
			MessageCount:   d.MessageCount,
			UpdatedAt:      d.UpdatedAt,
		})
	}
	return out, cur.Err()
}

type receiptDoc struct {
	ID        string   `bson:"_id"`
	Recipient string   `bson:"recipient"`
	Sender    string   `bson:"sender"`
	IDs       []string `bson:"ids"`
}

type MongoReceipts struct {
	coll *mongo.Collection
}

func NewMongoReceipts(db *mongo.Database) *MongoReceipts {
	return &MongoReceipts{coll: db.Collection("unseen_receipts")}
}

func receiptKey(recipient, sender string) string { return recipient + "|" + sender }

func (r *MongoReceipts) AddUnseen(ctx context.Context, recipient, sender string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": receiptKey(recipient, sender)},
		bson.M{
			"$addToSet":    bson.M{"ids": bson.M{"$each": ids}},
			"$setOnInsert": bson.M{"recipient": recipient, "sender": sender},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *MongoReceipts) Unseen(ctx context.Context, recipient, sender string) ([]string, error) {
	var d receiptDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": receiptKey(recipient, sender)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return nonNil(d.IDs), nil
}

func (r *MongoReceipts) TakeUnseen(ctx context.Context, recipient, sender string) ([]string, error) {
	var d receiptDoc
	err := r.coll.FindOneAndDelete(ctx, bson.M{"_id": receiptKey(recipient, sender)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return nonNil(d.IDs), nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
