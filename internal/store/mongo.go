package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// chatDocument is the persisted shape of one conversation:
// {sessionId, userId, messages: [...]}.
type chatDocument struct {
	SessionID string            `bson:"sessionId"`
	UserID    string            `bson:"userId"`
	Messages  []*domain.Message `bson:"messages"`
	NextSeq   int64             `bson:"nextSeq"`
	CreatedAt time.Time         `bson:"createdAt"`
	UpdatedAt time.Time         `bson:"updatedAt"`
}

// MongoLog implements MessageLog with one document per session.
type MongoLog struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ MessageLog = (*MongoLog)(nil)

// NewMongoLog connects to MongoDB and prepares the collection.
func NewMongoLog(ctx context.Context, uri, database, collection string) (*MongoLog, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"sessionId": 1},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create session index: %w", err)
	}

	return &MongoLog{client: client, coll: coll}, nil
}

// Ping verifies connectivity.
func (m *MongoLog) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *MongoLog) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// AppendMessages reserves sequence numbers, then pushes the messages.
func (m *MongoLog) AppendMessages(ctx context.Context, sessionID, userID string, msgs ...*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now()

	var reserved chatDocument
	err := m.coll.FindOneAndUpdate(ctx,
		bson.M{"sessionId": sessionID},
		bson.M{
			"$inc":         bson.M{"nextSeq": int64(len(msgs))},
			"$setOnInsert": bson.M{"userId": userID, "createdAt": now, "messages": bson.A{}},
		},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After).
			SetProjection(bson.M{"nextSeq": 1}),
	).Decode(&reserved)
	if err != nil {
		return fmt.Errorf("reserve message sequence: %w", err)
	}

	first := reserved.NextSeq - int64(len(msgs)) + 1
	docs := make(bson.A, len(msgs))
	for i, msg := range msgs {
		msg.ID = first + int64(i)
		docs[i] = msg
	}

	_, err = m.coll.UpdateOne(ctx,
		bson.M{"sessionId": sessionID},
		bson.M{
			"$push": bson.M{"messages": bson.M{"$each": docs}},
			"$set":  bson.M{"updatedAt": now},
		},
	)
	if err != nil {
		return fmt.Errorf("push messages: %w", err)
	}
	return nil
}

func (m *MongoLog) findMessages(ctx context.Context, sessionID string, messages any) ([]*domain.Message, error) {
	cursor, err := m.coll.Aggregate(ctx, []bson.M{
		{"$match": bson.M{"sessionId": sessionID}},
		{"$project": bson.M{"messages": messages}},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate messages: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []chatDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0].Messages, nil
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (m *MongoLog) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	return m.findMessages(ctx, sessionID, bson.M{"$slice": bson.A{"$messages", -limit}})
}

// MessagesAfter pages through the log by sequence number.
func (m *MongoLog) MessagesAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]*domain.Message, error) {
	filtered := bson.M{"$filter": bson.M{
		"input": "$messages",
		"cond":  bson.M{"$gt": bson.A{"$$this.seq", afterID}},
	}}
	return m.findMessages(ctx, sessionID, bson.M{"$slice": bson.A{filtered, limit}})
}

// SearchMessages returns messages containing query.
func (m *MongoLog) SearchMessages(ctx context.Context, sessionID, query string, limit int) ([]*domain.Message, error) {
	filtered := bson.M{"$filter": bson.M{
		"input": "$messages",
		"cond": bson.M{"$regexMatch": bson.M{
			"input":   "$$this.text",
			"regex":   regexp.QuoteMeta(query),
			"options": "i",
		}},
	}}
	return m.findMessages(ctx, sessionID, bson.M{"$slice": bson.A{filtered, limit}})
}

// DeleteMessages removes a session's document.
func (m *MongoLog) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	var doc chatDocument
	err := m.coll.FindOneAndDelete(ctx, bson.M{"sessionId": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("delete session document: %w", err)
	}
	return int64(len(doc.Messages)), nil
}

// SessionStats summarizes a session's log.
func (m *MongoLog) SessionStats(ctx context.Context, sessionID string) (*domain.ConversationStats, error) {
	cursor, err := m.coll.Aggregate(ctx, []bson.M{
		{"$match": bson.M{"sessionId": sessionID}},
		{"$project": bson.M{
			"count": bson.M{"$size": "$messages"},
			"first": bson.M{"$arrayElemAt": bson.A{"$messages.timestamp", 0}},
			"last":  bson.M{"$arrayElemAt": bson.A{"$messages.timestamp", -1}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	stats := &domain.ConversationStats{SessionID: sessionID}
	if cursor.Next(ctx) {
		var row struct {
			Count int       `bson:"count"`
			First time.Time `bson:"first"`
			Last  time.Time `bson:"last"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
		stats.MessageCount = row.Count
		stats.FirstMessage = row.First
		stats.LastMessage = row.Last
	}
	return stats, cursor.Err()
}

// DeleteMessagesBefore pulls old messages and drops emptied documents.
// The count is the number of session documents modified.
func (m *MongoLog) DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := m.coll.UpdateMany(ctx,
		bson.M{"messages.timestamp": bson.M{"$lt": before}},
		bson.M{"$pull": bson.M{"messages": bson.M{"timestamp": bson.M{"$lt": before}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("pull old messages: %w", err)
	}
	if _, err := m.coll.DeleteMany(ctx, bson.M{"messages": bson.M{"$size": 0}}); err != nil {
		return result.ModifiedCount, fmt.Errorf("delete empty session documents: %w", err)
	}
	return result.ModifiedCount, nil
}
