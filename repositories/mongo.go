package repositories

import (
	"context"
	"log/slog"
	"ringside/domain"
	"ringside/errors"
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	messageCollection = "direct_messages"
	counterCollection = "counters"
	messageCounterID  = "direct_messages"
)

type messageDocument struct {
	ID          int64     `bson:"_id"`
	SenderID    string    `bson:"sender_id"`
	RecipientID string    `bson:"recipient_id"`
	Body        string    `bson:"body"`
	CreatedAt   time.Time `bson:"created_at"`
}

type counterDocument struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// MongoMessageStore keeps messages in a collection, ids come from an atomic counter document.
type MongoMessageStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    *slog.Logger
}

// OpenMongoMessageStore connects, pings the primary and ensures the thread index.
func OpenMongoMessageStore(ctx context.Context, uri, database string, log *slog.Logger) (*MongoMessageStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.StoreUnavailable("connect mongo", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.StoreUnavailable("ping mongo", err)
	}

	store := NewMongoMessageStore(client.Database(database), log)
	_, err = store.db.Collection(messageCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "recipient_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.StoreUnavailable("create index", err)
	}
	return store, nil
}

// NewMongoMessageStore takes ownership of db's client: Close disconnects it.
func NewMongoMessageStore(db *mongo.Database, log *slog.Logger) *MongoMessageStore {
	return &MongoMessageStore{client: db.Client(), db: db, log: log}
}

func (s *MongoMessageStore) nextID(ctx context.Context) (int64, error) {
	var counter counterDocument
	err := s.db.Collection(counterCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": messageCounterID},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Seq, err
}

func (s *MongoMessageStore) Insert(ctx context.Context, sender, recipient domain.UserID, body string) (domain.Message, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return domain.Message{}, errors.StoreUnavailable("next id", err)
	}
	doc := messageDocument{
		ID:          id,
		SenderID:    string(sender),
		RecipientID: string(recipient),
		Body:        body,
		// BSON dates carry milliseconds only
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.db.Collection(messageCollection).InsertOne(ctx, doc); err != nil {
		return domain.Message{}, errors.StoreUnavailable("insert", err)
	}
	return doc.toDomain(), nil
}

func (s *MongoMessageStore) FetchThread(ctx context.Context, a, b domain.UserID) ([]domain.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": string(a), "recipient_id": string(b)},
		bson.M{"sender_id": string(b), "recipient_id": string(a)},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.db.Collection(messageCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.StoreUnavailable("fetch thread", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, errors.StoreUnavailable("decode thread", err)
	}
	messages := lo.Map(docs, func(d messageDocument, _ int) domain.Message { return d.toDomain() })
	domain.SortThread(messages)
	return messages, nil
}

func (s *MongoMessageStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d messageDocument) toDomain() domain.Message {
	return domain.Message{
		ID:          uint64(d.ID),
		SenderID:    domain.UserID(d.SenderID),
		RecipientID: domain.UserID(d.RecipientID),
		Body:        d.Body,
		CreatedAt:   d.CreatedAt.UTC(),
	}
}
