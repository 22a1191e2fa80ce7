package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConversationRepo struct {
	col     *mongo.Collection
	timeout time.Duration
}

func NewMongoConversationRepo(ctx context.Context, db *mongo.Database, collection string, timeout time.Duration) (*MongoConversationRepo, error) {
	col := db.Collection(collection)
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			// legacy documents have no pair_key; keep them out of the unique index
			Options: options.Index().SetName("pair_key_uniq").SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "users", Value: 1}},
			Options: options.Index().SetName("users_idx"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation indexes: %w", err)
	}
	return &MongoConversationRepo{col: col, timeout: timeout}, nil
}

func (r *MongoConversationRepo) FindByPair(ctx context.Context, a, b string) (*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var conv domain.Conversation
	err := r.col.FindOne(ctx, bson.M{"pair_key": domain.NewPairKey(a, b)}).Decode(&conv)
	if err == nil {
		return normalize(&conv), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// records written before pair_key existed only carry the ordered users array
	legacy := bson.M{"pair_key": bson.M{"$exists": false}, "$or": []bson.M{
		{"users": []string{a, b}},
		{"users": []string{b, a}},
	}}
	if err := r.col.FindOne(ctx, legacy).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return normalize(&conv), nil
}

func (r *MongoConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	if conv.PairKey == "" && len(conv.Users) == 2 {
		conv.PairKey = domain.NewPairKey(conv.Users[0], conv.Users[1])
	}

	if _, err := r.col.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *MongoConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var conv domain.Conversation
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return normalize(&conv), nil
}

// Exists checks for the id without loading the history.
func (r *MongoConversationRepo) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MongoConversationRepo) ListByIDs(ctx context.Context, ids []string) ([]*domain.Conversation, error) {
	if len(ids) == 0 {
		return []*domain.Conversation{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*domain.Conversation{}
	for cur.Next(ctx) {
		var conv domain.Conversation
		if err := cur.Decode(&conv); err != nil {
			return nil, err
		}
		out = append(out, normalize(&conv))
	}
	return out, cur.Err()
}

// AppendMessage pushes one message; concurrent appends never overwrite each other.
func (r *MongoConversationRepo) AppendMessage(ctx context.Context, id string, m domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	res, err := r.col.UpdateByID(ctx, id, bson.M{
		"$push": bson.M{"messages": m},
		"$set":  bson.M{"updated_at": m.SentAt},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func normalize(c *domain.Conversation) *domain.Conversation {
	if c.Messages == nil {
		c.Messages = []domain.Message{}
	}
	if c.Users == nil {
		c.Users = []string{}
	}
	return c
}
