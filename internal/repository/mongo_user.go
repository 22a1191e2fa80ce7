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

// usernames compare case-insensitively: strength 2 ignores case, not accents
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

type MongoUserRepo struct {
	col     *mongo.Collection
	timeout time.Duration
}

func NewMongoUserRepo(ctx context.Context, db *mongo.Database, collection string, timeout time.Duration) (*MongoUserRepo, error) {
	col := db.Collection(collection)
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetName("username_ci_uniq").SetUnique(true).SetCollation(caseInsensitive),
	})
	if err != nil {
		return nil, fmt.Errorf("create user index: %w", err)
	}
	return &MongoUserRepo{col: col, timeout: timeout}, nil
}

func (r *MongoUserRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var u domain.User
	opts := options.FindOne().SetCollation(caseInsensitive)
	if err := r.col.FindOne(ctx, bson.M{"username": username}, opts).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if u.Unread == nil {
		u.Unread = []string{}
	}
	if u.Chats == nil {
		u.Chats = []string{}
	}
	return &u, nil
}

func (r *MongoUserRepo) Insert(ctx context.Context, u *domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// null arrays would make later $addToSet calls fail
	if u.Unread == nil {
		u.Unread = []string{}
	}
	if u.Chats == nil {
		u.Chats = []string{}
	}
	if _, err := r.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *MongoUserRepo) AddChat(ctx context.Context, username, conversationID string) error {
	return r.update(ctx, username, bson.M{"$addToSet": bson.M{"chats": conversationID}})
}

func (r *MongoUserRepo) AddUnread(ctx context.Context, username, conversationID string) error {
	return r.update(ctx, username, bson.M{"$addToSet": bson.M{"unread": conversationID}})
}

func (r *MongoUserRepo) RemoveUnread(ctx context.Context, username, conversationID string) error {
	return r.update(ctx, username, bson.M{"$pull": bson.M{"unread": conversationID}})
}

func (r *MongoUserRepo) update(ctx context.Context, username string, update bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := options.Update().SetCollation(caseInsensitive)
	res, err := r.col.UpdateOne(ctx, bson.M{"username": username}, update, opts)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
