package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/fathima-sithara/messaging-service/internal/domain"
)

const (
	convNS = mtest.TestDb + ".conversations"
	userNS = mtest.TestDb + ".users"
)

var duplicateKey = mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"}

// Index creation is the first round trip of every constructor.
func newConvRepo(mt *mtest.T) *MongoConversationRepo {
	mt.AddMockResponses(mtest.CreateSuccessResponse())
	repo, err := NewMongoConversationRepo(context.Background(), mt.DB, "conversations", 2*time.Second)
	require.NoError(mt, err)
	mt.ClearEvents()
	return repo
}

func newUserRepo(mt *mtest.T) *MongoUserRepo {
	mt.AddMockResponses(mtest.CreateSuccessResponse())
	repo, err := NewMongoUserRepo(context.Background(), mt.DB, "users", 2*time.Second)
	require.NoError(mt, err)
	mt.ClearEvents()
	return repo
}

func TestMongoConversationRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("indexes pair_key as unique and sparse", func(mt *mtest.T) {
		req := require.New(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		_, err := NewMongoConversationRepo(ctx, mt.DB, "conversations", time.Second)
		req.NoError(err)

		cmd := mt.GetStartedEvent().Command
		indexes, err := cmd.Lookup("indexes").Array().Values()
		req.NoError(err)
		req.Len(indexes, 2)
		pair := indexes[0].Document()
		req.Equal("pair_key_uniq", pair.Lookup("name").StringValue())
		req.True(pair.Lookup("unique").Boolean())
		req.True(pair.Lookup("sparse").Boolean())
	})

	mt.Run("create maps duplicate pair to ErrDuplicate", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newConvRepo(mt)

		// Given the unique pair_key index already holds this pair
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(duplicateKey))

		// When
		conv := &domain.Conversation{ID: "c2", Users: []string{"Bob", "alice"}}
		err := repo.Create(ctx, conv)

		// Then
		req.ErrorIs(err, domain.ErrDuplicate)
		req.Equal("alice:bob", conv.PairKey)
		doc := mt.GetStartedEvent().Command.Lookup("documents").Array().Index(0).Value().Document()
		req.Equal("alice:bob", doc.Lookup("pair_key").StringValue())
	})

	mt.Run("find by pair falls back to legacy users array", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newConvRepo(mt)

		// Given a record written before pair_key existed
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, convNS, mtest.FirstBatch),
			mtest.CreateCursorResponse(0, convNS, mtest.FirstBatch, bson.D{
				{Key: "_id", Value: "legacy-1"},
				{Key: "users", Value: bson.A{"bob", "alice"}},
			}),
		)

		// When
		conv, err := repo.FindByPair(ctx, "alice", "bob")

		// Then the second query matched either order, skipping keyed records
		req.NoError(err)
		req.Equal("legacy-1", conv.ID)
		req.Equal([]string{"bob", "alice"}, conv.Users)
		req.NotNil(conv.Messages)

		events := mt.GetAllStartedEvents()
		req.Len(events, 2)
		first := events[0].Command.Lookup("filter").Document()
		req.Equal("alice:bob", first.Lookup("pair_key").StringValue())
		legacy := events[1].Command.Lookup("filter").Document()
		or, err := legacy.Lookup("$or").Array().Values()
		req.NoError(err)
		req.Len(or, 2)
		req.False(legacy.Lookup("pair_key", "$exists").Boolean())
	})

	mt.Run("find by pair reports not found after both queries", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newConvRepo(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, convNS, mtest.FirstBatch),
			mtest.CreateCursorResponse(0, convNS, mtest.FirstBatch),
		)

		_, err := repo.FindByPair(ctx, "alice", "carol")

		req.ErrorIs(err, domain.ErrNotFound)
		req.Len(mt.GetAllStartedEvents(), 2)
	})

	mt.Run("get by id maps no documents to ErrNotFound", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newConvRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, convNS, mtest.FirstBatch))

		_, err := repo.GetByID(ctx, "missing")

		req.ErrorIs(err, domain.ErrNotFound)
	})

	mt.Run("exists counts without loading history", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newConvRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, convNS, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(1)}}))

		ok, err := repo.Exists(ctx, "c1")

		req.NoError(err)
		req.True(ok)
		req.Equal("aggregate", mt.GetStartedEvent().CommandName)
	})

	mt.Run("append to unknown conversation is ErrNotFound", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newConvRepo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := repo.AppendMessage(ctx, "missing", domain.Message{Sender: "alice", Body: "hi"})

		req.ErrorIs(err, domain.ErrNotFound)
		update := mt.GetStartedEvent().Command.Lookup("updates").Array().Index(0).Value().Document()
		u := update.Lookup("u").Document()
		req.Equal("alice", u.Lookup("$push", "messages", "sender").StringValue())
		req.Equal(bson.TypeDateTime, u.Lookup("$set", "updated_at").Type)
	})
}

func TestMongoUserRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("username index is case insensitive", func(mt *mtest.T) {
		req := require.New(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		_, err := NewMongoUserRepo(ctx, mt.DB, "users", time.Second)
		req.NoError(err)

		idx := mt.GetStartedEvent().Command.Lookup("indexes").Array().Index(0).Value().Document()
		req.True(idx.Lookup("unique").Boolean())
		req.Equal("en", idx.Lookup("collation", "locale").StringValue())
		req.EqualValues(2, idx.Lookup("collation", "strength").Int32())
	})

	mt.Run("find by username uses the collation", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newUserRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, userNS, mtest.FirstBatch, bson.D{
			{Key: "username", Value: "Bob"},
		}))

		// When looked up with another case
		u, err := repo.FindByUsername(ctx, "bob")

		// Then the stored spelling comes back with empty, not nil, sets
		req.NoError(err)
		req.Equal("Bob", u.Username)
		req.NotNil(u.Unread)
		req.NotNil(u.Chats)
		cmd := mt.GetStartedEvent().Command
		req.Equal("en", cmd.Lookup("collation", "locale").StringValue())
		req.EqualValues(2, cmd.Lookup("collation", "strength").Int32())
	})

	mt.Run("find unknown username is ErrNotFound", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newUserRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, userNS, mtest.FirstBatch))

		_, err := repo.FindByUsername(ctx, "nobody")

		req.ErrorIs(err, domain.ErrNotFound)
	})

	mt.Run("insert duplicate username is ErrDuplicate", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newUserRepo(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(duplicateKey))

		err := repo.Insert(ctx, &domain.User{Username: "ALICE"})

		req.ErrorIs(err, domain.ErrDuplicate)
	})

	mt.Run("insert writes empty sets", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newUserRepo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		req.NoError(repo.Insert(ctx, &domain.User{Username: "dave"}))

		doc := mt.GetStartedEvent().Command.Lookup("documents").Array().Index(0).Value().Document()
		req.Equal(bson.TypeArray, doc.Lookup("unread").Type)
		req.Equal(bson.TypeArray, doc.Lookup("chats").Type)
	})

	mt.Run("add unread for unknown user is ErrNotFound", func(mt *mtest.T) {
		req := require.New(mt)
		repo := newUserRepo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := repo.AddUnread(ctx, "ghost", "c1")

		req.ErrorIs(err, domain.ErrNotFound)
		update := mt.GetStartedEvent().Command.Lookup("updates").Array().Index(0).Value().Document()
		req.Equal("en", update.Lookup("collation", "locale").StringValue())
		req.Equal("c1", update.Lookup("u", "$addToSet", "unread").StringValue())
	})
}
