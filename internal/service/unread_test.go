package service_test

import (
	"context"
	"testing"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/mocks"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func TestUnreadNotifier_MessageSent_Skips_Sender(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t)
	signaler := mocks.NewMockSignaler(ctrl)
	notifier := service.NewUnreadNotifier(f.store, signaler, zap.NewNop().Sugar())
	conv := &domain.Conversation{ID: "c1", Users: []string{"alice", "bob"}}

	signaler.EXPECT().UnreadChanged("bob").Times(1)

	req.NoError(notifier.MessageSent(ctx, conv, "ALICE"))
	req.Equal([]string{"c1"}, f.user(t, "bob").Unread)
	req.Empty(f.user(t, "alice").Unread)
}

func TestUnreadNotifier_MessageSent_Unknown_Recipient(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	conv := &domain.Conversation{ID: "c1", Users: []string{"alice", "ghost"}}

	err := f.unread.MessageSent(context.Background(), conv, "alice")

	req.ErrorIs(err, domain.ErrNotFound)
	req.Empty(f.signals.Signalled())
}

func TestUnreadNotifier_MarkRead(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	// Given bob has c1 unread
	req.NoError(f.store.AddUnread(ctx, "bob", "c1"))
	req.NoError(f.store.AddUnread(ctx, "bob", "c2"))

	// When bob reads c1, twice
	req.NoError(f.unread.MarkRead(ctx, "c1", "bob"))
	req.NoError(f.unread.MarkRead(ctx, "c1", "Bob"))

	// Then only c2 remains
	unread, err := f.unread.Unread(ctx, "bob")
	req.NoError(err)
	req.Equal([]string{"c2"}, unread)
	req.Equal([]string{"bob", "Bob"}, f.signals.Signalled())

	req.ErrorIs(f.unread.MarkRead(ctx, "", "bob"), domain.ErrValidation)
	req.ErrorIs(f.unread.MarkRead(ctx, "c1", "ghost"), domain.ErrNotFound)
}

func TestUnreadNotifier_Without_Signaler(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	notifier := service.NewUnreadNotifier(f.store, nil, zap.NewNop().Sugar())

	req.NoError(notifier.MarkRead(context.Background(), "c1", "bob"))
}
