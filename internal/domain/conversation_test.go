package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPairKey_Is_Order_And_Case_Free(t *testing.T) {
	req := require.New(t)

	req.Equal(NewPairKey("alice", "bob"), NewPairKey("bob", "alice"))
	req.Equal(NewPairKey("Alice", "BOB"), NewPairKey("bob", "alice"))
	req.NotEqual(NewPairKey("alice", "bob"), NewPairKey("alice", "carol"))
}

func TestConversation_Other(t *testing.T) {
	req := require.New(t)
	conv := &Conversation{Users: []string{"alice", "bob"}}

	req.Equal("bob", conv.Other("alice"))
	req.Equal("alice", conv.Other("BOB"))
	req.Equal("", conv.Other("carol"))
	req.True(conv.HasParticipant("Alice"))
	req.False(conv.HasParticipant("carol"))
}

func TestConversation_LastMessage(t *testing.T) {
	req := require.New(t)
	conv := &Conversation{Users: []string{"alice", "bob"}}

	_, ok := conv.LastMessage()
	req.False(ok)

	conv.Messages = []Message{{Sender: "alice", Body: "hi"}, {Sender: "bob", Body: "hey"}}
	last, ok := conv.LastMessage()
	req.True(ok)
	req.Equal("hey", last.Body)
}

func TestAccessDeniedError_Is_ErrAccessDenied(t *testing.T) {
	req := require.New(t)
	var err error = &AccessDeniedError{Reason: "demo-account", Message: "nope"}

	req.ErrorIs(err, ErrAccessDenied)
	var denied *AccessDeniedError
	req.ErrorAs(err, &denied)
	req.Equal("demo-account", denied.Reason)
}
