package collab

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChatConfig() ChatConfig {
	cfg := DefaultChatConfig()
	cfg.SendLimit = 2
	cfg.SendWindow = time.Minute
	cfg.ReactLimit = 2
	cfg.ReactWindow = time.Minute
	cfg.TypingExpiry = 60 * time.Millisecond
	return cfg
}

func newTestChatRoom(t *testing.T, cfg ChatConfig) *ChatRoom {
	t.Helper()
	room := newChatRoom("room-1", cfg, false)
	go room.run()
	t.Cleanup(room.shutdown)
	return room
}

func recvChatEnvelope(t *testing.T, m *Member, timeout time.Duration) Envelope {
	t.Helper()
	select {
	case data := <-m.Outbox():
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(timeout):
		t.Fatal("timed out waiting for chat envelope")
		return Envelope{}
	}
}

func TestChatRoom_SendBroadcastsToAllAndEchoesClientID(t *testing.T) {
	room := newTestChatRoom(t, testChatConfig())

	alice := NewMember("alice-conn", "alice", "Alice", AccessEdit, 16)
	bob := NewMember("bob-conn", "bob", "Bob", AccessEdit, 16)
	room.Join(alice)
	room.Join(bob)

	room.Send("alice-conn", ChatSendPayload{Content: "hello", ClientID: "local-1"})

	env := recvChatEnvelope(t, bob, time.Second)
	assert.Equal(t, TypeChatMessage, env.Type)

	var payload ChatMessagePayload
	require.NoError(t, env.UnmarshalPayload(&payload))
	assert.Equal(t, "hello", payload.Content)
	assert.NotEmpty(t, payload.ID)

	// the sender gets its own message back, carrying its clientId so the
	// optimistic local copy can be matched to the server-stamped one
	echo := recvChatEnvelope(t, alice, time.Second)
	assert.Equal(t, TypeChatMessage, echo.Type)

	var echoPayload ChatMessagePayload
	require.NoError(t, echo.UnmarshalPayload(&echoPayload))
	assert.Equal(t, "local-1", echoPayload.ClientID)
	assert.Equal(t, payload.ID, echoPayload.ID)
}

func TestChatRoom_ReactionTogglesOnRepeatedEmoji(t *testing.T) {
	room := newTestChatRoom(t, testChatConfig())

	alice := NewMember("alice-conn", "alice", "Alice", AccessEdit, 16)
	bob := NewMember("bob-conn", "bob", "Bob", AccessEdit, 16)
	room.Join(alice)
	room.Join(bob)

	room.Send("alice-conn", ChatSendPayload{Content: "react to me"})
	sent := recvChatEnvelope(t, bob, time.Second)
	var msg ChatMessagePayload
	require.NoError(t, sent.UnmarshalPayload(&msg))

	room.React("bob-conn", ChatReactPayload{MessageID: msg.ID, Emoji: "👍"})
	first := recvChatEnvelope(t, alice, time.Second)
	var firstReaction ChatReactionPayload
	require.NoError(t, first.UnmarshalPayload(&firstReaction))
	assert.True(t, firstReaction.Added)

	room.React("bob-conn", ChatReactPayload{MessageID: msg.ID, Emoji: "👍"})
	second := recvChatEnvelope(t, alice, time.Second)
	var secondReaction ChatReactionPayload
	require.NoError(t, second.UnmarshalPayload(&secondReaction))
	assert.False(t, secondReaction.Added, "reacting twice with the same emoji should toggle it off")
}

func TestChatRoom_SendRateLimited(t *testing.T) {
	cfg := testChatConfig()
	room := newTestChatRoom(t, cfg)

	alice := NewMember("alice-conn", "alice", "Alice", AccessEdit, 16)
	bob := NewMember("bob-conn", "bob", "Bob", AccessEdit, 16)
	room.Join(alice)
	room.Join(bob)

	for i := 0; i < cfg.SendLimit; i++ {
		room.Send("alice-conn", ChatSendPayload{Content: "msg"})
		recvChatEnvelope(t, bob, time.Second)
		recvChatEnvelope(t, alice, time.Second) // sender's own echo
	}

	// the limit'th+1 send should be rejected with a rate_limited error back
	// to the sender, not broadcast to anyone else
	room.Send("alice-conn", ChatSendPayload{Content: "one too many"})
	env := recvChatEnvelope(t, alice, time.Second)
	assert.Equal(t, TypeError, env.Type)

	var errPayload ErrorPayload
	require.NoError(t, env.UnmarshalPayload(&errPayload))
	assert.Equal(t, ErrCodeRateLimited, errPayload.Code)
	require.NotNil(t, errPayload.RetryAfter)
}

func TestChatRoom_MessageTooLongRejected(t *testing.T) {
	cfg := testChatConfig()
	cfg.MaxMessageLength = 5
	room := newTestChatRoom(t, cfg)

	alice := NewMember("alice-conn", "alice", "Alice", AccessEdit, 16)
	room.Join(alice)

	room.Send("alice-conn", ChatSendPayload{Content: "way too long for the limit"})

	env := recvChatEnvelope(t, alice, time.Second)
	require.Equal(t, TypeError, env.Type)
	var errPayload ErrorPayload
	require.NoError(t, env.UnmarshalPayload(&errPayload))
	assert.Equal(t, ErrCodeTooLong, errPayload.Code)
}

func TestChatRoom_TypingExpiresAutomatically(t *testing.T) {
	cfg := testChatConfig()
	room := newTestChatRoom(t, cfg)

	alice := NewMember("alice-conn", "alice", "Alice", AccessEdit, 16)
	bob := NewMember("bob-conn", "bob", "Bob", AccessEdit, 16)
	room.Join(alice)
	room.Join(bob)

	room.Typing("alice-conn", true)
	started := recvChatEnvelope(t, bob, time.Second)
	var startPayload ChatTypingBroadcastPayload
	require.NoError(t, started.UnmarshalPayload(&startPayload))
	assert.True(t, startPayload.IsTyping)

	// the 1s expiry ticker plus cfg.TypingExpiry (60ms) means this should
	// auto-clear well within a couple seconds without an explicit stop event
	stopped := recvChatEnvelope(t, bob, 3*time.Second)
	var stopPayload ChatTypingBroadcastPayload
	require.NoError(t, stopped.UnmarshalPayload(&stopPayload))
	assert.False(t, stopPayload.IsTyping)
}

func TestChatRoom_ReactionCapAtMaxDistinctEmojis(t *testing.T) {
	cfg := testChatConfig()
	cfg.MaxReactions = 1
	cfg.ReactLimit = 10
	room := newTestChatRoom(t, cfg)

	alice := NewMember("alice-conn", "alice", "Alice", AccessEdit, 16)
	bob := NewMember("bob-conn", "bob", "Bob", AccessEdit, 16)
	room.Join(alice)
	room.Join(bob)

	room.Send("alice-conn", ChatSendPayload{Content: "cap me"})
	sent := recvChatEnvelope(t, bob, time.Second)
	var msg ChatMessagePayload
	require.NoError(t, sent.UnmarshalPayload(&msg))
	recvChatEnvelope(t, alice, time.Second) // alice's own echo of the message

	room.React("bob-conn", ChatReactPayload{MessageID: msg.ID, Emoji: "👍"})
	recvChatEnvelope(t, alice, time.Second)

	// a second distinct emoji beyond MaxReactions=1 is silently dropped -
	// no broadcast should follow
	room.React("bob-conn", ChatReactPayload{MessageID: msg.ID, Emoji: "🎉"})

	select {
	case data := <-alice.Outbox():
		t.Fatalf("expected no broadcast for a reaction beyond the distinct-emoji cap, got %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}
