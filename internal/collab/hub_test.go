package collab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.SnapshotInterval = 50 * time.Millisecond
	cfg.GracePeriod = 80 * time.Millisecond
	cfg.PresenceTimeout = time.Hour // keep presence sweeps out of the way
	return cfg
}

func drain(t *testing.T, m *Member) {
	t.Helper()
	go func() {
		for range m.Outbox() {
		}
	}()
}

func TestHub_AttachCreatesSessionOnFirstJoin(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, testConfig(), DefaultChatConfig())

	m := NewMember("conn-1", "user-1", "Alice", AccessEdit, 16)
	drain(t, m)

	sess, err := hub.Attach(context.Background(), "doc-1", m)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 1, hub.SessionCount())

	sess2, err := hub.Attach(context.Background(), "doc-1", NewMember("conn-2", "user-2", "Bob", AccessEdit, 16))
	require.NoError(t, err)
	assert.Same(t, sess, sess2, "second attach for the same doc reuses the live session")
	assert.Equal(t, 1, hub.SessionCount())
}

func TestHub_GracePeriodEvictsEmptySession(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	hub := NewHub(store, cfg, DefaultChatConfig())

	m := NewMember("conn-1", "user-1", "Alice", AccessEdit, 16)
	drain(t, m)

	sess, err := hub.Attach(context.Background(), "doc-1", m)
	require.NoError(t, err)
	require.Equal(t, 1, hub.SessionCount())

	sess.Leave("conn-1")

	require.Eventually(t, func() bool {
		return hub.SessionCount() == 0
	}, time.Second, 5*time.Millisecond, "session should be evicted after the grace period elapses")
}

func TestHub_ReconnectWithinGraceCancelsEviction(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.GracePeriod = 200 * time.Millisecond
	hub := NewHub(store, cfg, DefaultChatConfig())

	m1 := NewMember("conn-1", "user-1", "Alice", AccessEdit, 16)
	drain(t, m1)

	sess, err := hub.Attach(context.Background(), "doc-1", m1)
	require.NoError(t, err)

	sess.Leave("conn-1")

	// rejoin well before the grace period expires
	time.Sleep(30 * time.Millisecond)
	m2 := NewMember("conn-2", "user-1", "Alice", AccessEdit, 16)
	drain(t, m2)
	_, err = hub.Attach(context.Background(), "doc-1", m2)
	require.NoError(t, err)

	// the session must still be alive well past what the original grace
	// period would have allowed
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, hub.SessionCount(), "reconnect should have canceled the pending eviction")
}

func TestHub_ChatRoomLazyAndSharedPerDocument(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, testConfig(), DefaultChatConfig())

	r1 := hub.ChatRoom("doc-1", false)
	r2 := hub.ChatRoom("doc-1", false)
	assert.Same(t, r1, r2)

	r3 := hub.ChatRoom("doc-2", false)
	assert.NotSame(t, r1, r3)
}

func TestHub_ShutdownFlushesAndDrainsSessions(t *testing.T) {
	store := newFakeStore()
	hub := NewHub(store, testConfig(), DefaultChatConfig())

	m := NewMember("conn-1", "user-1", "Alice", AccessEdit, 16)
	drain(t, m)

	sess, err := hub.Attach(context.Background(), "doc-1", m)
	require.NoError(t, err)

	sess.SubmitOp("conn-1", Operation{Kind: OpInsert, Position: 0, Text: "hi", ClientOpID: "c1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hub.Shutdown(ctx)

	store.mu.Lock()
	snap := store.snapshots["doc-1"]
	store.mu.Unlock()
	assert.Equal(t, "hi", snap.Content, "shutdown must persist the final document content")
}
