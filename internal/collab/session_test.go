package collab

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, store Store, cfg SessionConfig) *DocumentSession {
	t.Helper()
	hub := NewHub(store, cfg, DefaultChatConfig())
	sess := newDocumentSession("doc-1", store, hub, cfg)
	require.NoError(t, sess.load(context.Background()))
	go sess.run()
	t.Cleanup(func() {
		select {
		case <-sess.done:
		default:
			close(sess.done)
		}
	})
	return sess
}

func recvEnvelope(t *testing.T, m *Member, timeout time.Duration) Envelope {
	t.Helper()
	select {
	case data := <-m.Outbox():
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(timeout):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestSession_JoinSendsDocumentState(t *testing.T) {
	sess := newTestSession(t, newFakeStore(), testConfig())

	m := NewMember("conn-1", "user-1", "Alice", AccessEdit, 16)
	require.NoError(t, sess.Join(context.Background(), m))

	env := recvEnvelope(t, m, time.Second)
	assert.Equal(t, TypeDocumentState, env.Type)

	var payload DocumentStatePayload
	require.NoError(t, env.UnmarshalPayload(&payload))
	assert.Equal(t, "Alice", payload.Users[0].DisplayName)
}

func TestSession_AcceptedOpAppliesAndAcks(t *testing.T) {
	sess := newTestSession(t, newFakeStore(), testConfig())

	m := NewMember("conn-1", "user-1", "Alice", AccessEdit, 16)
	require.NoError(t, sess.Join(context.Background(), m))
	recvEnvelope(t, m, time.Second) // document-state

	sess.SubmitOp("conn-1", Operation{Kind: OpInsert, Position: 0, Text: "hi", ClientOpID: "op-1"})

	env := recvEnvelope(t, m, time.Second)
	require.Equal(t, TypeAck, env.Type)

	var ack AckPayload
	require.NoError(t, env.UnmarshalPayload(&ack))
	assert.Equal(t, "op-1", ack.ClientOpID)
	assert.Equal(t, 1, ack.ServerVersion)
}

func TestSession_ViewOnlyMemberCannotEdit(t *testing.T) {
	sess := newTestSession(t, newFakeStore(), testConfig())

	m := NewMember("conn-1", "user-1", "Viewer", AccessView, 16)
	require.NoError(t, sess.Join(context.Background(), m))
	recvEnvelope(t, m, time.Second) // document-state

	sess.SubmitOp("conn-1", Operation{Kind: OpInsert, Position: 0, Text: "hi", ClientOpID: "op-1"})

	env := recvEnvelope(t, m, time.Second)
	require.Equal(t, TypeError, env.Type)

	var errPayload ErrorPayload
	require.NoError(t, env.UnmarshalPayload(&errPayload))
	assert.Equal(t, ErrCodeReadOnly, errPayload.Code)
}

// TestSession_ConcurrentOpsConverge is spec.md §8 scenario 1 end to end:
// two editors submit concurrent inserts at the same position against the
// same baseVersion; both must be accepted into one version sequence: bob
// sees alice's remote-op before his own ack, and alice receives bob's op as
// version 2.
func TestSession_ConcurrentOpsConverge(t *testing.T) {
	sess := newTestSession(t, newFakeStore(), testConfig())

	alice := NewMember("alice-conn", "alice", "Alice", AccessEdit, 16)
	bob := NewMember("bob-conn", "bob", "Bob", AccessEdit, 16)
	require.NoError(t, sess.Join(context.Background(), alice))
	recvEnvelope(t, alice, time.Second)
	require.NoError(t, sess.Join(context.Background(), bob))
	recvEnvelope(t, alice, time.Second) // user-joined for bob
	recvEnvelope(t, bob, time.Second)   // document-state

	sess.SubmitOp("alice-conn", Operation{Kind: OpInsert, Position: 0, Text: "A", BaseVersion: 0, ClientOpID: "a1"})
	ackA := recvEnvelope(t, alice, time.Second)
	require.Equal(t, TypeAck, ackA.Type)

	sess.SubmitOp("bob-conn", Operation{Kind: OpInsert, Position: 0, Text: "B", BaseVersion: 0, ClientOpID: "b1"})

	// bob sees alice's remote op broadcast before his own ack, since his
	// submission landed after alice's in the dispatcher's FIFO order
	remoteA := recvEnvelope(t, bob, time.Second)
	require.Equal(t, TypeRemoteOp, remoteA.Type)

	ackB := recvEnvelope(t, bob, time.Second)
	require.Equal(t, TypeAck, ackB.Type)

	remoteB := recvEnvelope(t, alice, time.Second)
	require.Equal(t, TypeRemoteOp, remoteB.Type)

	var remoteOpB RemoteOpPayload
	require.NoError(t, remoteB.UnmarshalPayload(&remoteOpB))
	assert.Equal(t, 2, remoteOpB.Version)
}

// TestSession_DeleteSplitByConcurrentInsertPreservesSurvivor covers spec.md
// §8 scenario 2 end to end through the real dispatcher: a delete submitted
// concurrently with (and unaware of) an insert that landed inside its range
// must come out the other side as two ops flanking the survivor, not one
// op that also erases it.
func TestSession_DeleteSplitByConcurrentInsertPreservesSurvivor(t *testing.T) {
	sess := newTestSession(t, newFakeStore(), testConfig())

	alice := NewMember("alice-conn", "alice", "Alice", AccessEdit, 16)
	bob := NewMember("bob-conn", "bob", "Bob", AccessEdit, 16)
	observer := NewMember("observer-conn", "observer", "Observer", AccessEdit, 16)
	require.NoError(t, sess.Join(context.Background(), alice))
	recvEnvelope(t, alice, time.Second) // document-state
	require.NoError(t, sess.Join(context.Background(), bob))
	recvEnvelope(t, alice, time.Second) // user-joined for bob
	recvEnvelope(t, bob, time.Second)   // document-state
	require.NoError(t, sess.Join(context.Background(), observer))
	recvEnvelope(t, alice, time.Second)    // user-joined for observer
	recvEnvelope(t, bob, time.Second)      // user-joined for observer
	recvEnvelope(t, observer, time.Second) // document-state

	sess.SubmitOp("alice-conn", Operation{Kind: OpInsert, Position: 0, Text: "hello world", BaseVersion: 0, ClientOpID: "seed"})
	recvEnvelope(t, alice, time.Second)    // ack
	recvEnvelope(t, bob, time.Second)      // remote-op
	recvEnvelope(t, observer, time.Second) // remote-op

	// bob inserts into the middle of "hello world", based on version 1
	sess.SubmitOp("bob-conn", Operation{Kind: OpInsert, Position: 5, Text: "!!!", BaseVersion: 1, ClientOpID: "b1"})
	recvEnvelope(t, bob, time.Second)       // ack
	recvEnvelope(t, alice, time.Second)     // remote-op
	recvEnvelope(t, observer, time.Second) // remote-op

	// alice deletes the whole original document, also based on version 1 -
	// she never saw bob's insert land
	sess.SubmitOp("alice-conn", Operation{Kind: OpDelete, Position: 0, Length: 11, BaseVersion: 1, ClientOpID: "a1"})

	ack := recvEnvelope(t, alice, time.Second)
	require.Equal(t, TypeAck, ack.Type)
	var ackPayload AckPayload
	require.NoError(t, ack.UnmarshalPayload(&ackPayload))
	assert.Equal(t, "a1", ackPayload.ClientOpID)
	assert.Equal(t, 4, ackPayload.ServerVersion, "seed insert + bob's insert + alice's delete split into two ops")

	// the split reaches other members as two remote-op messages - the
	// right-hand span (past bob's insert) first, then the left-hand span
	remote1 := recvEnvelope(t, observer, time.Second)
	require.Equal(t, TypeRemoteOp, remote1.Type)
	var payload1 RemoteOpPayload
	require.NoError(t, remote1.UnmarshalPayload(&payload1))
	assert.Equal(t, OpDelete, payload1.Kind)
	assert.Equal(t, 8, payload1.Position)
	assert.Equal(t, 6, payload1.Length)

	remote2 := recvEnvelope(t, observer, time.Second)
	require.Equal(t, TypeRemoteOp, remote2.Type)
	var payload2 RemoteOpPayload
	require.NoError(t, remote2.UnmarshalPayload(&payload2))
	assert.Equal(t, OpDelete, payload2.Kind)
	assert.Equal(t, 0, payload2.Position)
	assert.Equal(t, 5, payload2.Length)

	view, err := sess.readState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "!!!", view.content, "bob's insert must survive alice's concurrent whole-document delete")
}

func TestSession_FutureBaseVersionRejected(t *testing.T) {
	sess := newTestSession(t, newFakeStore(), testConfig())

	m := NewMember("conn-1", "user-1", "Alice", AccessEdit, 16)
	require.NoError(t, sess.Join(context.Background(), m))
	recvEnvelope(t, m, time.Second)

	sess.SubmitOp("conn-1", Operation{Kind: OpInsert, Position: 0, Text: "x", BaseVersion: 99, ClientOpID: "op-1"})

	env := recvEnvelope(t, m, time.Second)
	require.Equal(t, TypeError, env.Type)
	var errPayload ErrorPayload
	require.NoError(t, env.UnmarshalPayload(&errPayload))
	assert.Equal(t, ErrCodeFutureOp, errPayload.Code)
}

// TestSession_SlowConsumerEvicted covers spec.md §4.3.7: a member whose
// outbox is full gets its socket closed rather than blocking the dispatcher.
func TestSession_SlowConsumerEvicted(t *testing.T) {
	sess := newTestSession(t, newFakeStore(), testConfig())

	slow := NewMember("slow-conn", "slow-user", "Slow", AccessEdit, 1)
	require.NoError(t, sess.Join(context.Background(), slow))
	// don't drain slow's outbox - the single buffered document-state frame
	// is already sitting there

	fast := NewMember("fast-conn", "fast-user", "Fast", AccessEdit, 16)
	go func() {
		for range fast.Outbox() {
		}
	}()
	require.NoError(t, sess.Join(context.Background(), fast))

	// fast's join already broadcast user-joined to slow while its outbox was
	// full, which evicts slow; this op is not what triggers the eviction
	sess.SubmitOp("fast-conn", Operation{Kind: OpInsert, Position: 0, Text: "x", ClientOpID: "op-1"})

	select {
	case code := <-slow.CloseSignal():
		assert.Equal(t, 1011, code)
	case <-time.After(time.Second):
		t.Fatal("expected slow consumer to be evicted")
	}
}

func TestSession_PersistTickSavesSnapshot(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	sess := newTestSession(t, store, cfg)

	m := NewMember("conn-1", "user-1", "Alice", AccessEdit, 16)
	require.NoError(t, sess.Join(context.Background(), m))
	recvEnvelope(t, m, time.Second)

	sess.SubmitOp("conn-1", Operation{Kind: OpInsert, Position: 0, Text: "persisted", ClientOpID: "op-1"})
	recvEnvelope(t, m, time.Second) // ack

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.snapshots["doc-1"].Content == "persisted"
	}, time.Second, 10*time.Millisecond, "periodic snapshot tick should persist the accepted op")
}
