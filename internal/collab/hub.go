package collab

import (
	"context"
	"sync"
	"time"

	"github.com/codeloom/collab-server/internal/logger"
)

// Hub owns the registry of live DocumentSessions (C2, spec.md §4.2). The
// map is the only cross-session shared state in the process; everything
// else lives inside a single DocumentSession's dispatcher goroutine.
type Hub struct {
	mu          sync.Mutex
	sessions    map[string]*DocumentSession
	graceTimers map[string]*time.Timer
	chatRooms   map[string]*ChatRoom

	store    Store
	cfg      SessionConfig
	chatCfg  ChatConfig
}

func NewHub(store Store, cfg SessionConfig, chatCfg ChatConfig) *Hub {
	return &Hub{
		sessions:    make(map[string]*DocumentSession),
		graceTimers: make(map[string]*time.Timer),
		chatRooms:   make(map[string]*ChatRoom),
		store:       store,
		cfg:         cfg,
		chatCfg:     chatCfg,
	}
}

// Attach finds or creates the DocumentSession for docID and joins member
// to it, creating the session on first access (spec.md §4.2).
func (h *Hub) Attach(ctx context.Context, docID string, member *Member) (*DocumentSession, error) {
	h.mu.Lock()
	sess, ok := h.sessions[docID]
	if ok {
		if t, has := h.graceTimers[docID]; has {
			t.Stop()
			delete(h.graceTimers, docID)
		}
		h.mu.Unlock()
	} else {
		sess = newDocumentSession(docID, h.store, h, h.cfg)
		h.sessions[docID] = sess
		h.mu.Unlock()

		if err := sess.load(ctx); err != nil {
			h.mu.Lock()
			delete(h.sessions, docID)
			h.mu.Unlock()
			return nil, err
		}

		go sess.run()
	}

	if err := sess.Join(ctx, member); err != nil {
		return nil, err
	}

	return sess, nil
}

// ChatRoom finds or creates the chat room for roomID (usually the document
// id). Rooms are created lazily on first join (spec.md §3).
func (h *Hub) ChatRoom(roomID string, permanent bool) *ChatRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.chatRooms[roomID]
	if ok {
		// a non-permanent room whose last participant left has already
		// stopped its goroutine; replace it with a fresh one
		select {
		case <-room.done:
			ok = false
		default:
		}
	}
	if !ok {
		room = newChatRoom(roomID, h.chatCfg, permanent)
		h.chatRooms[roomID] = room
		go room.run()
	}
	return room
}

// notifyEmpty is invoked by a DocumentSession's dispatcher when its last
// member leaves; it schedules cleanup after the reconnect grace period
// (spec.md §4.2, §8 scenario 5).
func (h *Hub) notifyEmpty(docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, has := h.graceTimers[docID]; has {
		return
	}

	h.graceTimers[docID] = time.AfterFunc(h.cfg.GracePeriod, func() {
		h.evict(docID)
	})
}

func (h *Hub) evict(docID string) {
	h.mu.Lock()
	sess, ok := h.sessions[docID]
	h.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sess.evict(ctx); err != nil {
		logger.Warn("session eviction deferred, final snapshot save failed", "doc_id", docID, "error", err)

		h.mu.Lock()
		h.graceTimers[docID] = time.AfterFunc(h.cfg.GracePeriod, func() { h.evict(docID) })
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	delete(h.sessions, docID)
	delete(h.graceTimers, docID)
	h.mu.Unlock()
}

// Shutdown drains every live session, persisting final snapshots
// (spec.md §4.2).
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	sessions := make([]*DocumentSession, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	for _, t := range h.graceTimers {
		t.Stop()
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *DocumentSession) {
			defer wg.Done()
			s.shutdownNow(ctx)
		}(sess)
	}
	wg.Wait()

	h.mu.Lock()
	rooms := make([]*ChatRoom, 0, len(h.chatRooms))
	for _, r := range h.chatRooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()
	for _, r := range rooms {
		r.shutdown()
	}
}

// SessionCount reports the number of live sessions (diagnostics/tests).
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
