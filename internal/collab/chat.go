package collab

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/codeloom/collab-server/internal/logger"
)

// ChatConfig carries the Chat Service's tunables (spec.md §4.4).
type ChatConfig struct {
	HistorySize      int
	MaxMessageLength int
	MaxReactions     int
	SendLimit        int
	SendWindow       time.Duration
	ReactLimit       int
	ReactWindow      time.Duration
	TypingExpiry     time.Duration
	InboxSize        int
}

func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		HistorySize:      1000,
		MaxMessageLength: 5000,
		MaxReactions:     20,
		SendLimit:        10,
		SendWindow:       60 * time.Second,
		ReactLimit:       30,
		ReactWindow:      60 * time.Second,
		TypingExpiry:     5 * time.Second,
		InboxSize:        512,
	}
}

// ChatMessage is one message in a room's history ring buffer (spec.md §3).
type ChatMessage struct {
	ID            string
	UserID        string
	DisplayName   string
	Content       string
	Timestamp     time.Time
	IsCodeSnippet bool
	CodeLanguage  string
	Mentions      []string
	Reactions     map[string]map[string]bool // emoji -> set of userIds
	ClientID      string
}

// ChatRoom fans out chat events to its participants, independent of but
// parallel to a DocumentSession (C4, spec.md §4.4). It shares the same
// connection/outbox as the collaborating DocumentSession but is a separate
// actor with its own inbox, namespaced wire types (`chat.*`), and its own
// rate limits.
type ChatRoom struct {
	roomID    string
	cfg       ChatConfig
	permanent bool

	inbox chan any
	done  chan struct{}

	participants map[string]*Member
	memberOrder  []string
	messages     []ChatMessage
	typingUntil  map[string]time.Time

	sendLimiter  *limiter.Limiter
	reactLimiter *limiter.Limiter
}

func newChatRoom(roomID string, cfg ChatConfig, permanent bool) *ChatRoom {
	// each limiter gets its own store: both count under the same room:user
	// key, so a shared store would merge sends and reactions into one quota
	return &ChatRoom{
		roomID:       roomID,
		cfg:          cfg,
		permanent:    permanent,
		inbox:        make(chan any, cfg.InboxSize),
		done:         make(chan struct{}),
		participants: make(map[string]*Member),
		typingUntil:  make(map[string]time.Time),
		sendLimiter:  limiter.New(memory.NewStore(), limiter.Rate{Period: cfg.SendWindow, Limit: int64(cfg.SendLimit)}),
		reactLimiter: limiter.New(memory.NewStore(), limiter.Rate{Period: cfg.ReactWindow, Limit: int64(cfg.ReactLimit)}),
	}
}

// --- inbox events ---

type chatJoinEvent struct{ member *Member }
type chatLeaveEvent struct{ connID string }
type chatSendEvent struct {
	connID  string
	payload ChatSendPayload
}
type chatReactEvent struct {
	connID  string
	payload ChatReactPayload
}
type chatTypingEvent struct {
	connID   string
	isTyping bool
}

func (r *ChatRoom) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-r.inbox:
			r.dispatch(evt)
		case <-ticker.C:
			r.expireTyping()
		case <-r.done:
			return
		}
	}
}

func (r *ChatRoom) dispatch(evt any) {
	switch e := evt.(type) {
	case chatJoinEvent:
		r.handleJoin(e.member)
	case chatLeaveEvent:
		r.handleLeave(e.connID)
	case chatSendEvent:
		r.handleSend(e.connID, e.payload)
	case chatReactEvent:
		r.handleReact(e.connID, e.payload)
	case chatTypingEvent:
		r.handleTyping(e.connID, e.isTyping)
	}
}

// --- public submission API ---

func (r *ChatRoom) Join(m *Member) {
	select {
	case r.inbox <- chatJoinEvent{member: m}:
	case <-r.done:
	}
}

func (r *ChatRoom) Leave(connID string) {
	select {
	case r.inbox <- chatLeaveEvent{connID: connID}:
	case <-r.done:
	}
}

func (r *ChatRoom) Send(connID string, payload ChatSendPayload) {
	select {
	case r.inbox <- chatSendEvent{connID: connID, payload: payload}:
	case <-r.done:
	}
}

func (r *ChatRoom) React(connID string, payload ChatReactPayload) {
	select {
	case r.inbox <- chatReactEvent{connID: connID, payload: payload}:
	case <-r.done:
	}
}

func (r *ChatRoom) Typing(connID string, isTyping bool) {
	select {
	case r.inbox <- chatTypingEvent{connID: connID, isTyping: isTyping}:
	case <-r.done:
	}
}

// --- handlers (room dispatcher goroutine only) ---

func (r *ChatRoom) handleJoin(m *Member) {
	r.participants[m.ConnID] = m
	r.memberOrder = append(r.memberOrder, m.ConnID)
}

func (r *ChatRoom) handleLeave(connID string) {
	delete(r.participants, connID)
	delete(r.typingUntil, connID)

	if len(r.participants) == 0 && !r.permanent {
		// caller (hub) reaps empty non-permanent rooms lazily on next
		// ChatRoom() lookup; the room's own goroutine exits here so it
		// isn't leaked.
		close(r.done)
	}
}

func (r *ChatRoom) handleSend(connID string, payload ChatSendPayload) {
	m, ok := r.participants[connID]
	if !ok {
		// not a joined participant; nothing to reply on, drop silently.
		return
	}

	if len(payload.Content) > r.cfg.MaxMessageLength {
		r.sendError(m, ErrCodeTooLong, "message exceeds maximum length")
		return
	}

	lctx, err := r.sendLimiter.Get(context.Background(), roomUserKey(r.roomID, m.UserID))
	if err == nil && lctx.Reached {
		retryAfter := int(lctx.Reset)
		r.sendErrorWithRetry(m, ErrCodeRateLimited, "too many messages, slow down", &retryAfter)
		return
	}

	msg := ChatMessage{
		ID:            uuid.NewString(),
		UserID:        m.UserID,
		DisplayName:   m.DisplayName,
		Content:       payload.Content,
		Timestamp:     time.Now(),
		IsCodeSnippet: payload.IsCodeSnippet,
		CodeLanguage:  payload.CodeLanguage,
		Mentions:      payload.Mentions,
		Reactions:     make(map[string]map[string]bool),
		ClientID:      payload.ClientID,
	}

	r.pushHistory(msg)

	out := ChatMessagePayload{
		ID:            msg.ID,
		UserID:        msg.UserID,
		DisplayName:   msg.DisplayName,
		Content:       msg.Content,
		Timestamp:     msg.Timestamp,
		IsCodeSnippet: msg.IsCodeSnippet,
		CodeLanguage:  msg.CodeLanguage,
		Mentions:      msg.Mentions,
		ClientID:      msg.ClientID,
	}
	if env, err := NewEnvelope(TypeChatMessage, m.UserID, out); err == nil {
		r.broadcast(env)
	}
}

func (r *ChatRoom) handleReact(connID string, payload ChatReactPayload) {
	m, ok := r.participants[connID]
	if !ok {
		return
	}

	idx := r.findMessage(payload.MessageID)
	if idx < 0 {
		return
	}

	lctx, err := r.reactLimiter.Get(context.Background(), roomUserKey(r.roomID, m.UserID))
	if err == nil && lctx.Reached {
		retryAfter := int(lctx.Reset)
		r.sendErrorWithRetry(m, ErrCodeRateLimited, "too many reactions, slow down", &retryAfter)
		return
	}

	msg := &r.messages[idx]
	if msg.Reactions[payload.Emoji] == nil {
		if len(msg.Reactions) >= r.cfg.MaxReactions {
			return
		}
		msg.Reactions[payload.Emoji] = make(map[string]bool)
	}

	// toggle semantics (spec.md §4.4)
	added := !msg.Reactions[payload.Emoji][m.UserID]
	if added {
		msg.Reactions[payload.Emoji][m.UserID] = true
	} else {
		delete(msg.Reactions[payload.Emoji], m.UserID)
	}

	out := ChatReactionPayload{MessageID: payload.MessageID, Emoji: payload.Emoji, UserID: m.UserID, Added: added}
	if env, err := NewEnvelope(TypeChatReaction, m.UserID, out); err == nil {
		r.broadcast(env)
	}
}

func (r *ChatRoom) handleTyping(connID string, isTyping bool) {
	m, ok := r.participants[connID]
	if !ok {
		return
	}

	if isTyping {
		r.typingUntil[connID] = time.Now().Add(r.cfg.TypingExpiry)
	} else {
		delete(r.typingUntil, connID)
	}

	out := ChatTypingBroadcastPayload{UserID: m.UserID, IsTyping: isTyping}
	if env, err := NewEnvelope(TypeChatTyping, m.UserID, out); err == nil {
		r.broadcastExcept(connID, env)
	}
}

func (r *ChatRoom) expireTyping() {
	now := time.Now()
	for connID, until := range r.typingUntil {
		if now.After(until) {
			delete(r.typingUntil, connID)
			if m, ok := r.participants[connID]; ok {
				out := ChatTypingBroadcastPayload{UserID: m.UserID, IsTyping: false}
				if env, err := NewEnvelope(TypeChatTyping, m.UserID, out); err == nil {
					r.broadcastExcept(connID, env)
				}
			}
		}
	}
}

func (r *ChatRoom) pushHistory(msg ChatMessage) {
	r.messages = append(r.messages, msg)
	if len(r.messages) > r.cfg.HistorySize {
		r.messages = r.messages[len(r.messages)-r.cfg.HistorySize:]
	}
}

func (r *ChatRoom) findMessage(id string) int {
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *ChatRoom) broadcast(env *Envelope) {
	r.broadcastExcept("", env)
}

func (r *ChatRoom) broadcastExcept(exceptConnID string, env *Envelope) {
	data, err := env.Encode()
	if err != nil {
		return
	}

	for _, connID := range r.memberOrder {
		if connID == exceptConnID {
			continue
		}
		m, ok := r.participants[connID]
		if !ok {
			continue
		}
		select {
		case m.outbox <- data:
		default:
			logger.Warn("chat room dropped slow consumer frame", "room_id", r.roomID, "conn_id", connID)
		}
	}
}

func (r *ChatRoom) sendError(m *Member, code, message string) {
	r.sendErrorWithRetry(m, code, message, nil)
}

func (r *ChatRoom) sendErrorWithRetry(m *Member, code, message string, retryAfter *int) {
	env, err := NewEnvelope(TypeError, "", ErrorPayload{Code: code, Message: message, RetryAfter: retryAfter})
	if err != nil {
		return
	}
	data, err := env.Encode()
	if err != nil {
		return
	}
	select {
	case m.outbox <- data:
	default:
	}
}

func (r *ChatRoom) shutdown() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func roomUserKey(roomID, userID string) string {
	return roomID + ":" + userID
}
