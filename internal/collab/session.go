package collab

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/codeloom/collab-server/internal/logger"
)

// SessionConfig carries the tunables spec.md §6 exposes as environment
// variables, resolved once at startup and shared by every DocumentSession
// the hub creates.
type SessionConfig struct {
	SnapshotInterval     time.Duration
	SnapshotOpThreshold  int
	OpBufferSize         int
	OutboundQueueMax     int
	PresenceTimeout      time.Duration
	GracePeriod          time.Duration
	PersistFatalTimeout  time.Duration
	InboxSize            int
}

// DefaultSessionConfig returns the spec's documented defaults (spec.md
// §4.3.5, §4.3.6, §4.2).
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SnapshotInterval:    5 * time.Second,
		SnapshotOpThreshold: 50,
		OpBufferSize:        1024,
		OutboundQueueMax:    256,
		PresenceTimeout:     30 * time.Second,
		GracePeriod:         5 * time.Minute,
		PersistFatalTimeout: 5 * time.Minute,
		InboxSize:           1024,
	}
}

type sessionState int

const (
	stateLoading sessionState = iota
	stateActive
	stateDraining
	stateUnloaded
)

// DocumentSession is the single-writer actor that owns one document's
// authoritative content, version, members, and operation history
// (spec.md §4.3). Every field below this point is touched only by the
// dispatcher goroutine running run() - that is the whole of the
// correctness argument for OT convergence here.
type DocumentSession struct {
	docID string
	store Store
	hub   *Hub
	cfg   SessionConfig

	inbox chan any
	done  chan struct{}

	content           string
	version           int
	language          string
	history           []Operation
	historyBaseVersion int
	lastSavedVersion  int
	dirtySinceFlush   int

	members     map[string]*Member
	memberOrder []string

	state        sessionState
	degraded     bool
	persistFailSince *time.Time
}

func newDocumentSession(docID string, store Store, hub *Hub, cfg SessionConfig) *DocumentSession {
	return &DocumentSession{
		docID:   docID,
		store:   store,
		hub:     hub,
		cfg:     cfg,
		inbox:   make(chan any, cfg.InboxSize),
		done:    make(chan struct{}),
		members: make(map[string]*Member),
		state:   stateLoading,
	}
}

// load performs the synchronous snapshot load that transitions
// Loading -> Active (spec.md §4.3.8). Called once before run() starts.
func (s *DocumentSession) load(ctx context.Context) error {
	snap, err := s.store.LoadSnapshot(ctx, s.docID)
	if err != nil {
		return fmt.Errorf("load snapshot for %s: %w", s.docID, err)
	}

	s.content = snap.Content
	s.version = snap.Version
	s.language = snap.Language
	s.historyBaseVersion = snap.Version
	s.lastSavedVersion = snap.Version
	s.state = stateActive

	return nil
}

// --- inbox event types (spec.md §4.3.1) ---

type joinEvent struct {
	member *Member
	result chan error
}

type leaveEvent struct {
	connID string
}

type clientOpEvent struct {
	connID string
	op     Operation
}

type cursorEvent struct {
	connID string
	pos    CursorPos
}

type selectionEvent struct {
	connID string
	rng    SelectionRange
}

type languageEvent struct {
	connID string
	lang   string
}

type snapshotSavedEvent struct {
	version int
}

type snapshotFailedEvent struct {
	err error
}

type opsFlushedEvent struct{}

type readStateEvent struct {
	result chan sessionView
}

type setStateEvent struct {
	state sessionState
	done  chan struct{}
}

type sessionView struct {
	content          string
	version          int
	language         string
	lastSavedVersion int
}

// run is the dispatcher loop - the sole mutator of session state.
func (s *DocumentSession) run() {
	snapshotTicker := time.NewTicker(s.cfg.SnapshotInterval)
	presenceTicker := time.NewTicker(50 * time.Millisecond)
	awayTicker := time.NewTicker(s.cfg.PresenceTimeout / 2)
	defer snapshotTicker.Stop()
	defer presenceTicker.Stop()
	defer awayTicker.Stop()

	for {
		select {
		case evt := <-s.inbox:
			s.dispatch(evt)
		case <-snapshotTicker.C:
			s.handlePersistTick()
		case <-presenceTicker.C:
			s.flushPresence()
		case <-awayTicker.C:
			s.checkPresenceTimeouts()
		case <-s.done:
			s.closeAllMembers(1001, "going_away")
			s.state = stateUnloaded
			return
		}
	}
}

func (s *DocumentSession) dispatch(evt any) {
	switch e := evt.(type) {
	case joinEvent:
		s.handleJoin(e)
	case leaveEvent:
		s.handleLeave(e.connID)
	case clientOpEvent:
		s.handleClientOp(e.connID, e.op)
	case cursorEvent:
		s.handleCursor(e.connID, e.pos)
	case selectionEvent:
		s.handleSelection(e.connID, e.rng)
	case languageEvent:
		s.handleLanguage(e.connID, e.lang)
	case snapshotSavedEvent:
		s.lastSavedVersion = e.version
		s.persistFailSince = nil
		s.degraded = false
	case snapshotFailedEvent:
		if s.persistFailSince == nil {
			now := time.Now()
			s.persistFailSince = &now
		}
		if time.Since(*s.persistFailSince) >= s.cfg.PersistFatalTimeout && !s.degraded {
			s.degraded = true
			logger.Warn("document session entering degraded mode: snapshot saves failing",
				"doc_id", s.docID, "since", s.persistFailSince)
		}
	case opsFlushedEvent:
		s.dirtySinceFlush = 0
	case readStateEvent:
		e.result <- sessionView{content: s.content, version: s.version, language: s.language, lastSavedVersion: s.lastSavedVersion}
	case setStateEvent:
		s.state = e.state
		close(e.done)
	}
}

// --- public submission API, called from reader goroutines ---

func (s *DocumentSession) Join(ctx context.Context, m *Member) error {
	result := make(chan error, 1)
	select {
	case s.inbox <- joinEvent{member: m, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DocumentSession) Leave(connID string) {
	select {
	case s.inbox <- leaveEvent{connID: connID}:
	case <-s.done:
	}
}

func (s *DocumentSession) SubmitOp(connID string, op Operation) {
	select {
	case s.inbox <- clientOpEvent{connID: connID, op: op}:
	case <-s.done:
	}
}

func (s *DocumentSession) SubmitCursor(connID string, pos CursorPos) {
	select {
	case s.inbox <- cursorEvent{connID: connID, pos: pos}:
	case <-s.done:
	}
}

func (s *DocumentSession) SubmitSelection(connID string, rng SelectionRange) {
	select {
	case s.inbox <- selectionEvent{connID: connID, rng: rng}:
	case <-s.done:
	}
}

func (s *DocumentSession) SubmitLanguage(connID string, lang string) {
	select {
	case s.inbox <- languageEvent{connID: connID, lang: lang}:
	case <-s.done:
	}
}

// --- event handlers (dispatcher goroutine only) ---

func (s *DocumentSession) handleJoin(e joinEvent) {
	if s.state == stateDraining || s.state == stateUnloaded {
		e.result <- errUnavailable
		return
	}

	e.member.LastActivity = time.Now()
	e.member.Color = colorPalette[len(s.members)%len(colorPalette)]
	s.members[e.member.ConnID] = e.member
	s.memberOrder = append(s.memberOrder, e.member.ConnID)

	payload := DocumentStatePayload{
		Content:    s.content,
		Version:    s.version,
		Language:   s.language,
		Users:      s.userList(),
		YourColor:  e.member.Color,
		YourConnID: e.member.ConnID,
	}
	if env, err := NewEnvelope(TypeDocumentState, "", payload); err == nil {
		s.sendTo(e.member, env)
	}

	joined := UserJoinedPayload{User: UserInfo{
		UserID:      e.member.UserID,
		DisplayName: e.member.DisplayName,
		Color:       e.member.Color,
		Access:      e.member.Access,
	}}
	if env, err := NewEnvelope(TypeUserJoined, e.member.UserID, joined); err == nil {
		s.broadcastExcept(e.member.ConnID, env)
	}

	e.result <- nil
}

func (s *DocumentSession) handleLeave(connID string) {
	m, ok := s.members[connID]
	if !ok {
		return
	}

	delete(s.members, connID)
	close(m.outbox)

	left := UserLeftPayload{UserID: m.UserID}
	if env, err := NewEnvelope(TypeUserLeft, m.UserID, left); err == nil {
		s.broadcastExcept(connID, env)
	}

	if len(s.members) == 0 {
		s.hub.notifyEmpty(s.docID)
	}
}

// handleClientOp implements the operation acceptance algorithm,
// spec.md §4.3.3.
func (s *DocumentSession) handleClientOp(connID string, op Operation) {
	m, ok := s.members[connID]
	if !ok {
		return
	}

	if !m.opLimiter.Allow() {
		s.sendError(m, ErrCodeRateLimited, "too many operations, slow down", nil)
		return
	}

	if op.BaseVersion > s.version {
		s.sendError(m, ErrCodeFutureOp, "baseVersion is ahead of the server", nil)
		return
	}

	if !m.CanWrite() {
		s.sendError(m, ErrCodeReadOnly, "view-only access cannot submit operations", nil)
		return
	}

	if err := validateOpShape(op); err != nil {
		s.sendError(m, ErrCodeInvalidOp, err.Error(), nil)
		return
	}

	series := s.opsSince(op.BaseVersion)
	transformedOps := transformAgainstSeries(op, series)

	// a delete wholly covered by concurrent deletes comes out of the
	// transform with length 0; it is dropped as a no-op, not rejected
	live := transformedOps[:0]
	for _, to := range transformedOps {
		if to.Kind == OpDelete && to.Length == 0 {
			continue
		}
		live = append(live, to)
	}
	transformedOps = live

	// validate and apply against a scratch copy first so a bad op in the
	// (rare) split case can't leave s.content half-mutated.
	content := s.content
	for _, to := range transformedOps {
		if err := validateBounds(to, utf16Len(content)); err != nil {
			s.sendError(m, ErrCodeInvalidOp, "operation out of bounds", nil)
			return
		}
		next, err := applyOp(content, to)
		if err != nil {
			s.sendError(m, ErrCodeInvalidOp, "operation out of bounds", nil)
			return
		}
		content = next
	}
	s.content = content

	now := time.Now()
	remotes := make([]RemoteOpPayload, 0, len(transformedOps))
	for i := range transformedOps {
		to := &transformedOps[i]
		to.UserID = m.UserID
		to.ClientID = connID
		to.Timestamp = now

		s.version++
		s.pushHistory(*to)
		s.dirtySinceFlush++

		remotes = append(remotes, RemoteOpPayload{
			Kind:     to.Kind,
			Position: to.Position,
			Text:     to.Text,
			Length:   to.Length,
			Version:  s.version,
			UserID:   m.UserID,
		})
	}

	ack := AckPayload{ClientOpID: op.ClientOpID, ServerVersion: s.version}
	if env, err := NewEnvelope(TypeAck, "", ack); err == nil {
		s.sendTo(m, env)
	}

	for _, remote := range remotes {
		if env, err := NewEnvelope(TypeRemoteOp, m.UserID, remote); err == nil {
			s.broadcastExcept(connID, env)
		}
	}

	m.LastClientVersion = s.version
	m.LastActivity = time.Now()

	if s.dirtySinceFlush >= s.cfg.OpBufferSize/2 {
		s.flushOpsAsync()
	}
}

// validateOpShape checks the fields a client can lie about before any
// transform is attempted: non-empty insert text, positive delete length.
// Range validation against actual content happens post-transform in
// validateBounds, since pre-transform bounds would require reconstructing
// content at an arbitrary historical version.
func validateOpShape(op Operation) error {
	if op.Position < 0 {
		return errInvalidOp
	}
	switch op.Kind {
	case OpInsert:
		if op.Text == "" {
			return errInvalidOp
		}
	case OpDelete:
		if op.Length <= 0 {
			return errInvalidOp
		}
	default:
		return errInvalidOp
	}
	return nil
}

func (s *DocumentSession) handleCursor(connID string, pos CursorPos) {
	m, ok := s.members[connID]
	if !ok {
		return
	}
	m.Cursor = &pos
	m.LastActivity = time.Now()
	m.Away = false
}

func (s *DocumentSession) handleSelection(connID string, rng SelectionRange) {
	m, ok := s.members[connID]
	if !ok {
		return
	}
	m.Selection = &rng
	m.LastActivity = time.Now()
	m.Away = false
}

func (s *DocumentSession) handleLanguage(connID string, lang string) {
	m, ok := s.members[connID]
	if !ok {
		return
	}
	if !m.CanWrite() {
		s.sendError(m, ErrCodeReadOnly, "view-only access cannot change the language", nil)
		return
	}

	s.language = lang
	m.LastActivity = time.Now()

	payload := LanguageChangePayload{Language: lang, UserID: m.UserID}
	if env, err := NewEnvelope(TypeLanguageChange, m.UserID, payload); err == nil {
		s.broadcast(env)
	}
}

// flushPresence emits the coalesced "latest cursor wins" presence events
// (spec.md §4.3.6): at most one cursor-move / selection-change per member
// per tick, regardless of how many updates arrived this tick.
func (s *DocumentSession) flushPresence() {
	for _, connID := range s.memberOrder {
		m, ok := s.members[connID]
		if !ok {
			continue
		}

		if m.Cursor != nil {
			payload := CursorMovePayload{UserID: m.UserID, Position: *m.Cursor}
			if env, err := NewEnvelope(TypeCursorMove, m.UserID, payload); err == nil {
				s.broadcastExcept(connID, env)
			}
			m.Cursor = nil
		}

		if m.Selection != nil {
			payload := SelectionChangePayload{UserID: m.UserID, Range: *m.Selection}
			if env, err := NewEnvelope(TypeSelectionChange, m.UserID, payload); err == nil {
				s.broadcastExcept(connID, env)
			}
			m.Selection = nil
		}
	}
}

// checkPresenceTimeouts marks idle members away, and force-leaves members
// idle past 2x the presence timeout (spec.md §4.3.6).
func (s *DocumentSession) checkPresenceTimeouts() {
	now := time.Now()
	for _, connID := range append([]string(nil), s.memberOrder...) {
		m, ok := s.members[connID]
		if !ok {
			continue
		}

		idle := now.Sub(m.LastActivity)
		if idle >= 2*s.cfg.PresenceTimeout {
			s.evictSlowConsumer(m, 1001, "idle_timeout")
			continue
		}
		if idle >= s.cfg.PresenceTimeout {
			m.Away = true
		}
	}
}

// --- history / transform series ---

func (s *DocumentSession) pushHistory(op Operation) {
	s.history = append(s.history, op)
	if len(s.history) > s.cfg.OpBufferSize {
		excess := len(s.history) - s.cfg.OpBufferSize
		s.history = s.history[excess:]
		s.historyBaseVersion += excess
	}
}

// opsSince returns the ops applied after baseVersion. If baseVersion
// predates the retained window, the full retained window is used as a
// conservative approximation (the window is >=1024 ops, far larger than
// any realistic reconnect gap within a live session).
func (s *DocumentSession) opsSince(baseVersion int) []Operation {
	offset := baseVersion - s.historyBaseVersion
	if offset < 0 {
		offset = 0
	}
	if offset > len(s.history) {
		offset = len(s.history)
	}
	return s.history[offset:]
}

// --- persistence (spawned workers, never block the dispatcher) ---

func (s *DocumentSession) handlePersistTick() {
	if s.version <= s.lastSavedVersion {
		return
	}

	docID, content, version, language := s.docID, s.content, s.version, s.language
	store := s.store
	inbox := s.inbox

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := saveSnapshotWithBackoff(ctx, store, docID, content, version, language); err != nil {
			select {
			case inbox <- snapshotFailedEvent{err: err}:
			default:
			}
			return
		}

		select {
		case inbox <- snapshotSavedEvent{version: version}:
		default:
		}
	}()
}

// saveSnapshotWithBackoff retries SaveSnapshot with exponential backoff
// (base 1s, cap 30s, jitter +/-20%), per spec.md §4.3.5.
func saveSnapshotWithBackoff(ctx context.Context, store Store, docID, content string, version int, language string) error {
	backoff := time.Second
	const cap_ = 30 * time.Second

	for {
		err := store.SaveSnapshot(ctx, docID, content, version, language)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		jitter := 1 + (rand.Float64()*0.4 - 0.2)
		wait := time.Duration(float64(backoff) * jitter)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > cap_ {
			backoff = cap_
		}
	}
}

func (s *DocumentSession) flushOpsAsync() {
	ops := append([]Operation(nil), s.history[max(0, len(s.history)-s.dirtySinceFlush):]...)
	docID := s.docID
	store := s.store
	inbox := s.inbox

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := store.AppendOps(ctx, docID, ops); err != nil {
			logger.ErrorErr(err, "append ops failed, will retry on next flush", "doc_id", docID)
			return
		}

		select {
		case inbox <- opsFlushedEvent{}:
		default:
		}
	}()
}

// --- eviction / shutdown orchestration, driven by the Hub ---

// evict performs the final synchronous save before unloading
// (spec.md §4.3.5, §4.3.8). Called from the hub's grace-period goroutine,
// never from the dispatcher itself.
func (s *DocumentSession) evict(ctx context.Context) error {
	if err := s.setState(ctx, stateDraining); err != nil {
		return err
	}

	view, err := s.readState(ctx)
	if err != nil {
		return err
	}

	if view.version > view.lastSavedVersion {
		if err := s.store.SaveSnapshot(ctx, s.docID, view.content, view.version, view.language); err != nil {
			_ = s.setState(ctx, stateActive)
			return fmt.Errorf("final snapshot save: %w", err)
		}
	}

	if err := s.store.Flush(ctx, s.docID); err != nil {
		_ = s.setState(ctx, stateActive)
		return fmt.Errorf("final snapshot flush: %w", err)
	}

	close(s.done)
	return nil
}

// shutdownNow is used by Hub.Shutdown: drains unconditionally, regardless
// of member count, performing a best-effort final save.
func (s *DocumentSession) shutdownNow(ctx context.Context) {
	_ = s.setState(ctx, stateDraining)

	view, err := s.readState(ctx)
	if err == nil && view.version > view.lastSavedVersion {
		_ = s.store.SaveSnapshot(ctx, s.docID, view.content, view.version, view.language)
	}
	_ = s.store.Flush(ctx, s.docID)

	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *DocumentSession) setState(ctx context.Context, st sessionState) error {
	done := make(chan struct{})
	select {
	case s.inbox <- setStateEvent{state: st, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DocumentSession) readState(ctx context.Context) (sessionView, error) {
	result := make(chan sessionView, 1)
	select {
	case s.inbox <- readStateEvent{result: result}:
	case <-ctx.Done():
		return sessionView{}, ctx.Err()
	}

	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		return sessionView{}, ctx.Err()
	}
}

// --- outbound fan-out ---

func (s *DocumentSession) userList() []UserInfo {
	users := make([]UserInfo, 0, len(s.members))
	for _, connID := range s.memberOrder {
		m, ok := s.members[connID]
		if !ok {
			continue
		}
		users = append(users, UserInfo{UserID: m.UserID, DisplayName: m.DisplayName, Color: m.Color, Access: m.Access})
	}
	return users
}

func (s *DocumentSession) sendTo(m *Member, env *Envelope) {
	data, err := env.Encode()
	if err != nil {
		return
	}

	select {
	case m.outbox <- data:
	default:
		s.evictSlowConsumer(m, 1011, "slow_consumer")
	}
}

func (s *DocumentSession) broadcast(env *Envelope) {
	s.broadcastExcept("", env)
}

func (s *DocumentSession) broadcastExcept(exceptConnID string, env *Envelope) {
	data, err := env.Encode()
	if err != nil {
		return
	}

	for _, connID := range s.memberOrder {
		if connID == exceptConnID {
			continue
		}
		m, ok := s.members[connID]
		if !ok {
			continue
		}

		select {
		case m.outbox <- data:
		default:
			s.evictSlowConsumer(m, 1011, "slow_consumer")
		}
	}
}

func (s *DocumentSession) sendError(m *Member, code, message string, retryAfter *int) {
	env, err := NewEnvelope(TypeError, "", ErrorPayload{Code: code, Message: message, RetryAfter: retryAfter})
	if err != nil {
		return
	}
	s.sendTo(m, env)
}

// evictSlowConsumer drops a member whose outbound queue is full
// (spec.md §4.3.7): close its socket and emit Leave.
func (s *DocumentSession) evictSlowConsumer(m *Member, code int, reason string) {
	select {
	case m.closeSignal <- code:
	default:
	}
	logger.Warn("evicting member", "doc_id", s.docID, "conn_id", m.ConnID, "reason", reason)
	s.handleLeave(m.ConnID)
}

func (s *DocumentSession) closeAllMembers(code int, reason string) {
	for _, connID := range append([]string(nil), s.memberOrder...) {
		m, ok := s.members[connID]
		if !ok {
			continue
		}
		select {
		case m.closeSignal <- code:
		default:
		}
		delete(s.members, connID)
		close(m.outbox)
	}
	_ = reason
}
